package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuschat/internal/api"
	"campuschat/internal/domain"
	"campuschat/internal/events"
	"campuschat/internal/store"
	chaterrors "campuschat/pkg/errors"
)

type fakeStream struct {
	mu      sync.Mutex
	chatID  string
	opened  int
	closed  int
	sent    []events.Command
	sendErr error
	events  chan events.Event
	once    sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan events.Event, 64)}
}

func (s *fakeStream) Open(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	s.opened++
	return nil
}

func (s *fakeStream) Send(cmd events.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) Events() <-chan events.Event { return s.events }

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) sentCommands() []events.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Command, len(s.sent))
	copy(out, s.sent)
	return out
}

type fakeBackend struct {
	mu          sync.Mutex
	historyFn   func(chatID string, page int) (api.HistoryPage, error)
	chatsFn     func(page int) (api.RosterPage, error)
	historyCall int
}

func (b *fakeBackend) History(ctx context.Context, chatID string, page int) (api.HistoryPage, error) {
	b.mu.Lock()
	b.historyCall++
	fn := b.historyFn
	b.mu.Unlock()
	if fn != nil {
		return fn(chatID, page)
	}
	return api.HistoryPage{}, nil
}

func (b *fakeBackend) Members(ctx context.Context, chatID string, page int) (api.MemberPage, error) {
	return api.MemberPage{Items: []domain.ChatMember{{ChatID: chatID, UserID: "u2"}}}, nil
}

func (b *fakeBackend) Chats(ctx context.Context, page int) (api.RosterPage, error) {
	if b.chatsFn != nil {
		return b.chatsFn(page)
	}
	return api.RosterPage{
		Items: []domain.RosterEntry{
			{Chat: domain.Chat{ID: "chat-a", Type: domain.ChatTypeGroup, Name: "A"}, UnreadCount: 3},
			{Chat: domain.Chat{ID: "chat-b", Type: domain.ChatTypeDirect, Name: "B"}},
		},
	}, nil
}

type harness struct {
	ctrl    *Controller
	backend *fakeBackend

	mu      sync.Mutex
	streams []*fakeStream
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{backend: &fakeBackend{}}
	h.ctrl = NewController(Options{
		Backend: h.backend,
		Roster:  store.NewRosterStore(nil),
		UserID:  "u1",
		NewStream: func() Stream {
			s := newFakeStream()
			h.mu.Lock()
			h.streams = append(h.streams, s)
			h.mu.Unlock()
			return s
		},
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

// stream returns the nth created stream: 0 is the roster stream when
// Start ran, chat streams follow in open order.
func (h *harness) stream(n int) *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[n]
}

func (h *harness) streamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestStartSeedsRosterAndAppliesStats(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	got, ok := h.ctrl.Roster().Get("chat-a")
	require.True(t, ok)
	assert.Equal(t, 3, got.UnreadCount)

	five := 5
	h.stream(0).events <- events.StatUpdatedEvent{ChatID: "chat-b", Stat: domain.StatUpdate{UnreadCount: &five}}

	eventually(t, func() bool {
		e, _ := h.ctrl.Roster().Get("chat-b")
		return e.UnreadCount == 5
	}, "stat event not applied to roster")
}

func TestRosterStreamChatLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	rs := h.stream(0)
	rs.events <- events.ChatCreatedEvent{Chat: domain.Chat{ID: "chat-new", Name: "fresh"}}
	eventually(t, func() bool {
		_, ok := h.ctrl.Roster().Get("chat-new")
		return ok
	}, "created chat not added")

	snap := h.ctrl.Roster().Snapshot()
	assert.Equal(t, "chat-new", snap[0].Chat.ID, "new chat is prepended")

	rs.events <- events.ChatUpdatedEvent{Chat: domain.Chat{ID: "chat-new", Name: "renamed"}}
	eventually(t, func() bool {
		e, _ := h.ctrl.Roster().Get("chat-new")
		return e.Chat.Name == "renamed"
	}, "chat update not applied")

	rs.events <- events.ChatRemovedEvent{ChatID: "chat-new"}
	eventually(t, func() bool {
		_, ok := h.ctrl.Roster().Get("chat-new")
		return !ok
	}, "chat not removed")
}

func TestOpenChatDeliversBacklog(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.NoError(t, h.ctrl.OpenChat(context.Background(), "chat-a"))

	cs := h.stream(1)
	assert.Equal(t, "chat-a", cs.chatID)

	cs.events <- events.InitialEvent{ChatID: "chat-a", Messages: []domain.Message{
		{ID: "m1", ChatID: "chat-a"}, {ID: "m2", ChatID: "chat-a"},
	}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 2 }, "backlog not applied")

	cs.events <- events.MessageCreatedEvent{Message: domain.Message{ID: "m3", ChatID: "chat-a", CreatedAt: time.Now()}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 3 }, "live event not applied")
}

func TestOpenChatResetsUnreadLocally(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.NoError(t, h.ctrl.OpenChat(context.Background(), "chat-a"))

	got, _ := h.ctrl.Roster().Get("chat-a")
	assert.Zero(t, got.UnreadCount)
	assert.False(t, got.HasReply)
}

func TestSwitchClosesPreviousExactlyOnceAndIsolatesStores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	streamA := h.stream(1)
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-b"))
	streamB := h.stream(2)

	assert.Equal(t, 1, streamA.closeCount(), "previous transport closed exactly once")
	assert.Equal(t, 1, streamB.opened, "new transport opened exactly once")
	assert.Equal(t, "chat-b", h.ctrl.ActiveChatID())

	streamB.events <- events.InitialEvent{ChatID: "chat-b", Messages: []domain.Message{{ID: "b1", ChatID: "chat-b"}}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 1 }, "backlog for B not applied")

	// A late event for the old chat must not land in B's store.
	streamB.events <- events.MessageCreatedEvent{Message: domain.Message{ID: "a9", ChatID: "chat-a"}}
	streamB.events <- events.MessageCreatedEvent{Message: domain.Message{ID: "b2", ChatID: "chat-b"}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 2 }, "B event not applied")

	_, ok := h.ctrl.Messages().Get("a9")
	assert.False(t, ok, "event for chat A applied to chat B's store")
}

func TestOpenUnknownChatIsRefused(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	err := h.ctrl.OpenChat(context.Background(), "chat-ghost")
	assert.ErrorIs(t, err, chaterrors.ErrUnknownChat)
	assert.Equal(t, 1, h.streamCount(), "no chat stream may be created")
}

func TestOpenSameChatIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	assert.Equal(t, 2, h.streamCount(), "roster stream plus one chat stream")
	assert.Zero(t, h.stream(1).closeCount())
}

func TestSendMessageOptimisticThenEcho(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	tempID, err := h.ctrl.SendMessage(ctx, "hello")
	require.NoError(t, err)

	entry, ok := h.ctrl.Messages().Get(tempID)
	require.True(t, ok)
	assert.Equal(t, domain.MessageStatePending, entry.State)

	cmds := h.stream(1).sentCommands()
	require.Len(t, cmds, 1)
	send := cmds[0].(events.SendCommand)
	assert.Equal(t, tempID, send.ClientMessageID)
	assert.Equal(t, "hello", send.Content)

	// Server echo reconciles the draft in place.
	h.stream(1).events <- events.MessageCreatedEvent{Message: domain.Message{
		ID: "srv-1", ChatID: "chat-a", Content: "hello", ClientMessageID: tempID,
	}}
	eventually(t, func() bool {
		e, ok := h.ctrl.Messages().Get("srv-1")
		return ok && e.State == domain.MessageStateConfirmed
	}, "echo did not reconcile")
	_, ok = h.ctrl.Messages().Get(tempID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.ctrl.Messages().Len())
}

func TestSendMessageRollsBackWhenNotConnected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	h.stream(1).sendErr = chaterrors.ErrNotConnected
	_, err := h.ctrl.SendMessage(ctx, "hello")
	assert.ErrorIs(t, err, chaterrors.ErrNotConnected)
	assert.Zero(t, h.ctrl.Messages().Len(), "optimistic draft must be rolled back")
}

func TestSendRejectedEventRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	tempID, err := h.ctrl.SendMessage(ctx, "hello")
	require.NoError(t, err)

	h.stream(1).events <- events.SendRejectedEvent{ChatID: "chat-a", ClientMessageID: tempID, Reason: "banned"}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 0 }, "rejected draft not rolled back")
}

func TestSendAttachmentRequiresFinishedUpload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	_, err := h.ctrl.SendAttachment(ctx, domain.UploadJob{ID: "up1", Status: domain.UploadStatusUploading})
	assert.ErrorIs(t, err, chaterrors.ErrSendRejected)

	url := "https://files.test/report.pdf"
	tempID, err := h.ctrl.SendAttachment(ctx, domain.UploadJob{
		ID: "up1", Name: "report.pdf", Status: domain.UploadStatusDone, FileURL: &url,
	})
	require.NoError(t, err)

	entry, ok := h.ctrl.Messages().Get(tempID)
	require.True(t, ok)
	assert.Equal(t, domain.MessageTypeFile, entry.Message.Type)
	require.NotNil(t, entry.Message.FileURL)
	assert.Equal(t, url, *entry.Message.FileURL)
}

func TestEditMessageOptimisticAndRestoreOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	cs := h.stream(1)
	cs.events <- events.InitialEvent{ChatID: "chat-a", Messages: []domain.Message{{ID: "m1", ChatID: "chat-a", Content: "original"}}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 1 }, "backlog not applied")

	require.NoError(t, h.ctrl.EditMessage(ctx, "m1", "fixed"))
	entry, _ := h.ctrl.Messages().Get("m1")
	assert.Equal(t, "fixed", entry.Message.Content)
	assert.True(t, entry.Message.IsEdited)

	cs.sendErr = chaterrors.ErrNotConnected
	err := h.ctrl.EditMessage(ctx, "m1", "worse")
	assert.ErrorIs(t, err, chaterrors.ErrNotConnected)
	entry, _ = h.ctrl.Messages().Get("m1")
	assert.Equal(t, "fixed", entry.Message.Content, "failed edit restores the prior content")

	assert.ErrorIs(t, h.ctrl.EditMessage(ctx, "ghost", "x"), chaterrors.ErrUnknownMessage)
}

func TestDeleteMessageTombstones(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	cs := h.stream(1)
	cs.events <- events.InitialEvent{ChatID: "chat-a", Messages: []domain.Message{
		{ID: "m1", ChatID: "chat-a", Content: "a"}, {ID: "m2", ChatID: "chat-a", Content: "b"},
	}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 2 }, "backlog not applied")

	require.NoError(t, h.ctrl.DeleteMessage(ctx, "m1"))
	assert.Equal(t, 2, h.ctrl.Messages().Len(), "tombstone keeps the slot")
	entry, _ := h.ctrl.Messages().Get("m1")
	assert.True(t, entry.Message.IsDeleted)
	assert.Empty(t, entry.Message.Content)
}

func TestFetchOlderPrependsAndTracksPages(t *testing.T) {
	h := newHarness(t)
	h.backend.historyFn = func(chatID string, page int) (api.HistoryPage, error) {
		return api.HistoryPage{
			Items:      []domain.Message{{ID: "old-1", ChatID: chatID}, {ID: "old-2", ChatID: chatID}},
			Pagination: api.Pagination{Page: page, HasNext: false},
		}, nil
	}
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	cs := h.stream(1)
	cs.events <- events.InitialEvent{ChatID: "chat-a", Messages: []domain.Message{{ID: "m1", ChatID: "chat-a"}}}
	eventually(t, func() bool { return h.ctrl.Messages().Len() == 1 }, "backlog not applied")

	more, err := h.ctrl.FetchOlder(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	snap := h.ctrl.Messages().Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "old-1", snap[0].Message.ID)
	assert.Equal(t, "m1", snap[2].Message.ID)

	// Exhausted: no further backend calls.
	calls := h.backend.historyCall
	_, err = h.ctrl.FetchOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, h.backend.historyCall)
}

func TestFetchOlderDiscardsStaleResultAfterSwitch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backend.historyFn = func(chatID string, page int) (api.HistoryPage, error) {
		// The user switches chats while the fetch is in flight.
		if chatID == "chat-a" {
			require.NoError(t, h.ctrl.OpenChat(ctx, "chat-b"))
		}
		return api.HistoryPage{
			Items: []domain.Message{{ID: "stale-1", ChatID: chatID}},
		}, nil
	}

	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	more, err := h.ctrl.FetchOlder(ctx)
	require.NoError(t, err)
	assert.False(t, more)

	assert.Equal(t, "chat-b", h.ctrl.ActiveChatID())
	_, ok := h.ctrl.Messages().Get("stale-1")
	assert.False(t, ok, "stale page applied to the new chat's store")
}

func TestNewMessageAffordanceWhenScrolledUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	h.ctrl.Scroll().Attach(scrolledUpViewport{})

	cs := h.stream(1)
	cs.events <- events.MessageCreatedEvent{Message: domain.Message{ID: "m1", ChatID: "chat-a", CreatedAt: time.Now()}}
	eventually(t, func() bool { return h.ctrl.NewMessageCount() == 1 }, "new-message counter not bumped")

	h.ctrl.MarkScrolledToBottom()
	assert.Zero(t, h.ctrl.NewMessageCount())
}

func TestSendWithoutOpenChat(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Start(context.Background()))

	_, err := h.ctrl.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, chaterrors.ErrNoActiveChat)
	assert.Nil(t, h.ctrl.Messages())
}

func TestCloseShutsDownStreamsAndClearsRoster(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.Start(ctx))
	require.NoError(t, h.ctrl.OpenChat(ctx, "chat-a"))

	h.ctrl.Close()

	assert.Equal(t, 1, h.stream(0).closeCount(), "roster stream closed")
	assert.Equal(t, 1, h.stream(1).closeCount(), "chat stream closed")
	assert.Empty(t, h.ctrl.Roster().Snapshot())

	assert.ErrorIs(t, h.ctrl.OpenChat(ctx, "chat-b"), chaterrors.ErrClosed)
}

type scrolledUpViewport struct{}

func (scrolledUpViewport) ScrollTop() float64    { return 0 }
func (scrolledUpViewport) ScrollHeight() float64 { return 2000 }
func (scrolledUpViewport) ClientHeight() float64 { return 600 }
