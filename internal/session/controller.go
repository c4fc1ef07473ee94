// Package session orchestrates the real-time chat core: it owns the
// roster-scope stream for the whole session, at most one chat-scope
// stream for the open chat, and routes every inbound event to the
// right store. All transport open/close calls go through here, which
// is what enforces the one-connection-per-scope invariant.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"campuschat/internal/api"
	"campuschat/internal/domain"
	"campuschat/internal/events"
	"campuschat/internal/scroll"
	"campuschat/internal/store"
	chaterrors "campuschat/pkg/errors"
	"campuschat/pkg/logger"
)

// Stream is the duplex event-stream transport for one scope.
// *transport.Transport satisfies it; tests substitute fakes.
type Stream interface {
	Open(ctx context.Context, chatID string) error
	Send(cmd events.Command) error
	Close() error
	Events() <-chan events.Event
}

// Backend is the REST collaborator surface the controller consumes.
type Backend interface {
	History(ctx context.Context, chatID string, page int) (api.HistoryPage, error)
	Members(ctx context.Context, chatID string, page int) (api.MemberPage, error)
	Chats(ctx context.Context, page int) (api.RosterPage, error)
}

type Options struct {
	Backend Backend
	Roster  *store.RosterStore
	Log     *logger.Logger

	// NewStream builds a fresh transport per scope. Injected so tests
	// run without sockets.
	NewStream func() Stream

	UserID       string
	NearBottomPx float64
}

// activeChat bundles everything scoped to exactly one open chat. A
// chat switch replaces the whole bundle; nothing is shared across
// chats.
type activeChat struct {
	chatID string
	stream Stream
	msgs   *store.MessageStore
	scroll *scroll.Tracker
	done   chan struct{}

	connected atomic.Bool
	newCount  atomic.Int64 // created events seen while scrolled up

	nextPage int
	hasMore  bool
}

type Controller struct {
	opts Options
	log  *logger.Logger

	rosterStream    Stream
	rosterDone      chan struct{}
	rosterConnected atomic.Bool

	mu     sync.Mutex
	active *activeChat
	closed bool
}

func NewController(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.Roster == nil {
		opts.Roster = store.NewRosterStore(opts.Log)
	}
	return &Controller{opts: opts, log: opts.Log}
}

// Start seeds the roster from the first REST page and opens the
// roster-scope stream that keeps it live.
func (c *Controller) Start(ctx context.Context) error {
	page, err := c.opts.Backend.Chats(ctx, 1)
	if err != nil {
		return err
	}
	c.opts.Roster.Seed(1, page.Items)

	c.rosterStream = c.opts.NewStream()
	c.rosterDone = make(chan struct{})
	if err := c.rosterStream.Open(ctx, ""); err != nil {
		return err
	}
	go c.rosterLoop()
	return nil
}

// FetchMoreChats appends one more roster page.
func (c *Controller) FetchMoreChats(ctx context.Context, page int) (bool, error) {
	res, err := c.opts.Backend.Chats(ctx, page)
	if err != nil {
		return false, err
	}
	c.opts.Roster.Seed(page, res.Items)
	return res.HasNext, nil
}

func (c *Controller) rosterLoop() {
	defer close(c.rosterDone)
	for evt := range c.rosterStream.Events() {
		switch e := evt.(type) {
		case events.StatUpdatedEvent:
			c.opts.Roster.ApplyStat(e.ChatID, e.Stat)
		case events.ChatCreatedEvent:
			c.opts.Roster.AddNew(e.Chat)
		case events.ChatUpdatedEvent:
			c.opts.Roster.Update(e.Chat)
		case events.ChatRemovedEvent:
			c.opts.Roster.Remove(e.ChatID)
		case events.ConnectionChangedEvent:
			c.rosterConnected.Store(e.Connected)
		default:
			c.log.Debugf("unexpected event on roster stream: %T", e)
		}
	}
}

// OpenChat switches the active chat. Opening the already-active chat
// is a no-op and a chat missing from the roster is refused; otherwise
// the previous chat's stream is closed exactly once and a fresh
// message store, scroll tracker and stream are created for the new
// chat. The backlog arrives as the stream's initial event.
func (c *Controller) OpenChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return chaterrors.ErrClosed
	}
	if c.active != nil && c.active.chatID == chatID {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.opts.Roster.Get(chatID); !ok {
		c.mu.Unlock()
		return chaterrors.ErrUnknownChat
	}
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		_ = prev.stream.Close()
		<-prev.done
		prev.scroll.Detach()
	}

	a := &activeChat{
		chatID:   chatID,
		stream:   c.opts.NewStream(),
		msgs:     store.NewMessageStore(c.log),
		scroll:   scroll.NewTracker(c.opts.NearBottomPx),
		done:     make(chan struct{}),
		nextPage: 2, // page 1 is the stream backlog
		hasMore:  true,
	}
	if err := a.stream.Open(ctx, chatID); err != nil {
		return err
	}
	go c.chatLoop(a)

	c.mu.Lock()
	c.active = a
	c.mu.Unlock()

	// Local read-reset; the server's stat_updated remains
	// authoritative when it lands.
	zero, no := 0, false
	c.opts.Roster.ApplyStat(chatID, domain.StatUpdate{UnreadCount: &zero, HasReply: &no})

	c.log.InfoCtx(ctx, "chat opened", zap.String("chat_id", chatID))
	return nil
}

// chatLoop applies one chat's stream events in arrival order. Events
// carrying a foreign chat id are dropped so nothing from a previous
// chat can land in this store after a switch.
func (c *Controller) chatLoop(a *activeChat) {
	defer close(a.done)
	for evt := range a.stream.Events() {
		switch e := evt.(type) {
		case events.InitialEvent:
			if e.ChatID != a.chatID {
				continue
			}
			a.msgs.ApplyInitial(e.Messages)
		case events.MessageCreatedEvent:
			if e.Message.ChatID != a.chatID {
				continue
			}
			a.msgs.ApplyCreated(e.Message)
			c.opts.Roster.TouchActivity(a.chatID, e.Message.CreatedAt)
			if !a.scroll.Snapshot().IsNearBottom {
				a.newCount.Add(1)
			}
		case events.MessageUpdatedEvent:
			// Also covers the full-record delete shape
			// (is_deleted=true); the store keeps the entry in place
			// either way.
			if e.Message.ChatID != a.chatID {
				continue
			}
			a.msgs.ApplyUpdated(e.Message)
		case events.MessageDeletedEvent:
			if e.ChatID != a.chatID {
				continue
			}
			a.msgs.ApplyDeleted(e.MessageID, e.DeletedAt)
		case events.SendRejectedEvent:
			if e.ChatID != a.chatID {
				continue
			}
			c.log.Warnf("send rejected for %s: %s", e.ClientMessageID, e.Reason)
			a.msgs.Rollback(e.ClientMessageID)
		case events.StatUpdatedEvent:
			c.opts.Roster.ApplyStat(e.ChatID, e.Stat)
		case events.ConnectionChangedEvent:
			a.connected.Store(e.Connected)
		default:
			c.log.Debugf("unexpected event on chat stream: %T", e)
		}
	}
}

// CloseChat tears down the active chat, leaving the roster live.
func (c *Controller) CloseChat() {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		_ = prev.stream.Close()
		<-prev.done
		prev.scroll.Detach()
	}
}

// SendMessage appends an optimistic draft and ships it. On any send
// failure the draft is rolled back and the error surfaced; nothing is
// buffered for a later reconnect.
func (c *Controller) SendMessage(ctx context.Context, content string) (string, error) {
	a := c.currentChat()
	if a == nil {
		return "", chaterrors.ErrNoActiveChat
	}

	sender := c.opts.UserID
	draft := domain.Message{
		ChatID:   a.chatID,
		SenderID: &sender,
		Type:     domain.MessageTypeText,
		Content:  content,
	}
	tempID := a.msgs.AppendOptimistic(draft)

	err := a.stream.Send(events.SendCommand{
		ChatID:          a.chatID,
		ClientMessageID: tempID,
		Type:            domain.MessageTypeText,
		Content:         content,
	})
	if err != nil {
		a.msgs.Rollback(tempID)
		return "", err
	}
	return tempID, nil
}

// SendAttachment ships a finished upload as a file message. The job
// must have completed; the chat core never drives uploads itself.
func (c *Controller) SendAttachment(ctx context.Context, job domain.UploadJob) (string, error) {
	a := c.currentChat()
	if a == nil {
		return "", chaterrors.ErrNoActiveChat
	}
	if job.Status != domain.UploadStatusDone || job.FileURL == nil {
		return "", chaterrors.ErrSendRejected
	}

	sender := c.opts.UserID
	name := job.Name
	draft := domain.Message{
		ChatID:   a.chatID,
		SenderID: &sender,
		Type:     domain.MessageTypeFile,
		FileURL:  job.FileURL,
		FileName: &name,
	}
	tempID := a.msgs.AppendOptimistic(draft)

	err := a.stream.Send(events.SendCommand{
		ChatID:          a.chatID,
		ClientMessageID: tempID,
		Type:            domain.MessageTypeFile,
		FileURL:         job.FileURL,
		FileName:        &name,
	})
	if err != nil {
		a.msgs.Rollback(tempID)
		return "", err
	}
	return tempID, nil
}

// EditMessage applies the edit locally and ships it. If the transport
// refuses, the prior content is restored.
func (c *Controller) EditMessage(ctx context.Context, messageID, content string) error {
	a := c.currentChat()
	if a == nil {
		return chaterrors.ErrNoActiveChat
	}
	entry, ok := a.msgs.Get(messageID)
	if !ok {
		return chaterrors.ErrUnknownMessage
	}

	now := time.Now()
	updated := entry.Message
	updated.Content = content
	updated.IsEdited = true
	updated.EditedAt = &now
	a.msgs.ApplyUpdated(updated)

	err := a.stream.Send(events.EditCommand{
		ChatID:    a.chatID,
		MessageID: messageID,
		Content:   content,
	})
	if err != nil {
		a.msgs.ApplyUpdated(entry.Message)
		return err
	}
	return nil
}

// DeleteMessage tombstones the entry locally and ships the delete.
// The entry stays in the list either way; only the content flips.
func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	a := c.currentChat()
	if a == nil {
		return chaterrors.ErrNoActiveChat
	}
	entry, ok := a.msgs.Get(messageID)
	if !ok {
		return chaterrors.ErrUnknownMessage
	}

	a.msgs.ApplyDeleted(messageID, time.Now())

	err := a.stream.Send(events.DeleteCommand{
		ChatID:    a.chatID,
		MessageID: messageID,
	})
	if err != nil {
		a.msgs.ApplyUpdated(entry.Message)
		return err
	}
	return nil
}

// FetchOlder merges the next older history page into the active
// chat's list. A result that lands after the active chat changed is
// discarded; the previous chat's fetch must never touch the new
// chat's store.
func (c *Controller) FetchOlder(ctx context.Context) (bool, error) {
	a := c.currentChat()
	if a == nil {
		return false, chaterrors.ErrNoActiveChat
	}
	if !a.hasMore {
		return false, nil
	}

	page, err := c.opts.Backend.History(ctx, a.chatID, a.nextPage)
	if err != nil {
		return a.hasMore, err
	}

	// The chat may have been switched while the fetch was in flight.
	if c.currentChat() != a {
		c.log.Debugf("discarding stale history page for %s", a.chatID)
		return false, nil
	}

	a.msgs.PrependHistory(page.Items)
	a.nextPage++
	a.hasMore = page.HasNext
	return page.HasNext, nil
}

// Members lists the active chat's membership (cached by the backend).
func (c *Controller) Members(ctx context.Context, page int) (api.MemberPage, error) {
	a := c.currentChat()
	if a == nil {
		return api.MemberPage{}, chaterrors.ErrNoActiveChat
	}
	return c.opts.Backend.Members(ctx, a.chatID, page)
}

// Roster returns the session-wide roster store.
func (c *Controller) Roster() *store.RosterStore {
	return c.opts.Roster
}

// Messages returns the active chat's message store, or nil when no
// chat is open.
func (c *Controller) Messages() *store.MessageStore {
	if a := c.currentChat(); a != nil {
		return a.msgs
	}
	return nil
}

// Scroll returns the active chat's scroll tracker, or nil.
func (c *Controller) Scroll() *scroll.Tracker {
	if a := c.currentChat(); a != nil {
		return a.scroll
	}
	return nil
}

// ActiveChatID returns the open chat's id, or "".
func (c *Controller) ActiveChatID() string {
	if a := c.currentChat(); a != nil {
		return a.chatID
	}
	return ""
}

// Connected reports the active chat stream's connection state.
func (c *Controller) Connected() bool {
	if a := c.currentChat(); a != nil {
		return a.connected.Load()
	}
	return false
}

// RosterConnected reports the roster stream's connection state.
func (c *Controller) RosterConnected() bool {
	return c.rosterConnected.Load()
}

// NewMessageCount is the "N new messages" affordance: messages that
// arrived while the viewport was scrolled up.
func (c *Controller) NewMessageCount() int64 {
	if a := c.currentChat(); a != nil {
		return a.newCount.Load()
	}
	return 0
}

// MarkScrolledToBottom clears the new-message affordance after the UI
// scrolls down.
func (c *Controller) MarkScrolledToBottom() {
	if a := c.currentChat(); a != nil {
		a.newCount.Store(0)
	}
}

// Close tears down both streams and clears the roster. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.CloseChat()
	if c.rosterStream != nil {
		_ = c.rosterStream.Close()
		<-c.rosterDone
	}
	c.opts.Roster.Clear()
}

func (c *Controller) currentChat() *activeChat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
