package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campuschat/internal/auth"
	"campuschat/internal/events"
	chaterrors "campuschat/pkg/errors"
	"campuschat/pkg/logger"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// ScopeRoster opens the session-wide stream carrying stat and chat
// events for all of the user's chats.
const ScopeRoster = ""

// Conn is the subset of *websocket.Conn the transport needs; tests
// substitute fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one connection to the stream endpoint.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Transport. Zero-value Dialer and Clock fall
// back to the real implementations.
type Options struct {
	URL     string // stream endpoint, ws:// or wss://
	Tokens  auth.TokenSource
	Log     *logger.Logger
	Dialer  Dialer
	Clock   Clock
	Backoff Backoff
	Buffer  int
}

// Transport owns at most one live connection for one scope at a time.
// Open for a new chat id closes the prior connection first; inbound
// events are emitted on Events in server send order.
type Transport struct {
	opts Options
	log  *logger.Logger

	mu      sync.Mutex
	state   State
	chatID  string
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	events  chan events.Event
	evtOnce sync.Once
}

func New(opts Options) *Transport {
	if opts.Dialer == nil {
		opts.Dialer = gorillaDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Backoff.Base == 0 {
		opts.Backoff.Base = time.Second
	}
	if opts.Backoff.Cap == 0 {
		opts.Backoff.Cap = 30 * time.Second
	}
	if opts.Buffer == 0 {
		opts.Buffer = 256
	}
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	return &Transport{
		opts:   opts,
		log:    opts.Log,
		state:  StateIdle,
		events: make(chan events.Event, opts.Buffer),
	}
}

// Events is the inbound stream. It is closed by Close, never by a
// connection drop.
func (t *Transport) Events() <-chan events.Event {
	return t.events
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Open starts (or re-scopes) the stream. Opening the already-open
// scope is a no-op; opening another scope tears the prior one down
// first. The connection is maintained with exponential backoff until
// Close.
func (t *Transport) Open(ctx context.Context, chatID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return chaterrors.ErrClosed
	}
	if t.done != nil && t.chatID == chatID {
		t.mu.Unlock()
		return nil
	}
	prevCancel, prevDone := t.cancel, t.done

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.chatID = chatID
	t.cancel = cancel
	t.done = done
	t.state = NextState(StateIdle, InputOpen)
	t.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go t.run(runCtx, chatID, done)
	return nil
}

// Send writes one command to the live connection. There is no
// outbound buffering: when the transport is not connected the
// operation fails immediately with ErrNotConnected and the caller
// owns any optimistic reversal.
func (t *Transport) Send(cmd events.Command) error {
	t.mu.Lock()
	if t.state != StateConnected || t.conn == nil {
		t.mu.Unlock()
		return chaterrors.ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	data, err := events.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return t.write(conn, websocket.TextMessage, data)
}

// Close terminates the connection, cancels any pending reconnect and
// closes the event stream. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = NextState(t.state, InputClose)
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	t.evtOnce.Do(func() { close(t.events) })
	return nil
}

func (t *Transport) run(ctx context.Context, chatID string, done chan struct{}) {
	defer close(done)

	backoff := t.opts.Backoff
	log := t.log.With(zap.String("chat_id", chatID))

	for {
		if ctx.Err() != nil {
			return
		}
		if t.opts.Tokens != nil {
			token, err := t.opts.Tokens.Token(ctx)
			if err == nil && auth.Expired(token) {
				err = chaterrors.ErrTokenExpired
			}
			if err != nil {
				// Re-auth is the session's problem; retrying here
				// would just hammer the server with a dead token.
				log.Warnf("stream auth token unusable, giving up reconnect: %v", err)
				t.setState(NextState(StateConnecting, InputDialErr))
				return
			}
		}

		conn, err := t.dial(ctx, chatID)
		if err != nil {
			t.setState(NextState(StateConnecting, InputDialErr))
			wait := backoff.Next()
			log.Debugf("stream dial failed, retrying in %s: %v", wait, err)
			select {
			case <-ctx.Done():
				return
			case <-t.opts.Clock.After(wait):
			}
			t.setState(NextState(StateBackoff, InputRetry))
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.state = NextState(StateConnecting, InputDialOK)
		t.mu.Unlock()
		backoff.Reset()
		t.emit(ctx, events.ConnectionChangedEvent{Connected: true})

		err = t.pump(ctx, conn)
		_ = conn.Close()

		t.mu.Lock()
		t.conn = nil
		t.state = NextState(StateConnected, InputReadErr)
		t.mu.Unlock()
		t.emit(ctx, events.ConnectionChangedEvent{Connected: false})

		if ctx.Err() != nil {
			return
		}
		log.Debugf("stream connection lost: %v", err)

		wait := backoff.Next()
		select {
		case <-ctx.Done():
			return
		case <-t.opts.Clock.After(wait):
		}
		t.setState(NextState(StateBackoff, InputRetry))
	}
}

// pump reads frames and keeps the connection alive until it breaks or
// the scope is torn down.
func (t *Transport) pump(ctx context.Context, conn Conn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			evt, err := events.Decode(data)
			if err != nil {
				// Unknown or malformed events are dropped, not fatal.
				t.log.Warnf("dropping stream event: %v", err)
				continue
			}
			t.emit(ctx, evt)
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				// Unblocks ReadMessage.
				_ = conn.Close()
				return ctx.Err()
			case <-t.opts.Clock.After(pingInterval):
				if err := t.write(conn, websocket.PingMessage, nil); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

func (t *Transport) dial(ctx context.Context, chatID string) (Conn, error) {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if chatID == ScopeRoster {
		q.Set("scope", "roster")
	} else {
		q.Set("chat_id", chatID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.opts.Tokens != nil {
		token, err := t.opts.Tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}
	return t.opts.Dialer.DialContext(ctx, u.String(), header)
}

func (t *Transport) write(conn Conn, messageType int, data []byte) error {
	// gorilla allows one concurrent writer; Send and the ping loop
	// share this path.
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := conn.(*websocket.Conn); ok {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return conn.WriteMessage(messageType, data)
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transport) emit(ctx context.Context, evt events.Event) {
	select {
	case t.events <- evt:
	case <-ctx.Done():
	}
}
