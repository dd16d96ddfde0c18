package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/chatsync-sdk/chatsync/internal"
	"github.com/vovakirdan/chatsync-sdk/chatsync/internal/clock"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// Session owns the process-wide websocket connection to the chat server.
//
// Inbound events and state changes are delivered from a single goroutine,
// one at a time and in receipt order. Emit is safe from any goroutine,
// including from inside a handler. Close must not be called from a handler.
type Session struct {
	cfg        Config
	logger     Logger
	clock      clock.Clock
	limiter    *rate.Limiter
	dispatcher Dispatcher

	mu      sync.Mutex
	state   ConnectionState
	link    *link
	cancel  context.CancelFunc
	done    chan struct{}
	onState []func(StateEvent)
}

// link is one physical connection. A reconnect replaces the whole link, so
// frames queued on a dead connection are dropped rather than replayed.
type link struct {
	conn   *internal.Conn
	writes chan Envelope
	closed chan struct{}
	ctx    context.Context
	stop   context.CancelFunc
}

// NewSession constructs a session with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewSession(cfg Config) *Session {
	limit := rate.Inf
	if cfg.ReconnectInterval > 0 {
		limit = rate.Every(cfg.ReconnectInterval)
	}
	return &Session{
		cfg:     cfg,
		logger:  noopLogger{},
		clock:   clock.Real(),
		limiter: rate.NewLimiter(limit, 1),
		state:   StateDisconnected,
	}
}

// SetLogger overrides logger (optional).
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.logger = l
}

// On registers a raw handler for an inbound event.
func (s *Session) On(event string, h Handler) { s.dispatcher.On(event, h) }

// OnReceiveMessage registers callback for new message events.
func (s *Session) OnReceiveMessage(fn func(model.Patch)) {
	s.dispatcher.OnMessage(EventReceiveMessage, fn)
}

// OnMessageUpdated registers callback for reaction, status and deletion updates.
func (s *Session) OnMessageUpdated(fn func(model.Patch)) {
	s.dispatcher.OnMessage(EventMessageUpdated, fn)
}

// OnError registers callback for errors.
func (s *Session) OnError(fn func(error)) { s.dispatcher.SetOnError(fn) }

// OnStateChanged registers callback for connection state transitions.
func (s *Session) OnStateChanged(fn func(StateEvent)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether frames can currently be emitted.
func (s *Session) Connected() bool { return s.State() == StateConnected }

// Connect dials the server and starts the read and write loops.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return errors.New("already connected")
	case StateClosed:
		s.mu.Unlock()
		return NewError(ErrorDisconnected, "session closed")
	}
	s.mu.Unlock()

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.transition(StateConnecting, nil)
	l, err := s.dial(ctx)
	if err != nil {
		s.transition(StateDisconnected, err)
		return WrapError(ErrorConnection, "dial failed", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.install(l)
	go s.run(runCtx, l, done)
	return nil
}

// Emit sends a named event. When the session is not connected it does
// nothing and returns an ErrorNotConnected error; delivery is never awaited.
func (s *Session) Emit(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	l, state := s.link, s.state
	s.mu.Unlock()
	if l == nil || state != StateConnected {
		return NewError(ErrorNotConnected, "not connected")
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case l.writes <- env:
		return nil
	case <-l.closed:
		return NewError(ErrorDisconnected, "connection lost before "+event+" was queued")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the session and closes the WebSocket. A closed session
// cannot be reconnected.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	cancel, l, done := s.cancel, s.link, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if l != nil {
		err = l.conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if done != nil {
		<-done
	}
	s.transition(StateClosed, nil)
	if err != nil {
		// The run loop may already have torn the link down.
		s.logger.Debug("close handshake failed", map[string]any{"error": err.Error()})
	}
	return nil
}

func (s *Session) run(ctx context.Context, l *link, done chan struct{}) {
	defer close(done)
	for {
		err := s.readLoop(ctx, l)
		s.drop(l)
		if ctx.Err() != nil {
			return
		}
		if !s.cfg.AutoReconnect {
			s.transition(StateDisconnected, err)
			return
		}
		s.transition(StateReconnecting, err)
		next, rerr := s.reconnect(ctx)
		if rerr != nil {
			if ctx.Err() != nil {
				return
			}
			s.transition(StateError, rerr)
			return
		}
		l = next
		s.install(l)
	}
}

func (s *Session) install(l *link) {
	s.mu.Lock()
	s.link = l
	s.mu.Unlock()
	go s.writeLoop(l)
	s.transition(StateConnected, nil)
}

func (s *Session) drop(l *link) {
	l.stop()
	<-l.closed
	_ = l.conn.CloseNow()
	s.mu.Lock()
	if s.link == l {
		s.link = nil
	}
	s.mu.Unlock()
}

func (s *Session) dial(ctx context.Context) (*link, error) {
	dialCtx := ctx
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	ws, _, err := websocket.Dial(dialCtx, s.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}

	linkCtx, stop := context.WithCancel(context.Background())
	return &link{
		conn:   internal.NewConn(ws, s.cfg.ReadTimeout, s.cfg.WriteTimeout),
		writes: make(chan Envelope, 64),
		closed: make(chan struct{}),
		ctx:    linkCtx,
		stop:   stop,
	}, nil
}

func (s *Session) reconnect(ctx context.Context) (*link, error) {
	for attempt := 1; ; attempt++ {
		if s.cfg.MaxReconnectTries > 0 && attempt > s.cfg.MaxReconnectTries {
			return nil, NewError(ErrorConnection, fmt.Sprintf("gave up after %d reconnect attempts", s.cfg.MaxReconnectTries))
		}
		select {
		case <-s.clock.After(s.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("reconnecting", map[string]any{"attempt": attempt})
		l, err := s.dial(ctx)
		if err == nil {
			if ctx.Err() != nil {
				_ = l.conn.CloseNow()
				l.stop()
				return nil, ctx.Err()
			}
			return l, nil
		}
		s.logger.Warn("reconnect attempt failed", map[string]any{"attempt": attempt, "error": err.Error()})
	}
}

// backoff doubles the reconnect interval per attempt, capped at
// MaxReconnectDelay when set.
func (s *Session) backoff(attempt int) time.Duration {
	delay := s.cfg.ReconnectInterval
	for i := 1; i < attempt; i++ {
		delay *= 2
		if s.cfg.MaxReconnectDelay > 0 && delay >= s.cfg.MaxReconnectDelay {
			return s.cfg.MaxReconnectDelay
		}
	}
	return delay
}

func (s *Session) readLoop(ctx context.Context, l *link) error {
	for {
		var env Envelope
		if err := l.conn.Read(ctx, &env); err != nil {
			if isExpectedDisconnect(ctx, err) {
				return WrapError(ErrorDisconnected, "connection closed", err)
			}
			s.dispatcher.fireError(WrapError(ErrorDisconnected, "read failed", err))
			s.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			return WrapError(ErrorDisconnected, "read failed", err)
		}
		s.dispatcher.Dispatch(env)
	}
}

func (s *Session) writeLoop(l *link) {
	defer close(l.closed)
	for {
		select {
		case env := <-l.writes:
			if err := l.conn.Write(l.ctx, env); err != nil {
				s.logger.Warn("write loop exit", map[string]any{"event": env.Event, "error": err.Error()})
				// Unblock the reader so the run loop notices the dead link.
				_ = l.conn.CloseNow()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (s *Session) transition(next ConnectionState, cause error) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	callbacks := append([]func(StateEvent){}, s.onState...)
	s.mu.Unlock()

	fields := map[string]any{"from": prev.String(), "to": next.String()}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	s.logger.Debug("connection state changed", fields)

	ev := StateEvent{OldState: prev, NewState: next, Error: cause}
	for _, fn := range callbacks {
		fn(ev)
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
