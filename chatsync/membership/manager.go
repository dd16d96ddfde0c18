// Package membership tracks the single active room and keeps the server's
// connection-scoped room subscription in step with it.
package membership

import (
	"context"
	"sync"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
)

// State is the join state of the active room.
type State int

const (
	Idle State = iota
	Joining
	Joined
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	default:
		return "idle"
	}
}

// Emitter is the transport surface the manager needs. *chatsync.Session
// satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
	Connected() bool
}

// Manager is the only component that issues joinRoom and leaveRoom.
// Joins are fire-and-forget: there is no server acknowledgement, so a room is
// considered joined as soon as the join has been handed to the transport.
type Manager struct {
	emitter Emitter
	logger  chatsync.Logger

	mu    sync.Mutex
	state State
	room  string
}

// New returns an idle manager.
func New(emitter Emitter, logger chatsync.Logger) *Manager {
	if logger == nil {
		logger = chatsync.NopLogger()
	}
	return &Manager{emitter: emitter, logger: logger}
}

// Active returns the active room, or "" when idle.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// State returns the current join state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Activate makes roomID the active room, leaving the previous one first.
// It returns the room that was replaced, and changed=false when roomID was
// already active. Emit failures are logged, not returned: a join that
// could not be sent is reasserted on the next connect.
func (m *Manager) Activate(ctx context.Context, roomID string) (previous string, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if roomID == "" {
		return m.room, false
	}
	if m.room == roomID && m.state != Idle {
		return m.room, false
	}

	previous = m.room
	if previous != "" {
		m.emit(ctx, chatsync.EventLeaveRoom, previous)
	}
	m.room = roomID
	m.state = Joining
	m.emit(ctx, chatsync.EventJoinRoom, roomID)
	m.state = Joined
	return previous, true
}

// Deactivate leaves the active room and returns to Idle.
func (m *Manager) Deactivate(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.room
	if previous != "" {
		m.emit(ctx, chatsync.EventLeaveRoom, previous)
	}
	m.room = ""
	m.state = Idle
	return previous
}

// HandleState reasserts the active room on every new connection. Register it
// with Session.OnStateChanged.
func (m *Manager) HandleState(ev chatsync.StateEvent) {
	if ev.NewState != chatsync.StateConnected {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Joined {
		return
	}
	m.logger.Info("rejoining room", map[string]any{"room": m.room, "reconnect": ev.Reconnected()})
	m.emit(context.Background(), chatsync.EventJoinRoom, m.room)
}

// emit is called with m.mu held so leave and join frames from concurrent
// calls cannot interleave.
func (m *Manager) emit(ctx context.Context, event, roomID string) {
	if !m.emitter.Connected() {
		m.logger.Debug("transport offline, "+event+" deferred", map[string]any{"room": roomID})
		return
	}
	if err := m.emitter.Emit(ctx, event, roomID); err != nil {
		m.logger.Warn(event+" not sent", map[string]any{"room": roomID, "error": err.Error()})
	}
}
