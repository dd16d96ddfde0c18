// Package engine assembles the sync components behind one handle: the
// transport session, room membership, the timeline store, the mutation
// controller, the REST client and the peer cache.
package engine

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/membership"
	"github.com/vovakirdan/chatsync-sdk/chatsync/metrics"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
	"github.com/vovakirdan/chatsync-sdk/chatsync/mutation"
	"github.com/vovakirdan/chatsync-sdk/chatsync/peers"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
	"github.com/vovakirdan/chatsync-sdk/chatsync/timeline"
)

// Options are the optional collaborators of an Engine.
type Options struct {
	Logger chatsync.Logger
	// Registerer receives the engine's collectors. Nil disables metrics.
	Registerer prometheus.Registerer
	// OnFailure is told about every rolled-back mutation, for surfacing a
	// notice to the user.
	OnFailure  func(*mutation.Failure)
	HTTPClient *http.Client
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg     chatsync.Config
	logger  chatsync.Logger
	viewer  string
	metrics *metrics.Metrics

	session   *chatsync.Session
	api       *rest.Client
	store     *timeline.Store
	rooms     *membership.Manager
	mutations *mutation.Controller
	peers     *peers.Cache

	// mu orders room switches against snapshot loads so a slow fetch for a
	// room the user already left is not applied.
	mu sync.Mutex
}

// New wires an engine for cfg. It does not connect.
func New(cfg chatsync.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIBaseURL == "" {
		return nil, chatsync.NewError(chatsync.ErrorInvalidConfig, "empty API base URL")
	}
	viewer, err := chatsync.ResolveViewer(cfg)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = chatsync.NopLogger()
	}
	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	api := rest.NewClient(cfg.APIBaseURL)
	api.SetToken(cfg.Token)
	switch {
	case opts.HTTPClient != nil:
		api.SetHTTPClient(opts.HTTPClient)
	case cfg.RequestTimeout > 0:
		api.SetHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})
	}

	session := chatsync.NewSession(cfg)
	session.SetLogger(logger)

	store := timeline.New(timeline.Config{Viewer: viewer, Logger: logger, Metrics: m})
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		viewer:  viewer,
		metrics: m,
		session: session,
		api:     api,
		store:   store,
		rooms:   membership.New(session, logger),
		peers:   peers.New(api, logger),
	}
	e.mutations = mutation.New(mutation.Config{
		Store:     store,
		API:       api,
		Logger:    logger,
		OnFailure: opts.OnFailure,
	})

	session.OnReceiveMessage(e.handleLive)
	session.OnMessageUpdated(e.handleUpdate)
	session.OnStateChanged(e.handleState)
	session.OnError(func(err error) {
		logger.Warn("transport error", map[string]any{"error": err.Error()})
	})
	return e, nil
}

// Viewer returns the current user id.
func (e *Engine) Viewer() string { return e.viewer }

// Store exposes the timelines for rendering.
func (e *Engine) Store() *timeline.Store { return e.store }

// Peers exposes the profile cache.
func (e *Engine) Peers() *peers.Cache { return e.peers }

// Session exposes the transport, mainly for state callbacks.
func (e *Engine) Session() *chatsync.Session { return e.session }

// Active returns the active room.
func (e *Engine) Active() string { return e.rooms.Active() }

// Connected reports transport connectivity.
func (e *Engine) Connected() bool { return e.session.Connected() }

// Start connects the transport. The active room, if any, is joined once the
// connection is up.
func (e *Engine) Start(ctx context.Context) error {
	return e.session.Connect(ctx)
}

// Close disconnects and waits for in-flight mutations to resolve.
func (e *Engine) Close() error {
	err := e.session.Close()
	e.mutations.Wait()
	return err
}

// Activate switches the active room to roomID and loads its snapshot. The
// previous room is left and its timeline discarded, except for the parts
// kept alive by mutations still in flight.
func (e *Engine) Activate(ctx context.Context, roomID string) error {
	e.mu.Lock()
	previous, changed := e.rooms.Activate(ctx, roomID)
	if changed && previous != "" {
		e.store.Discard(previous)
	}
	e.store.Open(roomID)
	e.mu.Unlock()

	if !changed {
		return nil
	}
	return e.refresh(ctx, roomID)
}

// Deactivate leaves the active room.
func (e *Engine) Deactivate(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if previous := e.rooms.Deactivate(ctx); previous != "" {
		e.store.Discard(previous)
	}
}

// Refresh reloads the active room's snapshot.
func (e *Engine) Refresh(ctx context.Context) error {
	roomID := e.rooms.Active()
	if roomID == "" {
		return chatsync.NewError(chatsync.ErrorUnknownRoom, "no active room")
	}
	return e.refresh(ctx, roomID)
}

func (e *Engine) refresh(ctx context.Context, roomID string) error {
	msgs, err := e.api.GetMessages(ctx, roomID)
	if err != nil {
		return chatsync.WrapError(chatsync.Classify(err), "load room "+roomID, err)
	}

	e.mu.Lock()
	if e.rooms.Active() != roomID {
		e.mu.Unlock()
		e.logger.Debug("stale snapshot dropped", map[string]any{"room": roomID})
		return nil
	}
	n := e.store.ApplySnapshot(roomID, msgs)
	e.mu.Unlock()
	e.logger.Debug("room loaded", map[string]any{"room": roomID, "messages": n})

	go e.warmSenders(context.WithoutCancel(ctx), msgs)
	return nil
}

func (e *Engine) warmSenders(ctx context.Context, msgs []model.Message) {
	seen := make(map[string]struct{}, len(msgs))
	var ids []string
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok || m.SenderID == "" {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	if len(ids) == 0 {
		return
	}
	if err := e.peers.Warm(ctx, ids...); err != nil {
		e.logger.Debug("peer warmup incomplete", map[string]any{"error": err.Error()})
	}
}

// View returns the rendered active room.
func (e *Engine) View() []timeline.Item {
	return e.store.View(e.rooms.Active())
}

// Send posts content to the active room.
func (e *Engine) Send(ctx context.Context, content string) (*mutation.Op, error) {
	roomID, err := e.activeRoom()
	if err != nil {
		return nil, err
	}
	return e.mutations.Send(ctx, mutation.Draft{RoomID: roomID, Content: content, Type: model.TypeText})
}

// SendDraft posts d, defaulting its room to the active one.
func (e *Engine) SendDraft(ctx context.Context, d mutation.Draft) (*mutation.Op, error) {
	if d.RoomID == "" {
		roomID, err := e.activeRoom()
		if err != nil {
			return nil, err
		}
		d.RoomID = roomID
	}
	return e.mutations.Send(ctx, d)
}

// Reply answers parentID in the active room.
func (e *Engine) Reply(ctx context.Context, parentID, content string) (*mutation.Op, error) {
	roomID, err := e.activeRoom()
	if err != nil {
		return nil, err
	}
	return e.mutations.Reply(ctx, mutation.Draft{RoomID: roomID, Content: content, Type: model.TypeText, ReplyToID: parentID})
}

// Delete removes messageID from the viewer's copy of the active room.
func (e *Engine) Delete(ctx context.Context, messageID string) (*mutation.Op, error) {
	roomID, err := e.activeRoom()
	if err != nil {
		return nil, err
	}
	return e.mutations.Delete(ctx, roomID, messageID)
}

// React toggles emoji on messageID in the active room.
func (e *Engine) React(ctx context.Context, messageID, emoji string) (*mutation.Op, error) {
	roomID, err := e.activeRoom()
	if err != nil {
		return nil, err
	}
	return e.mutations.React(ctx, roomID, messageID, emoji)
}

// MarkRoomRead marks every visible message from other users in the active
// room as read. It returns the started status updates.
func (e *Engine) MarkRoomRead(ctx context.Context) ([]*mutation.Op, error) {
	roomID, err := e.activeRoom()
	if err != nil {
		return nil, err
	}
	var ops []*mutation.Op
	for _, it := range e.store.View(roomID) {
		m := it.Message
		if it.Pending || m.SenderID == e.viewer || m.Status == model.StateRead {
			continue
		}
		op, err := e.mutations.MarkStatus(ctx, roomID, m.ID, model.StateRead)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (e *Engine) activeRoom() (string, error) {
	roomID := e.rooms.Active()
	if roomID == "" {
		return "", chatsync.NewError(chatsync.ErrorUnknownRoom, "no active room")
	}
	return roomID, nil
}

func (e *Engine) handleLive(p model.Patch) {
	e.store.ApplyLive(p)
}

func (e *Engine) handleUpdate(p model.Patch) {
	e.store.ApplyUpdate(p)
}

// handleState runs on the session goroutine. The rejoin is emitted first so
// the resync fetch below cannot miss events sent after it.
func (e *Engine) handleState(ev chatsync.StateEvent) {
	e.rooms.HandleState(ev)
	if !ev.Reconnected() {
		return
	}
	e.metrics.Reconnect()
	roomID := e.rooms.Active()
	if roomID == "" {
		return
	}
	go func() {
		if err := e.refresh(context.Background(), roomID); err != nil {
			e.logger.Warn("resync after reconnect failed", map[string]any{"room": roomID, "error": err.Error()})
		}
	}()
}
