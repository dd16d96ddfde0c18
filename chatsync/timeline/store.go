// Package timeline holds the per-room message timelines and is the single
// writer of message state.
//
// Three sources feed a timeline: a REST snapshot (ApplySnapshot), the live
// event stream (ApplyLive) and the client's own optimistic mutations
// (InsertPending, Hide, ToggleReaction and their resolutions). Every entry is
// keyed by message id, so a message observed any number of times through any
// mix of sources occupies exactly one entry.
//
// Each optimistic call opens an in-flight mutation on its room and each
// resolution (Promote, Evict, CommitHide, Unhide, SettleReaction,
// RestoreReaction) closes one. A room discarded while mutations are open is
// kept alive in the background until the last one resolves, so late
// responses always reconcile into the room that issued them.
package timeline

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/internal/clock"
	"github.com/vovakirdan/chatsync-sdk/chatsync/metrics"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// Outcome describes what ApplyLive did with an event.
type Outcome int

const (
	Ignored Outcome = iota
	Inserted
	Patched
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return metrics.OutcomeInserted
	case Patched:
		return metrics.OutcomePatched
	default:
		return metrics.OutcomeIgnored
	}
}

// Config configures a Store.
type Config struct {
	// Viewer is the current user. Messages whose deletion set holds the
	// viewer are retained but not rendered.
	Viewer  string
	Clock   clock.Clock
	Logger  chatsync.Logger
	Metrics *metrics.Metrics
}

// Store is safe for concurrent use. Each method applies as one atomic
// transition.
type Store struct {
	viewer  string
	clock   clock.Clock
	logger  chatsync.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	rooms    map[string]*room
	seq      uint64
	onChange []func(roomID string)
}

type room struct {
	id       string
	entries  map[string]*entry
	inflight int
	detached bool
}

type entry struct {
	msg model.Message
	// seq is the call order of the optimistic send that created the entry,
	// zero for messages first seen from the server.
	seq     uint64
	pending bool
	// op labels the send that created a pending entry for metrics.
	op string
	// hides counts in-flight delete-for-self requests.
	hides int
}

func (e *entry) hiddenFor(viewer string) bool {
	return e.hides > 0 || e.msg.HiddenFor(viewer)
}

// New returns an empty store.
func New(cfg Config) *Store {
	s := &Store{
		viewer:  cfg.Viewer,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		rooms:   make(map[string]*room),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = chatsync.NopLogger()
	}
	return s
}

// Viewer returns the user the store renders for.
func (s *Store) Viewer() string { return s.viewer }

// OnChange registers fn to be called after any transition that changed a
// room. Callbacks run outside the store lock and may read the store.
func (s *Store) OnChange(fn func(roomID string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) notify(roomID string) {
	s.mu.Lock()
	callbacks := slices.Clone(s.onChange)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(roomID)
	}
}

// Room lifecycle

// Open makes sure a timeline exists for roomID and marks it attached.
func (s *Store) Open(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(roomID)
}

func (s *Store) openLocked(roomID string) *room {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{id: roomID, entries: make(map[string]*entry)}
		s.rooms[roomID] = r
		s.metrics.SetRoomsHeld(len(s.rooms))
	}
	r.detached = false
	return r
}

// Discard drops the timeline for roomID. When mutations are still in flight
// the timeline is detached instead and dropped once they resolve.
func (s *Store) Discard(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if r.inflight > 0 {
		r.detached = true
		s.logger.Debug("room kept alive for in-flight mutations", map[string]any{"room": roomID, "inflight": r.inflight})
		return
	}
	delete(s.rooms, roomID)
	s.metrics.SetRoomsHeld(len(s.rooms))
}

// Has reports whether a timeline for roomID is held, attached or not.
func (s *Store) Has(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms lists held rooms in lexical order.
func (s *Store) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InFlight returns the number of unresolved mutations for roomID.
func (s *Store) InFlight(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.inflight
	}
	return 0
}

func (s *Store) begin(r *room) {
	r.inflight++
}

func (s *Store) finishLocked(r *room) {
	if r.inflight > 0 {
		r.inflight--
	}
	if r.detached && r.inflight == 0 {
		if s.rooms[r.id] == r {
			delete(s.rooms, r.id)
			s.metrics.SetRoomsHeld(len(s.rooms))
		}
	}
}

func (s *Store) roomLocked(roomID string) (*room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, chatsync.NewError(chatsync.ErrorUnknownRoom, fmt.Sprintf("room %s is not loaded", roomID))
	}
	return r, nil
}

// Server-driven merges

// ApplySnapshot replaces the confirmed contents of roomID with msgs and
// opens the room if needed. Pending optimistic entries survive the load, as
// do in-flight hides of messages the snapshot still contains and the
// viewer's own confirmed sends the snapshot predates. Returns the number of
// distinct messages loaded.
func (s *Store) ApplySnapshot(roomID string, msgs []model.Message) int {
	s.mu.Lock()
	r := s.openLocked(roomID)
	next := make(map[string]*entry, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || model.IsLocalID(m.ID) {
			continue
		}
		if m.RoomID == "" {
			m.RoomID = roomID
		} else if m.RoomID != roomID {
			s.logger.Debug("snapshot message for another room dropped", map[string]any{"room": roomID, "message": m.ID, "owner": m.RoomID})
			continue
		}
		m = m.Clone()
		m.Normalize()
		if dup, ok := next[m.ID]; ok {
			dup.msg = model.Merge(dup.msg, m)
			continue
		}
		e := &entry{msg: m}
		if old, ok := r.entries[m.ID]; ok && !old.pending {
			e.msg = model.Merge(old.msg, m)
			e.seq = old.seq
			e.hides = old.hides
		}
		next[m.ID] = e
	}
	loaded := len(next)
	for id, old := range r.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if old.pending || old.seq > 0 {
			next[id] = old
		}
	}
	r.entries = next
	s.mu.Unlock()

	s.notify(roomID)
	return loaded
}

// ApplyLive merges one new-message event. An unseen id is inserted; a known
// id is patched with only the fields the event carries. Events for rooms
// that are not held are ignored. When the event has no room id, the held
// room that already contains the message is used.
func (s *Store) ApplyLive(p model.Patch) Outcome {
	return s.applyEvent(p, true)
}

// ApplyUpdate merges one partial update of an existing message. Updates for
// ids the store does not hold are ignored: the message was never loaded or
// the server already filtered it out for the viewer.
func (s *Store) ApplyUpdate(p model.Patch) Outcome {
	return s.applyEvent(p, false)
}

func (s *Store) applyEvent(p model.Patch, insert bool) Outcome {
	s.mu.Lock()
	outcome, roomID := s.applyLiveLocked(p, insert)
	s.mu.Unlock()

	s.metrics.LiveEvent(outcome.String())
	if outcome != Ignored {
		s.notify(roomID)
	}
	return outcome
}

func (s *Store) applyLiveLocked(p model.Patch, insert bool) (Outcome, string) {
	if model.IsLocalID(p.ID) {
		return Ignored, ""
	}
	var r *room
	if p.RoomID != "" {
		r = s.rooms[p.RoomID]
	} else {
		for _, candidate := range s.rooms {
			if _, ok := candidate.entries[p.ID]; ok {
				r = candidate
				break
			}
		}
	}
	if r == nil {
		return Ignored, ""
	}

	if e, ok := r.entries[p.ID]; ok {
		next := e.msg.Clone()
		if err := p.Apply(&next); err != nil {
			s.logger.Warn("live update rejected", map[string]any{"room": r.id, "message": p.ID, "error": err.Error()})
			return Ignored, ""
		}
		e.msg = next
		return Patched, r.id
	}
	if !insert {
		s.logger.Debug("update for unheld message ignored", map[string]any{"room": r.id, "message": p.ID})
		return Ignored, ""
	}

	m, err := p.Message()
	if err != nil {
		s.logger.Warn("live message rejected", map[string]any{"room": r.id, "message": p.ID, "error": err.Error()})
		return Ignored, ""
	}
	m.RoomID = r.id
	r.entries[m.ID] = &entry{msg: m}
	return Inserted, r.id
}

// ApplyServer merges an authoritative copy returned by a request that had
// no optimistic placeholder, such as a status update. Returns false when
// the room or message is not held.
func (s *Store) ApplyServer(roomID string, m model.Message) bool {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e, ok := r.entries[m.ID]
	if !ok || e.pending {
		s.mu.Unlock()
		return false
	}
	e.msg = model.Merge(e.msg, m)
	s.mu.Unlock()

	s.notify(roomID)
	return true
}

// Optimistic send

// InsertPending appends a provisional copy of draft to its room and returns
// it. The copy carries a fresh local id, the viewer as sender, delivery
// state sent and a provisional timestamp no earlier than the room's newest
// entry.
func (s *Store) InsertPending(draft model.Message) (model.Message, error) {
	s.mu.Lock()
	r, err := s.roomLocked(draft.RoomID)
	if err != nil {
		s.mu.Unlock()
		return model.Message{}, err
	}
	if draft.ReplyToID != "" && model.IsLocalID(draft.ReplyToID) {
		s.mu.Unlock()
		return model.Message{}, chatsync.NewError(chatsync.ErrorInvalidMessage, "cannot reply to an unconfirmed message")
	}
	m := draft.Clone()
	m.ID = model.NewLocalID()
	m.SenderID = s.viewer
	m.Status = model.StateSent
	m.Reactions = nil
	m.DeletedFor = nil
	m.CreatedAt = s.provisionalTime(r)
	m.Normalize()

	op := "send"
	if m.ReplyToID != "" {
		op = "reply"
	}
	s.seq++
	r.entries[m.ID] = &entry{msg: m, seq: s.seq, pending: true, op: op}
	s.begin(r)
	s.mu.Unlock()

	s.notify(m.RoomID)
	return m.Clone(), nil
}

func (s *Store) provisionalTime(r *room) time.Time {
	now := s.clock.Now()
	for _, e := range r.entries {
		if !e.msg.CreatedAt.Before(now) {
			now = e.msg.CreatedAt.Add(time.Nanosecond)
		}
	}
	return now
}

// Promote swaps the placeholder localID for the confirmed server copy. If a
// live echo of the confirmed id arrived first, the echo entry absorbs the
// confirmation and the placeholder is dropped, so the id is held once.
func (s *Store) Promote(roomID, localID string, confirmed model.Message) error {
	s.mu.Lock()
	r, err := s.roomLocked(roomID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := r.entries[localID]
	if !ok || !e.pending {
		s.mu.Unlock()
		return chatsync.NewError(chatsync.ErrorUnknownMessage, fmt.Sprintf("no pending message %s in room %s", localID, roomID))
	}
	if confirmed.ID == "" || model.IsLocalID(confirmed.ID) {
		s.mu.Unlock()
		return chatsync.NewError(chatsync.ErrorInvalidMessage, "confirmation carries no server id")
	}
	if confirmed.RoomID != "" && confirmed.RoomID != roomID {
		s.logger.Warn("confirmation names a different room", map[string]any{"room": roomID, "confirmed_room": confirmed.RoomID, "message": confirmed.ID})
	}
	confirmed = confirmed.Clone()
	confirmed.RoomID = roomID

	delete(r.entries, localID)
	if echo, ok := r.entries[confirmed.ID]; ok {
		echo.msg = model.Merge(echo.msg, confirmed)
		echo.seq = e.seq
	} else {
		e.msg = model.Merge(e.msg, confirmed)
		e.pending = false
		r.entries[confirmed.ID] = e
	}
	s.finishLocked(r)
	s.mu.Unlock()

	s.metrics.Mutation(e.op, metrics.OutcomePromoted)
	s.notify(roomID)
	return nil
}

// Evict removes the placeholder localID and returns it so the caller can
// restore the user's input.
func (s *Store) Evict(roomID, localID string) (model.Message, error) {
	s.mu.Lock()
	r, err := s.roomLocked(roomID)
	if err != nil {
		s.mu.Unlock()
		return model.Message{}, err
	}
	e, ok := r.entries[localID]
	if !ok || !e.pending {
		s.mu.Unlock()
		return model.Message{}, chatsync.NewError(chatsync.ErrorUnknownMessage, fmt.Sprintf("no pending message %s in room %s", localID, roomID))
	}
	delete(r.entries, localID)
	s.finishLocked(r)
	s.mu.Unlock()

	s.metrics.Mutation(e.op, metrics.OutcomeRolledBack)
	s.notify(roomID)
	return e.msg, nil
}

// Optimistic delete-for-self

// Hide removes a message from the viewer's rendering while a delete request
// is in flight.
func (s *Store) Hide(roomID, messageID string) error {
	s.mu.Lock()
	r, err := s.roomLocked(roomID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := r.entries[messageID]
	if !ok || e.pending || e.hiddenFor(s.viewer) {
		s.mu.Unlock()
		return chatsync.NewError(chatsync.ErrorUnknownMessage, fmt.Sprintf("message %s is not visible in room %s", messageID, roomID))
	}
	e.hides++
	s.begin(r)
	s.mu.Unlock()

	s.notify(roomID)
	return nil
}

// CommitHide records the confirmed deletion by adding the viewer to the
// message's deletion set.
func (s *Store) CommitHide(roomID, messageID string) {
	s.resolveHide(roomID, messageID, true)
}

// Unhide restores a message whose delete request failed.
func (s *Store) Unhide(roomID, messageID string) {
	s.resolveHide(roomID, messageID, false)
}

func (s *Store) resolveHide(roomID, messageID string, commit bool) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e, ok := r.entries[messageID]; ok {
		if e.hides > 0 {
			e.hides--
		}
		if commit && !e.msg.HiddenFor(s.viewer) {
			e.msg.DeletedFor = append(e.msg.DeletedFor, s.viewer)
			e.msg.Normalize()
		}
	}
	s.finishLocked(r)
	s.mu.Unlock()

	outcome := metrics.OutcomePromoted
	if !commit {
		outcome = metrics.OutcomeRolledBack
	}
	s.metrics.Mutation("delete", outcome)
	s.notify(roomID)
}

// Optimistic reactions

// ReactionChange captures one optimistic toggle so it can be settled or
// reverted exactly.
type ReactionChange struct {
	RoomID    string
	MessageID string
	Emoji     string
	Added     bool
	Prior     []model.Reaction
	Applied   []model.Reaction
}

// ToggleReaction flips the viewer's emoji on a message: removed if held,
// added otherwise.
func (s *Store) ToggleReaction(roomID, messageID, emoji string) (ReactionChange, error) {
	s.mu.Lock()
	r, err := s.roomLocked(roomID)
	if err != nil {
		s.mu.Unlock()
		return ReactionChange{}, err
	}
	e, ok := r.entries[messageID]
	if !ok || e.pending || e.hiddenFor(s.viewer) {
		s.mu.Unlock()
		return ReactionChange{}, chatsync.NewError(chatsync.ErrorUnknownMessage, fmt.Sprintf("message %s is not visible in room %s", messageID, roomID))
	}
	change := ReactionChange{
		RoomID:    roomID,
		MessageID: messageID,
		Emoji:     emoji,
		Added:     !e.msg.HasReaction(s.viewer, emoji),
		Prior:     slices.Clone(e.msg.Reactions),
	}
	e.msg.Reactions = model.ToggleReaction(e.msg.Reactions, s.viewer, emoji)
	change.Applied = slices.Clone(e.msg.Reactions)
	s.begin(r)
	s.mu.Unlock()

	s.notify(roomID)
	return change, nil
}

// SettleReaction closes a successful toggle, merging the server copy when
// the response carried one.
func (s *Store) SettleReaction(change ReactionChange, confirmed *model.Message) {
	s.mu.Lock()
	r, ok := s.rooms[change.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e, ok := r.entries[change.MessageID]; ok && confirmed != nil && confirmed.ID == change.MessageID {
		e.msg = model.Merge(e.msg, *confirmed)
	}
	s.finishLocked(r)
	s.mu.Unlock()

	s.metrics.Mutation("react", metrics.OutcomePromoted)
	s.notify(change.RoomID)
}

// RestoreReaction reverts a failed toggle. Only the viewer's reaction for
// change.Emoji is flipped back, and only while the message still reflects
// the toggle, so other toggles in flight and newer server state are kept.
// Reports whether anything was reverted.
func (s *Store) RestoreReaction(change ReactionChange) bool {
	s.mu.Lock()
	r, ok := s.rooms[change.RoomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	restored := false
	if e, ok := r.entries[change.MessageID]; ok && e.msg.HasReaction(s.viewer, change.Emoji) == change.Added {
		e.msg.Reactions = model.ToggleReaction(e.msg.Reactions, s.viewer, change.Emoji)
		e.msg.Normalize()
		restored = true
	}
	s.finishLocked(r)
	s.mu.Unlock()

	s.metrics.Mutation("react", metrics.OutcomeRolledBack)
	s.notify(change.RoomID)
	return restored
}

// Reads

// Item is one rendered row.
type Item struct {
	Message model.Message
	Pending bool
}

// View returns the viewer's rendering of roomID: visible messages ordered by
// createdAt then id, followed by the client's own sends that are still
// settling, in call order. A confirmed own send stays in that tail while an
// earlier send is pending so that confirmations never reorder sends.
func (s *Store) View(roomID string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	ordered := r.ordered()
	items := make([]Item, 0, len(ordered))
	for _, e := range ordered {
		if e.hiddenFor(s.viewer) {
			continue
		}
		items = append(items, Item{Message: e.msg.Clone(), Pending: e.pending})
	}
	return items
}

// Messages returns the visible messages of roomID in rendered order.
func (s *Store) Messages(roomID string) []model.Message {
	items := s.View(roomID)
	out := make([]model.Message, len(items))
	for i, it := range items {
		out[i] = it.Message
	}
	return out
}

// Lookup returns the held copy of a message, visible or not.
func (s *Store) Lookup(roomID, messageID string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return model.Message{}, false
	}
	e, ok := r.entries[messageID]
	if !ok {
		return model.Message{}, false
	}
	return e.msg.Clone(), true
}

// Visible reports whether the viewer currently sees the message.
func (s *Store) Visible(roomID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	e, ok := r.entries[messageID]
	return ok && !e.hiddenFor(s.viewer)
}

// Len returns the number of held entries in roomID, hidden ones included.
func (s *Store) Len(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return len(r.entries)
	}
	return 0
}

func (r *room) ordered() []*entry {
	minPending := uint64(math.MaxUint64)
	for _, e := range r.entries {
		if e.pending && e.seq < minPending {
			minPending = e.seq
		}
	}
	settled := make([]*entry, 0, len(r.entries))
	var tail []*entry
	for _, e := range r.entries {
		if e.pending || (e.seq > 0 && e.seq > minPending) {
			tail = append(tail, e)
			continue
		}
		settled = append(settled, e)
	}
	sort.Slice(settled, func(i, j int) bool {
		a, b := settled[i].msg, settled[j].msg
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.Slice(tail, func(i, j int) bool { return tail[i].seq < tail[j].seq })
	return append(settled, tail...)
}
