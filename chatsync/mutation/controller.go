// Package mutation runs the client's own changes through the
// apply-locally, request, reconcile-or-rollback cycle.
//
// The controller never edits a timeline itself. The optimistic step and
// its resolution are both Store transitions, and every resolution targets
// the room captured when the mutation started, whatever room is active by
// the time the response arrives.
package mutation

import (
	"context"
	"sync"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
	"github.com/vovakirdan/chatsync-sdk/chatsync/timeline"
)

// API is the request surface used for mutations. *rest.Client satisfies it.
type API interface {
	SendMessage(ctx context.Context, req rest.SendRequest) (*model.Message, error)
	Reply(ctx context.Context, parentID string, req rest.ReplyRequest) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	React(ctx context.Context, messageID, emoji string) (*model.Message, error)
	UpdateStatus(ctx context.Context, messageID string, status model.DeliveryState) (*model.Message, error)
}

// Draft is the user's compose input.
type Draft struct {
	RoomID        string
	Content       string
	Type          model.MessageType
	AttachmentRef string
	ReplyToID     string
}

func (d Draft) message() model.Message {
	t := d.Type
	if t == "" {
		t = model.TypeText
	}
	return model.Message{
		RoomID:        d.RoomID,
		Content:       d.Content,
		Type:          t,
		AttachmentRef: d.AttachmentRef,
		ReplyToID:     d.ReplyToID,
	}
}

func draftOf(m model.Message) *Draft {
	return &Draft{
		RoomID:        m.RoomID,
		Content:       m.Content,
		Type:          m.Type,
		AttachmentRef: m.AttachmentRef,
		ReplyToID:     m.ReplyToID,
	}
}

// Config wires a Controller.
type Config struct {
	Store  *timeline.Store
	API    API
	Logger chatsync.Logger
	// OnFailure is told about every rolled-back mutation.
	OnFailure func(*Failure)
}

// Controller is safe for concurrent use.
type Controller struct {
	store     *timeline.Store
	api       API
	logger    chatsync.Logger
	onFailure func(*Failure)

	wg sync.WaitGroup
}

// New returns a controller.
func New(cfg Config) *Controller {
	c := &Controller{
		store:     cfg.Store,
		api:       cfg.API,
		logger:    cfg.Logger,
		onFailure: cfg.OnFailure,
	}
	if c.logger == nil {
		c.logger = chatsync.NopLogger()
	}
	return c
}

// Wait blocks until every started mutation has resolved.
func (c *Controller) Wait() { c.wg.Wait() }

// Send appends a provisional message to the draft's room and issues the send
// request in the background. The returned Op carries the provisional copy.
func (c *Controller) Send(ctx context.Context, d Draft) (*Op, error) {
	if d.ReplyToID != "" {
		return c.Reply(ctx, d)
	}
	return c.send(ctx, OpSend, d, func(ctx context.Context) (*model.Message, error) {
		return c.api.SendMessage(ctx, rest.SendRequest{
			RoomID:        d.RoomID,
			Content:       d.Content,
			Type:          d.message().Type,
			AttachmentRef: d.AttachmentRef,
		})
	})
}

// Reply is Send for a draft that quotes d.ReplyToID. The provisional entry
// records the parent so thread context renders before confirmation.
func (c *Controller) Reply(ctx context.Context, d Draft) (*Op, error) {
	if d.ReplyToID == "" {
		return nil, chatsync.NewError(chatsync.ErrorInvalidMessage, "reply requires a parent message")
	}
	return c.send(ctx, OpReply, d, func(ctx context.Context) (*model.Message, error) {
		return c.api.Reply(ctx, d.ReplyToID, rest.ReplyRequest{
			Content:       d.Content,
			Type:          d.message().Type,
			AttachmentRef: d.AttachmentRef,
		})
	})
}

func (c *Controller) send(ctx context.Context, kind string, d Draft, request func(context.Context) (*model.Message, error)) (*Op, error) {
	draft := d.message()
	if err := draft.Validate(); err != nil {
		return nil, chatsync.WrapError(chatsync.ErrorInvalidMessage, "invalid draft", err)
	}
	provisional, err := c.store.InsertPending(draft)
	if err != nil {
		return nil, err
	}
	op := newOp(kind, d.RoomID, provisional)
	c.start(func() {
		confirmed, err := request(ctx)
		if err == nil && (confirmed == nil || confirmed.ID == "") {
			err = chatsync.NewError(chatsync.ErrorSerialization, "server returned no message")
		}
		if err == nil {
			err = c.store.Promote(d.RoomID, provisional.ID, *confirmed)
		}
		if err == nil {
			merged, ok := c.store.Lookup(d.RoomID, confirmed.ID)
			if !ok {
				// The detached room was dropped by this very promotion.
				merged = confirmed.Clone()
				merged.RoomID = d.RoomID
			}
			c.logger.Debug("message confirmed", map[string]any{"op": kind, "room": d.RoomID, "local": provisional.ID, "id": confirmed.ID})
			op.finish(merged, nil)
			return
		}
		evicted, evictErr := c.store.Evict(d.RoomID, provisional.ID)
		if evictErr != nil {
			evicted = provisional
		}
		c.fail(op, &Failure{Op: kind, RoomID: d.RoomID, MessageID: provisional.ID, Draft: draftOf(evicted), Err: err})
	})
	return op, nil
}

// Delete hides a message from the viewer and issues the delete-for-self
// request. The message reappears if the request fails.
func (c *Controller) Delete(ctx context.Context, roomID, messageID string) (*Op, error) {
	if err := c.store.Hide(roomID, messageID); err != nil {
		return nil, err
	}
	before, _ := c.store.Lookup(roomID, messageID)
	op := newOp(OpDelete, roomID, before)
	c.start(func() {
		if err := c.api.DeleteMessage(ctx, messageID); err != nil {
			c.store.Unhide(roomID, messageID)
			c.fail(op, &Failure{Op: OpDelete, RoomID: roomID, MessageID: messageID, Err: err})
			return
		}
		c.store.CommitHide(roomID, messageID)
		op.finish(c.lookup(roomID, before), nil)
	})
	return op, nil
}

// React toggles the viewer's emoji on a message and issues the request. On
// failure the reaction set captured before the toggle is restored.
func (c *Controller) React(ctx context.Context, roomID, messageID, emoji string) (*Op, error) {
	if emoji == "" {
		return nil, chatsync.NewError(chatsync.ErrorInvalidMessage, "emoji is required")
	}
	change, err := c.store.ToggleReaction(roomID, messageID, emoji)
	if err != nil {
		return nil, err
	}
	current, _ := c.store.Lookup(roomID, messageID)
	op := newOp(OpReact, roomID, current)
	c.start(func() {
		confirmed, err := c.api.React(ctx, messageID, emoji)
		if err != nil {
			if !c.store.RestoreReaction(change) {
				c.logger.Debug("reaction rollback skipped, newer state present", map[string]any{"room": roomID, "message": messageID})
			}
			c.fail(op, &Failure{Op: OpReact, RoomID: roomID, MessageID: messageID, Err: err})
			return
		}
		c.store.SettleReaction(change, confirmed)
		op.finish(c.lookup(roomID, current), nil)
	})
	return op, nil
}

// MarkStatus reports that the viewer has received or read a message. It is
// not optimistic: the store only changes when the server answers.
func (c *Controller) MarkStatus(ctx context.Context, roomID, messageID string, status model.DeliveryState) (*Op, error) {
	if status != model.StateDelivered && status != model.StateRead {
		return nil, chatsync.NewError(chatsync.ErrorInvalidMessage, "status must be delivered or read")
	}
	current, ok := c.store.Lookup(roomID, messageID)
	if !ok || model.IsLocalID(messageID) {
		return nil, chatsync.NewError(chatsync.ErrorUnknownMessage, "message "+messageID+" is not confirmed")
	}
	op := newOp(OpStatus, roomID, current)
	c.start(func() {
		updated, err := c.api.UpdateStatus(ctx, messageID, status)
		if err != nil {
			c.logger.Warn("status update failed", map[string]any{"room": roomID, "message": messageID, "error": err.Error()})
			op.finish(current, err)
			return
		}
		if updated != nil {
			c.store.ApplyServer(roomID, *updated)
		}
		op.finish(c.lookup(roomID, current), nil)
	})
	return op, nil
}

// lookup returns the held copy of fallback's id, or fallback once the room
// is gone.
func (c *Controller) lookup(roomID string, fallback model.Message) model.Message {
	if m, ok := c.store.Lookup(roomID, fallback.ID); ok {
		return m
	}
	return fallback
}

func (c *Controller) start(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) fail(op *Op, f *Failure) {
	c.logger.Warn("mutation rolled back", map[string]any{
		"op":      f.Op,
		"room":    f.RoomID,
		"message": f.MessageID,
		"code":    f.Code().String(),
		"error":   f.Err.Error(),
	})
	if c.onFailure != nil {
		c.onFailure(f)
	}
	op.finish(model.Message{}, f)
}
