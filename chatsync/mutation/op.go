package mutation

import (
	"context"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// Op is a started mutation. The optimistic change is already visible when
// the Op is returned; Wait reports how the request resolved.
type Op struct {
	Kind   string
	RoomID string
	// Local is the message as it looked right after the optimistic step.
	// For a send or reply this is the provisional copy with its local id.
	Local model.Message

	done   chan struct{}
	result model.Message
	err    error
}

func newOp(kind, roomID string, local model.Message) *Op {
	return &Op{Kind: kind, RoomID: roomID, Local: local, done: make(chan struct{})}
}

func (o *Op) finish(result model.Message, err error) {
	o.result, o.err = result, err
	close(o.done)
}

// Done is closed once the request has resolved.
func (o *Op) Done() <-chan struct{} { return o.done }

// Wait blocks until the mutation resolves or ctx ends. On success it
// returns the reconciled message; on rollback the error is a *Failure.
func (o *Op) Wait(ctx context.Context) (model.Message, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}
