package mutation

import (
	"fmt"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
)

// Operation names, also used as metric and log labels.
const (
	OpSend   = "send"
	OpReply  = "reply"
	OpDelete = "delete"
	OpReact  = "react"
	OpStatus = "status"
)

var errRolledBack = chatsync.NewError(chatsync.ErrorRolledBack, "optimistic change rolled back")

// Failure reports a mutation whose request failed and whose optimistic
// change was undone. It matches chatsync.ErrorRolledBack with errors.Is and
// unwraps to the request error.
type Failure struct {
	Op        string
	RoomID    string
	MessageID string
	// Draft holds the user's input for a failed send or reply so it can be
	// put back into the composer.
	Draft *Draft
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s in room %s rolled back: %v", f.Op, f.RoomID, f.Err)
}

func (f *Failure) Unwrap() []error { return []error{errRolledBack, f.Err} }

// Code classifies the underlying request error.
func (f *Failure) Code() chatsync.ErrorCode { return chatsync.Classify(f.Err) }
