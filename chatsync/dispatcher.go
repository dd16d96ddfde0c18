package chatsync

import (
	"encoding/json"
	"sync"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Dispatcher routes inbound envelopes to registered handlers. Dispatch runs
// handlers synchronously in registration order; the Session calls it from a
// single goroutine so handlers never run concurrently with each other.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	onError  func(error)
}

// On registers h for event. Multiple handlers per event are allowed.
func (d *Dispatcher) On(event string, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[string][]Handler)
	}
	d.handlers[event] = append(d.handlers[event], h)
}

// OnMessage registers fn for an event whose payload is a message or a
// partial message update.
func (d *Dispatcher) OnMessage(event string, fn func(model.Patch)) {
	d.On(event, func(data json.RawMessage) {
		var p model.Patch
		if err := UnmarshalData(data, &p); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal "+event+" event", err))
			return
		}
		fn(p)
	})
}

func (d *Dispatcher) SetOnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

// Dispatch delivers env to its handlers. Protocol error frames are converted
// to ChatError and sent to the error callback.
func (d *Dispatcher) Dispatch(env Envelope) {
	if env.Event == EventError {
		var perr Error
		if err := UnmarshalData(env.Data, &perr); err != nil {
			d.fireError(WrapError(ErrorSerialization, "failed to unmarshal error event", err))
			return
		}
		d.fireError(FromProtocolError(&perr))
		return
	}
	d.mu.RLock()
	handlers := d.handlers[env.Event]
	d.mu.RUnlock()
	for _, h := range handlers {
		h(env.Data)
	}
}

func (d *Dispatcher) fireError(err error) {
	d.mu.RLock()
	fn := d.onError
	d.mu.RUnlock()
	if fn != nil && err != nil {
		fn(err)
	}
}
