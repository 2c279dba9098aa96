package websocket

import (
	"context"
	"sync"
)

// Handler answers one request message.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes request messages to handlers by action. Handlers may be
// registered while messages are being dispatched.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register sets the handler for action, replacing any previous one.
func (d *Dispatcher) Register(action string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = handler
}

func (d *Dispatcher) RegisterFunc(action string, handler HandlerFunc) {
	d.Register(action, handler)
}

// Dispatch runs the handler for msg.Action. Unknown actions get an
// ErrorCodeUnknownAction reply rather than an error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	d.mu.RLock()
	handler, ok := d.handlers[msg.Action]
	d.mu.RUnlock()
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction, "Unknown action: "+msg.Action, nil)
	}
	return handler.Handle(ctx, msg)
}

func (d *Dispatcher) HasHandler(action string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[action]
	return ok
}

// Actions lists the registered actions in no particular order.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for a := range d.handlers {
		out = append(out, a)
	}
	return out
}
