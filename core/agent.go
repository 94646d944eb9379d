package core

import "context"

// Agent is a runnable, addressable unit owning private state and a
// message-handling contract.
type Agent interface {
	Receiver
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Handler processes one message. A nil result means nothing to reply. A
// non-nil error marks a handler fault: the runtime logs it and drops the
// message.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) (*Result, error)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) (*Result, error) {
	return f(ctx, msg)
}
