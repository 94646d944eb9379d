package core

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownRecipient is returned when no receiver is registered for a message's recipient.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrMailboxFull is returned when a bounded mailbox has no free slot.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrMailboxClosed is returned by operations on a closed mailbox.
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrMailboxEmpty is returned by Dequeue when the wait elapsed without a message.
	// It signals an idle poll, not a failure.
	ErrMailboxEmpty = errors.New("mailbox empty")
	// ErrReplyTimeout is returned when a correlated reply did not arrive in time.
	ErrReplyTimeout = errors.New("reply timeout")
)

// Mailbox is the inbound queue of one agent. Implementations must preserve
// arrival order and allow exactly one consumer.
type Mailbox interface {
	// Enqueue adds msg without blocking. It fails with ErrMailboxFull or ErrMailboxClosed.
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue waits at most wait for the next message. It returns ErrMailboxEmpty
	// on timeout, ErrMailboxClosed once closed and drained, or ctx.Err().
	Dequeue(ctx context.Context, wait time.Duration) (Message, error)
	// Len returns the number of queued messages.
	Len() int
	// Close stops accepting messages. Queued messages can still be dequeued.
	Close() error
}

// Receiver accepts messages addressed to it. Agents implement Receiver so that
// correlated responses can bypass the mailbox.
type Receiver interface {
	ID() string
	Receive(ctx context.Context, msg Message) error
}

// Transport delivers a message to its recipient. Implementations decide how
// (in-process channel, HTTP, broker); callers only see success or an error.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
