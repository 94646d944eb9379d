package transport

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/aegis/core"
)

// DefaultMailboxSize is the capacity used when a non-positive size is given.
const DefaultMailboxSize = 256

var _ core.Mailbox = (*InMemoryMailbox)(nil)

// InMemoryMailbox is a bounded FIFO backed by a buffered channel. Enqueue
// never blocks; a full mailbox rejects the message.
type InMemoryMailbox struct {
	ch     chan core.Message
	closed chan struct{}
	once   sync.Once
}

// NewInMemoryMailbox creates a mailbox holding up to size messages.
func NewInMemoryMailbox(size int) *InMemoryMailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &InMemoryMailbox{
		ch:     make(chan core.Message, size),
		closed: make(chan struct{}),
	}
}

// Enqueue implements core.Mailbox.
func (m *InMemoryMailbox) Enqueue(ctx context.Context, msg core.Message) error {
	select {
	case <-m.closed:
		return core.ErrMailboxClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.ch <- msg:
		return nil
	default:
		return core.ErrMailboxFull
	}
}

// Dequeue implements core.Mailbox.
func (m *InMemoryMailbox) Dequeue(ctx context.Context, wait time.Duration) (core.Message, error) {
	select {
	case msg := <-m.ch:
		return msg, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-m.ch:
		return msg, nil
	case <-m.closed:
		select {
		case msg := <-m.ch:
			return msg, nil
		default:
			return core.Message{}, core.ErrMailboxClosed
		}
	case <-timer.C:
		return core.Message{}, core.ErrMailboxEmpty
	case <-ctx.Done():
		return core.Message{}, ctx.Err()
	}
}

// Len implements core.Mailbox.
func (m *InMemoryMailbox) Len() int { return len(m.ch) }

// Close implements core.Mailbox. It is safe to call more than once.
func (m *InMemoryMailbox) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}
