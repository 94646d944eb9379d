package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/aegis/core"
)

// Correlator tracks requests awaiting a kind=response message. A response is
// delivered to at most one waiter; late or unknown responses are left to the
// caller (Resolve returns false).
type Correlator struct {
	mu      sync.Mutex
	waiters map[string]chan core.Message
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{waiters: make(map[string]chan core.Message)}
}

// Expect registers interest in the response carrying correlationID.
func (c *Correlator) Expect(correlationID string) <-chan core.Message {
	ch := make(chan core.Message, 1)
	c.mu.Lock()
	c.waiters[correlationID] = ch
	c.mu.Unlock()
	return ch
}

// Cancel drops the waiter for correlationID.
func (c *Correlator) Cancel(correlationID string) {
	c.mu.Lock()
	delete(c.waiters, correlationID)
	c.mu.Unlock()
}

// Resolve hands msg to its waiter. It reports whether a waiter consumed it.
func (c *Correlator) Resolve(msg core.Message) bool {
	if msg.Kind != core.KindResponse || msg.CorrelationID == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.waiters[msg.CorrelationID]
	if ok {
		delete(c.waiters, msg.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- msg
	return true
}

// Pending returns the number of outstanding waiters.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Await blocks until the response arrives on ch, the timeout elapses
// (core.ErrReplyTimeout) or ctx is done. The waiter is always cleaned up.
func (c *Correlator) Await(ctx context.Context, correlationID string, ch <-chan core.Message, timeout time.Duration) (core.Message, error) {
	defer c.Cancel(correlationID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return msg, nil
	case <-timer.C:
		return core.Message{}, fmt.Errorf("%w after %s (correlation %s)", core.ErrReplyTimeout, timeout, correlationID)
	case <-ctx.Done():
		return core.Message{}, ctx.Err()
	}
}
