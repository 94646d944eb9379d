package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/aegis/core"
)

// Attempt is one observed delivery, successful or not.
type Attempt struct {
	Message core.Message
	Err     error
}

// Recorder is a core.Transport and core.Receiver that records every message
// it is given. Deliveries to recipients configured with FailFor return the
// configured error and are recorded as failed attempts.
type Recorder struct {
	id       string
	mu       sync.Mutex
	attempts []Attempt
	fail     map[string]error
	notify   chan struct{}
}

// NewRecorder creates a recorder. id is used when it acts as a receiver.
func NewRecorder(id string) *Recorder {
	return &Recorder{id: id, fail: map[string]error{}, notify: make(chan struct{}, 1)}
}

// FailFor makes deliveries to recipient fail with err (chainable).
func (r *Recorder) FailFor(recipient string, err error) *Recorder {
	r.mu.Lock()
	r.fail[recipient] = err
	r.mu.Unlock()
	return r
}

// ID implements core.Receiver.
func (r *Recorder) ID() string { return r.id }

// Receive implements core.Receiver.
func (r *Recorder) Receive(ctx context.Context, msg core.Message) error {
	return r.Send(ctx, msg)
}

// Send implements core.Transport.
func (r *Recorder) Send(_ context.Context, msg core.Message) error {
	r.mu.Lock()
	err := r.fail[msg.Recipient]
	r.attempts = append(r.attempts, Attempt{Message: msg, Err: err})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return err
}

// Attempts returns every recorded delivery attempt.
func (r *Recorder) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attempt(nil), r.attempts...)
}

// Messages returns the successfully delivered messages.
func (r *Recorder) Messages() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Message
	for _, a := range r.attempts {
		if a.Err == nil {
			out = append(out, a.Message)
		}
	}
	return out
}

// To returns the delivered messages addressed to recipient.
func (r *Recorder) To(recipient string) []core.Message {
	var out []core.Message
	for _, m := range r.Messages() {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns the delivered messages whose payload type is typ.
func (r *Recorder) OfType(typ string) []core.Message {
	var out []core.Message
	for _, m := range r.Messages() {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets all recorded attempts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.attempts = nil
	r.mu.Unlock()
}

// WaitFor blocks until at least n attempts were recorded or timeout elapses,
// failing the test in the latter case.
func (r *Recorder) WaitFor(t testing.TB, n int, timeout time.Duration) []Attempt {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if got := r.Attempts(); len(got) >= n {
			return got
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, len(r.Attempts()))
			return nil
		}
	}
}
