package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/aegis/logging"
)

// ErrBudgetExceeded is returned once a Limited model has used all its calls.
var ErrBudgetExceeded = errors.New("exceeded max model calls")

// Limiter enforces a maximum number of allowed model calls.
type Limiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewLimiter creates a new limiter with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewLimiter(max int) *Limiter {
	return &Limiter{max: max}
}

// Increment increases the call counter and returns an error if the limit is exceeded.
func (l *Limiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("%w: %d", ErrBudgetExceeded, l.max)
	}
	l.count++
	return nil
}

// Count returns the current number of calls made.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Remaining returns how many calls are left before hitting the limit.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}
	return l.max - l.count
}

// LimitedOptions configures a Limited model.
type LimitedOptions struct {
	MaxCalls int
	Timeout  time.Duration
	Logger   logging.Logger
}

// Limited decorates a Model with a call budget, a per-call timeout and
// call logging. Callers treat its errors like any other model failure.
type Limited struct {
	next    Model
	limiter *Limiter
	opts    LimitedOptions
}

// NewLimited wraps next.
func NewLimited(next Model, optFns ...func(o *LimitedOptions)) *Limited {
	opts := LimitedOptions{
		Timeout: 30 * time.Second,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Limited{next: next, limiter: NewLimiter(opts.MaxCalls), opts: opts}
}

// Generate implements Model.
func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Increment(); err != nil {
		l.opts.Logger.Warn("Model call rejected", "model", l.next.Info().Name, "error", err.Error())
		return "", err
	}
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := l.next.Generate(ctx, prompt)
	logging.LogLLMCall(l.opts.Logger, l.next.Info().Name, time.Since(start), err)
	return text, err
}

// Info implements Model.
func (l *Limited) Info() Info { return l.next.Info() }

// Remaining reports the unused budget, -1 when unlimited.
func (l *Limited) Remaining() int { return l.limiter.Remaining() }
