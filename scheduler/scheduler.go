// Package scheduler runs named periodic tasks on behalf of an agent. It
// replaces hand-written sleep loops: tasks are registered with an interval,
// run on cron's goroutines with panic recovery and overlap protection, and
// are cancelled together when the owner stops.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/aegis/logging"
	"github.com/robfig/cron/v3"
)

var (
	// ErrDuplicateTask is returned when a task name is registered twice.
	ErrDuplicateTask = errors.New("task already registered")
	// ErrUnknownTask is returned by Trigger for unregistered names.
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidInterval is returned for intervals below one second.
	ErrInvalidInterval = errors.New("interval must be at least one second")
)

// TaskFunc is the body of a periodic task. ctx is cancelled when the
// scheduler stops.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	entry    cron.EntryID
}

// Scheduler owns a set of periodic tasks.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	tasks   map[string]*task
	logger  logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a stopped scheduler.
func New(logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	cl := cronLogger{l: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Every registers fn to run every interval. Tasks may be registered before
// or after Start. Cron granularity is one second.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval < time.Second {
		return fmt.Errorf("%w: %s (%s)", ErrInvalidInterval, name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	t := &task{name: name, interval: interval, fn: fn}
	t.entry = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { s.run(t) }))
	s.tasks[name] = t

	s.logger.Debug("Periodic task registered", "task", name, "interval", interval)
	return nil
}

func (s *Scheduler) run(t *task) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err := t.fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Periodic task failed", "task", t.name, "error", err.Error())
	}
}

// Trigger runs the named task once, synchronously, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	s.run(t)
	return nil
}

// Remove unregisters the named task.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		s.cron.Remove(t.entry)
		delete(s.tasks, name)
	}
}

// Tasks returns the registered task names in sorted order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for n := range s.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start begins firing tasks. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.running = true
	s.cron.Start()
}

// Stop cancels task contexts and waits for running tasks to return or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", fmt.Sprint(err))...)
}
