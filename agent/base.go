package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/scheduler"
	"github.com/hupe1980/aegis/transport"
)

var (
	// ErrAlreadyRunning is returned by Start on an agent that is not stopped.
	ErrAlreadyRunning = errors.New("agent is already running")
	// ErrNotRunning is returned by Stop on an agent that is not running.
	ErrNotRunning = errors.New("agent is not running")
	// ErrHandlerPanic wraps a panic recovered from a message handler.
	ErrHandlerPanic = errors.New("handler panicked")
)

const (
	// DefaultPollInterval bounds a single mailbox wait of the processing loop.
	DefaultPollInterval = time.Second
	// DefaultReplyTimeout bounds Request when the caller gives no timeout.
	DefaultReplyTimeout = 30 * time.Second
)

// State is the lifecycle state of an agent.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Initializer is implemented by handlers that need setup once the loop runs.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by handlers that release resources on Stop.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Options configures a Base runtime.
type Options struct {
	// Name is the human-readable agent name. Defaults to the id.
	Name string
	// Mailbox overrides the inbound queue. When nil an in-memory mailbox of
	// MailboxSize is created (and recreated on restart).
	Mailbox     core.Mailbox
	MailboxSize int
	// Transport delivers outbound messages. The engine binds one when nil.
	Transport core.Transport
	Logger    logging.Logger
	// PollInterval is the bounded wait of one Dequeue.
	PollInterval time.Duration
	// ReplyTimeout is the default timeout of Request.
	ReplyTimeout time.Duration
}

// Base is the generic agent runtime: identity, lifecycle, an inbound
// mailbox drained by a single-consumer loop, periodic tasks and the outbound
// Send/Request primitives. Concrete agents embed *Base and pass themselves as
// the core.Handler.
//
// Key guarantees:
//   - Messages are handled one at a time in arrival order
//   - A request carrying a correlation id gets exactly one response when the
//     handler returns a non-nil result, and none otherwise
//   - Handler errors and panics are logged and the message dropped; the loop
//     keeps running
//   - Responses to in-flight Requests bypass the mailbox, so a handler may
//     await another agent without blocking its own loop
//
// All exported methods are goroutine-safe.
type Base struct {
	id      string
	opts    Options
	handler core.Handler
	logger  logging.Logger

	state      atomic.Int32
	lifecycle  sync.Mutex
	mu         sync.RWMutex // guards mailbox and transport
	mailbox    core.Mailbox
	ownMailbox bool
	transport  core.Transport

	correlator *transport.Correlator
	scheduler  *scheduler.Scheduler

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped runtime for handler.
func New(id string, handler core.Handler, optFns ...func(o *Options)) *Base {
	opts := Options{
		Name:         id,
		MailboxSize:  transport.DefaultMailboxSize,
		PollInterval: DefaultPollInterval,
		ReplyTimeout: DefaultReplyTimeout,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	logger := logging.With(opts.Logger, "agent_id", id)
	b := &Base{
		id:         id,
		opts:       opts,
		handler:    handler,
		logger:     logger,
		transport:  opts.Transport,
		correlator: transport.NewCorrelator(),
		scheduler:  scheduler.New(logger),
	}
	if opts.Mailbox != nil {
		b.mailbox = opts.Mailbox
	} else {
		b.mailbox = transport.NewInMemoryMailbox(opts.MailboxSize)
		b.ownMailbox = true
	}
	return b
}

// ID returns the process-wide unique agent id.
func (b *Base) ID() string { return b.id }

// Name returns the human-readable agent name.
func (b *Base) Name() string { return b.opts.Name }

// Logger returns the agent-scoped logger.
func (b *Base) Logger() logging.Logger { return b.logger }

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// Running reports whether the agent is in StateRunning.
func (b *Base) Running() bool { return b.State() == StateRunning }

// QueueLen returns the number of messages waiting in the mailbox.
func (b *Base) QueueLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mailbox.Len()
}

// Bind sets the outbound transport. The engine calls it at registration.
func (b *Base) Bind(t core.Transport) {
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()
}

func (b *Base) currentTransport() core.Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transport
}

func (b *Base) currentMailbox() core.Mailbox {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mailbox
}

// Every registers a periodic task owned by this agent. Tasks start with the
// agent and are cancelled by Stop.
func (b *Base) Every(name string, interval time.Duration, fn scheduler.TaskFunc) error {
	return b.scheduler.Every(name, interval, fn)
}

// Trigger runs a registered periodic task once, synchronously.
func (b *Base) Trigger(name string) error {
	return b.scheduler.Trigger(name)
}

// Tasks lists the registered periodic task names.
func (b *Base) Tasks() []string { return b.scheduler.Tasks() }

// Receive implements core.Receiver. A response matching an in-flight
// Request is handed to its waiter; everything else is enqueued.
func (b *Base) Receive(ctx context.Context, msg core.Message) error {
	if b.correlator.Resolve(msg) {
		return nil
	}
	return b.currentMailbox().Enqueue(ctx, msg)
}

// Start launches the processing loop and periodic tasks, then runs the
// handler's Initialize hook. A failing hook stops the agent again.
func (b *Base) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if !b.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, b.id)
	}

	b.mu.Lock()
	if b.ownMailbox && b.done != nil {
		// restarted: the previous mailbox was closed by Stop
		b.mailbox = transport.NewInMemoryMailbox(b.opts.MailboxSize)
	}
	mb := b.mailbox
	b.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(loopCtx, mb, b.done)

	b.scheduler.Start(loopCtx)
	b.state.Store(int32(StateRunning))
	b.logger.Info("Agent started", "name", b.opts.Name, "tasks", b.scheduler.Tasks())

	if init, ok := b.handler.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			b.logger.Error("Agent initialization failed", "error", err.Error())
			b.state.Store(int32(StateStopping))
			_ = b.shutdown(ctx)
			return fmt.Errorf("initialize %s: %w", b.id, err)
		}
	}
	return nil
}

// Stop runs the Cleanup hook, cancels periodic tasks, closes the mailbox and
// waits for the loop to finish the messages already queued. If ctx expires
// first the loop context is cancelled and ctx.Err() returned.
func (b *Base) Stop(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if !b.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("%w: %s", ErrNotRunning, b.id)
	}

	if c, ok := b.handler.(Cleaner); ok {
		if err := c.Cleanup(ctx); err != nil {
			b.logger.Warn("Agent cleanup failed", "error", err.Error())
		}
	}
	err := b.shutdown(ctx)
	b.logger.Info("Agent stopped")
	return err
}

func (b *Base) shutdown(ctx context.Context) error {
	defer b.state.Store(int32(StateStopped))

	if err := b.scheduler.Stop(ctx); err != nil {
		b.logger.Warn("Periodic tasks did not stop in time", "error", err.Error())
	}
	_ = b.currentMailbox().Close()

	select {
	case <-b.done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return ctx.Err()
	}
}

func (b *Base) loop(ctx context.Context, mb core.Mailbox, done chan struct{}) {
	defer close(done)
	for {
		msg, err := mb.Dequeue(ctx, b.opts.PollInterval)
		switch {
		case err == nil:
			b.process(ctx, msg)
		case errors.Is(err, core.ErrMailboxEmpty):
			// idle poll
		default:
			return
		}
	}
}

func (b *Base) process(ctx context.Context, msg core.Message) {
	if msg.Kind == core.KindResponse {
		b.logger.Debug("Dropping uncorrelated response", "message_id", msg.ID, "sender", msg.Sender, "correlation_id", msg.CorrelationID)
		return
	}

	start := time.Now()
	res, err := b.handle(ctx, msg)
	if err != nil {
		b.logger.Error("Message handling failed",
			"message_id", msg.ID,
			"sender", msg.Sender,
			"kind", string(msg.Kind),
			"type", msg.Type(),
			"error", err.Error(),
		)
		return
	}
	if res == nil || !msg.ExpectsReply() {
		return
	}
	res.ExecutionTime = time.Since(start)
	_ = b.deliver(ctx, msg.Reply(b.id, res))
}

func (b *Base) handle(ctx context.Context, msg core.Message) (res *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return b.handler.HandleMessage(ctx, msg)
}

// Send builds a message with a fresh id and timestamp and hands it to the
// transport. Delivery failures are logged and returned for inspection; Send
// never retries.
func (b *Base) Send(ctx context.Context, recipient string, kind core.Kind, payload core.Payload, correlationID string) error {
	msg := core.NewMessage(b.id, recipient, kind, payload)
	msg.CorrelationID = correlationID
	return b.deliver(ctx, msg)
}

// Notify sends a fire-and-forget event of the given type.
func (b *Base) Notify(ctx context.Context, recipient, eventType string, payload core.Payload) error {
	return b.deliver(ctx, core.NewEvent(b.id, recipient, eventType, payload))
}

// Command sends a fire-and-forget request: the recipient handles it but,
// without a correlation id, sends no response.
func (b *Base) Command(ctx context.Context, recipient, requestType string, payload core.Payload) error {
	return b.deliver(ctx, core.NewMessage(b.id, recipient, core.KindRequest, payload.WithType(requestType)))
}

// Request sends a correlated request and waits for its response. A timeout
// of zero uses Options.ReplyTimeout. Errors are delivery failures,
// core.ErrReplyTimeout or ctx errors.
func (b *Base) Request(ctx context.Context, recipient, requestType string, payload core.Payload, timeout time.Duration) (*core.Result, error) {
	if timeout <= 0 {
		timeout = b.opts.ReplyTimeout
	}
	msg := core.NewRequest(b.id, recipient, requestType, payload)
	ch := b.correlator.Expect(msg.CorrelationID)

	if err := b.deliver(ctx, msg); err != nil {
		b.correlator.Cancel(msg.CorrelationID)
		return nil, err
	}
	resp, err := b.correlator.Await(ctx, msg.CorrelationID, ch, timeout)
	if err != nil {
		b.logger.Warn("Request failed", "recipient", recipient, "type", requestType, "correlation_id", msg.CorrelationID, "error", err.Error())
		return nil, err
	}
	return core.ResultFromPayload(resp.Payload), nil
}

func (b *Base) deliver(ctx context.Context, msg core.Message) error {
	var err error
	if t := b.currentTransport(); t == nil {
		err = fmt.Errorf("%w: %s (no transport bound)", core.ErrUnknownRecipient, msg.Recipient)
	} else {
		err = t.Send(ctx, msg)
	}
	logging.LogDelivery(b.logger, msg.ID, msg.Recipient, string(msg.Kind), err)
	return err
}
