package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/transport"
	"golang.org/x/sync/errgroup"
)

// ID is the sender id the engine uses for messages it injects.
const ID = "engine"

var (
	// ErrDuplicateAgent is returned by Register for an id that is already taken.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrStarted is returned by Register once the engine runs; the directory is
	// read-only after start.
	ErrStarted = errors.New("engine already started")
	// ErrNotStarted is returned by Stop on an engine that is not running.
	ErrNotStarted = errors.New("engine not started")
	// ErrRejected is returned by Dispatch when a before-dispatch callback vetoes a message.
	ErrRejected = errors.New("message rejected")
)

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Logger = logger
//	    o.Remote = httptransport.NewClient(...)
//	})
type Options struct {
	// Remote delivers messages for agents not registered in this process.
	// Nil means such messages fail with core.ErrUnknownRecipient.
	Remote core.Transport

	// RequestTimeout is the default timeout of Engine.Request.
	RequestTimeout time.Duration

	// Callbacks are registered on the engine's CallbackManager.
	Callbacks []Callback

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// AgentStatus is a point-in-time view of one registered agent.
type AgentStatus struct {
	ID      string `json:"agent_id"`
	Name    string `json:"agent_name"`
	Running bool   `json:"running"`
}

type binder interface {
	Bind(t core.Transport)
}

// Engine owns the process-wide agent directory and the transport between
// agents. It registers agents once, starts and stops them together and lets
// outside callers (HTTP API, CLI, tests) inject events and requests.
//
// Concurrency Model:
//   - Registration is guarded by a mutex and closed once Start succeeds
//   - Start and Stop fan out across agents with errgroup
//   - Dispatch and Request are safe for concurrent use
//
// The engine is itself a core.Receiver (id "engine") so that responses to
// its own requests find their way back.
type Engine struct {
	local      *transport.Local
	router     *transport.Router
	correlator *transport.Correlator
	callbacks  *CallbackManager
	logger     logging.Logger
	opts       Options

	mu      sync.RWMutex
	agents  map[string]core.Agent
	order   []string
	started bool
}

// New creates an Engine with an empty directory.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		RequestTimeout: 30 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	local := transport.NewLocal()
	e := &Engine{
		local:      local,
		router:     transport.NewRouter(local, opts.Remote),
		correlator: transport.NewCorrelator(),
		callbacks:  NewCallbackManager(),
		logger:     logging.With(opts.Logger, "component", "engine"),
		opts:       opts,
		agents:     make(map[string]core.Agent),
	}
	for _, cb := range opts.Callbacks {
		e.callbacks.RegisterCallback(cb)
	}
	// the engine's own id can never clash on a fresh Local
	_ = local.Register(e)
	return e
}

// ID implements core.Receiver.
func (e *Engine) ID() string { return ID }

// Receive implements core.Receiver. Only responses to Engine.Request are
// expected; anything else is logged and dropped.
func (e *Engine) Receive(_ context.Context, msg core.Message) error {
	if e.correlator.Resolve(msg) {
		return nil
	}
	e.logger.Debug("Dropping message addressed to engine", "message_id", msg.ID, "sender", msg.Sender, "kind", string(msg.Kind))
	return nil
}

// Callbacks returns the engine's callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Transport returns the transport agents send through: local delivery with
// the remote fallback.
func (e *Engine) Transport() core.Transport { return e.router }

// Inbound is the transport for messages arriving from remote peers. It only
// reaches agents of this process, so a misaddressed message is never bounced
// back over the network.
func (e *Engine) Inbound() core.Transport { return e.local }

// Register adds agents to the directory and binds them to the engine's
// transport. Ids must be unique; registration is closed after Start.
func (e *Engine) Register(agents ...core.Agent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrStarted
	}
	for _, a := range agents {
		id := a.ID()
		if _, exists := e.agents[id]; exists || id == ID {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
		}
		if err := e.local.Register(a); err != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
		}
		if b, ok := a.(binder); ok {
			b.Bind(e.router)
		}
		e.agents[id] = a
		e.order = append(e.order, id)
		e.logger.Debug("Agent registered", "agent_id", id, "name", a.Name())
	}
	return nil
}

// Agent returns the registered agent with id.
func (e *Engine) Agent(id string) (core.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	return a, ok
}

// Agents returns all registered agents in registration order.
func (e *Engine) Agents() []core.Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.Agent, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.agents[id])
	}
	return out
}

// Status reports the liveness of every registered agent.
func (e *Engine) Status() []AgentStatus {
	agents := e.Agents()
	out := make([]AgentStatus, len(agents))
	for i, a := range agents {
		out[i] = AgentStatus{ID: a.ID(), Name: a.Name(), Running: a.Running()}
	}
	return out
}

// Liveness maps agent ids to their running state.
func (e *Engine) Liveness() map[string]bool {
	out := make(map[string]bool)
	for _, s := range e.Status() {
		out[s.ID] = s.Running
	}
	return out
}

// Running reports whether Start has succeeded and Stop not yet been called.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Start starts every registered agent concurrently. If any agent fails to
// start, the ones that did start are stopped again and the error returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	e.mu.Unlock()

	agents := e.Agents()
	started := make([]bool, len(agents))

	g, gCtx := errgroup.WithContext(ctx)
	for i, a := range agents {
		g.Go(func() error {
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", a.ID(), err)
			}
			started[i] = true
			_ = e.callbacks.ExecuteCallbacks(gCtx, CallbackAgentStarted, &CallbackContext{AgentID: a.ID(), CallbackType: CallbackAgentStarted})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("Engine start failed, rolling back", "error", err.Error())
		for i, a := range agents {
			if started[i] {
				_ = a.Stop(ctx)
			}
		}
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return err
	}

	e.logger.Info("Engine started", "agents", len(agents))
	return nil
}

// Stop stops every agent concurrently and waits for them. All stop errors
// are joined.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.started = false
	e.mu.Unlock()

	agents := e.Agents()
	errs := make([]error, len(agents))

	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			if err := a.Stop(ctx); err != nil {
				errs[i] = fmt.Errorf("stop %s: %w", a.ID(), err)
				e.logger.Warn("Error stopping agent", "agent_id", a.ID(), "error", err.Error())
			}
			_ = e.callbacks.ExecuteCallbacks(ctx, CallbackAgentStopped, &CallbackContext{AgentID: a.ID(), CallbackType: CallbackAgentStopped})
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("Engine stopped")
	return errors.Join(errs...)
}

// Dispatch validates msg, runs the before-dispatch callbacks and delivers it.
// A missing id, sender or timestamp is filled in.
func (e *Engine) Dispatch(ctx context.Context, msg core.Message) error {
	if msg.ID == "" {
		msg.ID = core.NewID()
	}
	if msg.Sender == "" {
		msg.Sender = ID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	cbCtx := &CallbackContext{Message: &msg, AgentID: msg.Recipient, CallbackType: CallbackBeforeDispatch}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeDispatch, cbCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	err := e.router.Send(ctx, msg)
	logging.LogDelivery(e.logger, msg.ID, msg.Recipient, string(msg.Kind), err)
	if err != nil {
		_ = e.callbacks.ExecuteCallbacks(ctx, CallbackDeliveryFailed, &CallbackContext{
			Message: &msg, AgentID: msg.Recipient, CallbackType: CallbackDeliveryFailed, Err: err,
		})
	}
	return err
}

// Publish injects a fire-and-forget event.
func (e *Engine) Publish(ctx context.Context, recipient, eventType string, payload core.Payload) error {
	return e.Dispatch(ctx, core.NewEvent(ID, recipient, eventType, payload))
}

// Request sends a correlated request on behalf of an outside caller and
// waits for the response. A timeout of zero uses Options.RequestTimeout.
func (e *Engine) Request(ctx context.Context, recipient, requestType string, payload core.Payload, timeout time.Duration) (*core.Result, error) {
	if timeout <= 0 {
		timeout = e.opts.RequestTimeout
	}
	msg := core.NewRequest(ID, recipient, requestType, payload)
	ch := e.correlator.Expect(msg.CorrelationID)

	if err := e.Dispatch(ctx, msg); err != nil {
		e.correlator.Cancel(msg.CorrelationID)
		return nil, err
	}
	resp, err := e.correlator.Await(ctx, msg.CorrelationID, ch, timeout)
	if err != nil {
		return nil, err
	}

	res := core.ResultFromPayload(resp.Payload)
	_ = e.callbacks.ExecuteCallbacks(ctx, CallbackAfterRequest, &CallbackContext{
		Message: &msg, AgentID: recipient, CallbackType: CallbackAfterRequest, Result: res,
	})
	return res, nil
}
