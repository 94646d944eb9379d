// Package aegis wires the e-commerce agent system: an engine hosting the
// orchestrator, personalization, inventory, customer comms and anomaly
// resolver agents, sharing one LLM, one storefront gateway and one history
// archive. Most applications interact with this package by:
//  1. Creating a System via New (optionally overriding collaborators)
//  2. Starting it with Start
//  3. Injecting storefront events with Publish or asking agents with Request
//
// Agents can be split across processes: Hosted selects the agents that run
// here and Remote delivers messages for the others.
package aegis

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/agents/anomaly"
	"github.com/hupe1980/aegis/agents/customercomms"
	"github.com/hupe1980/aegis/agents/inventory"
	"github.com/hupe1980/aegis/agents/orchestrator"
	"github.com/hupe1980/aegis/agents/personalization"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/engine"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
	"github.com/hupe1980/aegis/store"
)

// Options configures a System.
type Options struct {
	// Model is shared by all agents. Nil makes every agent use its fallbacks.
	Model model.Model
	// Gateway reaches the storefront, usually through the MCP gateway.
	Gateway core.Gateway
	// Archive keeps communication and resolution history. Defaults to an
	// in-memory archive.
	Archive core.Archive
	// Remote delivers messages for agents hosted elsewhere.
	Remote core.Transport
	// Hosted lists the agent ids run by this process. Empty means all.
	Hosted []string
	// Runtime tunes every agent's runtime (mailbox, poll interval, reply timeout).
	Runtime        []func(o *agent.Options)
	RequestTimeout time.Duration
	// Deliver sends customer messages out. Nil only records them.
	Deliver customercomms.DeliverFunc
	// Metrics feeds the anomaly resolver's health monitor.
	Metrics anomaly.MetricsFunc
	// Stock seeds inventory levels by product id.
	Stock  map[string]int
	Logger logging.Logger
}

// System is a running set of agents behind one engine.
type System struct {
	engine *engine.Engine
	opts   Options

	Orchestrator    *orchestrator.Agent
	Personalization *personalization.Agent
	Inventory       *inventory.Agent
	CustomerComms   *customercomms.Agent
	AnomalyResolver *anomaly.Agent
}

// AllAgents lists the ids of every agent, orchestrator first.
var AllAgents = []string{
	agents.OrchestratorID,
	agents.PersonalizationID,
	agents.InventoryID,
	agents.CustomerCommsID,
	agents.AnomalyResolverID,
}

// New builds the engine and the hosted agents. Nothing runs until Start.
func New(optFns ...func(o *Options)) (*System, error) {
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
	if opts.Archive == nil {
		opts.Archive = store.NewInMemoryArchive()
	}
	if len(opts.Hosted) == 0 {
		opts.Hosted = AllAgents
	}
	for _, id := range opts.Hosted {
		if !slices.Contains(AllAgents, id) {
			return nil, fmt.Errorf("unknown agent %q", id)
		}
	}

	eng := engine.New(func(o *engine.Options) {
		o.Remote = opts.Remote
		o.RequestTimeout = opts.RequestTimeout
		o.Logger = opts.Logger
		o.Callbacks = []engine.Callback{
			engine.NewTypeValidationCallback(),
			engine.NewLoggingCallback(engine.CallbackAfterRequest, opts.Logger),
			engine.NewLoggingCallback(engine.CallbackDeliveryFailed, opts.Logger),
			engine.NewLoggingCallback(engine.CallbackAgentStarted, opts.Logger),
			engine.NewLoggingCallback(engine.CallbackAgentStopped, opts.Logger),
		}
	})
	s := &System{engine: eng, opts: opts}

	hosted := func(id string) bool { return slices.Contains(opts.Hosted, id) }
	var list []core.Agent

	if hosted(agents.OrchestratorID) {
		s.Orchestrator = orchestrator.New(func(o *orchestrator.Options) {
			o.Model = opts.Model
			o.Gateway = opts.Gateway
			o.Liveness = eng.Liveness
			o.Logger = opts.Logger
			o.Runtime = opts.Runtime
		})
		list = append(list, s.Orchestrator)
	}
	if hosted(agents.PersonalizationID) {
		s.Personalization = personalization.New(func(o *personalization.Options) {
			o.Model = opts.Model
			o.Gateway = opts.Gateway
			o.Logger = opts.Logger
			o.Runtime = opts.Runtime
		})
		list = append(list, s.Personalization)
	}
	if hosted(agents.InventoryID) {
		s.Inventory = inventory.New(func(o *inventory.Options) {
			o.Model = opts.Model
			o.Gateway = opts.Gateway
			o.Stock = opts.Stock
			o.Logger = opts.Logger
			o.Runtime = opts.Runtime
		})
		list = append(list, s.Inventory)
	}
	if hosted(agents.CustomerCommsID) {
		s.CustomerComms = customercomms.New(func(o *customercomms.Options) {
			o.Model = opts.Model
			o.Gateway = opts.Gateway
			o.Archive = opts.Archive
			o.Deliver = opts.Deliver
			o.Logger = opts.Logger
			o.Runtime = opts.Runtime
		})
		list = append(list, s.CustomerComms)
	}
	if hosted(agents.AnomalyResolverID) {
		s.AnomalyResolver = anomaly.New(func(o *anomaly.Options) {
			o.Model = opts.Model
			o.Archive = opts.Archive
			if opts.Metrics != nil {
				o.Metrics = opts.Metrics
			}
			o.Logger = opts.Logger
			o.Runtime = opts.Runtime
		})
		list = append(list, s.AnomalyResolver)
	}

	if err := eng.Register(list...); err != nil {
		return nil, err
	}
	return s, nil
}

// Engine exposes the underlying engine.
func (s *System) Engine() *engine.Engine { return s.engine }

// Start starts every hosted agent.
func (s *System) Start(ctx context.Context) error { return s.engine.Start(ctx) }

// Stop stops every hosted agent.
func (s *System) Stop(ctx context.Context) error { return s.engine.Stop(ctx) }

// Publish sends a storefront event to the orchestrator.
func (s *System) Publish(ctx context.Context, eventType string, payload core.Payload) error {
	return s.engine.Publish(ctx, agents.OrchestratorID, eventType, payload)
}

// Request asks an agent and waits for its result. A zero timeout uses
// Options.RequestTimeout.
func (s *System) Request(ctx context.Context, recipient, requestType string, payload core.Payload, timeout time.Duration) (*core.Result, error) {
	return s.engine.Request(ctx, recipient, requestType, payload, timeout)
}

// Status reports the hosted agents.
func (s *System) Status() []engine.AgentStatus { return s.engine.Status() }
