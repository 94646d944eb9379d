// Package orchestrator implements the coordinating agent: it owns the role
// directory, routes system events to downstream agents and runs composite
// tasks across them.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/gateway"
	"github.com/hupe1980/aegis/internal/util"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
)

const analyzePrompt = `As the Aegis Orchestrator, analyze this situation and provide recommendations.

Situation: {{.situation}}
Context: {{json .context}}

Respond with a JSON object containing:
- analysis (string)
- recommended_actions (array of strings)
- agents_involved (array of role names: {{join ", " .roles}})
- expected_outcomes (string)`

// Options configures the orchestrator.
type Options struct {
	// Model answers analyze_situation. Nil means the fallback analysis.
	Model model.Model
	// Gateway looks up order details missing from order_created events.
	Gateway core.Gateway
	// Directory maps roles to agent ids. Defaults to agents.DefaultDirectory.
	Directory map[string]string
	// ReplyTimeout bounds each step of a coordination pipeline.
	ReplyTimeout time.Duration
	// MonitorInterval is the period of the health check task.
	MonitorInterval time.Duration
	// Liveness reports which agents are running; used by the health check
	// and get_agent_directory.
	Liveness func() map[string]bool
	Logger   logging.Logger
	// Runtime tunes the underlying agent runtime.
	Runtime []func(o *agent.Options)
}

// Agent is the orchestrator.
type Agent struct {
	*agent.Base

	opts       Options
	directory  map[string]string
	storefront *gateway.Storefront
	logger     logging.Logger
}

// New creates a stopped orchestrator.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{
		Directory:       agents.DefaultDirectory(),
		ReplyTimeout:    agent.DefaultReplyTimeout,
		MonitorInterval: 5 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := &Agent{
		opts:      opts,
		directory: maps.Clone(opts.Directory),
	}
	runtime := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Name = "orchestrator"
		o.Logger = opts.Logger
		o.ReplyTimeout = opts.ReplyTimeout
	}}, opts.Runtime...)
	a.Base = agent.New(agents.OrchestratorID, a, runtime...)
	a.logger = a.Base.Logger()

	if opts.Gateway != nil {
		a.storefront = gateway.NewStorefront(opts.Gateway, agents.OrchestratorID)
	}
	if err := a.Every("monitor", opts.MonitorInterval, a.checkSystemHealth); err != nil {
		a.logger.Error("Cannot schedule health monitor", "error", err.Error())
	}
	return a
}

// Directory returns a copy of the role directory.
func (a *Agent) Directory() map[string]string { return maps.Clone(a.directory) }

// HandleMessage implements core.Handler.
func (a *Agent) HandleMessage(ctx context.Context, msg core.Message) (*core.Result, error) {
	a.logger.Info("Handling message", "kind", string(msg.Kind), "type", msg.Type(), "sender", msg.Sender)

	switch msg.Kind {
	case core.KindEvent:
		return a.handleEvent(ctx, msg.Payload)
	case core.KindRequest:
		return a.handleRequest(ctx, msg.Payload)
	default:
		return core.Unrecognized(msg.Kind, msg.Type()), nil
	}
}

func (a *Agent) handleEvent(ctx context.Context, p core.Payload) (*core.Result, error) {
	switch typ := EventType(p.Type()); typ {
	case EventOrderCreated:
		return a.orderCreated(ctx, p)
	case EventCartUpdated:
		return a.forward(ctx, typ, core.Payload{
			"user_id":   p.String("user_id"),
			"cart_data": p.Map("cart_data"),
		}, "cart_analysis_initiated", "user_id")
	case EventInventoryLow:
		a.logger.Warn("Low inventory alert", "product_id", p.String("product_id"), "current_stock", p["current_stock"])
		return a.forward(ctx, typ, core.Payload{
			"product_id":    p.String("product_id"),
			"current_stock": p["current_stock"],
			"threshold":     p["threshold"],
		}, "inventory_issue_escalated", "product_id")
	case EventPaymentFailed:
		a.logger.Error("Payment failed", "order_id", p.String("order_id"), "reason", p.String("error_reason"))
		return a.forward(ctx, typ, core.Payload{
			"order_id":     p.String("order_id"),
			"user_id":      p.String("user_id"),
			"error_reason": p.String("error_reason"),
		}, "payment_issue_escalated", "order_id")
	case EventShippingDelayed:
		a.logger.Warn("Shipping delayed", "order_id", p.String("order_id"), "reason", p.String("delay_reason"))
		return a.forward(ctx, typ, core.Payload{
			"order_id":     p.String("order_id"),
			"user_id":      p.String("user_id"),
			"delay_reason": p.String("delay_reason"),
		}, "customer_notified", "order_id")
	case EventUserBrowsing:
		return a.forward(ctx, typ, core.Payload{
			"user_id":         p.String("user_id"),
			"page":            p.String("page"),
			"products_viewed": p.Slice("products_viewed"),
		}, "browsing_analyzed", "user_id")
	case EventInventoryCritical:
		// customers watching the product are alerted through the comms agent's
		// inventory_low handler
		fwd := core.Payload{
			"product_id":    p.String("product_id"),
			"current_stock": p["current_stock"],
			"suggestions":   p.Slice("suggestions"),
		}
		report, err := a.route(ctx, typ, func(string) core.Payload { return fwd.WithType(string(EventInventoryLow)) })
		if err != nil {
			return routeFailure(err), nil
		}
		a.logReport(typ, report)
		return core.OK(core.Payload{"status": "inventory_critical_acknowledged", "product_id": p.String("product_id")}), nil
	default:
		a.logger.Warn("Unknown event type", "type", string(typ))
		return core.Unrecognized(core.KindEvent, string(typ)), nil
	}
}

// orderCreated notifies inventory and customer comms concurrently. The
// result never depends on the outcome of the sends.
func (a *Agent) orderCreated(ctx context.Context, p core.Payload) (*core.Result, error) {
	orderID := p.String("order_id")
	userID := p.String("user_id")
	a.logger.Info("Handling new order", "order_id", orderID, "user_id", userID)

	orderData := a.orderData(ctx, orderID, p)

	report, err := a.route(ctx, EventOrderCreated, func(role string) core.Payload {
		out := core.Payload{"order_id": orderID, "order_data": orderData}
		if role == agents.RoleCustomerComms {
			out["user_id"] = userID
		}
		return out.WithType(string(EventOrderCreated))
	})
	if err != nil {
		return routeFailure(err), nil
	}
	a.logReport(EventOrderCreated, report)

	return core.OK(core.Payload{"status": "order_processing_initiated", "order_id": orderID}), nil
}

func (a *Agent) orderData(ctx context.Context, orderID string, p core.Payload) map[string]any {
	if data := p.Map("order_data"); data != nil {
		return data
	}
	if a.storefront == nil || orderID == "" {
		return map[string]any{}
	}
	order, err := a.storefront.Order(ctx, orderID)
	if err != nil {
		a.logger.Warn("Order lookup failed", "order_id", orderID, "error", err.Error())
		return map[string]any{}
	}
	return order
}

// forward sends fwd to every role of typ and answers with {status, key}.
func (a *Agent) forward(ctx context.Context, typ EventType, fwd core.Payload, status, key string) (*core.Result, error) {
	report, err := a.route(ctx, typ, func(string) core.Payload { return fwd.WithType(string(typ)) })
	if err != nil {
		return routeFailure(err), nil
	}
	a.logReport(typ, report)
	return core.OK(core.Payload{"status": status, key: fwd.String(key)}), nil
}

type unknownRoleError struct {
	role string
}

func (e *unknownRoleError) Error() string { return "unknown agent role: " + e.role }

// route resolves the roles of typ and delivers payloadFor(role) to each,
// concurrently. Roles missing from the directory abort before any send.
func (a *Agent) route(ctx context.Context, typ EventType, payloadFor func(role string) core.Payload) (agent.FanOutReport, error) {
	roles := Routes[typ]
	deliveries := make([]agent.Delivery, 0, len(roles))
	for _, role := range roles {
		id, ok := a.directory[role]
		if !ok {
			a.logger.Error("Unknown agent role", "role", role, "event", string(typ))
			return agent.FanOutReport{}, &unknownRoleError{role: role}
		}
		deliveries = append(deliveries, agent.Delivery{
			Role:      role,
			Recipient: id,
			Kind:      core.KindEvent,
			Payload:   payloadFor(role),
		})
	}
	return a.FanOut(ctx, deliveries...), nil
}

func (a *Agent) logReport(typ EventType, report agent.FanOutReport) {
	for _, f := range report.Failed() {
		a.logger.Error("Failed to notify agent", "event", string(typ), "role", f.Role, "recipient", f.Recipient, "error", f.Err.Error())
	}
}

func routeFailure(err error) *core.Result {
	data := core.Payload{"status": "error", "message": err.Error()}
	if ure, ok := err.(*unknownRoleError); ok {
		data["role"] = ure.role
	}
	return core.Fail(err.Error(), data)
}

func (a *Agent) handleRequest(ctx context.Context, p core.Payload) (*core.Result, error) {
	switch typ := RequestType(p.Type()); typ {
	case RequestCoordinateAgents:
		return a.coordinateAgents(ctx, p)
	case RequestAnalyzeSituation:
		return a.analyzeSituation(ctx, p)
	case RequestGetAgentDirectory:
		data := core.Payload{"status": "directory", "agents": a.directoryPayload()}
		if a.opts.Liveness != nil {
			live := make(map[string]any)
			for id, running := range a.opts.Liveness() {
				live[id] = running
			}
			data["liveness"] = live
		}
		return core.OK(data), nil
	default:
		return core.Unrecognized(core.KindRequest, string(typ)), nil
	}
}

func (a *Agent) directoryPayload() map[string]any {
	out := make(map[string]any, len(a.directory))
	for role, id := range a.directory {
		out[role] = id
	}
	return out
}

func (a *Agent) coordinateAgents(ctx context.Context, p core.Payload) (*core.Result, error) {
	task := p.String("task_type")
	params := p.Map("parameters")
	if params == nil {
		params = core.Payload{}
	}
	a.logger.Info("Coordinating agents", "task_type", task)

	switch task {
	case TaskPersonalizedCheckout:
		return a.personalizedCheckout(ctx, params), nil
	case TaskInventoryOptimization:
		id, ok := a.directory[agents.RoleInventory]
		if !ok {
			return routeFailure(&unknownRoleError{role: agents.RoleInventory}), nil
		}
		if err := a.Command(ctx, id, "optimize_inventory", params.Clone()); err != nil {
			a.logger.Error("Failed to request inventory optimization", "error", err.Error())
		}
		return core.OK(core.Payload{"status": "inventory_optimization_initiated"}), nil
	default:
		msg := "unknown task type: " + task
		return core.Fail(msg, core.Payload{"status": "error", "message": msg, "task_type": task}), nil
	}
}

// personalizedCheckout asks personalization for recommendations, then checks
// their availability with inventory.
func (a *Agent) personalizedCheckout(ctx context.Context, params core.Payload) *core.Result {
	personalizationID, ok := a.directory[agents.RolePersonalization]
	if !ok {
		return routeFailure(&unknownRoleError{role: agents.RolePersonalization})
	}
	inventoryID, ok := a.directory[agents.RoleInventory]
	if !ok {
		return routeFailure(&unknownRoleError{role: agents.RoleInventory})
	}
	userID := params.String("user_id")

	stages, err := agent.Pipeline(ctx,
		agent.Stage{Name: "recommendations", Run: func(ctx context.Context, _ *core.Result) (*core.Result, error) {
			return a.Request(ctx, personalizationID, "get_recommendations", core.Payload{
				"user_id":   userID,
				"cart_data": params.Map("cart_data"),
			}, a.opts.ReplyTimeout)
		}},
		agent.Stage{Name: "availability", Run: func(ctx context.Context, prev *core.Result) (*core.Result, error) {
			return a.Request(ctx, inventoryID, "check_availability", core.Payload{
				"product_ids": prev.Data.Strings("recommended_products"),
			}, a.opts.ReplyTimeout)
		}},
	)
	if err != nil {
		a.logger.Error("Personalized checkout failed", "user_id", userID, "error", err.Error())
		data := core.Payload{"status": "error", "task_type": TaskPersonalizedCheckout, "message": err.Error()}
		for _, s := range stages {
			data[s.Name] = map[string]any(s.Result.Payload())
		}
		return core.Fail(err.Error(), data)
	}

	return core.OK(core.Payload{
		"status":          "coordination_complete",
		"user_id":         userID,
		"personalization": map[string]any(stages[0].Result.Data),
		"inventory":       map[string]any(stages[1].Result.Data),
	})
}

func (a *Agent) analyzeSituation(ctx context.Context, p core.Payload) (*core.Result, error) {
	situation := p.String("situation_description")
	roles := make([]string, 0, len(a.directory))
	for role := range a.directory {
		roles = append(roles, role)
	}

	prompt, err := util.RenderTemplate(analyzePrompt, map[string]any{
		"situation": situation,
		"context":   p.Map("context_data"),
		"roles":     roles,
	})
	if err != nil {
		return nil, fmt.Errorf("render analysis prompt: %w", err)
	}

	var analysis Analysis
	fallback := false
	if err := agents.Consult(ctx, a.opts.Model, a.logger, "analyze_situation", prompt, &analysis); err != nil || analysis.Analysis == "" {
		analysis = fallbackAnalysis(situation)
		fallback = true
	}

	data, err := core.ToPayload(analysis)
	if err != nil {
		return nil, err
	}
	return core.OK(core.Payload{
		"status":    "analysis_complete",
		"analysis":  map[string]any(data),
		"fallback":  fallback,
		"timestamp": float64(time.Now().Unix()),
	}), nil
}

func (a *Agent) checkSystemHealth(context.Context) error {
	a.logger.Debug("Checking system health")
	if a.opts.Liveness == nil {
		return nil
	}
	live := a.opts.Liveness()
	for role, id := range a.directory {
		if running, known := live[id]; !known || !running {
			a.logger.Warn("Agent not running", "role", role, "agent_id", id)
		}
	}
	return nil
}
