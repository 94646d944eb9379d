// Package anomaly implements the anomaly resolver agent. Every anomaly event
// opens an anomaly, the LLM proposes a resolution plan and the resolver
// executes it step by step, delegating customer notices to customer comms and
// restocks to inventory. Resolved anomalies move to the history archive.
package anomaly

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/internal/util"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
	"github.com/hupe1980/aegis/store"
)

// MetricsFunc collects current system health metrics.
type MetricsFunc func(ctx context.Context) (Metrics, error)

// RetryFunc re-runs a failed operation named by a retry_operation step.
type RetryFunc func(ctx context.Context, operation string, a Anomaly) error

// Options configures the anomaly resolver.
type Options struct {
	Model model.Model
	// Archive stores resolved anomalies. Defaults to an in-memory archive.
	Archive core.Archive
	// Metrics feeds the health monitor. Defaults to Go runtime statistics.
	Metrics MetricsFunc
	// Retry performs retry_operation steps. When nil the operation is
	// considered successful on the first attempt.
	Retry RetryFunc
	// RetryBackoff is the delay before the second attempt; it doubles after
	// every further failure.
	RetryBackoff    time.Duration
	MonitorInterval time.Duration
	CleanupInterval time.Duration
	Logger          logging.Logger
	Runtime         []func(o *agent.Options)
}

// Agent is the anomaly resolver agent.
type Agent struct {
	*agent.Base

	opts   Options
	logger logging.Logger

	active  *store.Table[string, Anomaly]
	metrics *store.Table[string, float64]
}

// New creates a stopped anomaly resolver.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{
		Metrics:         runtimeMetrics,
		RetryBackoff:    time.Second,
		MonitorInterval: 30 * time.Second,
		CleanupInterval: 5 * time.Minute,
		Logger:          logging.NoOpLogger{},
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

	a := &Agent{
		opts:    opts,
		active:  store.NewTable[string, Anomaly](store.WithClone(cloneAnomaly)),
		metrics: store.NewTable[string, float64](),
	}
	baseOpts := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Name = "anomaly_resolver"
		o.Logger = opts.Logger
	}}, opts.Runtime...)
	a.Base = agent.New(agents.AnomalyResolverID, a, baseOpts...)
	a.logger = a.Base.Logger()

	if err := a.Every("health_monitor", opts.MonitorInterval, a.monitorHealth); err != nil {
		a.logger.Error("Cannot schedule task", "task", "health_monitor", "error", err.Error())
	}
	if err := a.Every("resolved_cleanup", opts.CleanupInterval, a.cleanup); err != nil {
		a.logger.Error("Cannot schedule task", "task", "resolved_cleanup", "error", err.Error())
	}
	return a
}

// HandleMessage implements core.Handler.
func (a *Agent) HandleMessage(ctx context.Context, msg core.Message) (*core.Result, error) {
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
	typ := EventType(p.Type())
	k, ok := kinds[typ]
	if !ok {
		return core.Unrecognized(core.KindEvent, string(typ)), nil
	}

	if typ == EventInventoryLow {
		if existing, ok := a.openAnomaly(typ, p); ok {
			a.logger.Debug("Reusing open inventory anomaly", "anomaly_id", existing.ID)
			return core.OK(core.Payload{
				"status":     k.handled,
				"anomaly_id": existing.ID,
				"duplicate":  true,
			}), nil
		}
	}

	a.supersede(typ, p.String(k.key))
	an := a.open(typ, p)
	plan := a.plan(ctx, an)
	result := a.execute(ctx, an.ID, plan)

	return core.OK(core.Payload{
		"status":            k.handled,
		"anomaly_id":        an.ID,
		"resolution_result": result,
	}), nil
}

// open records a new active anomaly for the event.
func (a *Agent) open(typ EventType, p core.Payload) Anomaly {
	k := kinds[typ]
	details := make(map[string]any, len(k.fields))
	for _, f := range k.fields {
		if v, ok := p[f]; ok {
			details[f] = v
		}
	}

	now := time.Now().UTC()
	base := fmt.Sprintf("%s_%s_%d", typ, p.String(k.key), now.Unix())
	an := Anomaly{
		Type:       typ,
		Severity:   k.severity,
		Status:     StatusActive,
		Details:    details,
		DetectedAt: now,
		Attempts:   []Attempt{},
	}
	for i := 1; ; i++ {
		an.ID = base
		if i > 1 {
			an.ID = base + "_" + strconv.Itoa(i)
		}
		if a.active.Insert(an.ID, an) == nil {
			break
		}
	}

	a.logger.Warn("Anomaly detected", "anomaly_id", an.ID, "type", string(typ), "severity", an.Severity)
	return an
}

// openAnomaly finds the anomaly an event of typ should reuse: one for the
// same entity that is still active, or that failed or partially resolved at
// the same reading. A new reading after a failed plan is a new anomaly.
func (a *Agent) openAnomaly(typ EventType, p core.Payload) (Anomaly, bool) {
	k := kinds[typ]
	key := p.String(k.key)
	for _, id := range a.active.Keys() {
		an, ok := a.active.Get(id)
		if !ok || an.Type != typ || an.Status == StatusResolved {
			continue
		}
		details := core.Payload(an.Details)
		if details.String(k.key) != key {
			continue
		}
		if an.Status == StatusActive {
			return an, true
		}
		if k.reading != "" && p.Has(k.reading) && details.Float(k.reading, -1) == p.Float(k.reading, -2) {
			return an, true
		}
	}
	return Anomaly{}, false
}

// supersede drops failed and partially resolved anomalies for the entity key
// once a new anomaly replaces them.
func (a *Agent) supersede(typ EventType, key string) {
	field := kinds[typ].key
	dropped := a.active.EvictIf(func(_ string, an Anomaly) bool {
		if an.Type != typ || core.Payload(an.Details).String(field) != key {
			return false
		}
		return an.Status == StatusFailed || an.Status == StatusPartiallyResolved
	})
	for id := range dropped {
		a.logger.Info("Anomaly superseded", "anomaly_id", id, "type", string(typ))
	}
}

// plan asks the model for a resolution plan, falling back to escalation.
func (a *Agent) plan(ctx context.Context, an Anomaly) Plan {
	prompt, err := util.RenderTemplate(planPrompt, map[string]any{
		"type":    string(an.Type),
		"details": an.Details,
		"focus":   kinds[an.Type].focus,
	})
	if err != nil {
		return fallbackPlan(an.Type)
	}

	var out Plan
	if agents.Consult(ctx, a.opts.Model, a.logger, "resolution_plan", prompt, &out) != nil || len(out.Steps) == 0 {
		return fallbackPlan(an.Type)
	}
	out.SuccessProbability = min(max(out.SuccessProbability, 0), 1)
	return out
}

// execute runs plan against the anomaly and records the attempt.
func (a *Agent) execute(ctx context.Context, anomalyID string, plan Plan) map[string]any {
	defer logging.StartTimer(a.logger, "execute_resolution")()

	an, ok := a.active.Get(anomalyID)
	if !ok {
		return map[string]any{"status": "error", "message": "Anomaly not found"}
	}

	attempt := Attempt{ID: core.NewID(), Plan: plan, StartedAt: time.Now().UTC(), Status: AttemptInProgress}
	_ = a.active.Update(anomalyID, func(v *Anomaly) error {
		v.Attempts = append(v.Attempts, attempt)
		return nil
	})

	results := make([]StepResult, 0, len(plan.Steps))
	succeeded := 0
	for _, step := range plan.Steps {
		r := a.runStep(ctx, an, step)
		if r.Success {
			succeeded++
		}
		results = append(results, r)
	}

	_ = a.active.Update(anomalyID, func(v *Anomaly) error {
		last := &v.Attempts[len(v.Attempts)-1]
		switch {
		case len(results) > 0 && succeeded == len(results):
			now := time.Now().UTC()
			v.Status = StatusResolved
			v.ResolvedAt = &now
			last.Status = AttemptSuccess
		case succeeded == 0:
			v.Status = StatusFailed
			last.Status = AttemptFailed
		default:
			v.Status = StatusPartiallyResolved
			last.Status = AttemptPartialSuccess
		}
		return nil
	})

	a.logger.Info("Resolution plan executed", "anomaly_id", anomalyID, "succeeded", succeeded, "steps", len(results))
	return map[string]any{
		"status":        "resolution_executed",
		"anomaly_id":    anomalyID,
		"success_count": succeeded,
		"total_steps":   len(results),
		"results":       agents.ToMaps(results),
	}
}

func (a *Agent) runStep(ctx context.Context, an Anomaly, step Step) StepResult {
	data := core.Payload(step.Data)
	fail := func(err error) StepResult {
		a.logger.Error("Resolution step failed", "anomaly_id", an.ID, "step", step.Type, "error", err.Error())
		return StepResult{Type: step.Type, Message: err.Error()}
	}

	switch step.Type {
	case StepNotifyCustomer:
		userID := data.String("user_id")
		if userID == "" {
			userID = core.Payload(an.Details).String("user_id")
		}
		msgCtx := map[string]any(data.Map("context"))
		if msgCtx == nil {
			msgCtx = map[string]any{}
		}
		msgCtx["anomaly_id"] = an.ID
		kind := data.String("message_type")
		if kind == "" {
			kind = "issue_resolution"
		}
		err := a.Command(ctx, agents.CustomerCommsID, "send_message", core.Payload{
			"user_id":      userID,
			"message_type": kind,
			"content":      data.String("content"),
			"context":      msgCtx,
		})
		if err != nil {
			return fail(err)
		}
		return StepResult{Type: step.Type, Success: true, Message: "Customer notified"}

	case StepRetryOperation:
		operation := data.String("operation")
		retries := data.Int("max_retries", defaultRetries)
		attempts, err := a.retry(ctx, an, operation, retries)
		if err != nil {
			return fail(fmt.Errorf("operation %s failed after %d attempts: %w", operation, attempts, err))
		}
		return StepResult{Type: step.Type, Success: true, Message: fmt.Sprintf("Operation retried successfully (attempt %d)", attempts)}

	case StepEscalateSupport:
		a.logger.Warn("Escalating anomaly to support team",
			"anomaly_id", an.ID, "priority", data.String("priority"), "description", data.String("description"))
		return StepResult{Type: step.Type, Success: true, Message: "Anomaly escalated to support team"}

	case StepUpdateInventory:
		productID := data.String("product_id")
		if productID == "" {
			productID = core.Payload(an.Details).String("product_id")
		}
		update := core.Payload{"product_id": productID}
		for _, key := range []string{"quantity", "quantity_change"} {
			if data.Has(key) {
				update[key] = data.Int(key, 0)
			}
		}
		if err := a.Command(ctx, agents.InventoryID, "update_inventory", update); err != nil {
			return fail(err)
		}
		return StepResult{Type: step.Type, Success: true, Message: "Inventory updated"}

	default:
		return fail(fmt.Errorf("unknown step type: %q", step.Type))
	}
}

// retry runs the operation up to n times with exponential backoff and
// returns the number of attempts made.
func (a *Agent) retry(ctx context.Context, an Anomaly, operation string, n int) (int, error) {
	if n <= 0 {
		n = 1
	}
	delay := a.opts.RetryBackoff
	var err error
	for attempt := 1; attempt <= n; attempt++ {
		if a.opts.Retry == nil {
			return attempt, nil
		}
		if err = a.opts.Retry(ctx, operation, an); err == nil {
			return attempt, nil
		}
		if attempt == n {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return n, err
}

func (a *Agent) handleRequest(ctx context.Context, p core.Payload) (*core.Result, error) {
	switch typ := RequestType(p.Type()); typ {
	case RequestDetectAnomalies:
		return a.detect(ctx, p), nil

	case RequestResolveAnomaly:
		return a.resolve(ctx, p), nil

	case RequestGetAnomalyStatus:
		if id := p.String("anomaly_id"); id != "" {
			an, ok := a.active.Get(id)
			if !ok {
				return core.OK(core.Payload{"status": "anomaly_not_found", "anomaly_id": id}), nil
			}
			return core.OK(core.Payload{"status": "anomaly_found", "anomaly": agents.ToMap(an)}), nil
		}
		all := a.Active()
		return core.OK(core.Payload{
			"status":       "active_anomalies",
			"anomalies":    agents.ToMaps(all),
			"total_active": len(all),
		}), nil

	case RequestGetResolutionHistory:
		return a.history(ctx, p.Int("limit", defaultHistory))

	default:
		return core.Unrecognized(core.KindRequest, string(typ)), nil
	}
}

// detect analyzes metrics with the model. Without a usable answer it reports
// every metric over its threshold.
func (a *Agent) detect(ctx context.Context, p core.Payload) *core.Result {
	metrics := Metrics{}
	if supplied := p.Map("metrics"); len(supplied) > 0 {
		for k := range supplied {
			metrics[k] = supplied.Float(k, 0)
		}
	} else {
		collected, err := a.opts.Metrics(ctx)
		if err != nil {
			a.logger.Error("Cannot collect system metrics", "error", err.Error())
			return core.Fail(err.Error(), core.Payload{"status": "error", "error": err.Error()})
		}
		metrics = collected
	}

	detections := thresholdDetections(metrics)
	fallback := true
	prompt, err := util.RenderTemplate(detectionPrompt, map[string]any{"metrics": metrics})
	if err == nil {
		var out []Detection
		if agents.Consult(ctx, a.opts.Model, a.logger, "detect_anomalies", prompt, &out) == nil {
			detections = slices.DeleteFunc(out, func(d Detection) bool { return d.AnomalyType == "" })
			fallback = false
		}
	}

	return core.OK(core.Payload{
		"status":         "anomalies_detected",
		"anomalies":      agents.ToMaps(detections),
		"total_detected": len(detections),
		"metrics":        map[string]float64(metrics),
		"fallback":       fallback,
	})
}

func thresholdDetections(m Metrics) []Detection {
	var out []Detection
	for _, name := range sortedKeys(Thresholds) {
		limit := Thresholds[name]
		if v, ok := m[name]; ok && v > limit {
			out = append(out, Detection{
				AnomalyType:       string(EventPerformanceDegradation),
				MetricName:        name,
				CurrentValue:      v,
				ExpectedValue:     limit,
				Severity:          SeverityMedium,
				Description:       name + " is above its threshold",
				RecommendedAction: Strategies[EventPerformanceDegradation][0],
			})
		}
	}
	return out
}

// resolve runs a named strategy against an active anomaly.
func (a *Agent) resolve(ctx context.Context, p core.Payload) *core.Result {
	id := p.String("anomaly_id")
	an, ok := a.active.Get(id)
	if !ok {
		msg := fmt.Sprintf("Anomaly %s not found", id)
		return core.Fail(msg, core.Payload{"status": "error", "error": msg})
	}

	strategy := p.String("resolution_strategy")
	if strategy == "" {
		strategy = Strategies[an.Type][0]
	}
	if !slices.Contains(Strategies[an.Type], strategy) {
		msg := fmt.Sprintf("Unknown strategy %s for %s", strategy, an.Type)
		return core.Fail(msg, core.Payload{"status": "error", "error": msg})
	}

	plan := Plan{
		Steps:             strategySteps(an, strategy),
		EstimatedTime:     "5-10 minutes",
		RequiredResources: []string{strategy},
	}
	result := a.execute(ctx, id, plan)
	return core.OK(core.Payload{
		"status":              "anomaly_resolved",
		"anomaly_id":          id,
		"resolution_strategy": strategy,
		"resolution_result":   result,
	})
}

// strategySteps translates a named strategy into plan steps.
func strategySteps(an Anomaly, strategy string) []Step {
	switch strategy {
	case "reorder_stock":
		return []Step{{Type: StepUpdateInventory, Data: map[string]any{
			"product_id":      an.Details["product_id"],
			"quantity_change": restockQuantity,
		}}}
	case "alternative_payment":
		return []Step{{Type: StepNotifyCustomer, Data: map[string]any{
			"message_type": "payment_failed",
			"content":      "Please complete your order with an alternative payment method.",
		}}}
	case "compensate_customer":
		return []Step{{Type: StepNotifyCustomer, Data: map[string]any{
			"message_type": "delay_notification",
			"content":      "We're sorry for the delay. A discount has been applied to your account.",
		}}}
	case "manual_review", "escalate_support", "notify_security_team", "audit_logs",
		"redistribute_inventory", "substitute_product":
		return []Step{{Type: StepEscalateSupport, Data: map[string]any{
			"priority":    an.Severity,
			"description": strategy + " requested for " + an.ID,
		}}}
	default:
		return []Step{{Type: StepRetryOperation, Data: map[string]any{"operation": strategy}}}
	}
}

const restockQuantity = 50

func (a *Agent) history(ctx context.Context, limit int) (*core.Result, error) {
	records, err := a.opts.Archive.List(ctx, historyCollection, 0)
	if err != nil {
		return nil, fmt.Errorf("list resolution history: %w", err)
	}

	resolved := make([]Anomaly, 0, len(records))
	for _, rec := range records {
		var an Anomaly
		if err := rec.Data.Decode(&an); err != nil {
			a.logger.Warn("Skipping undecodable history record", "key", rec.Key, "error", err.Error())
			continue
		}
		resolved = append(resolved, an)
	}
	slices.SortStableFunc(resolved, func(x, y Anomaly) int {
		return resolvedAt(y).Compare(resolvedAt(x))
	})

	total := len(resolved)
	if limit > 0 && len(resolved) > limit {
		resolved = resolved[:limit]
	}
	return core.OK(core.Payload{
		"status":            "history_retrieved",
		"resolutions":       agents.ToMaps(resolved),
		"total_resolutions": total,
	}), nil
}

func resolvedAt(an Anomaly) time.Time {
	if an.ResolvedAt == nil {
		return time.Time{}
	}
	return *an.ResolvedAt
}

// monitorHealth raises a performance anomaly for every metric above its
// threshold that has no open anomaly yet.
func (a *Agent) monitorHealth(ctx context.Context) error {
	m, err := a.opts.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	for name, v := range m {
		a.metrics.Upsert(name, v)
	}

	for _, d := range thresholdDetections(m) {
		event := core.Payload{
			"metric_name":   d.MetricName,
			"current_value": d.CurrentValue,
			"threshold":     d.ExpectedValue,
		}
		if _, open := a.openAnomaly(EventPerformanceDegradation, event); open {
			continue
		}
		if _, err := a.handleEvent(ctx, event.WithType(string(EventPerformanceDegradation))); err != nil {
			return err
		}
	}
	return nil
}

// cleanup archives resolved anomalies and drops them from the active set.
func (a *Agent) cleanup(ctx context.Context) error {
	resolved := a.active.EvictIf(func(_ string, an Anomaly) bool { return an.Status == StatusResolved })
	var errs []error
	for id, an := range resolved {
		data, err := core.ToPayload(an)
		if err == nil {
			err = a.opts.Archive.Put(ctx, core.Record{
				Collection: historyCollection,
				Key:        id,
				Data:       data,
				ArchivedAt: time.Now().UTC(),
			})
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("archive anomaly %s: %w", id, err))
		}
	}
	if len(resolved) > 0 {
		a.logger.Info("Archived resolved anomalies", "count", len(resolved))
	}
	return errors.Join(errs...)
}

// Active returns the active anomalies ordered by detection time.
func (a *Agent) Active() []Anomaly {
	snapshot := a.active.Snapshot()
	out := make([]Anomaly, 0, len(snapshot))
	for _, an := range snapshot {
		out = append(out, an)
	}
	slices.SortFunc(out, func(x, y Anomaly) int {
		if c := x.DetectedAt.Compare(y.DetectedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}

// Anomaly returns the active anomaly with the given id.
func (a *Agent) Anomaly(id string) (Anomaly, bool) {
	return a.active.Get(id)
}

// LastMetrics returns the readings of the last health check.
func (a *Agent) LastMetrics() Metrics {
	return Metrics(a.metrics.Snapshot())
}

func runtimeMetrics(context.Context) (Metrics, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	var mem float64
	if ms.Sys > 0 {
		mem = float64(ms.HeapInuse) / float64(ms.Sys) * 100
	}
	return Metrics{
		"memory_usage": mem,
		"goroutines":   float64(runtime.NumGoroutine()),
	}, nil
}

func sortedKeys(m Metrics) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
