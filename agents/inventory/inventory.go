// Package inventory implements the stock keeping agent: per-warehouse levels,
// low-stock alerts, demand forecasts and reorder suggestions.
package inventory

import (
	"context"
	"hash/fnv"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/gateway"
	"github.com/hupe1980/aegis/internal/util"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
	"github.com/hupe1980/aegis/store"
)

// Options configures the inventory agent.
type Options struct {
	Model   model.Model
	Gateway core.Gateway
	// Stock seeds product totals, bypassing the catalog bootstrap for those ids.
	Stock               map[string]int
	Threshold           int
	MonitorInterval     time.Duration
	DemandInterval      time.Duration
	SupplyChainInterval time.Duration
	// DisruptionTTL is how long a disruption stays active.
	DisruptionTTL time.Duration
	Logger        logging.Logger
	Runtime       []func(o *agent.Options)
}

type lowStockRecord struct {
	stock       int
	suggestions []ReorderSuggestion
}

// Agent is the inventory agent.
type Agent struct {
	*agent.Base

	opts       Options
	logger     logging.Logger
	storefront *gateway.Storefront

	levels      *store.Table[string, Level]
	thresholds  *store.Table[string, int]
	predictions *store.Table[string, Prediction]
	disruptions *store.Table[string, Disruption]
	sales       *store.Table[string, []sale]
	// alerts remembers the stock level of the last inventory_low sent per product
	alerts *store.Table[string, int]
	// handled remembers the last inventory_low event processed per product
	handled *store.Table[string, lowStockRecord]
}

// New creates a stopped inventory agent.
func New(optFns ...func(o *Options)) *Agent {
	opts := Options{
		Threshold:           DefaultThreshold,
		MonitorInterval:     time.Minute,
		DemandInterval:      time.Hour,
		SupplyChainInterval: 30 * time.Minute,
		DisruptionTTL:       72 * time.Hour,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	a := &Agent{
		opts:        opts,
		levels:      store.NewTable[string, Level](store.WithClone(cloneLevel)),
		thresholds:  store.NewTable[string, int](),
		predictions: store.NewTable[string, Prediction](),
		disruptions: store.NewTable[string, Disruption](),
		sales:       store.NewTable[string, []sale](store.WithClone(slices.Clone[[]sale])),
		alerts:      store.NewTable[string, int](),
		handled:     store.NewTable[string, lowStockRecord](),
	}
	runtime := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Name = "inventory"
		o.Logger = opts.Logger
	}}, opts.Runtime...)
	a.Base = agent.New(agents.InventoryID, a, runtime...)
	a.logger = a.Base.Logger()

	if opts.Gateway != nil {
		a.storefront = gateway.NewStorefront(opts.Gateway, agents.InventoryID)
	}
	for id, total := range opts.Stock {
		a.seed(id, total)
	}

	schedule := []struct {
		name  string
		every time.Duration
		fn    func(context.Context) error
	}{
		{"level_monitor", opts.MonitorInterval, a.monitorLevels},
		{"demand_refresh", opts.DemandInterval, a.refreshPredictions},
		{"supply_chain", opts.SupplyChainInterval, a.checkSupplyChain},
	}
	for _, s := range schedule {
		if err := a.Every(s.name, s.every, s.fn); err != nil {
			a.logger.Error("Cannot schedule task", "task", s.name, "error", err.Error())
		}
	}
	return a
}

// Initialize loads catalog products and seeds their stock levels.
func (a *Agent) Initialize(ctx context.Context) error {
	if a.storefront == nil {
		return nil
	}
	products, err := a.storefront.Products(ctx, "")
	if err != nil {
		a.logger.Error("Cannot load catalog for inventory bootstrap", "error", err.Error())
		return nil
	}
	for _, p := range products {
		if p.ID == "" {
			continue
		}
		if _, ok := a.levels.Get(p.ID); !ok {
			a.seed(p.ID, seedTotal(p.ID))
		}
	}
	a.logger.Info("Loaded inventory levels", "products", a.levels.Len())
	return nil
}

func (a *Agent) seed(productID string, total int) {
	a.levels.Upsert(productID, Level{
		Total:       total,
		Warehouses:  seedWarehouses(productID),
		LastUpdated: time.Now().UTC(),
	})
	a.thresholds.Upsert(productID, a.opts.Threshold)
}

// seedTotal derives a stable stock level in [50, 200) from the product id.
func seedTotal(productID string) int {
	return 50 + int(hashOf(productID)%150)
}

func seedWarehouses(productID string) map[string]int {
	h := hashOf(productID)
	out := make(map[string]int, len(Warehouses))
	for i, w := range Warehouses {
		out[w] = 10 + int((h>>(8*i))%40)
	}
	return out
}

func hashOf(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Level returns the stock record of productID.
func (a *Agent) Level(productID string) (Level, bool) {
	return a.levels.Get(productID)
}

func (a *Agent) threshold(productID string) int {
	if t, ok := a.thresholds.Get(productID); ok {
		return t
	}
	return FallbackThreshold
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
	switch typ := EventType(p.Type()); typ {
	case EventOrderCreated:
		return a.orderCreated(ctx, p), nil
	case EventInventoryLow:
		return a.inventoryLow(ctx, p), nil
	case EventSupplyChainDisruption:
		return a.supplyChainDisruption(ctx, p), nil
	default:
		return core.Unrecognized(core.KindEvent, string(typ)), nil
	}
}

func (a *Agent) handleRequest(ctx context.Context, p core.Payload) (*core.Result, error) {
	switch typ := RequestType(p.Type()); typ {
	case RequestCheckAvailability:
		availability := make(map[string]any)
		for _, id := range p.Strings("product_ids") {
			availability[id] = a.availability(id)
		}
		return core.OK(core.Payload{"status": "availability_checked", "availability": availability}), nil
	case RequestPredictDemand:
		return a.predictDemand(ctx, p), nil
	case RequestOptimizeInventory:
		return a.optimize(ctx, p), nil
	case RequestGetReorderSuggestions:
		var suggestions []ReorderSuggestion
		for _, id := range a.levels.Keys() {
			lvl, _ := a.levels.Get(id)
			if lvl.Total <= a.threshold(id) {
				suggestions = append(suggestions, a.reorderSuggestion(ctx, id, lvl.Total))
			}
		}
		return core.OK(core.Payload{
			"status":      "reorder_suggestions_generated",
			"suggestions": agents.ToMaps(suggestions),
		}), nil
	case RequestUpdateInventory:
		return a.updateInventory(ctx, p), nil
	default:
		return core.Unrecognized(core.KindRequest, string(typ)), nil
	}
}

// orderCreated decrements stock for every known product of the order and
// alerts the orchestrator for products at or below their threshold.
func (a *Agent) orderCreated(ctx context.Context, p core.Payload) *core.Result {
	orderID := p.String("order_id")
	items := p.Map("order_data").Maps("items")
	a.logger.Info("Processing order for inventory update", "order_id", orderID, "items", len(items))

	alerted := []string{}
	for _, item := range items {
		productID := item.String("product_id")
		if productID == "" {
			continue
		}
		qty := item.Int("quantity", 0)
		current, ok := a.adjust(productID, -qty)
		if !ok {
			a.logger.Warn("Order item for untracked product", "order_id", orderID, "product_id", productID)
			continue
		}
		a.recordSale(productID, qty)
		if current <= a.threshold(productID) && a.alertLow(ctx, productID, current) {
			alerted = append(alerted, productID)
		}
	}

	return core.OK(core.Payload{
		"status":          "inventory_updated",
		"order_id":        orderID,
		"items_processed": len(items),
		"alerts":          alerted,
	})
}

func cloneLevel(l Level) Level {
	l.Warehouses = maps.Clone(l.Warehouses)
	return l
}

// adjust changes the total of a tracked product, never below zero.
func (a *Agent) adjust(productID string, delta int) (int, bool) {
	var before, after int
	err := a.levels.Update(productID, func(l *Level) error {
		before = l.Total
		l.Total = max(0, l.Total+delta)
		l.LastUpdated = time.Now().UTC()
		after = l.Total
		return nil
	})
	if err != nil {
		return 0, false
	}
	a.logger.Info("Updated inventory", "product_id", productID, "from", before, "to", after)
	if after > a.threshold(productID) {
		a.alerts.Delete(productID)
		a.handled.Delete(productID)
	}
	return after, true
}

func (a *Agent) recordSale(productID string, qty int) {
	a.sales.Mutate(productID, func() []sale { return nil }, func(s *[]sale) {
		*s = append(*s, sale{quantity: qty, at: time.Now().UTC()})
		if len(*s) > maxSalesPerRecord {
			*s = append([]sale(nil), (*s)[len(*s)-maxSalesPerRecord:]...)
		}
	})
}

// alertLow notifies the orchestrator once per product and stock level. The
// level is claimed before notifying so the loop and the level monitor never
// both alert; a failed notify releases the claim for the next monitor pass.
func (a *Agent) alertLow(ctx context.Context, productID string, stock int) bool {
	claimed := false
	a.alerts.Mutate(productID, func() int { return -1 }, func(last *int) {
		if *last != stock {
			*last = stock
			claimed = true
		}
	})
	if !claimed {
		return false
	}

	err := a.Notify(ctx, agents.OrchestratorID, "inventory_low", core.Payload{
		"product_id":    productID,
		"current_stock": stock,
		"threshold":     a.threshold(productID),
	})
	if err != nil {
		a.logger.Warn("Low stock alert failed", "product_id", productID, "current_stock", stock, "error", err.Error())
		_ = a.alerts.Update(productID, func(last *int) error {
			if *last == stock {
				*last = -1
			}
			return nil
		})
		return false
	}
	return true
}

// inventoryLow produces reorder suggestions and escalates to the orchestrator.
// A repeated event for the same product and stock level is answered from the
// previous outcome without notifying again.
func (a *Agent) inventoryLow(ctx context.Context, p core.Payload) *core.Result {
	productID := p.String("product_id")
	stock := p.Int("current_stock", -1)
	if stock < 0 {
		lvl, _ := a.levels.Get(productID)
		stock = lvl.Total
	}

	if prev, ok := a.handled.Get(productID); ok && prev.stock == stock {
		a.logger.Debug("Duplicate low inventory event", "product_id", productID, "current_stock", stock)
		return core.OK(core.Payload{
			"status":              "low_inventory_handled",
			"product_id":          productID,
			"reorder_suggestions": agents.ToMaps(prev.suggestions),
			"duplicate":           true,
		})
	}

	a.logger.Warn("Low inventory alert", "product_id", productID, "current_stock", stock)
	suggestions := []ReorderSuggestion{a.reorderSuggestion(ctx, productID, stock)}
	a.handled.Upsert(productID, lowStockRecord{stock: stock, suggestions: suggestions})

	if err := a.Notify(ctx, agents.OrchestratorID, "inventory_critical", core.Payload{
		"product_id":    productID,
		"current_stock": stock,
		"suggestions":   agents.ToMaps(suggestions),
	}); err != nil {
		a.logger.Error("Failed to escalate critical inventory", "product_id", productID, "error", err.Error())
	}

	return core.OK(core.Payload{
		"status":              "low_inventory_handled",
		"product_id":          productID,
		"reorder_suggestions": agents.ToMaps(suggestions),
		"duplicate":           false,
	})
}

func (a *Agent) supplyChainDisruption(ctx context.Context, p core.Payload) *core.Result {
	d := Disruption{
		Type:              p.String("disruption_type"),
		AffectedProducts:  p.Strings("affected_products"),
		EstimatedDuration: p.String("estimated_duration"),
		StartedAt:         time.Now().UTC(),
	}
	a.logger.Warn("Supply chain disruption", "disruption_type", d.Type, "affected", len(d.AffectedProducts))
	a.disruptions.Upsert(d.Type, d)

	strategies := fallbackStrategies
	prompt, err := util.RenderTemplate(mitigationPrompt, map[string]any{
		"type":     d.Type,
		"products": d.AffectedProducts,
		"duration": d.EstimatedDuration,
	})
	if err == nil {
		var out []Strategy
		if agents.Consult(ctx, a.opts.Model, a.logger, "mitigation", prompt, &out) == nil {
			valid := make([]Strategy, 0, len(out))
			for _, s := range out {
				if s.Strategy != "" {
					if s.Priority == "" {
						s.Priority = "medium"
					}
					valid = append(valid, s)
				}
			}
			if len(valid) > 0 {
				strategies = valid
			}
		}
	}

	return core.OK(core.Payload{
		"status":                "disruption_handled",
		"disruption_type":       d.Type,
		"mitigation_strategies": agents.ToMaps(strategies),
	})
}

func (a *Agent) availability(productID string) map[string]any {
	lvl, ok := a.levels.Get(productID)
	warehouses := make(map[string]any, len(Warehouses))
	for _, w := range Warehouses {
		warehouses[w] = lvl.Warehouses[w]
	}
	out := map[string]any{
		"product_id":             productID,
		"total_available":        lvl.Total,
		"warehouse_availability": warehouses,
		"tracked":                ok,
	}
	if ok {
		out["last_updated"] = float64(lvl.LastUpdated.Unix())
	} else {
		out["last_updated"] = float64(0)
	}
	return out
}

func (a *Agent) predictDemand(ctx context.Context, p core.Payload) *core.Result {
	horizon := p.Int("time_horizon", defaultHorizon)
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	horizon = min(horizon, maxHorizon)

	if productID := p.String("product_id"); productID != "" {
		pred, _ := a.forecast(ctx, productID, horizon)
		return core.OK(core.Payload{
			"status":     "demand_predicted",
			"product_id": productID,
			"prediction": agents.ToMap(pred),
		})
	}

	predictions := make(map[string]any)
	for _, id := range a.levels.Keys() {
		pred, _ := a.forecast(ctx, id, horizon)
		predictions[id] = agents.ToMap(pred)
	}
	return core.OK(core.Payload{"status": "demand_predicted", "predictions": predictions})
}

// forecast asks the model for a demand forecast. The second result is false
// when the fallback was used.
func (a *Agent) forecast(ctx context.Context, productID string, horizon int) (Prediction, bool) {
	lvl, _ := a.levels.Get(productID)
	history, _ := a.sales.Get(productID)
	recent := make([]int, 0, 10)
	for _, s := range history[max(0, len(history)-10):] {
		recent = append(recent, s.quantity)
	}

	prompt, err := util.RenderTemplate(demandPrompt, map[string]any{
		"product_id": productID,
		"horizon":    horizon,
		"stock":      lvl.Total,
		"history":    recent,
	})
	if err != nil {
		return fallbackPrediction(horizon), false
	}

	var out Prediction
	if agents.Consult(ctx, a.opts.Model, a.logger, "demand_forecast", prompt, &out) != nil || len(out.PredictedDemand) == 0 {
		return fallbackPrediction(horizon), false
	}
	out.PredictedDemand = fitHorizon(out.PredictedDemand, horizon)
	out.ConfidenceScore = min(max(out.ConfidenceScore, 0), 1)
	a.predictions.Upsert(productID, out)
	return out, true
}

// fitHorizon clamps negative values and pads or truncates to horizon days,
// padding with the mean of the given values.
func fitHorizon(days []float64, horizon int) []float64 {
	var sum float64
	out := make([]float64, 0, horizon)
	for _, d := range days {
		d = max(d, 0)
		sum += d
		if len(out) < horizon {
			out = append(out, d)
		}
	}
	mean := sum / float64(len(days))
	for len(out) < horizon {
		out = append(out, mean)
	}
	return out
}

// reorderSuggestion sizes a purchase order to cover lead time plus safety
// stock at the forecast daily demand.
func (a *Agent) reorderSuggestion(ctx context.Context, productID string, stock int) ReorderSuggestion {
	pred, ok := a.forecast(ctx, productID, reorderHorizon)
	if !ok {
		return ReorderSuggestion{
			ProductID:       productID,
			CurrentStock:    stock,
			ReorderQuantity: fallbackReorder,
			Urgency:         "high",
		}
	}
	return computeReorder(productID, stock, a.threshold(productID), pred.PredictedDemand)
}

func computeReorder(productID string, stock, threshold int, demand []float64) ReorderSuggestion {
	avg := 1.0
	if len(demand) > 0 {
		var sum float64
		for _, d := range demand {
			sum += d
		}
		avg = sum / float64(len(demand))
	}
	safety := avg * safetyStockDays
	qty := int(avg*leadTimeDays + safety - float64(stock))

	urgency := "medium"
	if stock <= threshold {
		urgency = "high"
	}
	return ReorderSuggestion{
		ProductID:            productID,
		CurrentStock:         stock,
		ReorderQuantity:      max(0, qty),
		EstimatedDailyDemand: avg,
		LeadTimeDays:         leadTimeDays,
		SafetyStock:          safety,
		Urgency:              urgency,
	}
}

func (a *Agent) optimize(ctx context.Context, p core.Payload) *core.Result {
	goals := p.Strings("goals")
	if len(goals) == 0 {
		goals = []string{"minimize_costs", "maximize_availability"}
	}

	levels := make(map[string]int)
	thresholds := make(map[string]int)
	for id, lvl := range a.levels.Snapshot() {
		levels[id] = lvl.Total
		thresholds[id] = a.threshold(id)
	}

	plan := a.fallbackPlan(levels, thresholds)
	fallback := true
	prompt, err := util.RenderTemplate(optimizationPrompt, map[string]any{
		"levels":     levels,
		"thresholds": thresholds,
		"goals":      goals,
	})
	if err == nil {
		var out Plan
		if agents.Consult(ctx, a.opts.Model, a.logger, "optimize_inventory", prompt, &out) == nil && out.ReorderProducts != nil {
			plan = out
			fallback = false
		}
	}

	return core.OK(core.Payload{
		"status":            "inventory_optimized",
		"goals":             goals,
		"optimization_plan": agents.ToMap(plan),
		"fallback":          fallback,
	})
}

func (a *Agent) fallbackPlan(levels, thresholds map[string]int) Plan {
	plan := Plan{
		ReorderProducts:       []string{},
		ReorderQuantities:     map[string]int{},
		WarehouseDistribution: map[string]map[string]int{},
		RiskAssessment:        "Manual review required",
	}
	for _, id := range a.levels.Keys() {
		if levels[id] <= thresholds[id] {
			plan.ReorderProducts = append(plan.ReorderProducts, id)
			plan.ReorderQuantities[id] = fallbackReorder
		}
	}
	return plan
}

// updateInventory applies a restock or correction. quantity_change is
// relative; quantity sets an absolute total. Untracked products are created.
func (a *Agent) updateInventory(_ context.Context, p core.Payload) *core.Result {
	productID := p.String("product_id")
	if productID == "" {
		return core.Fail("product_id is required", core.Payload{"status": "error"})
	}

	lvl, tracked := a.levels.Get(productID)
	if !tracked {
		a.levels.Upsert(productID, Level{Warehouses: map[string]int{}, LastUpdated: time.Now().UTC()})
		a.thresholds.Upsert(productID, a.opts.Threshold)
	}

	delta := p.Int("quantity_change", 0)
	if p.Has("quantity") {
		delta = p.Int("quantity", 0) - lvl.Total
	}
	current, _ := a.adjust(productID, delta)

	return core.OK(core.Payload{
		"status":     "inventory_updated",
		"product_id": productID,
		"previous":   lvl.Total,
		"current":    current,
	})
}

func (a *Agent) monitorLevels(ctx context.Context) error {
	for _, id := range a.levels.Keys() {
		lvl, _ := a.levels.Get(id)
		if lvl.Total <= a.threshold(id) {
			a.alertLow(ctx, id, lvl.Total)
		}
	}
	return nil
}

func (a *Agent) refreshPredictions(ctx context.Context) error {
	for _, id := range a.levels.Keys() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.forecast(ctx, id, defaultHorizon)
	}
	return nil
}

func (a *Agent) checkSupplyChain(context.Context) error {
	cutoff := time.Now().Add(-a.opts.DisruptionTTL)
	expired := a.disruptions.EvictIf(func(_ string, d Disruption) bool {
		return d.StartedAt.Before(cutoff)
	})
	for typ := range expired {
		a.logger.Info("Supply chain disruption expired", "disruption_type", typ)
	}
	if n := a.disruptions.Len(); n > 0 {
		a.logger.Warn("Active supply chain disruptions", "count", n)
	}
	return nil
}

// Disruptions returns the active supply chain disruptions.
func (a *Agent) Disruptions() map[string]Disruption {
	return a.disruptions.Snapshot()
}

// Prediction returns the last successful forecast of productID.
func (a *Agent) Prediction(productID string) (Prediction, bool) {
	return a.predictions.Get(productID)
}
