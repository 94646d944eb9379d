package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/engine"
	"github.com/hupe1980/aegis/internal/testutil"
	"github.com/hupe1980/aegis/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWithRecorder(rec *testutil.Recorder, optFns ...func(o *Options)) *Agent {
	return New(append([]func(o *Options){func(o *Options) {
		o.Runtime = append(o.Runtime, func(ro *agent.Options) { ro.Transport = rec })
	}}, optFns...)...)
}

func TestOrchestrator_OrderCreatedScenario(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	o := newWithRecorder(rec)

	msg := testutil.NewEvent("order_created").
		To(agents.OrchestratorID).
		With("order_id", "O1").
		With("user_id", "U1").
		With("order_data", map[string]any{
			"items": []any{map[string]any{"product_id": "P1", "quantity": 2}},
		}).
		Build()

	res, err := o.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, core.Payload{"status": "order_processing_initiated", "order_id": "O1"}, res.Data)

	sent := rec.Messages()
	require.Len(t, sent, 2)

	inv := rec.To(agents.InventoryID)
	comms := rec.To(agents.CustomerCommsID)
	require.Len(t, inv, 1)
	require.Len(t, comms, 1)
	for _, m := range sent {
		assert.Equal(t, core.KindEvent, m.Kind)
		assert.Equal(t, "order_created", m.Type())
		items := m.Payload.Map("order_data").Maps("items")
		require.Len(t, items, 1)
		assert.Equal(t, "P1", items[0].String("product_id"))
		assert.Equal(t, 2, items[0].Int("quantity", 0))
	}
	assert.Equal(t, "U1", comms[0].Payload.String("user_id"))
}

func TestOrchestrator_FanOutAttemptsAllDespiteFailure(t *testing.T) {
	rec := testutil.NewRecorder("transport").FailFor(agents.InventoryID, core.ErrMailboxFull)
	o := newWithRecorder(rec)

	res, err := o.HandleMessage(context.Background(),
		testutil.NewEvent("order_created").With("order_id", "O1").With("order_data", map[string]any{}).Build())
	require.NoError(t, err)
	assert.True(t, res.Success, "handler result ignores delivery failures")
	assert.Equal(t, "order_processing_initiated", res.Status())

	attempts := rec.Attempts()
	assert.Len(t, attempts, 2)
	assert.Len(t, rec.Messages(), 1)
	assert.Len(t, rec.To(agents.CustomerCommsID), 1)
}

func TestOrchestrator_OrderDataLookup(t *testing.T) {
	gw := testutil.NewFakeGateway().On(http.MethodGet, "/orders/O9", map[string]any{
		"order_id": "O9",
		"items":    []any{map[string]any{"product_id": "P3", "quantity": 1}},
	})
	rec := testutil.NewRecorder("transport")
	o := newWithRecorder(rec, func(o *Options) { o.Gateway = gw })

	_, err := o.HandleMessage(context.Background(), testutil.NewEvent("order_created").With("order_id", "O9").Build())
	require.NoError(t, err)
	for _, m := range rec.Messages() {
		assert.Equal(t, "P3", m.Payload.Map("order_data").Maps("items")[0].String("product_id"))
	}

	rec.Reset()
	_, err = o.HandleMessage(context.Background(), testutil.NewEvent("order_created").With("order_id", "missing").Build())
	require.NoError(t, err)
	for _, m := range rec.Messages() {
		assert.Empty(t, m.Payload.Map("order_data"))
	}
}

func TestOrchestrator_EventRouting(t *testing.T) {
	tests := []struct {
		event     EventType
		payload   core.Payload
		recipient string
		sentType  string
		status    string
		key       string
	}{
		{EventCartUpdated, core.Payload{"user_id": "U1", "cart_data": map[string]any{"items": []any{}}}, agents.PersonalizationID, "cart_updated", "cart_analysis_initiated", "user_id"},
		{EventInventoryLow, core.Payload{"product_id": "P1", "current_stock": 3}, agents.AnomalyResolverID, "inventory_low", "inventory_issue_escalated", "product_id"},
		{EventPaymentFailed, core.Payload{"order_id": "O1", "error_reason": "card declined"}, agents.AnomalyResolverID, "payment_failed", "payment_issue_escalated", "order_id"},
		{EventShippingDelayed, core.Payload{"order_id": "O1", "delay_reason": "weather"}, agents.CustomerCommsID, "shipping_delayed", "customer_notified", "order_id"},
		{EventUserBrowsing, core.Payload{"user_id": "U1", "page": "/p/1", "products_viewed": []any{"P1"}}, agents.PersonalizationID, "user_browsing", "browsing_analyzed", "user_id"},
		{EventInventoryCritical, core.Payload{"product_id": "P1", "current_stock": 0}, agents.CustomerCommsID, "inventory_low", "inventory_critical_acknowledged", "product_id"},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			rec := testutil.NewRecorder("transport")
			o := newWithRecorder(rec)

			res, err := o.HandleMessage(context.Background(), testutil.NewEvent(string(tt.event)).Payload(tt.payload).Build())
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.status, res.Status())
			assert.Equal(t, tt.payload.String(tt.key), res.Data.String(tt.key))

			sent := rec.Messages()
			require.Len(t, sent, len(Routes[tt.event]))
			assert.Equal(t, tt.recipient, sent[0].Recipient)
			assert.Equal(t, tt.sentType, sent[0].Type())
		})
	}
}

func TestOrchestrator_DispatchIsTotal(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	o := newWithRecorder(rec, func(o *Options) { o.Model = model.NewMockModel("m") })

	for _, typ := range EventTypes {
		res, err := o.HandleMessage(context.Background(), testutil.NewEvent(string(typ)).Build())
		require.NoError(t, err)
		assert.False(t, res.IsUnrecognized(), "event %s", typ)
		assert.Contains(t, Routes, typ)
	}
	for _, typ := range RequestTypes {
		res, err := o.HandleMessage(context.Background(), testutil.NewRequest(string(typ)).Build())
		require.NoError(t, err)
		assert.False(t, res.IsUnrecognized(), "request %s", typ)
	}

	res, err := o.HandleMessage(context.Background(), testutil.NewEvent("meteor_strike").Build())
	require.NoError(t, err)
	assert.True(t, res.IsUnrecognized())
	assert.False(t, res.Success)

	res, err = o.HandleMessage(context.Background(), testutil.NewRequest("launch").Build())
	require.NoError(t, err)
	assert.True(t, res.IsUnrecognized())
}

func TestOrchestrator_UnknownRole(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	o := newWithRecorder(rec, func(o *Options) {
		o.Directory = map[string]string{agents.RoleInventory: agents.InventoryID}
	})

	res, err := o.HandleMessage(context.Background(), testutil.NewEvent("order_created").With("order_id", "O1").Build())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status())
	assert.Equal(t, agents.RoleCustomerComms, res.Data.String("role"))
	assert.Empty(t, rec.Attempts())
}

func TestOrchestrator_CoordinateInventoryOptimization(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	o := newWithRecorder(rec)

	res, err := o.HandleMessage(context.Background(), testutil.NewRequest("coordinate_agents").
		With("task_type", TaskInventoryOptimization).
		With("parameters", map[string]any{"product_ids": []any{"P1"}}).
		Build())
	require.NoError(t, err)
	assert.Equal(t, "inventory_optimization_initiated", res.Status())

	sent := rec.To(agents.InventoryID)
	require.Len(t, sent, 1)
	assert.Equal(t, core.KindRequest, sent[0].Kind)
	assert.Equal(t, "optimize_inventory", sent[0].Type())
	assert.Empty(t, sent[0].CorrelationID, "fire-and-forget command")

	res, err = o.HandleMessage(context.Background(), testutil.NewRequest("coordinate_agents").With("task_type", "teleport").Build())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status())
}

func fastPoll(o *agent.Options) { o.PollInterval = 10 * time.Millisecond }

func TestOrchestrator_PersonalizedCheckoutPipeline(t *testing.T) {
	var checked []string
	personalization := agent.New(agents.PersonalizationID, core.HandlerFunc(func(_ context.Context, msg core.Message) (*core.Result, error) {
		assert.Equal(t, "get_recommendations", msg.Type())
		assert.Equal(t, "U1", msg.Payload.String("user_id"))
		return core.OK(core.Payload{
			"status":               "recommendations_generated",
			"recommended_products": []string{"P1", "P2"},
		}), nil
	}), fastPoll)
	inventory := agent.New(agents.InventoryID, core.HandlerFunc(func(_ context.Context, msg core.Message) (*core.Result, error) {
		checked = msg.Payload.Strings("product_ids")
		return core.OK(core.Payload{"status": "availability_checked"}), nil
	}), fastPoll)
	o := New(func(o *Options) { o.Runtime = []func(*agent.Options){fastPoll} })

	eng := engine.New()
	require.NoError(t, eng.Register(o, personalization, inventory))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	res, err := eng.Request(context.Background(), agents.OrchestratorID, "coordinate_agents", core.Payload{
		"task_type":  TaskPersonalizedCheckout,
		"parameters": map[string]any{"user_id": "U1"},
	}, 2*time.Second)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "coordination_complete", res.Status())
	assert.Equal(t, "availability_checked", res.Data.Map("inventory").String("status"))
	assert.Equal(t, []string{"P1", "P2"}, checked)
}

func TestOrchestrator_PersonalizedCheckoutFailure(t *testing.T) {
	personalization := agent.New(agents.PersonalizationID, core.HandlerFunc(func(context.Context, core.Message) (*core.Result, error) {
		return core.Fail("catalog unavailable", nil), nil
	}), fastPoll)
	o := New(func(o *Options) { o.Runtime = []func(*agent.Options){fastPoll} })

	eng := engine.New()
	require.NoError(t, eng.Register(o, personalization))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	res, err := eng.Request(context.Background(), agents.OrchestratorID, "coordinate_agents", core.Payload{
		"task_type": TaskPersonalizedCheckout,
	}, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "error", res.Status())
	assert.Contains(t, res.Error, "recommendations")
}

func TestOrchestrator_AnalyzeSituation(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	m := model.NewMockModel("m").AddResponse("Situation: flash sale",
		`Sure! {"analysis":"demand spike","recommended_actions":["raise stock"],"agents_involved":["inventory"],"expected_outcomes":"no stockouts"}`)
	o := newWithRecorder(rec, func(o *Options) { o.Model = m })

	res, err := o.HandleMessage(context.Background(), testutil.NewRequest("analyze_situation").
		With("situation_description", "flash sale").
		With("context_data", map[string]any{"region": "EU"}).
		Build())
	require.NoError(t, err)
	assert.Equal(t, "analysis_complete", res.Status())
	assert.False(t, res.Data.Bool("fallback"))
	assert.Equal(t, "demand spike", res.Data.Map("analysis").String("analysis"))
	assert.Contains(t, m.Calls()[0], `"region":"EU"`)

	m.FailWith(errors.New("quota exceeded"))
	res, err = o.HandleMessage(context.Background(), testutil.NewRequest("analyze_situation").With("situation_description", "outage").Build())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Data.Bool("fallback"))
	analysis := res.Data.Map("analysis")
	assert.NotEmpty(t, analysis.String("analysis"))
	assert.NotEmpty(t, analysis.Strings("recommended_actions"))
}

func TestOrchestrator_Directory(t *testing.T) {
	o := New(func(o *Options) {
		o.Liveness = func() map[string]bool { return map[string]bool{agents.InventoryID: true} }
	})

	res, err := o.HandleMessage(context.Background(), testutil.NewRequest("get_agent_directory").Build())
	require.NoError(t, err)
	assert.Equal(t, agents.InventoryID, res.Data.Map("agents").String(agents.RoleInventory))
	assert.True(t, res.Data.Map("liveness").Bool(agents.InventoryID))

	assert.Contains(t, o.Tasks(), "monitor")
	assert.NoError(t, o.Trigger("monitor"))
}
