package anomaly

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/aegis/agent"
	"github.com/hupe1980/aegis/agents"
	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/internal/testutil"
	"github.com/hupe1980/aegis/model"
	"github.com/hupe1980/aegis/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWithRecorder(rec *testutil.Recorder, optFns ...func(o *Options)) *Agent {
	return New(append([]func(o *Options){func(o *Options) {
		o.Runtime = append(o.Runtime, func(ro *agent.Options) { ro.Transport = rec })
		o.RetryBackoff = time.Millisecond
	}}, optFns...)...)
}

func TestAnomaly_DispatchIsTotal(t *testing.T) {
	a := newWithRecorder(testutil.NewRecorder("transport"), func(o *Options) { o.Model = model.NewMockModel("m") })
	ctx := context.Background()

	for _, typ := range EventTypes {
		res, err := a.HandleMessage(ctx, testutil.NewEvent(string(typ)).Build())
		require.NoError(t, err)
		assert.False(t, res.IsUnrecognized(), "event %s", typ)
	}
	for _, typ := range RequestTypes {
		res, err := a.HandleMessage(ctx, testutil.NewRequest(string(typ)).Build())
		require.NoError(t, err)
		assert.False(t, res.IsUnrecognized(), "request %s", typ)
	}

	res, err := a.HandleMessage(ctx, testutil.NewEvent("alien_invasion").Build())
	require.NoError(t, err)
	assert.True(t, res.IsUnrecognized())
}

func TestAnomaly_StatusOfUnknownAnomaly(t *testing.T) {
	a := New()

	res, err := a.HandleMessage(context.Background(), testutil.NewRequest("get_anomaly_status").With("anomaly_id", "X").Build())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, core.Payload{"status": "anomaly_not_found", "anomaly_id": "X"}, res.Data)
}

func TestAnomaly_PaymentFailureFallbackPlan(t *testing.T) {
	a := New(func(o *Options) { o.Model = model.NewMockModel("m").FailWith(errors.New("overloaded")) })
	ctx := context.Background()

	res, err := a.HandleMessage(ctx, testutil.NewEvent("payment_failed").
		With("order_id", "O1").With("user_id", "U1").With("error_reason", "card declined").Build())
	require.NoError(t, err)
	assert.Equal(t, "payment_anomaly_handled", res.Status())

	id := res.Data.String("anomaly_id")
	assert.True(t, strings.HasPrefix(id, "payment_failed_O1_"), id)

	result := res.Data.Map("resolution_result")
	assert.Equal(t, "resolution_executed", result.String("status"))
	assert.Equal(t, 1, result.Int("total_steps", 0))
	assert.Equal(t, 1, result.Int("success_count", 0))

	an, ok := a.Anomaly(id)
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, an.Severity)
	assert.Equal(t, StatusResolved, an.Status)
	assert.NotNil(t, an.ResolvedAt)
	require.Len(t, an.Attempts, 1)
	assert.Equal(t, AttemptSuccess, an.Attempts[0].Status)
	assert.Equal(t, fallbackPlan(EventPaymentFailed), an.Attempts[0].Plan)
	assert.Equal(t, "card declined", an.Details["error_reason"])

	status, err := a.HandleMessage(ctx, testutil.NewRequest("get_anomaly_status").With("anomaly_id", id).Build())
	require.NoError(t, err)
	assert.Equal(t, "anomaly_found", status.Status())
	assert.Equal(t, StatusResolved, status.Data.Map("anomaly").String("status"))
}

func TestAnomaly_ModelPlanDelegatesSteps(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	m := model.NewMockModel("m").AddResponse("resolution plan", `{
		"resolution_steps": [
			{"type": "notify_customer", "data": {"message_type": "delay_notification", "content": "Your parcel is late"}},
			{"type": "update_inventory", "data": {"quantity_change": 25}},
			{"type": "summon_wizard"}
		],
		"estimated_time": "10 minutes",
		"success_probability": 3
	}`)
	a := newWithRecorder(rec, func(o *Options) { o.Model = m })

	res, err := a.HandleMessage(context.Background(), testutil.NewEvent("shipping_delayed").
		With("order_id", "O2").With("user_id", "U2").With("product_id", "P2").Build())
	require.NoError(t, err)

	result := res.Data.Map("resolution_result")
	assert.Equal(t, 3, result.Int("total_steps", 0))
	assert.Equal(t, 2, result.Int("success_count", 0))
	steps := result.Maps("results")
	require.Len(t, steps, 3)
	assert.False(t, steps[2].Bool("success"))

	comms := rec.To(agents.CustomerCommsID)
	require.Len(t, comms, 1)
	assert.Equal(t, core.KindRequest, comms[0].Kind)
	assert.Equal(t, "send_message", comms[0].Type())
	assert.Empty(t, comms[0].CorrelationID, "steps are fire-and-forget")
	assert.Equal(t, "U2", comms[0].Payload.String("user_id"), "user comes from the anomaly")
	assert.Equal(t, res.Data.String("anomaly_id"), comms[0].Payload.Map("context").String("anomaly_id"))

	inv := rec.To(agents.InventoryID)
	require.Len(t, inv, 1)
	assert.Equal(t, "update_inventory", inv[0].Type())
	assert.Equal(t, 25, inv[0].Payload.Int("quantity_change", 0))

	an, _ := a.Anomaly(res.Data.String("anomaly_id"))
	assert.Equal(t, StatusPartiallyResolved, an.Status)
	assert.Equal(t, AttemptPartialSuccess, an.Attempts[0].Status)
	assert.Equal(t, 1.0, an.Attempts[0].Plan.SuccessProbability)
}

func TestAnomaly_InventoryLowReusesOpenAnomaly(t *testing.T) {
	m := model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"summon_wizard"}]}`)
	a := New(func(o *Options) { o.Model = m })
	ctx := context.Background()

	low := testutil.NewEvent("inventory_low").With("product_id", "P1").With("current_stock", 3).With("threshold", 20).Build()

	first, err := a.HandleMessage(ctx, low)
	require.NoError(t, err)
	id := first.Data.String("anomaly_id")
	an, _ := a.Anomaly(id)
	assert.Equal(t, StatusFailed, an.Status)

	second, err := a.HandleMessage(ctx, low)
	require.NoError(t, err)
	assert.Equal(t, "inventory_anomaly_handled", second.Status())
	assert.True(t, second.Data.Bool("duplicate"))
	assert.Equal(t, id, second.Data.String("anomaly_id"))
	assert.Len(t, a.Active(), 1)
	assert.Len(t, m.Calls(), 1, "no second plan is generated")
}

func TestAnomaly_InventoryLowReplansAfterFailure(t *testing.T) {
	m := model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"update_inventory"}]}`)
	a := New(func(o *Options) { o.Model = m })
	ctx := context.Background()

	first, err := a.HandleMessage(ctx, testutil.NewEvent("inventory_low").
		With("product_id", "P1").With("current_stock", 5).With("threshold", 20).Build())
	require.NoError(t, err)
	firstID := first.Data.String("anomaly_id")
	an, _ := a.Anomaly(firstID)
	require.Equal(t, StatusFailed, an.Status)

	require.NoError(t, a.Trigger("resolved_cleanup"))

	second, err := a.HandleMessage(ctx, testutil.NewEvent("inventory_low").
		With("product_id", "P1").With("current_stock", 0).With("threshold", 20).Build())
	require.NoError(t, err)
	assert.False(t, second.Data.Bool("duplicate"))
	secondID := second.Data.String("anomaly_id")
	assert.NotEqual(t, firstID, secondID)
	assert.Len(t, m.Calls(), 2, "the new stock level is planned again")

	_, ok := a.Anomaly(firstID)
	assert.False(t, ok, "the failed anomaly is superseded")
	active := a.Active()
	require.Len(t, active, 1)
	assert.Equal(t, secondID, active[0].ID)
	assert.Equal(t, 0, core.Payload(active[0].Details).Int("current_stock", -1))
}

func TestAnomaly_ReadersDuringExecution(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	a := newWithRecorder(rec, func(o *Options) {
		o.Model = model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"notify_customer"},{"type":"summon_wizard"}]}`)
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, an := range a.Active() {
				for _, at := range an.Attempts {
					_ = at.Status
				}
			}
			_, _ = a.HandleMessage(ctx, testutil.NewRequest("get_anomaly_status").Build())
		}
	}()

	for _, order := range []string{"O1", "O2", "O3", "O4", "O5"} {
		_, err := a.HandleMessage(ctx, testutil.NewEvent("payment_failed").With("order_id", order).Build())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	for _, an := range a.Active() {
		require.Len(t, an.Attempts, 1)
		assert.Equal(t, AttemptPartialSuccess, an.Attempts[0].Status)
	}
}

func TestAnomaly_RetryWithBackoff(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		success  bool
		message  string
	}{
		{"first try", 0, true, "Operation retried successfully (attempt 1)"},
		{"third try", 2, true, "Operation retried successfully (attempt 3)"},
		{"gives up", 5, false, "operation payment_processing failed after 3 attempts: gateway down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			a := newWithRecorder(testutil.NewRecorder("transport"), func(o *Options) {
				o.Model = model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"retry_operation","data":{"operation":"payment_processing"}}]}`)
				o.Retry = func(_ context.Context, op string, an Anomaly) error {
					calls++
					assert.Equal(t, "payment_processing", op)
					assert.Equal(t, EventPaymentFailed, an.Type)
					if calls <= tt.failures {
						return errors.New("gateway down")
					}
					return nil
				}
			})

			res, err := a.HandleMessage(context.Background(), testutil.NewEvent("payment_failed").With("order_id", "O1").Build())
			require.NoError(t, err)

			steps := res.Data.Map("resolution_result").Maps("results")
			require.Len(t, steps, 1)
			assert.Equal(t, tt.success, steps[0].Bool("success"))
			assert.Equal(t, tt.message, steps[0].String("message"))
		})
	}
}

func TestAnomaly_ResolveAnomaly(t *testing.T) {
	rec := testutil.NewRecorder("transport")
	a := newWithRecorder(rec, func(o *Options) {
		o.Model = model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"summon_wizard"}]}`)
	})
	ctx := context.Background()

	res, err := a.HandleMessage(ctx, testutil.NewRequest("resolve_anomaly").With("anomaly_id", "nope").Build())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Anomaly nope not found", res.Error)

	opened, err := a.HandleMessage(ctx, testutil.NewEvent("inventory_low").With("product_id", "P7").Build())
	require.NoError(t, err)
	id := opened.Data.String("anomaly_id")

	res, err = a.HandleMessage(ctx, testutil.NewRequest("resolve_anomaly").
		With("anomaly_id", id).With("resolution_strategy", "expedite_shipping").Build())
	require.NoError(t, err)
	assert.False(t, res.Success, "strategy of another anomaly type")

	res, err = a.HandleMessage(ctx, testutil.NewRequest("resolve_anomaly").
		With("anomaly_id", id).With("resolution_strategy", "reorder_stock").Build())
	require.NoError(t, err)
	assert.Equal(t, "anomaly_resolved", res.Status())
	assert.Equal(t, 1, res.Data.Map("resolution_result").Int("success_count", 0))

	inv := rec.To(agents.InventoryID)
	require.Len(t, inv, 1)
	assert.Equal(t, "P7", inv[0].Payload.String("product_id"))
	assert.Equal(t, restockQuantity, inv[0].Payload.Int("quantity_change", 0))

	an, _ := a.Anomaly(id)
	assert.Equal(t, StatusResolved, an.Status)
	assert.Len(t, an.Attempts, 2)
}

func TestAnomaly_CleanupAndHistory(t *testing.T) {
	archive := store.NewInMemoryArchive()
	a := New(func(o *Options) { o.Archive = archive })
	ctx := context.Background()

	var ids []string
	for _, order := range []string{"O1", "O2", "O3"} {
		res, err := a.HandleMessage(ctx, testutil.NewEvent("payment_failed").With("order_id", order).Build())
		require.NoError(t, err)
		ids = append(ids, res.Data.String("anomaly_id"))
		time.Sleep(time.Millisecond)
	}
	require.Len(t, a.Active(), 3)

	require.NoError(t, a.Trigger("resolved_cleanup"))
	assert.Empty(t, a.Active())

	n, err := archive.Count(ctx, historyCollection)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := a.HandleMessage(ctx, testutil.NewRequest("get_resolution_history").With("limit", 2).Build())
	require.NoError(t, err)
	assert.Equal(t, "history_retrieved", res.Status())
	assert.Equal(t, 3, res.Data.Int("total_resolutions", 0))

	resolutions := res.Data.Maps("resolutions")
	require.Len(t, resolutions, 2)
	assert.Equal(t, ids[2], resolutions[0].String("anomaly_id"), "newest resolution first")
	assert.Equal(t, ids[1], resolutions[1].String("anomaly_id"))

	status, err := a.HandleMessage(ctx, testutil.NewRequest("get_anomaly_status").Build())
	require.NoError(t, err)
	assert.Equal(t, "active_anomalies", status.Status())
	assert.Equal(t, 0, status.Data.Int("total_active", -1))
}

func TestAnomaly_HealthMonitor(t *testing.T) {
	a := New(func(o *Options) {
		o.Model = model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"summon_wizard"}]}`)
		o.Metrics = func(context.Context) (Metrics, error) {
			return Metrics{"response_time": 1500, "cpu_usage": 40}, nil
		}
	})

	require.NoError(t, a.Trigger("health_monitor"))
	active := a.Active()
	require.Len(t, active, 1)
	assert.Equal(t, EventPerformanceDegradation, active[0].Type)
	assert.Equal(t, "response_time", active[0].Details["metric_name"])
	assert.Equal(t, 1500.0, a.LastMetrics()["response_time"])

	require.NoError(t, a.Trigger("health_monitor"))
	assert.Len(t, a.Active(), 1, "an open anomaly for the metric is not duplicated")

	worse := New(func(o *Options) {
		o.Model = model.NewMockModel("m").SetDefault(`{"resolution_steps":[{"type":"summon_wizard"}]}`)
		readings := []float64{1500, 2500}
		o.Metrics = func(context.Context) (Metrics, error) {
			v := readings[0]
			if len(readings) > 1 {
				readings = readings[1:]
			}
			return Metrics{"response_time": v}, nil
		}
	})
	require.NoError(t, worse.Trigger("health_monitor"))
	require.NoError(t, worse.Trigger("health_monitor"))
	active = worse.Active()
	require.Len(t, active, 1, "a failed anomaly is replaced on a new reading")
	assert.Equal(t, 2500.0, core.Payload(active[0].Details).Float("current_value", 0))

	failing := New(func(o *Options) {
		o.Metrics = func(context.Context) (Metrics, error) { return nil, errors.New("exporter down") }
	})
	assert.Error(t, failing.Trigger("health_monitor"))
}

func TestAnomaly_DetectAnomalies(t *testing.T) {
	ctx := context.Background()
	metrics := map[string]any{"response_time": 1200.0, "error_rate": 0.01}

	fallback := New(func(o *Options) { o.Model = model.NewMockModel("m").SetDefault("all good!") })
	res, err := fallback.HandleMessage(ctx, testutil.NewRequest("detect_anomalies").With("metrics", metrics).Build())
	require.NoError(t, err)
	assert.Equal(t, "anomalies_detected", res.Status())
	assert.True(t, res.Data.Bool("fallback"))
	detections := res.Data.Maps("anomalies")
	require.Len(t, detections, 1)
	assert.Equal(t, "response_time", detections[0].String("metric_name"))
	assert.Equal(t, 1000.0, detections[0].Float("expected_value", 0))

	m := model.NewMockModel("m").AddResponse("anomaly detection",
		`[{"anomaly_type":"error_spike","metric_name":"error_rate","current_value":0.01,"severity":"low"},{"metric_name":"noise"}]`)
	withModel := New(func(o *Options) { o.Model = m })
	res, err = withModel.HandleMessage(ctx, testutil.NewRequest("detect_anomalies").With("metrics", metrics).Build())
	require.NoError(t, err)
	assert.False(t, res.Data.Bool("fallback"))
	assert.Equal(t, 1, res.Data.Int("total_detected", 0))
	assert.Equal(t, "error_spike", res.Data.Maps("anomalies")[0].String("anomaly_type"))
}
