package agent

import (
	"context"
	"testing"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOut_AttemptsEveryDeliveryDespiteFailures(t *testing.T) {
	rec := testutil.NewRecorder("rec").
		FailFor("b", core.ErrMailboxFull).
		FailFor("d", core.ErrUnknownRecipient)

	b := New("orchestrator", echo(), func(o *Options) { o.Transport = rec })

	deliveries := []Delivery{
		{Role: "ra", Recipient: "a", Kind: core.KindEvent, Payload: core.Payload{"type": "x"}},
		{Role: "rb", Recipient: "b", Kind: core.KindEvent, Payload: core.Payload{"type": "x"}},
		{Role: "rc", Recipient: "c", Kind: core.KindEvent, Payload: core.Payload{"type": "x"}},
		{Role: "rd", Recipient: "d", Kind: core.KindEvent, Payload: core.Payload{"type": "x"}},
	}
	report := b.FanOut(context.Background(), deliveries...)

	assert.Len(t, rec.Attempts(), 4, "every send attempted")
	require.Len(t, report.Results, 4)
	for i, res := range report.Results {
		assert.Equal(t, deliveries[i].Recipient, res.Recipient, "results keep input order")
		assert.Equal(t, deliveries[i].Role, res.Role)
	}

	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.ErrorIs(t, report.Results[1].Err, core.ErrMailboxFull)
	assert.ErrorIs(t, report.Results[3].Err, core.ErrUnknownRecipient)
	assert.ErrorContains(t, report.Err(), "2 of 4")

	assert.Len(t, rec.Messages(), 2)
}

func TestFanOut_AllSucceed(t *testing.T) {
	rec := testutil.NewRecorder("rec")
	b := New("orchestrator", echo(), func(o *Options) { o.Transport = rec })

	report := b.FanOut(context.Background(),
		Delivery{Recipient: "a", Kind: core.KindEvent},
		Delivery{Recipient: "b", Kind: core.KindEvent},
	)
	assert.NoError(t, report.Err())
	assert.Empty(t, report.Failed())
	for _, m := range rec.Messages() {
		assert.Equal(t, "orchestrator", m.Sender)
		assert.Empty(t, m.CorrelationID)
	}
}

func TestFanOut_Empty(t *testing.T) {
	b := New("orchestrator", echo())
	report := b.FanOut(context.Background())
	assert.Empty(t, report.Results)
	assert.NoError(t, report.Err())
}
