package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/aegis/core"
	"golang.org/x/sync/errgroup"
)

// Delivery is one outbound message of a fan-out.
type Delivery struct {
	// Role is the logical name the recipient was resolved from (for reporting).
	Role      string
	Recipient string
	Kind      core.Kind
	Payload   core.Payload
}

// DeliveryResult reports the outcome of one Delivery.
type DeliveryResult struct {
	Role      string
	Recipient string
	Err       error
}

// FanOutReport aggregates the results of a fan-out in input order.
type FanOutReport struct {
	Results []DeliveryResult
}

// Failed returns the deliveries that returned an error.
func (r FanOutReport) Failed() []DeliveryResult {
	var out []DeliveryResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err summarizes the failures, or returns nil when every send succeeded.
func (r FanOutReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("fan-out: %d of %d deliveries failed, first to %s: %w",
		len(failed), len(r.Results), failed[0].Recipient, failed[0].Err)
}

// FanOut sends all deliveries concurrently and waits for every send to
// return. It gathers rather than fails fast: an error on one delivery never
// cancels or skips the others.
//
// Each goroutine records its own result and reports nil to the group, so
// the shared context is never cancelled by a sibling's failure.
func (b *Base) FanOut(ctx context.Context, deliveries ...Delivery) FanOutReport {
	report := FanOutReport{Results: make([]DeliveryResult, len(deliveries))}

	var g errgroup.Group
	for i, d := range deliveries {
		g.Go(func() error {
			err := b.Send(ctx, d.Recipient, d.Kind, d.Payload, "")
			report.Results[i] = DeliveryResult{Role: d.Role, Recipient: d.Recipient, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if failed := report.Failed(); len(failed) > 0 {
		b.logger.Warn("Fan-out completed with failures", "total", len(deliveries), "failed", len(failed))
	}
	return report
}
