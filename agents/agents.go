// Package agents holds what the specialized agents share: their well-known
// ids, the orchestrator's role names and the LLM consultation helper.
// Each agent lives in its own subpackage.
package agents

import (
	"context"
	"errors"
	"maps"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
	"github.com/hupe1980/aegis/model"
)

// Agent ids.
const (
	OrchestratorID    = "orchestrator"
	PersonalizationID = "personalization-agent"
	InventoryID       = "inventory-agent"
	CustomerCommsID   = "customer-comms-agent"
	AnomalyResolverID = "anomaly-resolver-agent"
)

// Logical roles the orchestrator routes to.
const (
	RolePersonalization = "personalization"
	RoleInventory       = "inventory"
	RoleCustomerComms   = "customer_comms"
	RoleAnomalyResolver = "anomaly_resolver"
)

var defaultDirectory = map[string]string{
	RolePersonalization: PersonalizationID,
	RoleInventory:       InventoryID,
	RoleCustomerComms:   CustomerCommsID,
	RoleAnomalyResolver: AnomalyResolverID,
}

// DefaultDirectory returns a fresh copy of the role to agent id mapping.
func DefaultDirectory() map[string]string {
	return maps.Clone(defaultDirectory)
}

// ToMaps converts structs to the JSON-shaped maps carried in payloads.
// Items that cannot be encoded are skipped.
func ToMaps[T any](items []T) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		p, err := core.ToPayload(it)
		if err != nil {
			continue
		}
		out = append(out, map[string]any(p))
	}
	return out
}

// ToMap converts a struct to a JSON-shaped map, or nil.
func ToMap(v any) map[string]any {
	p, err := core.ToPayload(v)
	if err != nil {
		return nil
	}
	return map[string]any(p)
}

// ErrNoModel is returned by Consult when no LLM is configured.
var ErrNoModel = errors.New("no model configured")

// Consult asks m for a JSON answer and decodes it into out. Any failure is
// logged under op and returned so the caller can substitute its fallback.
func Consult(ctx context.Context, m model.Model, logger logging.Logger, op, prompt string, out any) error {
	if m == nil {
		return ErrNoModel
	}
	if err := model.GenerateJSON(ctx, m, prompt, out); err != nil {
		if logger != nil {
			logger.Warn("LLM consultation failed, using fallback", "operation", op, "error", err.Error())
		}
		return err
	}
	return nil
}
