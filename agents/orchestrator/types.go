package orchestrator

import "github.com/hupe1980/aegis/agents"

// EventType enumerates the system events the orchestrator routes.
type EventType string

const (
	EventOrderCreated      EventType = "order_created"
	EventCartUpdated       EventType = "cart_updated"
	EventInventoryLow      EventType = "inventory_low"
	EventPaymentFailed     EventType = "payment_failed"
	EventShippingDelayed   EventType = "shipping_delayed"
	EventUserBrowsing      EventType = "user_browsing"
	EventInventoryCritical EventType = "inventory_critical"
)

// EventTypes lists every event the orchestrator handles.
var EventTypes = []EventType{
	EventOrderCreated,
	EventCartUpdated,
	EventInventoryLow,
	EventPaymentFailed,
	EventShippingDelayed,
	EventUserBrowsing,
	EventInventoryCritical,
}

// RequestType enumerates the requests the orchestrator answers.
type RequestType string

const (
	RequestCoordinateAgents  RequestType = "coordinate_agents"
	RequestAnalyzeSituation  RequestType = "analyze_situation"
	RequestGetAgentDirectory RequestType = "get_agent_directory"
)

// RequestTypes lists every request the orchestrator answers.
var RequestTypes = []RequestType{
	RequestCoordinateAgents,
	RequestAnalyzeSituation,
	RequestGetAgentDirectory,
}

// Coordination task types of coordinate_agents.
const (
	TaskPersonalizedCheckout  = "personalized_checkout"
	TaskInventoryOptimization = "inventory_optimization"
)

// Routes maps each event to the roles it is forwarded to. Multi-role events
// are delivered concurrently.
var Routes = map[EventType][]string{
	EventOrderCreated:      {agents.RoleInventory, agents.RoleCustomerComms},
	EventCartUpdated:       {agents.RolePersonalization},
	EventInventoryLow:      {agents.RoleAnomalyResolver},
	EventPaymentFailed:     {agents.RoleAnomalyResolver},
	EventShippingDelayed:   {agents.RoleCustomerComms},
	EventUserBrowsing:      {agents.RolePersonalization},
	EventInventoryCritical: {agents.RoleCustomerComms},
}

// Analysis is the answer of analyze_situation.
type Analysis struct {
	Analysis           string   `json:"analysis"`
	RecommendedActions []string `json:"recommended_actions"`
	AgentsInvolved     []string `json:"agents_involved"`
	ExpectedOutcomes   string   `json:"expected_outcomes"`
}

func fallbackAnalysis(situation string) Analysis {
	return Analysis{
		Analysis:           "Automated analysis unavailable for: " + situation,
		RecommendedActions: []string{"Escalate to operations team for manual review"},
		AgentsInvolved:     []string{agents.RoleAnomalyResolver},
		ExpectedOutcomes:   "Manual assessment of the situation",
	}
}
