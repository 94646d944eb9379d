package inventory

import "time"

// EventType enumerates the events the inventory agent consumes.
type EventType string

const (
	EventOrderCreated          EventType = "order_created"
	EventInventoryLow          EventType = "inventory_low"
	EventSupplyChainDisruption EventType = "supply_chain_disruption"
)

// EventTypes lists every handled event.
var EventTypes = []EventType{EventOrderCreated, EventInventoryLow, EventSupplyChainDisruption}

// RequestType enumerates the requests the inventory agent answers.
type RequestType string

const (
	RequestCheckAvailability     RequestType = "check_availability"
	RequestPredictDemand         RequestType = "predict_demand"
	RequestOptimizeInventory     RequestType = "optimize_inventory"
	RequestGetReorderSuggestions RequestType = "get_reorder_suggestions"
	RequestUpdateInventory       RequestType = "update_inventory"
)

// RequestTypes lists every answered request.
var RequestTypes = []RequestType{
	RequestCheckAvailability,
	RequestPredictDemand,
	RequestOptimizeInventory,
	RequestGetReorderSuggestions,
	RequestUpdateInventory,
}

// Warehouses are the stocking locations tracked per product.
var Warehouses = []string{"east-coast", "west-coast", "central"}

const (
	// DefaultThreshold is the reorder threshold of catalog products.
	DefaultThreshold = 20
	// FallbackThreshold applies to products without a configured threshold.
	FallbackThreshold = 10

	leadTimeDays      = 7
	safetyStockDays   = 3
	fallbackReorder   = 50
	defaultHorizon    = 7
	maxHorizon        = 365
	reorderHorizon    = 14
	maxSalesPerRecord = 100
)

// Level is the stock of one product.
type Level struct {
	Total       int            `json:"total"`
	Warehouses  map[string]int `json:"warehouses"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Prediction is a demand forecast over a number of days.
type Prediction struct {
	PredictedDemand []float64 `json:"predicted_demand"`
	ConfidenceScore float64   `json:"confidence_score"`
	RiskFactors     []string  `json:"risk_factors"`
	Recommendations []string  `json:"recommendations"`
}

func fallbackPrediction(horizon int) Prediction {
	return Prediction{
		PredictedDemand: make([]float64, horizon),
		ConfidenceScore: 0,
		RiskFactors:     []string{"Prediction error"},
		Recommendations: []string{"Manual review required"},
	}
}

// ReorderSuggestion is a proposed purchase order for one product.
type ReorderSuggestion struct {
	ProductID            string  `json:"product_id"`
	CurrentStock         int     `json:"current_stock"`
	ReorderQuantity      int     `json:"reorder_quantity"`
	EstimatedDailyDemand float64 `json:"estimated_daily_demand,omitempty"`
	LeadTimeDays         int     `json:"lead_time_days,omitempty"`
	SafetyStock          float64 `json:"safety_stock,omitempty"`
	Urgency              string  `json:"urgency"`
}

// Strategy is one supply chain mitigation.
type Strategy struct {
	Strategy    string `json:"strategy"`
	Priority    string `json:"priority"`
	Description string `json:"description,omitempty"`
}

var fallbackStrategies = []Strategy{{Strategy: "Manual intervention required", Priority: "high"}}

// Plan is an inventory optimization plan.
type Plan struct {
	ReorderProducts       []string                  `json:"reorder_products"`
	ReorderQuantities     map[string]int            `json:"reorder_quantities"`
	WarehouseDistribution map[string]map[string]int `json:"warehouse_distribution"`
	CostSavings           float64                   `json:"cost_savings"`
	RiskAssessment        string                    `json:"risk_assessment"`
}

// Disruption is an active supply chain problem.
type Disruption struct {
	Type              string    `json:"disruption_type"`
	AffectedProducts  []string  `json:"affected_products"`
	EstimatedDuration string    `json:"estimated_duration"`
	StartedAt         time.Time `json:"start_time"`
}

type sale struct {
	quantity int
	at       time.Time
}
