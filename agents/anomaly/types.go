package anomaly

import (
	"maps"
	"slices"
	"time"
)

// EventType enumerates the anomaly events the resolver consumes. Each event
// type is also the anomaly type it creates.
type EventType string

const (
	EventPaymentFailed          EventType = "payment_failed"
	EventInventoryLow           EventType = "inventory_low"
	EventShippingDelayed        EventType = "shipping_delayed"
	EventSystemError            EventType = "system_error"
	EventPerformanceDegradation EventType = "performance_degradation"
	EventSecurityAlert          EventType = "security_alert"
)

// EventTypes lists every handled event.
var EventTypes = []EventType{
	EventPaymentFailed,
	EventInventoryLow,
	EventShippingDelayed,
	EventSystemError,
	EventPerformanceDegradation,
	EventSecurityAlert,
}

// RequestType enumerates the requests the resolver answers.
type RequestType string

const (
	RequestDetectAnomalies      RequestType = "detect_anomalies"
	RequestResolveAnomaly       RequestType = "resolve_anomaly"
	RequestGetAnomalyStatus     RequestType = "get_anomaly_status"
	RequestGetResolutionHistory RequestType = "get_resolution_history"
)

// RequestTypes lists every answered request.
var RequestTypes = []RequestType{
	RequestDetectAnomalies,
	RequestResolveAnomaly,
	RequestGetAnomalyStatus,
	RequestGetResolutionHistory,
}

// Severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// kind describes how events of one type become anomalies.
type kind struct {
	severity string
	// key is the payload field identifying the affected entity
	key string
	// reading is the payload field carrying the measured value, if any
	reading string
	// fields are copied from the event into the anomaly details
	fields []string
	// handled is the status reported for the event
	handled string
	// focus lists what the resolution plan should address
	focus []string
}

var kinds = map[EventType]kind{
	EventPaymentFailed: {
		severity: SeverityHigh,
		key:      "order_id",
		fields:   []string{"order_id", "user_id", "error_reason"},
		handled:  "payment_anomaly_handled",
		focus:    []string{"Immediate actions", "Customer communication", "Technical fixes", "Prevention measures"},
	},
	EventInventoryLow: {
		severity: SeverityMedium,
		key:      "product_id",
		reading:  "current_stock",
		fields:   []string{"product_id", "current_stock", "threshold"},
		handled:  "inventory_anomaly_handled",
		focus:    []string{"Immediate stock actions", "Supplier coordination", "Customer communication", "Prevention measures"},
	},
	EventShippingDelayed: {
		severity: SeverityMedium,
		key:      "order_id",
		fields:   []string{"order_id", "user_id", "delay_reason"},
		handled:  "shipping_anomaly_handled",
		focus:    []string{"Immediate shipping actions", "Customer communication", "Compensation strategy", "Prevention measures"},
	},
	EventSystemError: {
		severity: SeverityCritical,
		key:      "service_name",
		fields:   []string{"service_name", "error_type", "error_message"},
		handled:  "system_error_handled",
		focus:    []string{"Immediate technical actions", "Service recovery steps", "Monitoring and alerting", "Prevention measures"},
	},
	EventPerformanceDegradation: {
		severity: SeverityMedium,
		key:      "metric_name",
		reading:  "current_value",
		fields:   []string{"metric_name", "current_value", "threshold"},
		handled:  "performance_anomaly_handled",
		focus:    []string{"Immediate performance actions", "Resource scaling", "Optimization steps", "Monitoring improvements"},
	},
	EventSecurityAlert: {
		severity: SeverityHigh,
		key:      "alert_type",
		fields:   []string{"alert_type", "user_id", "ip_address"},
		handled:  "security_anomaly_handled",
		focus:    []string{"Immediate security actions", "User account protection", "System hardening", "Investigation steps"},
	},
}

// Strategies lists the manual resolution strategies of each anomaly type,
// the first being the default.
var Strategies = map[EventType][]string{
	EventPaymentFailed:          {"retry_payment", "alternative_payment", "manual_review"},
	EventInventoryLow:           {"reorder_stock", "redistribute_inventory", "substitute_product"},
	EventShippingDelayed:        {"expedite_shipping", "alternative_carrier", "compensate_customer"},
	EventSystemError:            {"restart_service", "failover", "escalate_support"},
	EventPerformanceDegradation: {"scale_resources", "optimize_queries", "cache_data"},
	EventSecurityAlert:          {"block_suspicious_activity", "notify_security_team", "audit_logs"},
}

// Anomaly states.
const (
	StatusActive            = "active"
	StatusResolved          = "resolved"
	StatusPartiallyResolved = "partially_resolved"
	StatusFailed            = "failed"
)

// Attempt states.
const (
	AttemptInProgress     = "in_progress"
	AttemptSuccess        = "success"
	AttemptPartialSuccess = "partial_success"
	AttemptFailed         = "failed"
)

// Anomaly is a detected problem and its resolution attempts.
type Anomaly struct {
	ID         string         `json:"anomaly_id"`
	Type       EventType      `json:"type"`
	Severity   string         `json:"severity"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details"`
	DetectedAt time.Time      `json:"detected_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Attempts   []Attempt      `json:"resolution_attempts"`
}

func cloneAnomaly(an Anomaly) Anomaly {
	an.Details = maps.Clone(an.Details)
	an.Attempts = slices.Clone(an.Attempts)
	return an
}

// Attempt is one execution of a resolution plan.
type Attempt struct {
	ID        string    `json:"attempt_id"`
	Plan      Plan      `json:"plan"`
	StartedAt time.Time `json:"started_at"`
	Status    string    `json:"status"`
}

// Plan is a resolution plan.
type Plan struct {
	Steps              []Step   `json:"resolution_steps"`
	EstimatedTime      string   `json:"estimated_time"`
	RequiredResources  []string `json:"required_resources"`
	SuccessProbability float64  `json:"success_probability"`
}

// Step is one action of a plan. Known types are notify_customer,
// retry_operation, escalate_support and update_inventory.
type Step struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Step types.
const (
	StepNotifyCustomer  = "notify_customer"
	StepRetryOperation  = "retry_operation"
	StepEscalateSupport = "escalate_support"
	StepUpdateInventory = "update_inventory"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func fallbackPlan(t EventType) Plan {
	return Plan{
		Steps: []Step{{
			Type: StepEscalateSupport,
			Data: map[string]any{
				"priority":    SeverityHigh,
				"description": "Manual intervention required for " + string(t),
			},
		}},
		EstimatedTime:      "15-30 minutes",
		RequiredResources:  []string{"support_team"},
		SuccessProbability: 0.6,
	}
}

// Detection is an anomaly found in system metrics.
type Detection struct {
	AnomalyType       string  `json:"anomaly_type"`
	MetricName        string  `json:"metric_name"`
	CurrentValue      float64 `json:"current_value"`
	ExpectedValue     float64 `json:"expected_value"`
	Severity          string  `json:"severity"`
	Description       string  `json:"description"`
	RecommendedAction string  `json:"recommended_action"`
}

// Metrics are system health readings by name.
type Metrics map[string]float64

// Thresholds are the health limits above which a metric is degraded.
var Thresholds = Metrics{
	"response_time":      1000,
	"error_rate":         0.05,
	"cpu_usage":          90,
	"memory_usage":       90,
	"active_connections": 2000,
	"queue_length":       100,
}

const (
	historyCollection = "anomalies"
	defaultHistory    = 10
	defaultRetries    = 3
)
