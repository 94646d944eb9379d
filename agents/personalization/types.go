package personalization

import (
	"maps"
	"slices"
	"time"
)

// EventType enumerates the events the personalization agent consumes.
type EventType string

const (
	EventUserBrowsing EventType = "user_browsing"
	EventCartUpdated  EventType = "cart_updated"
	EventOrderCreated EventType = "order_created"
)

// EventTypes lists every handled event.
var EventTypes = []EventType{EventUserBrowsing, EventCartUpdated, EventOrderCreated}

// RequestType enumerates the requests the personalization agent answers.
type RequestType string

const (
	RequestGetRecommendations   RequestType = "get_recommendations"
	RequestGetDynamicPricing    RequestType = "get_dynamic_pricing"
	RequestGetBundleSuggestions RequestType = "get_bundle_suggestions"
)

// RequestTypes lists every answered request.
var RequestTypes = []RequestType{RequestGetRecommendations, RequestGetDynamicPricing, RequestGetBundleSuggestions}

// Profile is what the agent knows about one user.
type Profile struct {
	BrowsingHistory []string       `json:"browsing_history"`
	PurchaseHistory []string       `json:"purchase_history"`
	Preferences     map[string]any `json:"preferences"`
	LastPage        string         `json:"last_page,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastUpdated     time.Time      `json:"last_updated"`
}

func cloneProfile(p Profile) Profile {
	p.BrowsingHistory = slices.Clone(p.BrowsingHistory)
	p.PurchaseHistory = slices.Clone(p.PurchaseHistory)
	p.Preferences = maps.Clone(p.Preferences)
	return p
}

func newProfile() Profile {
	now := time.Now().UTC()
	return Profile{Preferences: map[string]any{}, CreatedAt: now, LastUpdated: now}
}

// Recommendation is one suggested product.
type Recommendation struct {
	ProductID       string  `json:"product_id"`
	Name            string  `json:"name,omitempty"`
	Reason          string  `json:"reason"`
	ConfidenceScore float64 `json:"confidence_score"`
	Category        string  `json:"category,omitempty"`
}

// Bundle is a suggested product combination.
type Bundle struct {
	BundleName         string   `json:"bundle_name"`
	Products           []string `json:"products"`
	DiscountPercentage float64  `json:"discount_percentage"`
	TotalSavings       float64  `json:"total_savings"`
	Reasoning          string   `json:"reasoning"`
}

// Pricing is a dynamic price suggestion.
type Pricing struct {
	SuggestedPrice     float64 `json:"suggested_price"`
	DiscountPercentage float64 `json:"discount_percentage"`
	Reasoning          string  `json:"reasoning"`
	ConfidenceScore    float64 `json:"confidence_score"`
}

type cachedRecommendations struct {
	items       []Recommendation
	generatedAt time.Time
}

const (
	fallbackReason     = "popular product"
	fallbackConfidence = 0.5
	maxHistory         = 50
)

func fallbackPricing(base float64) Pricing {
	return Pricing{SuggestedPrice: base, DiscountPercentage: 0, Reasoning: "standard pricing"}
}
