package customercomms

import "time"

// EventType enumerates the events the customer comms agent consumes.
type EventType string

const (
	EventOrderCreated    EventType = "order_created"
	EventShippingDelayed EventType = "shipping_delayed"
	EventPaymentFailed   EventType = "payment_failed"
	EventInventoryLow    EventType = "inventory_low"
)

// EventTypes lists every handled event.
var EventTypes = []EventType{EventOrderCreated, EventShippingDelayed, EventPaymentFailed, EventInventoryLow}

// RequestType enumerates the requests the customer comms agent answers.
type RequestType string

const (
	RequestSendMessage             RequestType = "send_message"
	RequestGetCommunicationHistory RequestType = "get_communication_history"
	RequestUpdateUserPreferences   RequestType = "update_user_preferences"
)

// RequestTypes lists every answered request.
var RequestTypes = []RequestType{RequestSendMessage, RequestGetCommunicationHistory, RequestUpdateUserPreferences}

// Message kinds recorded in the communication history.
const (
	KindOrderConfirmation = "order_confirmation"
	KindShippingUpdate    = "shipping_update"
	KindDelayNotification = "delay_notification"
	KindPaymentFailed     = "payment_failed"
	KindIssueResolution   = "issue_resolution"
	KindInventoryAlert    = "inventory_alert"
)

// Template is the canned subject and body of a message kind. Subjects are
// text/template strings rendered with the message context.
type Template struct {
	Subject string
	Body    string
}

// Templates are used when the model cannot write a message.
var Templates = map[string]Template{
	KindOrderConfirmation: {
		Subject: "Order Confirmation - {{.order_id}}",
		Body:    "Thank you for your order! We're excited to get your items ready for you.",
	},
	KindShippingUpdate: {
		Subject: "Your Order is on the Way!",
		Body:    "Great news! Your order has been shipped and is on its way to you.",
	},
	KindDelayNotification: {
		Subject: "Update on Your Order",
		Body:    "We wanted to update you on your order status.",
	},
	KindPaymentFailed: {
		Subject: "Payment Issue - Let's Get This Sorted",
		Body:    "We encountered an issue with your payment, but don't worry. We're here to help!",
	},
	KindInventoryAlert: {
		Subject: "Popular Item - Limited Stock",
		Body:    "This popular item is running low on stock. Don't miss out!",
	},
}

var genericTemplate = Template{Subject: "Important Update", Body: "We have an important update for you."}

// Message is a generated customer message.
type Message struct {
	Subject              string `json:"subject"`
	Body                 string `json:"body"`
	CallToAction         string `json:"call_to_action,omitempty"`
	PersonalizationNotes string `json:"personalization_notes,omitempty"`
}

// Delivery states of a communication.
const (
	StatusSent    = "sent"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Communication is one message sent, or being sent, to a user.
type Communication struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	MessageType string         `json:"message_type"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Context     map[string]any `json:"context,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	Timestamp   time.Time      `json:"timestamp"`
}

const (
	historyCollection = "communications"
	defaultHistory    = 10
	maxAttempts       = 3
	// watchlistKey is the preference listing product ids a user wants stock alerts for.
	watchlistKey = "watchlist"
)
