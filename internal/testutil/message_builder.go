package testutil

import (
	"time"

	"github.com/hupe1980/aegis/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewEvent("order_created").To("orchestrator").With("order_id", "O1").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	id            string
	sender        string
	recipient     string
	kind          core.Kind
	payload       core.Payload
	correlationID string
	at            time.Time
}

// NewEvent starts an event of the given type from sender "test".
func NewEvent(eventType string) *MessageBuilder {
	return &MessageBuilder{sender: "test", kind: core.KindEvent, payload: core.Payload{core.TypeKey: eventType}}
}

// NewRequest starts a request of the given type that expects a reply.
func NewRequest(requestType string) *MessageBuilder {
	return &MessageBuilder{
		sender:        "test",
		kind:          core.KindRequest,
		payload:       core.Payload{core.TypeKey: requestType},
		correlationID: core.NewID(),
	}
}

// From sets the sender (chainable).
func (b *MessageBuilder) From(id string) *MessageBuilder { b.sender = id; return b }

// To sets the recipient (chainable).
func (b *MessageBuilder) To(id string) *MessageBuilder { b.recipient = id; return b }

// ID overrides the generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// At overrides the creation time (chainable).
func (b *MessageBuilder) At(t time.Time) *MessageBuilder { b.at = t; return b }

// Correlation sets the correlation id; empty makes a request fire-and-forget (chainable).
func (b *MessageBuilder) Correlation(id string) *MessageBuilder { b.correlationID = id; return b }

// NoReply clears the correlation id (chainable).
func (b *MessageBuilder) NoReply() *MessageBuilder { b.correlationID = ""; return b }

// With sets one payload key (chainable).
func (b *MessageBuilder) With(key string, value any) *MessageBuilder {
	b.payload[key] = value
	return b
}

// Payload merges p into the payload (chainable).
func (b *MessageBuilder) Payload(p core.Payload) *MessageBuilder {
	for k, v := range p {
		b.payload[k] = v
	}
	return b
}

// Build materializes the message.
func (b *MessageBuilder) Build() core.Message {
	msg := core.NewMessage(b.sender, b.recipient, b.kind, b.payload.Clone())
	if b.id != "" {
		msg.ID = b.id
	}
	if !b.at.IsZero() {
		msg.CreatedAt = b.at
	}
	msg.CorrelationID = b.correlationID
	return msg
}
