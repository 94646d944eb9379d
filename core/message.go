package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a Message.
type Kind string

const (
	// KindEvent notifies the recipient that something happened. No reply is expected.
	KindEvent Kind = "event"
	// KindRequest asks the recipient to do something. A reply is sent when the
	// request carries a correlation id and the handler produces a result.
	KindRequest Kind = "request"
	// KindResponse answers a request and always carries the request's correlation id.
	KindResponse Kind = "response"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindRequest, KindResponse:
		return true
	default:
		return false
	}
}

// ErrInvalidMessage is returned by Validate for envelopes that cannot be delivered.
var ErrInvalidMessage = errors.New("invalid message")

// Message is the unit of inter-agent communication. After construction it
// should be treated as immutable; Reply derives a new envelope rather than
// mutating the request.
//
// The subtype of a message (which event or which request) travels inside the
// payload under the "type" key, see Payload.Type.
type Message struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Kind          Kind      `json:"kind"`
	Payload       Payload   `json:"payload"`
	CreatedAt     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewID returns a new globally unique identifier.
func NewID() string { return uuid.NewString() }

// NewMessage creates an envelope with a fresh id and the current UTC time.
func NewMessage(sender, recipient string, kind Kind, payload Payload) Message {
	if payload == nil {
		payload = Payload{}
	}
	return Message{
		ID:        NewID(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewEvent is shorthand for an event message whose payload type is set to eventType.
func NewEvent(sender, recipient, eventType string, payload Payload) Message {
	return NewMessage(sender, recipient, KindEvent, payload.WithType(eventType))
}

// NewRequest creates a request that asks for a reply. It carries a freshly
// generated correlation id.
func NewRequest(sender, recipient, requestType string, payload Payload) Message {
	m := NewMessage(sender, recipient, KindRequest, payload.WithType(requestType))
	m.CorrelationID = NewID()
	return m
}

// Type returns the message subtype carried in the payload.
func (m Message) Type() string { return m.Payload.Type() }

// ExpectsReply reports whether the runtime must answer this message.
func (m Message) ExpectsReply() bool {
	return m.Kind == KindRequest && m.CorrelationID != ""
}

// Reply builds the response envelope for m carrying r. The response goes back
// to m's sender and keeps m's correlation id.
func (m Message) Reply(from string, r *Result) Message {
	resp := NewMessage(from, m.Sender, KindResponse, r.Payload())
	resp.CorrelationID = m.CorrelationID
	return resp
}

// Validate checks the structural invariants of the envelope.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.Recipient == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	if m.Kind == KindResponse && m.CorrelationID == "" {
		return fmt.Errorf("%w: response without correlation id", ErrInvalidMessage)
	}
	return nil
}
