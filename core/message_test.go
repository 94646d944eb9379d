package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Defaults(t *testing.T) {
	m := NewMessage("a", "b", KindEvent, nil)
	if m.ID == "" || m.CreatedAt.IsZero() || m.Payload == nil {
		t.Fatalf("NewMessage did not initialize fields: %+v", m)
	}
	assert.Empty(t, m.CorrelationID)
	assert.False(t, m.ExpectsReply())
	assert.NoError(t, m.Validate())
}

func TestNewRequest_CarriesCorrelation(t *testing.T) {
	in := Payload{"user_id": "U1"}
	req := NewRequest("orchestrator", "personalization-agent", "get_recommendations", in)

	assert.Equal(t, KindRequest, req.Kind)
	assert.NotEmpty(t, req.CorrelationID)
	assert.True(t, req.ExpectsReply())
	assert.Equal(t, "get_recommendations", req.Type())
	_, leaked := in[TypeKey]
	assert.False(t, leaked, "WithType must not mutate the caller's payload")
}

func TestMessage_Reply(t *testing.T) {
	req := NewRequest("a", "b", "ping", nil)
	resp := req.Reply("b", OK(Payload{"status": "pong"}))

	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, "b", resp.Sender)
	assert.Equal(t, "a", resp.Recipient)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)
	assert.NotEqual(t, req.ID, resp.ID)

	r := ResultFromPayload(resp.Payload)
	assert.True(t, r.Success)
	assert.Equal(t, "pong", r.Status())
}

func TestMessage_Validate(t *testing.T) {
	cases := map[string]Message{
		"missing id":        {Recipient: "x", Kind: KindEvent},
		"missing recipient": {ID: "1", Kind: KindEvent},
		"bad kind":          {ID: "1", Recipient: "x", Kind: "gossip"},
		"orphan response":   {ID: "1", Recipient: "x", Kind: KindResponse},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			err := m.Validate()
			assert.True(t, errors.Is(err, ErrInvalidMessage), "got %v", err)
		})
	}
}

func TestMessage_JSONWireShape(t *testing.T) {
	req := NewRequest("a", "b", "get_anomaly_status", Payload{"anomaly_id": "X"})
	b, err := json.Marshal(req)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	for _, k := range []string{"id", "sender", "recipient", "kind", "payload", "timestamp", "correlation_id"} {
		assert.Contains(t, wire, k)
	}

	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, req.CorrelationID, back.CorrelationID)
	assert.Equal(t, "X", back.Payload.String("anomaly_id"))
	assert.Equal(t, "get_anomaly_status", back.Type())
}
