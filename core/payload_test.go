package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_TypeAliases(t *testing.T) {
	assert.Equal(t, "order_created", Payload{"type": "order_created"}.Type())
	assert.Equal(t, "order_created", Payload{"event_type": "order_created"}.Type())
	assert.Equal(t, "check_availability", Payload{"request_type": "check_availability"}.Type())
	assert.Equal(t, "", Payload{}.Type())
}

func TestPayload_NumericAccessorsSurviveJSON(t *testing.T) {
	native := Payload{"qty": 3, "price": 9.5, "limit": "4"}
	assert.Equal(t, 3, native.Int("qty", 0))
	assert.Equal(t, 9.5, native.Float("price", 0))
	assert.Equal(t, 4, native.Int("limit", 0))
	assert.Equal(t, 7, native.Int("missing", 7))

	b, err := json.Marshal(native)
	require.NoError(t, err)
	var decoded Payload
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, 3, decoded.Int("qty", 0))
	assert.Equal(t, "3", decoded.String("qty"))
}

func TestPayload_NestedAccessors(t *testing.T) {
	p := Payload{
		"order_data": map[string]any{
			"items": []any{
				map[string]any{"product_id": "P1", "quantity": 2.0},
				"junk",
			},
		},
		"product_ids": []string{"P1", "", "P2"},
	}
	items := p.Map("order_data").Maps("items")
	require.Len(t, items, 1)
	assert.Equal(t, "P1", items[0].String("product_id"))
	assert.Equal(t, 2, items[0].Int("quantity", 0))
	assert.Equal(t, []string{"P1", "P2"}, p.Strings("product_ids"))
	assert.Nil(t, p.Map("missing"))
}

func TestPayload_DecodeAndToPayload(t *testing.T) {
	type item struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	p, err := ToPayload(item{ProductID: "P9", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, "P9", p.String("product_id"))

	var out item
	require.NoError(t, p.Decode(&out))
	assert.Equal(t, 4, out.Quantity)
}

func TestResult_Unrecognized(t *testing.T) {
	r := Unrecognized(KindEvent, "teleport")
	assert.False(t, r.Success)
	assert.True(t, r.IsUnrecognized())
	assert.Contains(t, r.Error, "teleport")
	assert.Equal(t, "teleport", r.Data.String("type"))
	assert.False(t, OK(Payload{"status": "ok"}).IsUnrecognized())
}
