package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// TypeKey is the payload key holding the message subtype.
const TypeKey = "type"

// legacy subtype keys accepted on input.
var typeAliases = []string{"event_type", "request_type"}

// Payload is the structured body of a Message. Values are whatever survives a
// JSON round trip (strings, float64, bool, []any, map[string]any) or native Go
// values when the message never left the process. The accessors below hide
// that difference.
type Payload map[string]any

// Type returns the subtype of the payload ("order_created", "get_recommendations", ...).
func (p Payload) Type() string {
	if s := p.String(TypeKey); s != "" {
		return s
	}
	for _, k := range typeAliases {
		if s := p.String(k); s != "" {
			return s
		}
	}
	return ""
}

// WithType returns a copy of p with the subtype set.
func (p Payload) WithType(t string) Payload {
	out := p.Clone()
	out[TypeKey] = t
	return out
}

// Clone returns a shallow copy of p. A nil payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+1)
	maps.Copy(out, p)
	return out
}

// Has reports whether key is present and non-nil.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns the value under key as a string. Numbers are formatted;
// missing values yield "".
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value under key as an int or def if absent or not numeric.
func (p Payload) Int(key string, def int) int {
	if f, ok := toFloat(p[key]); ok {
		return int(f)
	}
	return def
}

// Float returns the value under key as a float64 or def if absent or not numeric.
func (p Payload) Float(key string, def float64) float64 {
	if f, ok := toFloat(p[key]); ok {
		return f
	}
	return def
}

// Bool returns the value under key as a bool.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Map returns the nested object under key, or nil.
func (p Payload) Map(key string) Payload {
	return AsPayload(p[key])
}

// Slice returns the list under key, or nil.
func (p Payload) Slice(key string) []any {
	switch v := p[key].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []Payload:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// Strings returns the list under key as strings, skipping empty entries.
func (p Payload) Strings(key string) []string {
	var out []string
	for _, v := range p.Slice(key) {
		s := fmt.Sprint(v)
		if v == nil || s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Maps returns the list under key as payloads, skipping non-object entries.
func (p Payload) Maps(key string) []Payload {
	var out []Payload
	for _, v := range p.Slice(key) {
		if m := AsPayload(v); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Decode converts p into out via JSON.
func (p Payload) Decode(out any) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// AsPayload converts map-shaped values to a Payload. Other values yield nil.
func AsPayload(v any) Payload {
	switch m := v.(type) {
	case Payload:
		return m
	case map[string]any:
		return Payload(m)
	default:
		return nil
	}
}

// ToPayload converts any JSON-encodable value (typically a struct) to a Payload.
func ToPayload(v any) (Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
