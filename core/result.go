package core

import (
	"fmt"
	"time"
)

// StatusUnrecognized tags results produced for message types no handler knows.
const StatusUnrecognized = "unrecognized"

// Result is what a handler returns for a message. For requests that expect a
// reply it becomes the payload of the kind=response message.
type Result struct {
	Success       bool          `json:"success"`
	Data          Payload       `json:"data,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"-"`
}

// OK wraps data in a successful result.
func OK(data Payload) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failed result. data may carry structured details (status, ids).
func Fail(err string, data Payload) *Result {
	return &Result{Success: false, Error: err, Data: data}
}

// Unrecognized is the result of the default arm of every dispatch table.
func Unrecognized(kind Kind, typ string) *Result {
	return Fail(fmt.Sprintf("unknown %s type: %s", kind, typ), Payload{
		"status": StatusUnrecognized,
		"kind":   string(kind),
		"type":   typ,
	})
}

// Status returns Data["status"].
func (r *Result) Status() string {
	if r == nil {
		return ""
	}
	return r.Data.String("status")
}

// IsUnrecognized reports whether r came from a dispatch default arm.
func (r *Result) IsUnrecognized() bool {
	return r != nil && !r.Success && r.Status() == StatusUnrecognized
}

// Payload renders the result as a message payload.
func (r *Result) Payload() Payload {
	if r == nil {
		return Payload{"success": false, "error": "no result"}
	}
	p := Payload{
		"success":           r.Success,
		"execution_time_ms": float64(r.ExecutionTime.Microseconds()) / 1000,
	}
	if r.Data != nil {
		p["data"] = map[string]any(r.Data)
	}
	if r.Error != "" {
		p["error"] = r.Error
	}
	return p
}

// ResultFromPayload is the inverse of Result.Payload.
func ResultFromPayload(p Payload) *Result {
	ms := p.Float("execution_time_ms", 0)
	return &Result{
		Success:       p.Bool("success"),
		Data:          p.Map("data"),
		Error:         p.String("error"),
		ExecutionTime: time.Duration(ms * float64(time.Millisecond)),
	}
}
