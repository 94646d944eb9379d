package core

import "context"

// GatewayRequest is a storefront call proxied through the MCP gateway.
type GatewayRequest struct {
	RequestID string            `json:"request_id"`
	AgentID   string            `json:"agent_id"`
	Method    string            `json:"method"`
	Endpoint  string            `json:"endpoint"`
	Params    map[string]string `json:"params,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      any               `json:"body,omitempty"`
	// Timeout in seconds; zero means the gateway default.
	Timeout int `json:"timeout,omitempty"`
}

// GatewayResponse is the outcome of a GatewayRequest. Failures are reported
// through Success/Error, never as a Go error.
type GatewayResponse struct {
	RequestID       string            `json:"request_id"`
	StatusCode      int               `json:"status_code"`
	Success         bool              `json:"success"`
	Data            any               `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	ExecutionTimeMS float64           `json:"execution_time_ms"`
}

// Gateway is the storefront collaborator. It is safe for concurrent use.
type Gateway interface {
	Request(ctx context.Context, req GatewayRequest) GatewayResponse
}
