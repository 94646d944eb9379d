package testutil

import (
	"context"
	"net/http"
	"sync"

	"github.com/hupe1980/aegis/core"
)

// FakeGateway is a core.Gateway answering from canned responses keyed by
// "METHOD /endpoint". Unknown keys yield a 404 failure.
type FakeGateway struct {
	mu        sync.Mutex
	responses map[string]core.GatewayResponse
	requests  []core.GatewayRequest
}

// NewFakeGateway creates an empty fake.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{responses: make(map[string]core.GatewayResponse)}
}

// On registers a successful response with data for method and endpoint.
func (g *FakeGateway) On(method, endpoint string, data any) *FakeGateway {
	return g.Respond(method, endpoint, core.GatewayResponse{StatusCode: http.StatusOK, Success: true, Data: data})
}

// Fail registers a failed response for method and endpoint.
func (g *FakeGateway) Fail(method, endpoint string, status int, msg string) *FakeGateway {
	return g.Respond(method, endpoint, core.GatewayResponse{StatusCode: status, Error: msg})
}

// Respond registers resp for method and endpoint.
func (g *FakeGateway) Respond(method, endpoint string, resp core.GatewayResponse) *FakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[method+" "+endpoint] = resp
	return g
}

// Request implements core.Gateway.
func (g *FakeGateway) Request(_ context.Context, req core.GatewayRequest) core.GatewayResponse {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	resp, ok := g.responses[req.Method+" "+req.Endpoint]
	if !ok {
		resp = core.GatewayResponse{StatusCode: http.StatusNotFound, Error: "not found"}
	}
	resp.RequestID = req.RequestID
	return resp
}

// Requests returns the requests received so far.
func (g *FakeGateway) Requests() []core.GatewayRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.GatewayRequest(nil), g.requests...)
}
