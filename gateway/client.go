package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
)

var _ core.Gateway = (*Client)(nil)

// ClientOptions configures a Client.
type ClientOptions struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client is the agents' view of the MCP gateway: it POSTs requests to
// {mcpURL}/mcp/request. Transport failures come back as failed responses.
type Client struct {
	endpoint string
	client   *http.Client
	opts     ClientOptions
}

// NewClient creates a Client for the MCP server at mcpURL.
func NewClient(mcpURL string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Timeout: DefaultTimeout + 5*time.Second,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(mcpURL, "/") + "/mcp/request",
		client:   client,
		opts:     opts,
	}
}

// Request implements core.Gateway.
func (c *Client) Request(ctx context.Context, req core.GatewayRequest) core.GatewayResponse {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}

	resp := c.post(ctx, req)
	resp.RequestID = req.RequestID
	if resp.ExecutionTimeMS == 0 {
		resp.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000
	}
	if !resp.Success {
		c.opts.Logger.Warn("Gateway request failed",
			"request_id", req.RequestID,
			"agent_id", req.AgentID,
			"method", req.Method,
			"endpoint", req.Endpoint,
			"status_code", resp.StatusCode,
			"error", resp.Error,
		)
	}
	return resp
}

func (c *Client) post(ctx context.Context, req core.GatewayRequest) core.GatewayResponse {
	body, err := json.Marshal(req)
	if err != nil {
		return failure(http.StatusBadRequest, fmt.Sprintf("encode request: %v", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(http.StatusInternalServerError, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return failure(http.StatusRequestTimeout, "Request timeout")
		}
		return failure(http.StatusInternalServerError, err.Error())
	}
	defer httpResp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return failure(httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out core.GatewayResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return failure(http.StatusBadGateway, fmt.Sprintf("decode gateway response: %v", err))
	}
	return out
}
