package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
)

const (
	// DefaultTimeout is applied when a request carries no timeout of its own.
	DefaultTimeout = 30 * time.Second
	userAgent      = "Aegis-Orchestrator/1.0"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

var _ core.Gateway = (*Upstream)(nil)

// UpstreamOptions configures an Upstream.
type UpstreamOptions struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Upstream executes gateway requests directly against the storefront REST API.
// It is what the MCP server runs behind /mcp/request.
type Upstream struct {
	baseURL string
	client  *http.Client
	opts    UpstreamOptions
}

// NewUpstream creates an Upstream for the storefront at baseURL.
func NewUpstream(baseURL string, optFns ...func(o *UpstreamOptions)) *Upstream {
	opts := UpstreamOptions{
		Timeout: DefaultTimeout,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Upstream{baseURL: strings.TrimRight(baseURL, "/"), client: client, opts: opts}
}

// Request implements core.Gateway. Timeouts map to 408 and other transport
// errors to 500; a 2xx status is success.
func (u *Upstream) Request(ctx context.Context, req core.GatewayRequest) core.GatewayResponse {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}

	resp := u.do(ctx, req)
	resp.RequestID = req.RequestID
	resp.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000

	logging.LogGatewayCall(u.opts.Logger, req.Method, req.Endpoint, resp.StatusCode, time.Since(start), resp.Error)
	return resp
}

func (u *Upstream) do(ctx context.Context, req core.GatewayRequest) core.GatewayResponse {
	method := strings.ToUpper(req.Method)
	if !allowedMethods[method] {
		return failure(http.StatusBadRequest, fmt.Sprintf("unsupported method %q", req.Method))
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		return failure(http.StatusBadRequest, fmt.Sprintf("endpoint must start with '/': %q", req.Endpoint))
	}

	timeout := u.opts.Timeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := u.baseURL + req.Endpoint
	if len(req.Params) > 0 {
		q := url.Values{}
		for k, v := range req.Params {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return failure(http.StatusBadRequest, fmt.Sprintf("encode body: %v", err))
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return failure(http.StatusInternalServerError, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := u.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return failure(http.StatusRequestTimeout, "Request timeout")
		}
		return failure(http.StatusInternalServerError, err.Error())
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if isTimeout(err) {
			return failure(http.StatusRequestTimeout, "Request timeout")
		}
		return failure(http.StatusInternalServerError, err.Error())
	}

	out := core.GatewayResponse{
		StatusCode: httpResp.StatusCode,
		Success:    httpResp.StatusCode >= 200 && httpResp.StatusCode < 300,
		Data:       decodeBody(raw),
		Headers:    flattenHeaders(httpResp.Header),
	}
	if !out.Success {
		out.Error = httpResp.Status
	}
	return out
}

func failure(status int, msg string) core.GatewayResponse {
	return core.GatewayResponse{StatusCode: status, Success: false, Error: msg}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"raw_content": string(raw)}
	}
	return data
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
