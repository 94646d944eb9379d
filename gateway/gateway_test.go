package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeStorefront(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		products := []Product{
			{ID: "P1", Name: "Sunglasses", Categories: []string{"accessories"}},
			{ID: "P2", Name: "Tank Top", Categories: []string{"clothing"}},
		}
		if c := r.URL.Query().Get("category"); c != "" {
			products = products[:1]
		}
		_ = json.NewEncoder(w).Encode(products)
	})
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "slow" {
			time.Sleep(200 * time.Millisecond)
		}
		_ = json.NewEncoder(w).Encode(Product{ID: r.PathValue("id"), Name: "Mug"})
	})
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order_id": r.PathValue("id"),
			"items":    []map[string]any{{"product_id": "P1", "quantity": 2}},
		})
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(User{UserID: r.PathValue("id"), Email: "u@example.com"})
	})
	mux.HandleFunc("POST /cart/{user}/items", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["user_id"] = r.PathValue("user")
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /text", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUpstream_Request(t *testing.T) {
	srv := fakeStorefront(t)
	up := NewUpstream(srv.URL, func(o *UpstreamOptions) { o.Timeout = 50 * time.Millisecond })
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		resp := up.Request(ctx, core.GatewayRequest{AgentID: "a", Method: "get", Endpoint: "/products", Params: map[string]string{"category": "accessories"}})
		assert.True(t, resp.Success)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.RequestID)
		assert.Len(t, resp.Data, 1)
	})

	t.Run("upstream error status", func(t *testing.T) {
		resp := up.Request(ctx, core.GatewayRequest{RequestID: "r1", Method: "GET", Endpoint: "/users/missing"})
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "r1", resp.RequestID)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("timeout maps to 408", func(t *testing.T) {
		resp := up.Request(ctx, core.GatewayRequest{Method: "GET", Endpoint: "/products/slow"})
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
		assert.Equal(t, "Request timeout", resp.Error)
	})

	t.Run("non json body", func(t *testing.T) {
		resp := up.Request(ctx, core.GatewayRequest{Method: "GET", Endpoint: "/text"})
		assert.True(t, resp.Success)
		assert.Equal(t, map[string]any{"raw_content": "plain text"}, resp.Data)
	})

	t.Run("invalid method", func(t *testing.T) {
		resp := up.Request(ctx, core.GatewayRequest{Method: "TRACE", Endpoint: "/products"})
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unreachable upstream maps to 500", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		resp := NewUpstream(dead.URL).Request(ctx, core.GatewayRequest{Method: "GET", Endpoint: "/products"})
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestClientServerChain(t *testing.T) {
	storefront := fakeStorefront(t)
	mcp := httptest.NewServer(NewServer(NewUpstream(storefront.URL)))
	t.Cleanup(mcp.Close)

	sf := NewStorefront(NewClient(mcp.URL), "inventory-agent")
	ctx := context.Background()

	products, err := sf.Products(ctx, "")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "P1", products[0].ID)

	order, err := sf.Order(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "O1", order["order_id"])

	u, err := sf.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", u.Email)

	_, err = sf.User(ctx, "missing")
	var rerr *ResponseError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)

	resp := sf.AddToCart(ctx, "U1", "P2", 3)
	require.True(t, resp.Success)
	assert.Equal(t, "U1", resp.Data.(map[string]any)["user_id"])
}

func TestClient_ServerDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	resp := NewClient(dead.URL).Request(context.Background(), core.GatewayRequest{AgentID: "a", Method: "GET", Endpoint: "/products"})
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, resp.RequestID)
}

func TestServer_ConvenienceRoutes(t *testing.T) {
	storefront := fakeStorefront(t)
	srv := NewServer(NewUpstream(storefront.URL))

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"mcp-server"}`, rec.Body.String())

	rec = do(http.MethodGet, "/products/P9", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"P9"`)

	rec = do(http.MethodGet, "/users/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodPost, "/cart/U1/items?product_id=P1&quantity=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"product_id":"P1"`)

	rec = do(http.MethodPost, "/cart/U1/items", `{"product_id":"P2","quantity":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/cart/U1/items", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/mcp/request", `{"method":"GET"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/mcp/request", `{"agent_id":"a","method":"GET","endpoint":"/users/missing"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp core.GatewayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.RequestID)
}
