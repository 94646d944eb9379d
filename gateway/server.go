package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/hupe1980/aegis/core"
	"github.com/hupe1980/aegis/logging"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Logger logging.Logger
}

// Server is the MCP gateway HTTP surface. /mcp/request proxies any storefront
// call; the convenience routes cover the common lookups and return the
// upstream data directly, or the upstream status on failure.
type Server struct {
	backend core.Gateway
	logger  logging.Logger
	mux     *http.ServeMux
}

// NewServer creates a Server in front of backend (usually an Upstream).
func NewServer(backend core.Gateway, optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{backend: backend, logger: opts.Logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /mcp/request", s.handleRequest)
	s.mux.HandleFunc("GET /products", s.handleProducts)
	s.mux.HandleFunc("GET /products/{id}", s.handleProduct)
	s.mux.HandleFunc("GET /cart/{user}", s.handleCart)
	s.mux.HandleFunc("POST /cart/{user}/items", s.handleAddToCart)
	s.mux.HandleFunc("GET /orders/{id}", s.handleOrder)
	s.mux.HandleFunc("GET /users/{id}", s.handleUser)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "mcp-server"})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req core.GatewayRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}
	if req.AgentID == "" || req.Method == "" || req.Endpoint == "" {
		http.Error(w, "agent_id, method and endpoint are required", http.StatusBadRequest)
		return
	}

	s.logger.Info("Processing MCP request", "request_id", req.RequestID, "agent_id", req.AgentID)
	resp := s.backend.Request(r.Context(), req)
	s.logger.Info("MCP request completed", "request_id", req.RequestID, "status_code", resp.StatusCode)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) storefront(r *http.Request) *Storefront {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = "system"
	}
	return NewStorefront(s.backend, agentID)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.storefront(r).GetProducts(r.Context(), r.URL.Query().Get("category")))
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.storefront(r).GetProduct(r.Context(), r.PathValue("id")))
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.storefront(r).GetCart(r.Context(), r.PathValue("user")))
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := q.Get("product_id")
	quantity, err := strconv.Atoi(q.Get("quantity"))

	// query parameters first, JSON body as fallback
	if productID == "" || err != nil {
		var body struct {
			ProductID string `json:"product_id"`
			Quantity  int    `json:"quantity"`
		}
		if decErr := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); decErr == nil {
			productID, quantity, err = body.ProductID, body.Quantity, nil
		}
	}
	if productID == "" || err != nil || quantity <= 0 {
		http.Error(w, "product_id and a positive quantity are required", http.StatusBadRequest)
		return
	}
	writeData(w, s.storefront(r).AddToCart(r.Context(), r.PathValue("user"), productID, quantity))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.storefront(r).GetOrder(r.Context(), r.PathValue("id")))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.storefront(r).GetUser(r.Context(), r.PathValue("id")))
}

func writeData(w http.ResponseWriter, resp core.GatewayResponse) {
	if !resp.Success {
		status := resp.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{"detail": resp.Error})
		return
	}
	writeJSON(w, http.StatusOK, resp.Data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
