package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hupe1980/aegis/core"
)

// ResponseError is returned by the typed Storefront helpers when the gateway
// reports a failure.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.StatusCode, e.Message)
}

// Storefront issues the storefront's well-known calls through any core.Gateway.
// The raw methods return the gateway response; the typed ones decode Data.
type Storefront struct {
	gw      core.Gateway
	agentID string
}

// NewStorefront binds gw to the calling agent's id.
func NewStorefront(gw core.Gateway, agentID string) *Storefront {
	return &Storefront{gw: gw, agentID: agentID}
}

func (s *Storefront) call(ctx context.Context, method, endpoint string, params map[string]string, body any) core.GatewayResponse {
	return s.gw.Request(ctx, core.GatewayRequest{
		RequestID: core.NewID(),
		AgentID:   s.agentID,
		Method:    method,
		Endpoint:  endpoint,
		Params:    params,
		Body:      body,
	})
}

// GetProducts lists the catalog, optionally filtered by category.
func (s *Storefront) GetProducts(ctx context.Context, category string) core.GatewayResponse {
	var params map[string]string
	if category != "" {
		params = map[string]string{"category": category}
	}
	return s.call(ctx, http.MethodGet, "/products", params, nil)
}

// GetProduct fetches one product.
func (s *Storefront) GetProduct(ctx context.Context, productID string) core.GatewayResponse {
	return s.call(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, nil)
}

// GetCart fetches a user's cart.
func (s *Storefront) GetCart(ctx context.Context, userID string) core.GatewayResponse {
	return s.call(ctx, http.MethodGet, "/cart/"+url.PathEscape(userID), nil, nil)
}

// AddToCart adds quantity units of a product to a user's cart.
func (s *Storefront) AddToCart(ctx context.Context, userID, productID string, quantity int) core.GatewayResponse {
	return s.call(ctx, http.MethodPost, "/cart/"+url.PathEscape(userID)+"/items", nil, map[string]any{
		"product_id": productID,
		"quantity":   quantity,
	})
}

// UpdateCartItem sets the quantity of a cart line.
func (s *Storefront) UpdateCartItem(ctx context.Context, userID, productID string, quantity int) core.GatewayResponse {
	return s.call(ctx, http.MethodPut, "/cart/"+url.PathEscape(userID)+"/items/"+url.PathEscape(productID), nil, map[string]any{
		"quantity": quantity,
	})
}

// RemoveFromCart deletes a cart line.
func (s *Storefront) RemoveFromCart(ctx context.Context, userID, productID string) core.GatewayResponse {
	return s.call(ctx, http.MethodDelete, "/cart/"+url.PathEscape(userID)+"/items/"+url.PathEscape(productID), nil, nil)
}

// CreateOrder places an order for a user.
func (s *Storefront) CreateOrder(ctx context.Context, userID string, orderData map[string]any) core.GatewayResponse {
	return s.call(ctx, http.MethodPost, "/orders/"+url.PathEscape(userID), nil, orderData)
}

// GetOrder fetches an order.
func (s *Storefront) GetOrder(ctx context.Context, orderID string) core.GatewayResponse {
	return s.call(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil)
}

// GetUserOrders lists a user's orders.
func (s *Storefront) GetUserOrders(ctx context.Context, userID string) core.GatewayResponse {
	return s.call(ctx, http.MethodGet, "/orders/user/"+url.PathEscape(userID), nil, nil)
}

// GetUser fetches a user account.
func (s *Storefront) GetUser(ctx context.Context, userID string) core.GatewayResponse {
	return s.call(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil)
}

// GetUserByEmail looks a user up by email.
func (s *Storefront) GetUserByEmail(ctx context.Context, email string) core.GatewayResponse {
	return s.call(ctx, http.MethodGet, "/users/email/"+url.PathEscape(email), nil, nil)
}

// Products returns the decoded catalog. Both a bare array and an object with
// a "products" array are accepted.
func (s *Storefront) Products(ctx context.Context, category string) ([]Product, error) {
	resp := s.GetProducts(ctx, category)
	if !resp.Success {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Message: resp.Error}
	}

	var products []Product
	if err := DecodeData(resp, &products); err == nil {
		return products, nil
	}
	var wrapped struct {
		Products []Product `json:"products"`
	}
	if err := DecodeData(resp, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Products, nil
}

// Order returns the decoded order.
func (s *Storefront) Order(ctx context.Context, orderID string) (map[string]any, error) {
	resp := s.GetOrder(ctx, orderID)
	if !resp.Success {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Message: resp.Error}
	}
	var order map[string]any
	if err := DecodeData(resp, &order); err != nil {
		return nil, err
	}
	return order, nil
}

// User returns the decoded user account.
func (s *Storefront) User(ctx context.Context, userID string) (User, error) {
	resp := s.GetUser(ctx, userID)
	if !resp.Success {
		return User{}, &ResponseError{StatusCode: resp.StatusCode, Message: resp.Error}
	}
	var u User
	err := DecodeData(resp, &u)
	return u, err
}

// DecodeData converts the loosely typed response Data into out.
func DecodeData(resp core.GatewayResponse, out any) error {
	if resp.Data == nil {
		return fmt.Errorf("decode gateway data: empty response")
	}
	b, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("decode gateway data: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode gateway data: %w", err)
	}
	return nil
}
