package gateway

// Product is a storefront catalog entry.
type Product struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Picture     string            `json:"picture"`
	PriceUSD    map[string]string `json:"price_usd"`
	Categories  []string          `json:"categories"`
}

// CartItem is one line of a cart or order.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Order is a placed storefront order.
type Order struct {
	OrderID            string            `json:"order_id"`
	ShippingTrackingID string            `json:"shipping_tracking_id"`
	ShippingCost       map[string]string `json:"shipping_cost"`
	TotalAmount        map[string]string `json:"total_amount"`
	Items              []CartItem        `json:"items"`
	ShippingAddress    map[string]string `json:"shipping_address"`
	Email              string            `json:"email"`
}

// User is a storefront customer account.
type User struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CreatedAt string `json:"created_at"`
}

// InventoryItem is a warehouse stock entry.
type InventoryItem struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	Warehouse   string `json:"warehouse"`
	LastUpdated string `json:"last_updated"`
}
