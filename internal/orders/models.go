package orders

import "time"

// Order is immutable after creation except for Status and UpdatedAt.
type Order struct {
	ID              string    `json:"id"`
	AttemptID       string    `json:"-"` // checkout attempt that produced it
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	TotalCents      int       `json:"total_cents"`
	ShippingAddress string    `json:"shipping_address"`
	BillingAddress  string    `json:"billing_address"`
	PaymentRef      string    `json:"payment_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrderItem carries the unit price copied at purchase time; later catalog
// price changes never touch it.
type OrderItem struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

// ItemInput is one cart line as submitted by the client: product and quantity
// only, prices always come from the catalog.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type PricedItem struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}
