package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the read-only catalog snapshot used to price a line.
type Product struct {
	ID     string
	Price  decimal.Decimal
	Active bool
}

// Order references its owner and items by id only.
type Order struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Status          Status            `json:"status"`
	PaymentStatus   PaymentStatus     `json:"payment_status"`
	SubTotal        decimal.Decimal   `json:"sub_total"`
	DiscountTotal   decimal.Decimal   `json:"discount_total"`
	ShippingFee     decimal.Decimal   `json:"shipping_fee"`
	GrandTotal      decimal.Decimal   `json:"grand_total"`
	HasPaid         bool              `json:"has_paid"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	ShippingAddress map[string]string `json:"shipping_address"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// OrderItem is immutable once the order exists.
type OrderItem struct {
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Payment struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	Method          PaymentMethod     `json:"method"`
	Provider        PaymentProvider   `json:"provider"`
	Status          PaymentStatus     `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	GatewayResponse map[string]string `json:"gateway_response,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Details is an order together with its lines.
type Details struct {
	Order
	Items []OrderItem `json:"items"`
}

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderInput struct {
	UserID          string
	Items           []LineItem
	ShippingFee     decimal.Decimal
	ShippingAddress map[string]string
}

// Viewer is the identity asking to read an order.
type Viewer struct {
	UserID string
	Admin  bool
}

// computeTotals fills line totals and the order money fields.
// grandTotal = subTotal - discountTotal + shippingFee.
func computeTotals(o *Order, items []OrderItem) {
	sub := decimal.Zero
	for i := range items {
		items[i].LineTotal = items[i].UnitPrice.Mul(decimal.NewFromInt(int64(items[i].Quantity)))
		sub = sub.Add(items[i].LineTotal)
	}
	o.SubTotal = sub
	o.GrandTotal = sub.Sub(o.DiscountTotal).Add(o.ShippingFee)
}
