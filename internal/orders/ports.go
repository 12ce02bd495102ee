package orders

import (
	"context"

	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
)

// Tx exposes the repositories bound to one open transaction.
type Tx interface {
	Products() ProductReader
	Inventory() inventory.Ledger
	Orders() Repository
	Payments() PaymentRepository
	Outbox() outbox.Writer
}

// Store opens transactions and serves plain reads. InTx commits when fn
// returns nil and rolls back on any error or panic.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id string) (Details, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	GetPayment(ctx context.Context, orderID string) (Payment, error)
}

type ProductReader interface {
	Get(ctx context.Context, id string) (Product, error)
}

type Repository interface {
	Insert(ctx context.Context, o Order, items []OrderItem) error
	// GetForUpdate locks the order row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// Items are returned sorted by product id.
	Items(ctx context.Context, orderID string) ([]OrderItem, error)
	// Update writes the mutable columns: status, payment status, has_paid and timestamps.
	Update(ctx context.Context, o Order) error
}

type PaymentRepository interface {
	GetByOrder(ctx context.Context, orderID string) (Payment, error)
	Upsert(ctx context.Context, p Payment) error
}
