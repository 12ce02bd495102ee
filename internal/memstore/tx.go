package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/google/uuid"
)

type tx struct{ st *state }

func (t *tx) Products() orders.ProductReader     { return products{t.st} }
func (t *tx) Inventory() inventory.Ledger        { return ledger{t.st} }
func (t *tx) Orders() orders.Repository          { return orderRepo{t.st} }
func (t *tx) Payments() orders.PaymentRepository { return paymentRepo{t.st} }
func (t *tx) Outbox() outbox.Writer              { return outboxWriter{t.st} }

type products struct{ st *state }

func (p products) Get(_ context.Context, id string) (orders.Product, error) {
	pr, ok := p.st.products[id]
	if !ok {
		return orders.Product{}, apperr.New(apperr.CodeNotFound, "product %s not found", id).With("product_id", id)
	}
	return pr, nil
}

type ledger struct{ st *state }

func (l ledger) Get(_ context.Context, productID string) (inventory.Stock, error) {
	s, ok := l.st.stock[productID]
	if !ok {
		return inventory.Stock{}, inventory.NotFound(productID)
	}
	return s, nil
}

func (l ledger) Reserve(ctx context.Context, productID string, qty int) error {
	return l.apply(ctx, productID, inventory.OpReserve, qty)
}

func (l ledger) Consume(ctx context.Context, productID string, qty int) error {
	return l.apply(ctx, productID, inventory.OpConsume, qty)
}

func (l ledger) Release(ctx context.Context, productID string, qty int) error {
	return l.apply(ctx, productID, inventory.OpRelease, qty)
}

func (l ledger) apply(ctx context.Context, productID string, op inventory.Op, qty int) error {
	cur, err := l.Get(ctx, productID)
	if err != nil {
		return err
	}
	next, err := inventory.Apply(cur, op, qty)
	if err != nil {
		return err
	}
	l.st.stock[productID] = next
	return nil
}

type orderRepo struct{ st *state }

func (r orderRepo) Insert(_ context.Context, o orders.Order, items []orders.OrderItem) error {
	if _, exists := r.st.orders[o.ID]; exists {
		return apperr.New(apperr.CodeConflict, "order %s already exists", o.ID)
	}
	cp := append([]orders.OrderItem(nil), items...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ProductID < cp[j].ProductID })
	r.st.orders[o.ID] = o
	r.st.items[o.ID] = cp
	return nil
}

func (r orderRepo) GetForUpdate(_ context.Context, id string) (orders.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return orders.Order{}, orderNotFound(id)
	}
	return o, nil
}

func (r orderRepo) Items(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	return append([]orders.OrderItem(nil), r.st.items[orderID]...), nil
}

func (r orderRepo) Update(_ context.Context, o orders.Order) error {
	cur, ok := r.st.orders[o.ID]
	if !ok {
		return orderNotFound(o.ID)
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.HasPaid = o.HasPaid
	cur.ConfirmedAt = o.ConfirmedAt
	cur.CancelledAt = o.CancelledAt
	cur.UpdatedAt = o.UpdatedAt
	r.st.orders[o.ID] = cur
	return nil
}

type paymentRepo struct{ st *state }

func (r paymentRepo) GetByOrder(_ context.Context, orderID string) (orders.Payment, error) {
	p, ok := r.st.payments[orderID]
	if !ok {
		return orders.Payment{}, paymentNotFound(orderID)
	}
	return p, nil
}

func (r paymentRepo) Upsert(_ context.Context, p orders.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if cur, ok := r.st.payments[p.OrderID]; ok {
		p.ID = cur.ID
		p.CreatedAt = cur.CreatedAt
	}
	r.st.payments[p.OrderID] = p
	return nil
}

type outboxWriter struct{ st *state }

func (w outboxWriter) Enqueue(_ context.Context, m outbox.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = m.CreatedAt
	}
	w.st.outbox[m.ID] = outboxRow{msg: m}
	return nil
}
