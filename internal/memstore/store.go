// Package memstore is an in-memory implementation of the order store. A
// transaction works on a private copy of the state and swaps it in on commit;
// transactions are serialized by one mutex, which gives the same no-oversell
// guarantee as row locks in Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	products map[string]orders.Product
	stock    map[string]inventory.Stock
	orders   map[string]orders.Order
	items    map[string][]orders.OrderItem
	payments map[string]orders.Payment // by order id
	outbox   map[string]outboxRow
}

type outboxRow struct {
	msg         outbox.Message
	publishedAt *time.Time
}

func New() *Store {
	return &Store{st: &state{
		products: map[string]orders.Product{},
		stock:    map[string]inventory.Stock{},
		orders:   map[string]orders.Order{},
		items:    map[string][]orders.OrderItem{},
		payments: map[string]orders.Payment{},
		outbox:   map[string]outboxRow{},
	}}
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[string]orders.Product, len(s.products)),
		stock:    make(map[string]inventory.Stock, len(s.stock)),
		orders:   make(map[string]orders.Order, len(s.orders)),
		items:    make(map[string][]orders.OrderItem, len(s.items)),
		payments: make(map[string]orders.Payment, len(s.payments)),
		outbox:   make(map[string]outboxRow, len(s.outbox)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]orders.OrderItem(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

// AddProduct seeds a catalog entry with its inventory row.
func (s *Store) AddProduct(id string, price decimal.Decimal, active bool, onHand int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[id] = orders.Product{ID: id, Price: price, Active: active}
	s.st.stock[id] = inventory.Stock{ProductID: id, OnHand: onHand}
}

// Stock returns the committed ledger row.
func (s *Store) Stock(productID string) (inventory.Stock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.st.stock[productID]
	return st, ok
}

// Messages returns committed outbox rows ordered by creation time.
func (s *Store) Messages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Message, 0, len(s.st.outbox))
	for _, r := range s.st.outbox {
		out = append(out, r.msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (orders.Details, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.Details{}, orderNotFound(id)
	}
	return orders.Details{Order: o, Items: append([]orders.OrderItem(nil), s.st.items[id]...)}, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string, limit, offset int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.st.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []orders.Order{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetPayment(_ context.Context, orderID string) (orders.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[orderID]
	if !ok {
		return orders.Payment{}, paymentNotFound(orderID)
	}
	return p, nil
}

func orderNotFound(id string) error {
	return apperr.New(apperr.CodeNotFound, "order %s not found", id).With("order_id", id)
}

func paymentNotFound(orderID string) error {
	return apperr.New(apperr.CodeNotFound, "payment for order %s not found", orderID).With("order_id", orderID)
}
