package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var _ orders.Store = (*Store)(nil)

// InTx runs fn in a READ COMMITTED transaction. Row locks taken through the
// repositories (SELECT ... FOR UPDATE) are held until commit or rollback.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ q querier }

func (t *pgTx) Products() orders.ProductReader     { return productRepo{t.q} }
func (t *pgTx) Inventory() inventory.Ledger        { return ledger{t.q} }
func (t *pgTx) Orders() orders.Repository          { return orderRepo{t.q} }
func (t *pgTx) Payments() orders.PaymentRepository { return paymentRepo{t.q} }
func (t *pgTx) Outbox() outbox.Writer              { return outboxWriter{t.q} }

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Details, error) {
	if _, err := uuid.Parse(id); err != nil {
		return orders.Details{}, orderNotFound(id)
	}
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Details{}, orderNotFound(id)
	}
	if err != nil {
		return orders.Details{}, err
	}
	items, err := orderRepo{s.DB}.Items(ctx, id)
	if err != nil {
		return orders.Details{}, err
	}
	return orders.Details{Order: o, Items: items}, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
	                              WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) GetPayment(ctx context.Context, orderID string) (orders.Payment, error) {
	return paymentRepo{s.DB}.GetByOrder(ctx, orderID)
}

// SeedProduct creates or replaces a catalog entry together with its stock row.
func (s *Store) SeedProduct(ctx context.Context, id, name string, price decimal.Decimal, active bool, onHand int) error {
	return s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		q := tx.(*pgTx).q
		if _, err := q.Exec(ctx, `
			INSERT INTO products(id, name, price, active) VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price,
			                               active=EXCLUDED.active, updated_at=now()`,
			id, name, price.String(), active); err != nil {
			return fmt.Errorf("seed product %s: %w", id, err)
		}
		_, err := q.Exec(ctx, `
			INSERT INTO inventory(product_id, on_hand, reserved) VALUES ($1, $2, 0)
			ON CONFLICT (product_id) DO UPDATE SET on_hand=EXCLUDED.on_hand, updated_at=now()`,
			id, onHand)
		return err
	})
}

// Stock reads a ledger row outside any transaction.
func (s *Store) Stock(ctx context.Context, productID string) (inventory.Stock, error) {
	return ledger{s.DB}.Get(ctx, productID)
}

func orderNotFound(id string) error {
	return apperr.New(apperr.CodeNotFound, "order %s not found", id).With("order_id", id)
}

func paymentNotFound(orderID string) error {
	return apperr.New(apperr.CodeNotFound, "payment for order %s not found", orderID).With("order_id", orderID)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}
