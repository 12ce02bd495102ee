package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type productRepo struct{ q querier }

func (r productRepo) Get(ctx context.Context, id string) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := r.q.QueryRow(ctx, `SELECT id, price::text, active FROM products WHERE id=$1`, id).
		Scan(&p.ID, &price, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, apperr.New(apperr.CodeNotFound, "product %s not found", id).With("product_id", id)
	}
	if err != nil {
		return orders.Product{}, err
	}
	if p.Price, err = parseDecimal(price); err != nil {
		return orders.Product{}, err
	}
	return p, nil
}

// ledger locks the inventory row, checks the operation against the current
// counters and writes the result back. The CHECK constraint on the table
// backs up the in-process precondition.
type ledger struct{ q querier }

func (l ledger) Get(ctx context.Context, productID string) (inventory.Stock, error) {
	return l.read(ctx, productID, `SELECT on_hand, reserved FROM inventory WHERE product_id=$1`)
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
	cur, err := l.read(ctx, productID, `SELECT on_hand, reserved FROM inventory WHERE product_id=$1 FOR UPDATE`)
	if err != nil {
		return err
	}
	next, err := inventory.Apply(cur, op, qty)
	if err != nil {
		return err
	}
	_, err = l.q.Exec(ctx, `UPDATE inventory SET on_hand=$2, reserved=$3, updated_at=now() WHERE product_id=$1`,
		productID, next.OnHand, next.Reserved)
	return err
}

func (l ledger) read(ctx context.Context, productID, query string) (inventory.Stock, error) {
	s := inventory.Stock{ProductID: productID}
	err := l.q.QueryRow(ctx, query, productID).Scan(&s.OnHand, &s.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Stock{}, inventory.NotFound(productID)
	}
	return s, err
}

const orderColumns = `id::text, user_id, status, payment_status,
	sub_total::text, discount_total::text, shipping_fee::text, grand_total::text,
	has_paid, shipping_address, confirmed_at, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o                          orders.Order
		sub, discount, ship, grand string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus,
		&sub, &discount, &ship, &grand,
		&o.HasPaid, &o.ShippingAddress, &o.ConfirmedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return orders.Order{}, err
	}
	if o.SubTotal, err = parseDecimal(sub); err != nil {
		return orders.Order{}, err
	}
	if o.DiscountTotal, err = parseDecimal(discount); err != nil {
		return orders.Order{}, err
	}
	if o.ShippingFee, err = parseDecimal(ship); err != nil {
		return orders.Order{}, err
	}
	if o.GrandTotal, err = parseDecimal(grand); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

type orderRepo struct{ q querier }

func (r orderRepo) Insert(ctx context.Context, o orders.Order, items []orders.OrderItem) error {
	addr := o.ShippingAddress
	if addr == nil {
		addr = map[string]string{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, payment_status, sub_total, discount_total, shipping_fee,
		                   grand_total, has_paid, shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)`,
		o.ID, o.UserID, string(o.Status), string(o.PaymentStatus),
		o.SubTotal.String(), o.DiscountTotal.String(), o.ShippingFee.String(), o.GrandTotal.String(),
		o.HasPaid, addr, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, unit_price, quantity, line_total)
			VALUES ($1, $2, $3::numeric, $4, $5::numeric)`,
			o.ID, it.ProductID, it.UnitPrice.String(), it.Quantity, it.LineTotal.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (orders.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return orders.Order{}, orderNotFound(id)
	}
	o, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orderNotFound(id)
	}
	return o, err
}

func (r orderRepo) Items(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT product_id, unit_price::text, quantity, line_total::text
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var (
			it          orders.OrderItem
			price, line string
		)
		if err := rows.Scan(&it.ProductID, &price, &it.Quantity, &line); err != nil {
			return nil, err
		}
		it.OrderID = orderID
		if it.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		if it.LineTotal, err = parseDecimal(line); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r orderRepo) Update(ctx context.Context, o orders.Order) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, has_paid=$4,
		                  confirmed_at=$5, cancelled_at=$6, updated_at=$7
		WHERE id=$1`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.HasPaid, o.ConfirmedAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orderNotFound(o.ID)
	}
	return nil
}

type paymentRepo struct{ q querier }

func (r paymentRepo) GetByOrder(ctx context.Context, orderID string) (orders.Payment, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return orders.Payment{}, paymentNotFound(orderID)
	}
	var (
		p      orders.Payment
		amount string
	)
	err := r.q.QueryRow(ctx, `
		SELECT id::text, order_id::text, method, provider, status, amount::text, transaction_id,
		       paid_at, gateway_response, created_at, updated_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.Method, &p.Provider, &p.Status, &amount, &p.TransactionID,
			&p.PaidAt, &p.GatewayResponse, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Payment{}, paymentNotFound(orderID)
	}
	if err != nil {
		return orders.Payment{}, err
	}
	if p.Amount, err = parseDecimal(amount); err != nil {
		return orders.Payment{}, err
	}
	return p, nil
}

// Upsert keeps one payment row per order; a replayed notification rewrites
// the mutable columns and leaves id and created_at untouched.
func (r paymentRepo) Upsert(ctx context.Context, p orders.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	resp := p.GatewayResponse
	if resp == nil {
		resp = map[string]string{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments(id, order_id, method, provider, status, amount, transaction_id,
		                     paid_at, gateway_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			method=EXCLUDED.method, provider=EXCLUDED.provider, status=EXCLUDED.status,
			amount=EXCLUDED.amount, transaction_id=EXCLUDED.transaction_id, paid_at=EXCLUDED.paid_at,
			gateway_response=EXCLUDED.gateway_response, updated_at=EXCLUDED.updated_at`,
		p.ID, p.OrderID, string(p.Method), string(p.Provider), string(p.Status), p.Amount.String(), p.TransactionID,
		p.PaidAt, resp, p.CreatedAt, p.UpdatedAt)
	return err
}
