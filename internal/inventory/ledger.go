// Package inventory defines the stock ledger: per-product on-hand and reserved
// counters mutated only through reserve, consume and release.
package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
)

// Stock is one ledger row. Invariant: 0 <= Reserved <= OnHand.
type Stock struct {
	ProductID string `json:"product_id"`
	OnHand    int    `json:"on_hand"`
	Reserved  int    `json:"reserved"`
}

// Available is the sellable quantity.
func (s Stock) Available() int { return s.OnHand - s.Reserved }

// Ledger is bound to the caller's transaction: every call locks the product
// row until that transaction ends, so a failure after a successful Reserve
// rolls the reservation back with everything else.
type Ledger interface {
	Get(ctx context.Context, productID string) (Stock, error)
	Reserve(ctx context.Context, productID string, qty int) error
	Consume(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

// Op names a ledger mutation.
type Op string

const (
	OpReserve Op = "reserve"
	OpConsume Op = "consume"
	OpRelease Op = "release"
)

// Apply checks the precondition of op against s and returns the new row.
// Implementations call it while holding the row lock.
func Apply(s Stock, op Op, qty int) (Stock, error) {
	if qty <= 0 {
		return s, apperr.New(apperr.CodeValidation, "quantity must be positive, got %d", qty).
			With("product_id", s.ProductID)
	}
	switch op {
	case OpReserve:
		if s.Available() < qty {
			return s, apperr.New(apperr.CodeInsufficientStock, "insufficient stock for product %s", s.ProductID).
				With("product_id", s.ProductID).
				With("requested", qty).
				With("available", s.Available())
		}
		s.Reserved += qty
	case OpConsume:
		if s.Reserved < qty || s.OnHand < qty {
			return s, invalidReservation(s, op, qty)
		}
		s.OnHand -= qty
		s.Reserved -= qty
	case OpRelease:
		if s.Reserved < qty {
			return s, invalidReservation(s, op, qty)
		}
		s.Reserved -= qty
	default:
		return s, fmt.Errorf("inventory: unknown op %q", op)
	}
	return s, nil
}

// ErrInvalidReservationState is matched with errors.Is; it carries the
// inventory-inconsistency code because it only fires on a logic or data bug.
var ErrInvalidReservationState = apperr.ErrInventoryInconsistency

func invalidReservation(s Stock, op Op, qty int) error {
	return apperr.New(apperr.CodeInventoryInconsistency,
		"invalid reservation state: %s %d of product %s with reserved=%d on_hand=%d",
		op, qty, s.ProductID, s.Reserved, s.OnHand).
		With("product_id", s.ProductID).
		With("op", string(op))
}

// NotFound is returned when a product has no ledger row.
func NotFound(productID string) error {
	return apperr.New(apperr.CodeNotFound, "no inventory for product %s", productID).
		With("product_id", productID)
}
