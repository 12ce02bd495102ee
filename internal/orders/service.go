package orders

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/inventory"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrEmptyOrder = apperr.New(apperr.CodeValidation, "order must contain at least one item")

// Service is the order state machine. Every operation runs in one store
// transaction: ledger calls, order writes and outbox rows commit or roll back together.
type Service struct {
	store    Store
	log      *zap.Logger
	producer string
	now      func() time.Time
}

func NewService(store Store, log *zap.Logger, producer string) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, producer: producer, now: time.Now}
}

// CreateOrder reserves stock for every line, snapshots prices and persists
// the order in PENDING/UNPAID. The confirmation e-mail is requested through
// the outbox so delivery never blocks or fails the checkout.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Details, error) {
	lines, err := normalizeLines(in)
	if err != nil {
		return Details{}, err
	}

	now := s.now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		DiscountTotal:   decimal.Zero,
		ShippingFee:     in.ShippingFee,
		ShippingAddress: copyMap(in.ShippingAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	items := make([]OrderItem, 0, len(lines))

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, ln := range lines {
			p, err := tx.Products().Get(ctx, ln.ProductID)
			if err != nil {
				return err
			}
			if !p.Active {
				return apperr.New(apperr.CodeValidation, "product %s is not available", p.ID).
					With("product_id", p.ID)
			}
			if err := tx.Inventory().Reserve(ctx, ln.ProductID, ln.Quantity); err != nil {
				return err
			}
			items = append(items, OrderItem{
				OrderID:   o.ID,
				ProductID: p.ID,
				UnitPrice: p.Price,
				Quantity:  ln.Quantity,
			})
		}
		computeTotals(&o, items)

		if err := tx.Orders().Insert(ctx, o, items); err != nil {
			return err
		}
		msg, err := NewOutboxMessage(s.producer, TopicConfirmationRequested, EventConfirmationRequested, o.ID,
			ConfirmationRequestedPayload{OrderID: o.ID, UserID: o.UserID, GrandTotal: o.GrandTotal.String()}, now)
		if err != nil {
			return err
		}
		return tx.Outbox().Enqueue(ctx, msg)
	})
	if err != nil {
		if code := apperr.CodeOf(err); code == apperr.CodeInsufficientStock || code == apperr.CodeNotFound {
			metrics.ReservationFailures.WithLabelValues(string(code)).Inc()
		}
		return Details{}, err
	}

	metrics.OrdersCreated.Inc()
	logging.FromContext(ctx, s.log).Info("order_created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("lines", len(items)),
		zap.String("grand_total", o.GrandTotal.String()),
	)
	return Details{Order: o, Items: items}, nil
}

// ConfirmOrder consumes every reservation and moves PENDING -> WAITING_FOR_DELIVERY.
func (s *Service) ConfirmOrder(ctx context.Context, id string) (Details, error) {
	return s.transition(ctx, id, StatusWaitingForDelivery, inventory.OpConsume, TopicOrderConfirmed, EventOrderConfirmed)
}

// CancelOrder releases every reservation and moves PENDING -> CANCELLED.
// A failed release rolls back the whole cancellation.
func (s *Service) CancelOrder(ctx context.Context, id string) (Details, error) {
	return s.transition(ctx, id, StatusCancelled, inventory.OpRelease, TopicOrderCancelled, EventOrderCancelled)
}

// MarkDelivered moves WAITING_FOR_DELIVERY -> DELIVERED; stock was already consumed.
func (s *Service) MarkDelivered(ctx context.Context, id string) (Details, error) {
	return s.transition(ctx, id, StatusDelivered, "", TopicOrderDelivered, EventOrderDelivered)
}

func (s *Service) transition(ctx context.Context, id string, to Status, op inventory.Op, topic, eventType string) (Details, error) {
	logger := logging.FromContext(ctx, s.log).With(zap.String("order_id", id), zap.String("to", string(to)))
	var out Details

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return apperr.New(apperr.CodeInvalidTransition, "cannot move order from %s to %s", o.Status, to).
				With("order_id", o.ID).
				With("status", string(o.Status))
		}
		items, err := tx.Orders().Items(ctx, id)
		if err != nil {
			return err
		}

		if op != "" {
			apply := ledgerOp(tx.Inventory(), op)
			for _, it := range items {
				if err := apply(ctx, it.ProductID, it.Quantity); err != nil {
					if code := apperr.CodeOf(err); code != apperr.CodeInventoryInconsistency && code != apperr.CodeNotFound {
						// driver and deadline errors are not ledger bugs
						return err
					}
					metrics.InventoryInconsistencies.Inc()
					logger.Error("inventory_inconsistency",
						zap.String("op", string(op)),
						zap.String("product_id", it.ProductID),
						zap.Int("qty", it.Quantity),
						zap.Error(err),
					)
					return apperr.Wrap(apperr.CodeInventoryInconsistency, err,
						"cannot %s stock for order %s", op, o.ID).
						With("order_id", o.ID).
						With("product_id", it.ProductID)
				}
			}
		}

		from := o.Status
		now := s.now().UTC()
		o.Status = to
		o.UpdatedAt = now
		switch to {
		case StatusWaitingForDelivery:
			o.ConfirmedAt = &now
		case StatusCancelled:
			o.CancelledAt = &now
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}

		msg, err := NewOutboxMessage(s.producer, topic, eventType, o.ID,
			StatusChangedPayload{OrderID: o.ID, From: from, To: to, At: now}, now)
		if err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return err
		}
		out = Details{Order: o, Items: items}
		return nil
	})
	if err != nil {
		metrics.OrderTransitions.WithLabelValues(string(to), string(apperr.CodeOf(err))).Inc()
		return Details{}, err
	}

	metrics.OrderTransitions.WithLabelValues(string(to), "ok").Inc()
	logger.Info("order_transitioned")
	return out, nil
}

func ledgerOp(l inventory.Ledger, op inventory.Op) func(ctx context.Context, productID string, qty int) error {
	switch op {
	case inventory.OpConsume:
		return l.Consume
	case inventory.OpRelease:
		return l.Release
	default:
		return l.Reserve
	}
}

// GetOrder enforces ownership unless the viewer is an admin.
func (s *Service) GetOrder(ctx context.Context, id string, v Viewer) (Details, error) {
	d, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return Details{}, err
	}
	if !v.Admin && d.UserID != v.UserID {
		return Details{}, apperr.New(apperr.CodeForbidden, "order does not belong to current user")
	}
	return d, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListOrdersByUser(ctx, userID, limit, offset)
}

// IsConfirmed reports whether the order has left PENDING.
func (s *Service) IsConfirmed(ctx context.Context, id string) (bool, error) {
	d, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Status != StatusPending, nil
}

// normalizeLines validates input, merges lines of the same product and sorts
// them by product id so concurrent orders lock inventory rows in one order.
func normalizeLines(in CreateOrderInput) ([]LineItem, error) {
	if in.UserID == "" {
		return nil, apperr.New(apperr.CodeValidation, "user id is required")
	}
	if len(in.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if in.ShippingFee.IsNegative() {
		return nil, apperr.New(apperr.CodeValidation, "shipping fee must not be negative")
	}
	// the gateway carries amounts in hundredths
	if !in.ShippingFee.Equal(in.ShippingFee.Round(2)) {
		return nil, apperr.New(apperr.CodeValidation, "shipping fee has more than 2 decimal places")
	}

	merged := make(map[string]int, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" {
			return nil, apperr.New(apperr.CodeValidation, "product id is required")
		}
		if it.Quantity <= 0 {
			return nil, apperr.New(apperr.CodeValidation, "invalid quantity for product %s", it.ProductID).
				With("product_id", it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}

	out := make([]LineItem, 0, len(merged))
	for id, qty := range merged {
		out = append(out, LineItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsNotFound is a convenience for callers that treat a missing order as a soft failure.
func IsNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }
