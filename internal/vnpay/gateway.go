// Package vnpay adapts the VNPay redirect gateway: it signs outbound payment
// URLs and settles inbound browser returns and IPNs against the order store.
package vnpay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/metrics"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/signature"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result codes of CreatePaymentURL.
const (
	CodeSuccess   = "00"
	CodeForbidden = "403"
	CodeConflict  = "409"
	CodeError     = "99"
)

// Confirmer moves a paid order out of PENDING.
type Confirmer interface {
	ConfirmOrder(ctx context.Context, id string) (orders.Details, error)
}

type PaymentRequest struct {
	OrderID   string
	UserID    string
	BankCode  string
	Language  string
	OrderInfo string
	ClientIP  string
}

type PaymentResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	PaymentURL string `json:"paymentUrl,omitempty"`
}

type Gateway struct {
	cfg       Config
	store     orders.Store
	confirmer Confirmer
	log       *zap.Logger
	producer  string
	now       func() time.Time
}

func NewGateway(cfg Config, store orders.Store, confirmer Confirmer, log *zap.Logger, producer string) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		cfg:       cfg.withDefaults(),
		store:     store,
		confirmer: confirmer,
		log:       log,
		producer:  producer,
		now:       time.Now,
	}
}

// CreatePaymentURL builds a signed redirect for the order's persisted grand
// total. Failures are reported through Code, never as an error, because the
// caller maps each code onto its own HTTP status.
func (g *Gateway) CreatePaymentURL(ctx context.Context, req PaymentRequest) PaymentResponse {
	log := logging.FromContext(ctx, g.log).With(zap.String("order_id", req.OrderID), zap.String("user_id", req.UserID))

	d, err := g.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		log.Warn("vnpay_create_url_failed", zap.Error(err))
		return PaymentResponse{Code: CodeError, Message: "Error: " + err.Error()}
	}
	if d.UserID != req.UserID {
		log.Warn("vnpay_create_url_forbidden")
		return PaymentResponse{Code: CodeForbidden, Message: "Forbidden: order does not belong to current user"}
	}
	if d.HasPaid || d.PaymentStatus == orders.PaymentPaid {
		log.Info("vnpay_create_url_already_paid")
		return PaymentResponse{Code: CodeConflict, Message: "Order already paid"}
	}

	ref, err := txnRef(d.ID)
	if err != nil {
		log.Error("vnpay_txn_ref_failed", zap.Error(err))
		return PaymentResponse{Code: CodeError, Message: "Error: " + err.Error()}
	}

	// the order reference is the last marker in vnp_OrderInfo; keep client text from forging one
	info := strings.TrimSpace(strings.ReplaceAll(req.OrderInfo, orderInfoMarker, ""))
	if info == "" {
		info = "Thanh toan don hang"
	}
	locale := req.Language
	if locale == "" {
		locale = g.cfg.Locale
	}
	created := g.now()

	params := map[string]string{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    g.cfg.Command,
		ParamTmnCode:     g.cfg.TmnCode,
		ParamAmount:      toGatewayAmount(d.GrandTotal),
		"vnp_CurrCode":   "VND",
		ParamBankCode:    req.BankCode,
		ParamTxnRef:      ref,
		ParamOrderInfo:   info + " - " + orderInfoMarker + " " + d.ID,
		"vnp_OrderType":  g.cfg.OrderType,
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": formatDate(created),
		"vnp_ExpireDate": formatDate(created.Add(g.cfg.ExpireAfter)),
	}
	query := signature.Canonical(params)
	hash := signature.Sign(params, g.cfg.SecretKey)

	log.Info("vnpay_payment_url_created", zap.String("txn_ref", ref), zap.String("amount", params[ParamAmount]))
	return PaymentResponse{
		Code:       CodeSuccess,
		Message:    "success",
		PaymentURL: g.cfg.PaymentURL + "?" + query + "&" + ParamSecureHash + "=" + url.QueryEscape(hash),
	}
}

// ValidateSignature checks vnp_SecureHash against the remaining parameters.
func (g *Gateway) ValidateSignature(params map[string]string) bool {
	fields, hash := splitHash(params)
	return signature.Verify(fields, g.cfg.SecretKey, hash)
}

// verify logs enough to review a rejected notification: raw parameters and
// both digests. The secret itself is never logged.
func (g *Gateway) verify(ctx context.Context, kind string, params map[string]string) (map[string]string, bool) {
	fields, received := splitHash(params)
	if signature.Verify(fields, g.cfg.SecretKey, received) {
		return fields, true
	}
	logging.FromContext(ctx, g.log).Warn("vnpay_invalid_signature",
		zap.String("kind", kind),
		zap.Any("params", params),
		zap.String("computed_hash", signature.Sign(fields, g.cfg.SecretKey)),
		zap.String("received_hash", received),
	)
	return nil, false
}

func toGatewayAmount(total decimal.Decimal) string {
	return total.Shift(2).Truncate(0).String()
}

// txnRef is the first 8 hex characters of the order id followed by 8 random digits.
func txnRef(orderID string) (string, error) {
	prefix := strings.ReplaceAll(orderID, "-", "")
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%08d", prefix, n.Int64()), nil
}

var errAlreadyPaid = apperr.New(apperr.CodeConflict, "payment already confirmed")

// settle applies one verified notification inside a single transaction and
// returns the IPN code describing the outcome.
func (g *Gateway) settle(ctx context.Context, kind string, fields map[string]string) (string, string) {
	log := logging.FromContext(ctx, g.log).With(zap.String("kind", kind))

	orderID, ok := ExtractOrderID(fields[ParamOrderInfo])
	if !ok {
		log.Warn("vnpay_order_reference_missing", zap.String("order_info", fields[ParamOrderInfo]))
		return RspOrderNotFound, ""
	}
	log = log.With(zap.String("order_id", orderID))

	paid := paidSuccessfully(fields)
	now := g.now().UTC()
	var pending bool

	err := g.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		pending = o.Status == orders.StatusPending

		expected := toGatewayAmount(o.GrandTotal)
		notified, err := decimal.NewFromString(fields[ParamAmount])
		if err != nil || !notified.Equal(o.GrandTotal.Shift(2)) {
			log.Warn("vnpay_amount_mismatch",
				zap.Any("params", fields),
				zap.String("expected_amount", expected),
				zap.String("notified_amount", fields[ParamAmount]),
			)
			return apperr.New(apperr.CodeAmountMismatch, "notified amount %q does not match order total %s",
				fields[ParamAmount], expected)
		}

		p, err := tx.Payments().GetByOrder(ctx, orderID)
		switch {
		case err == nil && p.Status == orders.PaymentPaid:
			return errAlreadyPaid
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return err
		case err != nil:
			p = orders.Payment{
				OrderID:   orderID,
				Method:    orders.PaymentMethodEWallet,
				Provider:  orders.ProviderVNPay,
				Amount:    o.GrandTotal,
				CreatedAt: now,
			}
		}

		p.TransactionID = fields[ParamTransactionNo]
		p.GatewayResponse = fields
		p.UpdatedAt = now
		if paid {
			paidAt := ParsePayDate(fields[ParamPayDate], now)
			p.Status = orders.PaymentPaid
			p.PaidAt = &paidAt
			o.PaymentStatus = orders.PaymentPaid
			o.HasPaid = true
		} else {
			p.Status = orders.PaymentFailed
			o.PaymentStatus = orders.PaymentFailed
		}
		o.UpdatedAt = now

		if err := tx.Payments().Upsert(ctx, p); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		msg, err := orders.NewOutboxMessage(g.producer, orders.TopicPaymentSettled, orders.EventPaymentSettled, orderID,
			orders.PaymentSettledPayload{
				OrderID:       orderID,
				PaymentStatus: p.Status,
				TransactionID: p.TransactionID,
				Amount:        p.Amount.String(),
			}, now)
		if err != nil {
			return err
		}
		return tx.Outbox().Enqueue(ctx, msg)
	})

	switch {
	case err == nil:
	case errors.Is(err, errAlreadyPaid):
		log.Info("vnpay_payment_already_confirmed")
		// An earlier notification recorded the payment but its confirmation
		// failed; the resend is the retry.
		if pending && !g.confirmPaid(ctx, log, orderID) {
			return RspUnknownError, orderID
		}
		return RspAlreadyConfirmed, orderID
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn("vnpay_order_not_found")
		return RspOrderNotFound, orderID
	case errors.Is(err, apperr.ErrAmountMismatch):
		return RspInvalidAmount, orderID
	default:
		log.Error("vnpay_settle_failed", zap.Error(err))
		return RspUnknownError, orderID
	}

	if !paid {
		log.Warn("vnpay_payment_failed", zap.String("response_code", fields[ParamResponseCode]))
		return RspSuccess, orderID
	}
	log.Info("vnpay_payment_settled", zap.String("transaction_id", fields[ParamTransactionNo]))
	if !g.confirmPaid(ctx, log, orderID) {
		// 99 makes the gateway resend, which retries the confirmation.
		return RspUnknownError, orderID
	}
	return RspSuccess, orderID
}

// confirmPaid confirms a PENDING order after its payment committed. It runs in
// its own transaction; an order that already left PENDING is left as is. It
// reports false only when the confirmation should be retried.
func (g *Gateway) confirmPaid(ctx context.Context, log *zap.Logger, orderID string) bool {
	if g.confirmer == nil {
		return true
	}
	_, err := g.confirmer.ConfirmOrder(ctx, orderID)
	switch {
	case err == nil:
		log.Info("vnpay_paid_order_confirmed")
	case errors.Is(err, apperr.ErrInvalidTransition):
		log.Info("vnpay_paid_order_not_pending", zap.Error(err))
	default:
		log.Error("vnpay_paid_order_confirm_failed", zap.Error(err))
		return false
	}
	return true
}

func record(kind, code string) {
	metrics.GatewayNotifications.WithLabelValues(kind, code).Inc()
}
