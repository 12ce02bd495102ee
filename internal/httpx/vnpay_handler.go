package httpx

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/vnpay"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentsHandler struct {
	Gateway *vnpay.Gateway
}

type CreatePaymentReq struct {
	OrderID   string `json:"orderId"`
	BankCode  string `json:"bankCode"`
	Language  string `json:"language"`
	OrderInfo string `json:"orderInfo"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Route("/api/vnpay", func(r chi.Router) {
		r.Get("/payment-callback", h.paymentCallback)
		r.Get("/ipn", h.ipn)
		r.Post("/ipn", h.ipn)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Post("/create-payment", h.createPayment)
			r.With(adminOnly).Post("/validate-signature", h.validateSignature)
		})
	})
}

func (h *PaymentsHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.OrderID == "" {
		badRequest(w, "orderId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := h.Gateway.CreatePaymentURL(ctx, vnpay.PaymentRequest{
		OrderID:   req.OrderID,
		UserID:    viewer(r).UserID,
		BankCode:  req.BankCode,
		Language:  req.Language,
		OrderInfo: req.OrderInfo,
		ClientIP:  clientIP(r),
	})
	switch resp.Code {
	case vnpay.CodeSuccess:
		writeJSON(w, http.StatusOK, resp)
	case vnpay.CodeForbidden:
		writeJSON(w, http.StatusForbidden, resp)
	case vnpay.CodeConflict:
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusBadRequest, resp)
	}
}

func (h *PaymentsHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Gateway.ProcessCallback(ctx, flatten(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ipn always answers 200; the gateway reads only RspCode.
func (h *PaymentsHandler) ipn(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.FromContext(r.Context(), nil).Error("vnpay_ipn_panic", zap.Any("panic", rec))
			writeJSON(w, http.StatusOK, vnpay.NewIPNResponse(vnpay.RspUnknownError))
		}
	}()

	if err := r.ParseForm(); err != nil {
		logging.FromContext(r.Context(), nil).Warn("vnpay_ipn_bad_form", zap.Error(err))
		writeJSON(w, http.StatusOK, vnpay.NewIPNResponse(vnpay.RspUnknownError))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, h.Gateway.ProcessIPN(ctx, flatten(r.Form)))
}

func (h *PaymentsHandler) validateSignature(w http.ResponseWriter, r *http.Request) {
	var params map[string]string
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		badRequest(w, "invalid json")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isValid": h.Gateway.ValidateSignature(params)})
}

// flatten keeps the first value of each parameter.
func flatten(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

// clientIP relies on middleware.RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
