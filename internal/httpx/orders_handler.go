package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/confirm"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Orders *orders.Service
	Tokens *confirm.TokenService
	Status *confirm.StatusCache
}

type CreateOrderReq struct {
	Items           []orders.LineItem `json:"items"`
	ShippingFee     decimal.Decimal   `json:"shipping_fee"`
	ShippingAddress map[string]string `json:"shipping_address"`
}

type transitionFunc func(ctx context.Context, id string) (orders.Details, error)

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		// public: reached from the confirmation e-mail and the page it opens
		r.Get("/confirm-email", h.confirmByToken)
		r.Get("/{id}/confirmation-status", h.confirmationStatus)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)

			r.Group(func(r chi.Router) {
				r.Use(adminOnly)
				r.Patch("/{id}/confirm", h.transition(h.Orders.ConfirmOrder))
				r.Patch("/{id}/cancel", h.transition(h.Orders.CancelOrder))
				r.Patch("/{id}/deliver", h.transition(h.Orders.MarkDelivered))
			})
		})
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Orders.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:          viewer(r).UserID,
		Items:           req.Items,
		ShippingFee:     req.ShippingFee,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, viewer(r).UserID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	d, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"), viewer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		d, err := fn(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (h *OrdersHandler) confirmByToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ok, err := h.Tokens.Redeem(ctx, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "confirmation link is invalid or has expired",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "order confirmed"})
}

func (h *OrdersHandler) confirmationStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	confirmed, err := h.Status.Confirmed(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": id, "confirmed": confirmed})
}
