package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-secure-checkout/internal/confirm"
	"github.com/ariefcatur/go-secure-checkout/internal/memstore"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/ariefcatur/go-secure-checkout/internal/signature"
	"github.com/ariefcatur/go-secure-checkout/internal/vnpay"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const secret = "http-test-secret"

type api struct {
	router *chi.Mux
	svc    *orders.Service
	tokens *confirm.TokenService
	store  *memstore.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := zaptest.NewLogger(t)
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	store := memstore.New()
	store.AddProduct("p-1", decimal.NewFromInt(100000), true, 10)
	store.AddProduct("p-2", decimal.NewFromInt(25000), true, 1)
	svc := orders.NewService(store, log, "checkout-api")
	tokens := confirm.NewTokenService(rdb, svc, "https://shop.example", log)
	gw := vnpay.NewGateway(vnpay.Config{
		TmnCode:    "TMN01",
		SecretKey:  secret,
		PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example/vnpay-return",
	}, store, svc, log, "checkout-api")

	r := NewRouter(log)
	(&OrdersHandler{Orders: svc, Tokens: tokens, Status: confirm.NewStatusCache(rdb, svc, log)}).Register(r)
	(&PaymentsHandler{Gateway: gw}).Register(r)
	return &api{router: r, svc: svc, tokens: tokens, store: store}
}

func (a *api) do(t *testing.T, method, target, body, user, role string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (a *api) createOrder(t *testing.T) string {
	t.Helper()
	rec, body := a.do(t, http.MethodPost, "/api/orders",
		`{"items":[{"product_id":"p-1","quantity":2}],"shipping_fee":"30000","shipping_address":{"city":"Hanoi"}}`, "u-1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["id"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	rec, _ := a.do(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, _ = a.do(t, http.MethodGet, "/metrics", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkout_http_request_duration_seconds")
}

func TestCreateOrder(t *testing.T) {
	a := newAPI(t)

	rec, body := a.do(t, http.MethodPost, "/api/orders", `{"items":[{"product_id":"p-1","quantity":1}]}`, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])

	rec, body = a.do(t, http.MethodPost, "/api/orders",
		`{"items":[{"product_id":"p-1","quantity":2}],"shipping_fee":"30000"}`, "u-1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "UNPAID", body["payment_status"])
	assert.Equal(t, "230000", body["grand_total"])

	rec, body = a.do(t, http.MethodPost, "/api/orders", `{"items":[]}`, "u-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	rec, body = a.do(t, http.MethodPost, "/api/orders", `{"items":[{"product_id":"p-2","quantity":2}]}`, "u-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["code"])

	rec, _ = a.do(t, http.MethodPost, "/api/orders", `{`, "u-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadOrders(t *testing.T) {
	a := newAPI(t)
	id := a.createOrder(t)

	rec, body := a.do(t, http.MethodGet, "/api/orders/"+id, "", "u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, body = a.do(t, http.MethodGet, "/api/orders/"+id, "", "u-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	rec, _ = a.do(t, http.MethodGet, "/api/orders/"+id, "", "ops", "admin")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = a.do(t, http.MethodGet, "/api/orders/00000000-0000-0000-0000-000000000000", "", "u-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	rec, _ = a.do(t, http.MethodGet, "/api/orders", "", "u-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec, _ = a.do(t, http.MethodGet, "/api/orders", "", "u-2", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestTransitions(t *testing.T) {
	a := newAPI(t)
	id := a.createOrder(t)

	rec, _ := a.do(t, http.MethodPatch, "/api/orders/"+id+"/confirm", "", "u-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := a.do(t, http.MethodGet, "/api/orders/"+id+"/confirmation-status", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["confirmed"])

	rec, body = a.do(t, http.MethodPatch, "/api/orders/"+id+"/confirm", "", "ops", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "WAITING_FOR_DELIVERY", body["status"])

	rec, body = a.do(t, http.MethodPatch, "/api/orders/"+id+"/cancel", "", "ops", "admin")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", body["code"])

	rec, body = a.do(t, http.MethodGet, "/api/orders/"+id+"/confirmation-status", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["confirmed"])
	assert.Equal(t, id, body["orderId"])

	rec, body = a.do(t, http.MethodPatch, "/api/orders/"+id+"/deliver", "", "ops", "ADMIN")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DELIVERED", body["status"])

	rec, _ = a.do(t, http.MethodGet, "/api/orders/missing/confirmation-status", "", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmByEmailLink(t *testing.T) {
	a := newAPI(t)
	id := a.createOrder(t)

	link, err := a.tokens.Issue(context.Background(), id)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")

	rec, body := a.do(t, http.MethodGet, "/api/orders/confirm-email?token="+url.QueryEscape(token), "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = a.do(t, http.MethodGet, "/api/orders/confirm-email?token="+url.QueryEscape(token), "", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])

	d, err := a.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusWaitingForDelivery, d.Status)
}

func signed(orderID, amount, responseCode string) url.Values {
	p := map[string]string{
		vnpay.ParamTmnCode:           "TMN01",
		vnpay.ParamAmount:            amount,
		vnpay.ParamOrderInfo:         "Thanh toan don hang - OrderID: " + orderID,
		vnpay.ParamTxnRef:            "abcd123412345678",
		vnpay.ParamResponseCode:      responseCode,
		vnpay.ParamTransactionStatus: responseCode,
		vnpay.ParamTransactionNo:     "14000001",
		vnpay.ParamPayDate:           "20240501101500",
	}
	v := url.Values{}
	for k, val := range p {
		v.Set(k, val)
	}
	v.Set(vnpay.ParamSecureHash, signature.Sign(p, secret))
	return v
}

func TestCreatePayment(t *testing.T) {
	a := newAPI(t)
	id := a.createOrder(t)

	rec, body := a.do(t, http.MethodPost, "/api/vnpay/create-payment", `{"orderId":"`+id+`","bankCode":"NCB"}`, "u-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "00", body["code"])
	assert.Contains(t, body["paymentUrl"], "vnp_Amount=23000000")

	rec, body = a.do(t, http.MethodPost, "/api/vnpay/create-payment", `{"orderId":"`+id+`"}`, "u-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "403", body["code"])

	rec, _ = a.do(t, http.MethodPost, "/api/vnpay/create-payment", `{}`, "u-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/api/vnpay/create-payment", `{"orderId":"nope"}`, "u-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "99", body["code"])
}

func TestIPNAlwaysAnswers200(t *testing.T) {
	a := newAPI(t)
	id := a.createOrder(t)
	params := signed(id, "23000000", "00")

	rec, body := a.do(t, http.MethodGet, "/api/vnpay/ipn?"+params.Encode(), "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "00", body["RspCode"])
	assert.Equal(t, "Confirm Success", body["Message"])

	req := httptest.NewRequest(http.MethodPost, "/api/vnpay/ipn", strings.NewReader(params.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	post := httptest.NewRecorder()
	a.router.ServeHTTP(post, req)
	require.Equal(t, http.StatusOK, post.Code)
	assert.JSONEq(t, `{"RspCode":"02","Message":"Order already confirmed"}`, post.Body.String())

	tampered := signed(id, "23000000", "00")
	tampered.Set(vnpay.ParamAmount, "100")
	rec, body = a.do(t, http.MethodGet, "/api/vnpay/ipn?"+tampered.Encode(), "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "97", body["RspCode"])

	d, err := a.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, d.HasPaid)
	assert.Equal(t, orders.StatusWaitingForDelivery, d.Status)
}

func TestPaymentCallback(t *testing.T) {
	a := newAPI(t)
	id := a.createOrder(t)

	bad := signed(id, "23000000", "00")
	bad.Set(vnpay.ParamSecureHash, "deadbeef")
	rec, body := a.do(t, http.MethodGet, "/api/vnpay/payment-callback?"+bad.Encode(), "", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", body["code"])

	rec, body = a.do(t, http.MethodGet, "/api/vnpay/payment-callback?"+signed(id, "23000000", "24").Encode(), "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, id, body["orderId"])
	assert.Equal(t, "24", body["vnp_ResponseCode"])
}

func TestValidateSignature(t *testing.T) {
	a := newAPI(t)
	params := signed("00000000-0000-0000-0000-000000000001", "100", "00")
	raw, err := json.Marshal(flatten(params))
	require.NoError(t, err)

	rec, _ := a.do(t, http.MethodPost, "/api/vnpay/validate-signature", string(raw), "u-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := a.do(t, http.MethodPost, "/api/vnpay/validate-signature", string(raw), "ops", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["isValid"])

	rec, body = a.do(t, http.MethodPost, "/api/vnpay/validate-signature", `{"vnp_Amount":"1","vnp_SecureHash":"x"}`, "ops", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["isValid"])
}
