package vnpay

import (
	"context"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"go.uber.org/zap"
)

// IPN response codes. The gateway retries based on RspCode, so every IPN is
// answered with HTTP 200 and one of these.
const (
	RspSuccess          = "00"
	RspOrderNotFound    = "01"
	RspAlreadyConfirmed = "02"
	RspInvalidAmount    = "04"
	RspInvalidSignature = "97"
	RspUnknownError     = "99"
)

var rspMessages = map[string]string{
	RspSuccess:          "Confirm Success",
	RspOrderNotFound:    "Order not found",
	RspAlreadyConfirmed: "Order already confirmed",
	RspInvalidAmount:    "Invalid amount",
	RspInvalidSignature: "Invalid signature",
	RspUnknownError:     "Unknown error",
}

type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func NewIPNResponse(code string) IPNResponse {
	msg, ok := rspMessages[code]
	if !ok {
		code, msg = RspUnknownError, rspMessages[RspUnknownError]
	}
	return IPNResponse{RspCode: code, Message: msg}
}

// ProcessIPN handles the authoritative server-to-server notification. A
// replayed successful IPN returns RspAlreadyConfirmed and changes nothing.
func (g *Gateway) ProcessIPN(ctx context.Context, params map[string]string) IPNResponse {
	fields, ok := g.verify(ctx, "ipn", params)
	if !ok {
		record("ipn", RspInvalidSignature)
		return NewIPNResponse(RspInvalidSignature)
	}
	code, _ := g.settle(ctx, "ipn", fields)
	record("ipn", code)
	return NewIPNResponse(code)
}

// CallbackResult is the parsed browser return. Field names follow the
// gateway's parameter names so the storefront can read them unchanged;
// Outcome is the IPN code the same parameters produced when settled.
type CallbackResult struct {
	TmnCode           string            `json:"vnp_TmnCode,omitempty"`
	Amount            string            `json:"vnp_Amount,omitempty"`
	BankCode          string            `json:"vnp_BankCode,omitempty"`
	BankTranNo        string            `json:"vnp_BankTranNo,omitempty"`
	CardType          string            `json:"vnp_CardType,omitempty"`
	PayDate           string            `json:"vnp_PayDate,omitempty"`
	OrderInfo         string            `json:"vnp_OrderInfo,omitempty"`
	TransactionNo     string            `json:"vnp_TransactionNo,omitempty"`
	ResponseCode      string            `json:"vnp_ResponseCode,omitempty"`
	TransactionStatus string            `json:"vnp_TransactionStatus,omitempty"`
	TxnRef            string            `json:"vnp_TxnRef,omitempty"`
	SecureHash        string            `json:"vnp_SecureHash,omitempty"`
	OrderID           string            `json:"orderId,omitempty"`
	Success           bool              `json:"success"`
	Outcome           string            `json:"outcome"`
	AllParams         map[string]string `json:"allParams"`
}

// ProcessCallback verifies and parses the browser return and settles it
// through the same path as an IPN, since the return may be the only
// notification that reaches some deployments. Only a bad signature is an
// error; settlement outcomes are reported in Outcome.
func (g *Gateway) ProcessCallback(ctx context.Context, params map[string]string) (CallbackResult, error) {
	fields, ok := g.verify(ctx, "return", params)
	if !ok {
		record("return", RspInvalidSignature)
		return CallbackResult{}, apperr.New(apperr.CodeInvalidSignature, "invalid payment signature")
	}

	res := CallbackResult{
		TmnCode:           fields[ParamTmnCode],
		Amount:            fields[ParamAmount],
		BankCode:          fields[ParamBankCode],
		BankTranNo:        fields[ParamBankTranNo],
		CardType:          fields[ParamCardType],
		PayDate:           fields[ParamPayDate],
		OrderInfo:         fields[ParamOrderInfo],
		TransactionNo:     fields[ParamTransactionNo],
		ResponseCode:      fields[ParamResponseCode],
		TransactionStatus: fields[ParamTransactionStatus],
		TxnRef:            fields[ParamTxnRef],
		SecureHash:        params[ParamSecureHash],
		Success:           paidSuccessfully(fields),
		AllParams:         fields,
	}
	res.Outcome, res.OrderID = g.settle(ctx, "return", fields)
	record("return", res.Outcome)

	logging.FromContext(ctx, g.log).Info("vnpay_return_processed",
		zap.String("order_id", res.OrderID),
		zap.String("outcome", res.Outcome),
		zap.Bool("success", res.Success),
	)
	return res, nil
}
