package vnpay

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ParamSecureHash        = "vnp_SecureHash"
	ParamSecureHashType    = "vnp_SecureHashType"
	ParamAmount            = "vnp_Amount"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamTxnRef            = "vnp_TxnRef"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamPayDate           = "vnp_PayDate"
	ParamBankCode          = "vnp_BankCode"
	ParamBankTranNo        = "vnp_BankTranNo"
	ParamCardType          = "vnp_CardType"
	ParamTmnCode           = "vnp_TmnCode"

	orderInfoMarker = "OrderID:"
	dateLayout      = "20060102150405"
)

// VNPay timestamps are wall-clock Asia/Ho_Chi_Minh, which has no DST.
var gatewayZone = time.FixedZone("ICT", 7*60*60)

// splitHash copies params without the signature fields and returns the
// received digest separately.
func splitHash(params map[string]string) (map[string]string, string) {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		out[k] = v
	}
	return out, params[ParamSecureHash]
}

// ExtractOrderID reads the order id embedded as "... OrderID: <uuid>" in
// vnp_OrderInfo. The last marker wins since the text before it is client input.
func ExtractOrderID(orderInfo string) (string, bool) {
	i := strings.LastIndex(orderInfo, orderInfoMarker)
	if i < 0 {
		return "", false
	}
	id, err := uuid.Parse(strings.TrimSpace(orderInfo[i+len(orderInfoMarker):]))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// ParsePayDate reads vnp_PayDate, falling back to now when it is absent or malformed.
func ParsePayDate(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	t, err := time.ParseInLocation(dateLayout, s, gatewayZone)
	if err != nil {
		return now
	}
	return t.UTC()
}

func formatDate(t time.Time) string { return t.In(gatewayZone).Format(dateLayout) }

// paidSuccessfully is the provider's success predicate.
func paidSuccessfully(params map[string]string) bool {
	if params[ParamResponseCode] != "00" {
		return false
	}
	st, ok := params[ParamTransactionStatus]
	return !ok || st == "" || st == "00"
}
