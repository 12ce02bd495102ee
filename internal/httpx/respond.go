package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByCode = map[apperr.Code]int{
	apperr.CodeValidation:             http.StatusBadRequest,
	apperr.CodeForbidden:              http.StatusForbidden,
	apperr.CodeNotFound:               http.StatusNotFound,
	apperr.CodeConflict:               http.StatusConflict,
	apperr.CodeInsufficientStock:      http.StatusConflict,
	apperr.CodeInvalidTransition:      http.StatusConflict,
	apperr.CodeInvalidSignature:       http.StatusBadRequest,
	apperr.CodeAmountMismatch:         http.StatusBadRequest,
	apperr.CodeInventoryInconsistency: http.StatusInternalServerError,
}

// writeError maps err onto its taxonomy status. Inventory inconsistencies and
// unclassified errors are logged and answered with a generic body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), nil).Error("request_failed", zap.String("code", string(code)), zap.Error(err))
		writeJSON(w, status, errorBody{Code: code, Message: "internal error"})
		return
	}

	body := errorBody{Code: code, Message: err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		body.Message = e.Message
		body.Details = e.Details
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: apperr.CodeValidation, Message: msg})
}
