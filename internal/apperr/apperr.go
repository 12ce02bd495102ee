// Package apperr holds the machine-readable error taxonomy shared by the checkout core.
// Callers match on codes, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeNotFound               Code = "NOT_FOUND"
	CodeForbidden              Code = "FORBIDDEN"
	CodeConflict               Code = "CONFLICT"
	CodeInsufficientStock      Code = "INSUFFICIENT_STOCK"
	CodeInvalidTransition      Code = "INVALID_STATE_TRANSITION"
	CodeInvalidSignature       Code = "INVALID_SIGNATURE"
	CodeAmountMismatch         Code = "AMOUNT_MISMATCH"
	CodeInventoryInconsistency Code = "INVENTORY_INCONSISTENCY"
	CodeInternal               Code = "INTERNAL"
)

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrValidation             = &Error{Code: CodeValidation}
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrForbidden              = &Error{Code: CodeForbidden}
	ErrConflict               = &Error{Code: CodeConflict}
	ErrInsufficientStock      = &Error{Code: CodeInsufficientStock}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition}
	ErrInvalidSignature       = &Error{Code: CodeInvalidSignature}
	ErrAmountMismatch         = &Error{Code: CodeAmountMismatch}
	ErrInventoryInconsistency = &Error{Code: CodeInventoryInconsistency}
)

type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps cause reachable through errors.Unwrap.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// With returns a copy carrying one more detail entry.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf reports the first taxonomy code in err's chain, CodeInternal otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
