package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationFailed    ErrorCode = "validation_failed"
	AccountNotFound     ErrorCode = "account_not_found"
	InsufficientFunds   ErrorCode = "insufficient_funds"
	CurrencyMismatch    ErrorCode = "currency_mismatch"
	AccountFrozen       ErrorCode = "account_frozen"
	ConcurrencyConflict ErrorCode = "concurrency_conflict"
	DuplicateMessage    ErrorCode = "duplicate_message"
	InternalError       ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// HTTPStatus maps the error taxonomy to response classes. Conflict-class codes
// (frozen, concurrency) are kept distinct from validation failures so clients
// know to retry rather than fix input.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationFailed:
		return http.StatusBadRequest
	case AccountNotFound:
		return http.StatusNotFound
	case InsufficientFunds, CurrencyMismatch:
		return http.StatusUnprocessableEntity
	case AccountFrozen, ConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// AsAppError unwraps err into an *AppError, or wraps it as an internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(InternalError, "an unexpected error occurred").WithDetails(err.Error())
}

// Predefined errors for common cases
var (
	ErrAccountNotFound     = NewAppError(AccountNotFound, "account not found")
	ErrInsufficientFunds   = NewAppError(InsufficientFunds, "insufficient funds")
	ErrCurrencyMismatch    = NewAppError(CurrencyMismatch, "currency does not match account currency")
	ErrAccountFrozen       = NewAppError(AccountFrozen, "account is frozen")
	ErrConcurrencyConflict = NewAppError(ConcurrencyConflict, "concurrent modification detected")
	ErrDuplicateMessage    = NewAppError(DuplicateMessage, "message already consumed")
)

// IsConcurrencyConflict reports whether err carries the store's
// serialization-failure signal surfaced as a typed conflict. Consumers use it
// as their retry predicate.
func IsConcurrencyConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ConcurrencyConflict
}
