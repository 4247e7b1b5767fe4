// Package errors provides the typed error taxonomy shared by the vault engine
// and its HTTP surface.
//
// Every failure returned by the engine is a *ServiceError carrying a stable
// Code, a human-readable Message, the HTTP status used by the API layer and a
// Details map with enough context (vault id, item id, required vs supplied
// amounts) for a caller to correct and resubmit.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Vault engine codes
	CodeNotEligible          ErrorCode = "NOT_ELIGIBLE"
	CodeAlreadyEligible      ErrorCode = "ALREADY_ELIGIBLE"
	CodeAlreadyRequested     ErrorCode = "ALREADY_REQUESTED"
	CodeNotPending           ErrorCode = "NOT_PENDING"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeNotOwner             ErrorCode = "NOT_OWNER"
	CodeInsufficientPayment  ErrorCode = "INSUFFICIENT_PAYMENT"
	CodeInsufficientReserve  ErrorCode = "INSUFFICIENT_RESERVE"
	CodeInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	CodeInsufficientHoldings ErrorCode = "INSUFFICIENT_HOLDINGS"
	CodeVaultFinalized       ErrorCode = "VAULT_FINALIZED"
	CodeVaultNotFound        ErrorCode = "VAULT_NOT_FOUND"
	CodeAlreadyBound         ErrorCode = "ALREADY_BOUND"
	CodeReentrant            ErrorCode = "REENTRANT_CALL"

	// Transport codes
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type returned across package boundaries.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ServiceError with the same code, so that
// errors.Is(err, errors.ErrNotEligible) works for any NOT_ELIGIBLE failure.
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	cp := *e
	cp.Details = details
	return &cp
}

// New creates a ServiceError.
func New(code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// Wrap creates a ServiceError around a cause.
func Wrap(code ErrorCode, message string, status int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// Sentinels for errors.Is matching.
var (
	ErrNotEligible          = New(CodeNotEligible, "item is not eligible", http.StatusUnprocessableEntity)
	ErrAlreadyEligible      = New(CodeAlreadyEligible, "item is already eligible", http.StatusConflict)
	ErrAlreadyRequested     = New(CodeAlreadyRequested, "mint request already pending", http.StatusConflict)
	ErrNotPending           = New(CodeNotPending, "no pending mint request", http.StatusConflict)
	ErrUnauthorized         = New(CodeUnauthorized, "unauthorized", http.StatusUnauthorized)
	ErrNotOwner             = New(CodeNotOwner, "caller does not own item", http.StatusForbidden)
	ErrInsufficientPayment  = New(CodeInsufficientPayment, "insufficient payment", http.StatusPaymentRequired)
	ErrInsufficientReserve  = New(CodeInsufficientReserve, "insufficient reserve", http.StatusConflict)
	ErrInsufficientBalance  = New(CodeInsufficientBalance, "insufficient balance", http.StatusConflict)
	ErrInsufficientHoldings = New(CodeInsufficientHoldings, "insufficient holdings", http.StatusConflict)
	ErrVaultFinalized       = New(CodeVaultFinalized, "vault is finalized", http.StatusConflict)
	ErrVaultNotFound        = New(CodeVaultNotFound, "vault not found", http.StatusNotFound)
	ErrAlreadyBound         = New(CodeAlreadyBound, "claim token already bound", http.StatusConflict)
	ErrReentrant            = New(CodeReentrant, "re-entrant vault call", http.StatusConflict)
	ErrInvalidInput         = New(CodeInvalidInput, "invalid input", http.StatusBadRequest)
)
