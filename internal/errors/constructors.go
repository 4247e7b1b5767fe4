package errors

import (
	"math/big"
	"net/http"
)

// =============================================================================
// Vault engine constructors
// =============================================================================

func NotEligible(vaultID uint64, itemID string) *ServiceError {
	return ErrNotEligible.
		WithDetails("vault_id", vaultID).
		WithDetails("item_id", itemID)
}

func AlreadyEligible(vaultID uint64, itemID string) *ServiceError {
	return ErrAlreadyEligible.
		WithDetails("vault_id", vaultID).
		WithDetails("item_id", itemID)
}

func AlreadyRequested(vaultID uint64, itemID string) *ServiceError {
	return ErrAlreadyRequested.
		WithDetails("vault_id", vaultID).
		WithDetails("item_id", itemID)
}

func NotPending(vaultID uint64, itemID string) *ServiceError {
	return ErrNotPending.
		WithDetails("vault_id", vaultID).
		WithDetails("item_id", itemID)
}

// Unauthorized reports a wrong actor. The message names the missing role.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = ErrUnauthorized.Message
	}
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

func NotOwner(vaultID uint64, itemID, caller string) *ServiceError {
	return ErrNotOwner.
		WithDetails("vault_id", vaultID).
		WithDetails("item_id", itemID).
		WithDetails("caller", caller)
}

func InsufficientPayment(vaultID uint64, required, supplied *big.Int) *ServiceError {
	return ErrInsufficientPayment.
		WithDetails("vault_id", vaultID).
		WithDetails("required", required.String()).
		WithDetails("supplied", supplied.String())
}

func InsufficientReserve(vaultID uint64, required, available *big.Int) *ServiceError {
	return ErrInsufficientReserve.
		WithDetails("vault_id", vaultID).
		WithDetails("required", required.String()).
		WithDetails("available", available.String())
}

func InsufficientBalance(vaultID uint64, required, available *big.Int) *ServiceError {
	return ErrInsufficientBalance.
		WithDetails("vault_id", vaultID).
		WithDetails("required", required.String()).
		WithDetails("available", available.String())
}

func InsufficientHoldings(vaultID uint64, required, available int) *ServiceError {
	return ErrInsufficientHoldings.
		WithDetails("vault_id", vaultID).
		WithDetails("required", required).
		WithDetails("available", available)
}

func VaultFinalized(vaultID uint64) *ServiceError {
	return ErrVaultFinalized.WithDetails("vault_id", vaultID)
}

func VaultNotFound(vaultID uint64) *ServiceError {
	return ErrVaultNotFound.WithDetails("vault_id", vaultID)
}

func AlreadyBound(claimTokenRef string, vaultID uint64) *ServiceError {
	return ErrAlreadyBound.
		WithDetails("claim_token", claimTokenRef).
		WithDetails("vault_id", vaultID)
}

func Reentrant(vaultID uint64) *ServiceError {
	return ErrReentrant.WithDetails("vault_id", vaultID)
}

// InvalidInput reports a malformed request.
func InvalidInput(message string) *ServiceError {
	return &ServiceError{Code: CodeInvalidInput, Message: message, HTTPStatus: http.StatusBadRequest}
}

// =============================================================================
// Transport constructors
// =============================================================================

func InvalidFormat(field, reason string) *ServiceError {
	return InvalidInput("invalid format").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidToken,
		Message:    "invalid or expired token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return (&ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}).WithDetails("limit", limit).WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
