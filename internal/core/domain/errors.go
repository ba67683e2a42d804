package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAdjustment = errors.New("invalid stock adjustment")
	ErrPaymentRequired   = errors.New("payment required")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrTransientConflict = errors.New("transient conflict")

	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidTier     = errors.New("invalid tier")
	ErrInvalidWindow   = errors.New("invalid report window")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidAmount   = errors.New("invalid payment amount")

	ErrBusinessSuspended = fmt.Errorf("business suspended: %w", ErrForbidden)

	// ErrDuplicateKey is returned by storage when a unique key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}

// IsBusinessRule reports expected outcomes the caller can recover from
// (restock, pay). They are not failures and are not logged as such.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrPaymentRequired)
}
