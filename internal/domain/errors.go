package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrReservationConflict  = errors.New("reservation conflict")
	ErrLockOwnerMismatch    = errors.New("lock owner mismatch")
	ErrRefundValidation     = errors.New("refund validation failed")
)

// GatewayError wraps a payment provider failure with the provider's own
// error code so callers never see raw transport errors.
type GatewayError struct {
	Provider string
	Code     string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
