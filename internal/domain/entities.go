package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type BookingType string

const (
	BookingTypeFlight BookingType = "FLIGHT"
	BookingTypeHotel  BookingType = "HOTEL"
	BookingTypeCombo  BookingType = "COMBO"
)

type BookingStatus string

const (
	BookingPending        BookingStatus = "PENDING"
	BookingConfirmed      BookingStatus = "CONFIRMED"
	BookingCancelled      BookingStatus = "CANCELLED"
	BookingFailed         BookingStatus = "FAILED"
	BookingPaymentFailed  BookingStatus = "PAYMENT_FAILED"
	BookingPaymentPending BookingStatus = "PAYMENT_PENDING"
)

// ReleasesLock reports whether a transition into the status drops the
// reservation hold. PAYMENT_PENDING keeps the hold; every state a saga can
// finish on releases it.
func (s BookingStatus) ReleasesLock() bool {
	switch s {
	case BookingConfirmed, BookingCancelled, BookingFailed, BookingPaymentFailed:
		return true
	}
	return false
}

// Terminal reports whether the booking lifecycle ended in the status.
// Terminal rows are never transitioned again; PAYMENT_FAILED is not
// terminal so a failed charge can still be retried or cancelled.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingConfirmed, BookingCancelled, BookingFailed:
		return true
	}
	return false
}

type SagaState string

const (
	SagaStarted          SagaState = "SAGA_STARTED"
	SagaHotelReserved    SagaState = "HOTEL_RESERVED"
	SagaFlightReserved   SagaState = "FLIGHT_RESERVED"
	SagaReserved         SagaState = "RESERVED"
	SagaPaymentPending   SagaState = "PAYMENT_PENDING"
	SagaCompensating     SagaState = "COMPENSATING"
	SagaBookingCompleted SagaState = "BOOKING_COMPLETED"
	SagaCancelled        SagaState = "SAGA_CANCELLED"
)

type Booking struct {
	ID                   uuid.UUID
	Reference            string
	SagaID               string
	UserID               string
	Type                 BookingType
	Status               BookingStatus
	SagaState            SagaState
	TotalAmount          float64
	Currency             string
	ProductDetails       json.RawMessage
	ReservationLockID    *string
	ReservationLockedAt  *time.Time
	ReservationExpiresAt *time.Time
	ConfirmationNumber   *string
	CancellationReason   *string
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HoldsLock reports whether the booking still owns an active reservation lock.
func (b *Booking) HoldsLock() bool {
	return b.ReservationLockID != nil && *b.ReservationLockID != ""
}

type DistributedLock struct {
	ResourceKey  string
	ResourceType string
	OwnerSagaID  string
	LockID       string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
}

type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "PENDING"
	PaymentProcessing      PaymentStatus = "PROCESSING"
	PaymentCompleted       PaymentStatus = "COMPLETED"
	PaymentFailed          PaymentStatus = "FAILED"
	PaymentCancelled       PaymentStatus = "CANCELLED"
	PaymentDeclined        PaymentStatus = "DECLINED"
	PaymentError           PaymentStatus = "ERROR"
	PaymentRefundCompleted PaymentStatus = "REFUND_COMPLETED"
)

type Payment struct {
	ID                   uuid.UUID
	Reference            string
	BookingID            uuid.UUID
	UserID               string
	Amount               float64
	Currency             string
	Status               PaymentStatus
	Provider             string
	GatewayTransactionID string
	GatewayStatus        string
	SagaID               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type TransactionType string

const (
	TransactionPayment    TransactionType = "PAYMENT"
	TransactionRefund     TransactionType = "REFUND"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

type PaymentTransaction struct {
	ID                    uuid.UUID
	PaymentID             uuid.UUID
	Type                  TransactionType
	Amount                float64
	Currency              string
	Status                PaymentStatus
	GatewayTransactionID  string
	OriginalTransactionID *uuid.UUID
	FailureReason         string
	FailureCode           string
	CreatedAt             time.Time
}

// Succeeded reports whether the transaction settled at the gateway.
func (t *PaymentTransaction) Succeeded() bool {
	return t.Status == PaymentCompleted
}
