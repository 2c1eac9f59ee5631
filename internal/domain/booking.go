package domain

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBooking builds a PENDING booking with a fresh saga id when none was
// supplied by the caller.
func NewBooking(userID string, bookingType BookingType, amount float64, currency string, details json.RawMessage, sagaID string) Booking {
	if sagaID == "" {
		sagaID = "saga-" + uuid.New().String()
	}
	now := time.Now()
	return Booking{
		ID:             uuid.New(),
		Reference:      NewBookingReference(),
		SagaID:         sagaID,
		UserID:         userID,
		Type:           bookingType,
		Status:         BookingPending,
		SagaState:      SagaStarted,
		TotalAmount:    amount,
		Currency:       currency,
		ProductDetails: details,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewBookingReference generates the human-facing booking code, e.g. "BK-7XQ2M9KD".
func NewBookingReference() string {
	var b strings.Builder
	b.WriteString("BK-")
	for i := 0; i < 8; i++ {
		b.WriteByte(referenceAlphabet[rand.Intn(len(referenceAlphabet))])
	}
	return b.String()
}

// NewConfirmationNumber generates the code handed to the traveller once the
// booking is confirmed.
func NewConfirmationNumber() string {
	return fmt.Sprintf("CNF-%s", strings.ToUpper(uuid.New().String()[:12]))
}

func NewPayment(bookingID uuid.UUID, userID string, amount float64, currency, provider, sagaID string) Payment {
	now := time.Now()
	return Payment{
		ID:        uuid.New(),
		Reference: "PAY-" + strings.ToUpper(uuid.New().String()[:8]),
		BookingID: bookingID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Status:    PaymentPending,
		Provider:  provider,
		SagaID:    sagaID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
