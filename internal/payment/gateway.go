package payment

import (
	"context"
	"math"
	"strings"

	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
)

// Method selects the provider strategy and carries the instrument token the
// gateway needs to execute the charge.
type Method struct {
	Provider string
	Token    string
	Extra    map[string]string
}

// GatewayCharge is the provider's answer to a charge or refund attempt.
type GatewayCharge struct {
	TransactionID string
	Status        domain.PaymentStatus
	GatewayStatus string
	FailureReason string
	FailureCode   string
}

// GatewayIntent is the provider's canonical view of a payment, fetched with
// its latest charge expanded. Amounts are in the gateway's minor unit.
type GatewayIntent struct {
	ID             string
	Status         string
	AmountMinor    int64
	Currency       string
	LatestChargeID string
}

type GatewayStrategy interface {
	Name() string
	Charge(ctx context.Context, p *domain.Payment, method Method) (GatewayCharge, error)
	Refund(ctx context.Context, gatewayTxID string, amountMinor int64, reason string) (GatewayCharge, error)
	RetrieveIntent(ctx context.Context, gatewayTxID string) (*GatewayIntent, error)
}

// Registry holds the pluggable provider strategies, selected by
// Method.Provider.
type Registry struct {
	byName map[string]GatewayStrategy
}

func NewRegistry(strategies ...GatewayStrategy) *Registry {
	r := &Registry{byName: make(map[string]GatewayStrategy)}
	for _, s := range strategies {
		r.byName[strings.ToLower(s.Name())] = s
	}
	return r
}

func (r *Registry) For(provider string) (GatewayStrategy, bool) {
	s, ok := r.byName[strings.ToLower(provider)]
	return s, ok
}

// MapGatewayStatus maps provider status strings deterministically to the
// internal status. Unknown strings fail open to PENDING: a payment is never
// silently marked successful.
func MapGatewayStatus(s string) domain.PaymentStatus {
	switch s {
	case "succeeded":
		return domain.PaymentCompleted
	case "processing", "requires_capture":
		return domain.PaymentProcessing
	case "requires_action", "requires_payment_method", "requires_confirmation":
		return domain.PaymentPending
	case "canceled":
		return domain.PaymentCancelled
	case "payment_failed":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

// MinorUnits converts a 2-decimal major amount to the gateway minor unit.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
