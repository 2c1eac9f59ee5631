package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
)

// ReconcileResult reports how local payment truth compared against the
// gateway's. Reconciled is never true alongside discrepancies; AutoUpdated
// is set only when the gateway status was definitive.
type ReconcileResult struct {
	PaymentID      uuid.UUID `json:"paymentId"`
	Reconciled     bool      `json:"reconciled"`
	AutoUpdated    bool      `json:"autoUpdated"`
	NeedsAttention bool      `json:"needsAttention"`
	Discrepancies  []string  `json:"discrepancies,omitempty"`
}

func definitive(gatewayStatus string) bool {
	return gatewayStatus == "succeeded" || gatewayStatus == "canceled"
}

func displayName(provider string) string {
	if provider == "" {
		return provider
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}

// Reconcile fetches the gateway's canonical intent for the payment's most
// recent transaction and cross-checks status, transaction status, amount and
// currency, comparing amounts in the gateway minor unit. Provable drift
// (definitive gateway status differing from local) is auto-corrected; any
// other mismatch is only reported.
func (e *Engine) Reconcile(ctx context.Context, paymentID uuid.UUID) (*ReconcileResult, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	latest, err := e.store.GetLatestTransaction(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if latest.GatewayTransactionID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "payment has no gateway transaction to reconcile")
	}

	strategy, ok := e.registry.For(p.Provider)
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown payment provider %q", p.Provider)
	}

	intent, err := strategy.RetrieveIntent(ctx, latest.GatewayTransactionID)
	if err != nil {
		return nil, err
	}

	gw := displayName(strategy.Name())
	mapped := MapGatewayStatus(intent.Status)

	var discrepancies []string
	if mapped != p.Status {
		discrepancies = append(discrepancies,
			fmt.Sprintf("Payment status: Local=%s, %s=%s", p.Status, gw, intent.Status))
	}
	if mapped != latest.Status {
		discrepancies = append(discrepancies,
			fmt.Sprintf("Transaction status: Local=%s, %s=%s", latest.Status, gw, intent.Status))
	}
	if localMinor := MinorUnits(p.Amount); localMinor != intent.AmountMinor {
		discrepancies = append(discrepancies,
			fmt.Sprintf("Amount: Local=%d, %s=%d", localMinor, gw, intent.AmountMinor))
	}
	if !strings.EqualFold(p.Currency, intent.Currency) {
		discrepancies = append(discrepancies,
			fmt.Sprintf("Currency: Local=%s, %s=%s", p.Currency, gw, intent.Currency))
	}

	result := &ReconcileResult{PaymentID: p.ID, Discrepancies: discrepancies}
	if len(discrepancies) == 0 {
		result.Reconciled = true
		return result, nil
	}

	observability.ReconciliationDiscrepancies.Add(float64(len(discrepancies)))

	if definitive(intent.Status) && mapped != p.Status {
		if err := e.autoCorrect(ctx, p, latest, mapped, intent.Status); err != nil {
			return nil, err
		}
		result.AutoUpdated = true
		return result, nil
	}

	result.NeedsAttention = true
	return result, nil
}

// autoCorrect applies the gateway's definitive state to the local payment
// and transaction, serialized per payment through the lock manager so a
// concurrent refund or status sync cannot interleave.
func (e *Engine) autoCorrect(ctx context.Context, p *domain.Payment, latest *domain.PaymentTransaction, status domain.PaymentStatus, gatewayStatus string) error {
	opID := "reconcile-" + uuid.New().String()
	held, err := e.locks.Acquire(ctx, "payment:"+p.ID.String(), "payment", opID, 30*time.Second)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.locks.Release(ctx, held.LockID, opID); err != nil {
			e.logger.WithField("payment_id", p.ID.String()).Warn("failed to release reconcile lock: ", err)
		}
	}()

	if err := e.store.UpdatePaymentState(ctx, p.ID, status, latest.GatewayTransactionID, gatewayStatus); err != nil {
		return err
	}
	if err := e.store.UpdateTransactionStatus(ctx, latest.ID, status); err != nil {
		return err
	}
	p.Status = status
	p.GatewayStatus = gatewayStatus

	e.emit(ctx, EventPaymentReconciled, *p)
	return nil
}
