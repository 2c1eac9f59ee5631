package payment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
)

// Store is the slice of the payment repository the engine mutates.
type Store interface {
	SavePayment(ctx context.Context, p domain.Payment) error
	SaveTransaction(ctx context.Context, t domain.PaymentTransaction) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetLatestPaymentByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	GetLatestTransaction(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentTransaction, error)
	UpdatePaymentState(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, gatewayTxID, gatewayStatus string) error
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error
	SumSuccessfulRefunds(ctx context.Context, originalTransactionID uuid.UUID) (float64, error)
}

// EventSink queues lifecycle events for fire-and-forget emission.
type EventSink interface {
	EmitStandalone(ctx context.Context, eventType, entityName string, entityID uuid.UUID, payload interface{}) error
}

const (
	EventPaymentInitiated  = "PaymentInitiated"
	EventPaymentProcessed  = "PaymentProcessed"
	EventPaymentFailed     = "PaymentFailed"
	EventPaymentRefunded   = "PaymentRefunded"
	EventPaymentReconciled = "PAYMENT_RECONCILED"
)

// Engine executes payments and refunds through a pluggable gateway strategy
// and keeps the local payment record in step with transaction outcomes.
type Engine struct {
	store    Store
	registry *Registry
	locks    *lock.Manager
	events   EventSink
	logger   observability.Logger
}

func NewEngine(store Store, registry *Registry, locks *lock.Manager, events EventSink, logger observability.Logger) *Engine {
	return &Engine{store: store, registry: registry, locks: locks, events: events, logger: logger}
}

type ProcessRequest struct {
	BookingID uuid.UUID
	UserID    string
	SagaID    string
	Amount    float64
	Currency  string
	Method    Method
}

// ProcessPayment persists the payment, delegates the charge to the provider
// strategy, records the resulting transaction and syncs the payment status
// from it. Lifecycle events are emitted only after the sync so consumers
// never observe a mismatched pair.
func (e *Engine) ProcessPayment(ctx context.Context, req ProcessRequest) (*domain.Payment, *domain.PaymentTransaction, error) {
	strategy, ok := e.registry.For(req.Method.Provider)
	if !ok {
		return nil, nil, errors.Wrapf(domain.ErrInvalidInput, "unknown payment provider %q", req.Method.Provider)
	}

	p := domain.NewPayment(req.BookingID, req.UserID, req.Amount, req.Currency, strategy.Name(), req.SagaID)
	prior, err := e.store.GetLatestPaymentByBooking(ctx, req.BookingID)
	switch {
	case err == nil:
		// A retried booking reuses its provider intent so the strategy can
		// refresh it instead of stacking abandoned authorizations.
		p.GatewayTransactionID = prior.GatewayTransactionID
	case !errors.Is(err, domain.ErrNotFound):
		return nil, nil, err
	}
	if err := e.store.SavePayment(ctx, p); err != nil {
		return nil, nil, err
	}
	e.emit(ctx, EventPaymentInitiated, p)

	charge, chargeErr := strategy.Charge(ctx, &p, req.Method)
	txn := domain.PaymentTransaction{
		ID:                   uuid.New(),
		PaymentID:            p.ID,
		Type:                 domain.TransactionPayment,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Status:               charge.Status,
		GatewayTransactionID: charge.TransactionID,
		FailureReason:        charge.FailureReason,
		FailureCode:          charge.FailureCode,
		CreatedAt:            time.Now(),
	}
	if chargeErr != nil {
		txn.Status = domain.PaymentError
		if txn.FailureReason == "" {
			txn.FailureReason = chargeErr.Error()
		}
	}
	if err := e.store.SaveTransaction(ctx, txn); err != nil {
		return nil, nil, err
	}

	p.Status = syncedStatus(txn.Status)
	p.GatewayTransactionID = txn.GatewayTransactionID
	p.GatewayStatus = charge.GatewayStatus
	if err := e.store.UpdatePaymentState(ctx, p.ID, p.Status, p.GatewayTransactionID, p.GatewayStatus); err != nil {
		return nil, nil, err
	}

	observability.PaymentsProcessed.WithLabelValues(p.Provider, string(p.Status)).Inc()
	if p.Status == domain.PaymentCompleted {
		e.emit(ctx, EventPaymentProcessed, p)
	} else {
		e.emit(ctx, EventPaymentFailed, p)
	}

	return &p, &txn, chargeErr
}

// syncedStatus derives Payment.status from the transaction outcome.
func syncedStatus(txStatus domain.PaymentStatus) domain.PaymentStatus {
	switch txStatus {
	case domain.PaymentCompleted:
		return domain.PaymentCompleted
	case domain.PaymentFailed, domain.PaymentDeclined, domain.PaymentError:
		return domain.PaymentFailed
	case domain.PaymentCancelled:
		return domain.PaymentCancelled
	default:
		return txStatus
	}
}

// ProcessRefund refunds against the original successful transaction. A nil
// amount refunds the full remaining balance. Refund application is
// serialized per payment through the lock manager so concurrent requests
// cannot both observe the same remainder.
func (e *Engine) ProcessRefund(ctx context.Context, originalTransactionID uuid.UUID, amount *float64, reason string) (*domain.PaymentTransaction, error) {
	orig, err := e.store.GetTransaction(ctx, originalTransactionID)
	if err != nil {
		return nil, err
	}
	if orig.Type != domain.TransactionPayment || !orig.Succeeded() {
		return nil, errors.Wrap(domain.ErrRefundValidation, "original transaction is not a completed payment")
	}

	p, err := e.store.GetPayment(ctx, orig.PaymentID)
	if err != nil {
		return nil, err
	}

	opID := "refund-" + uuid.New().String()
	held, err := e.locks.Acquire(ctx, "payment:"+p.ID.String(), "payment", opID, 30*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.locks.Release(ctx, held.LockID, opID); err != nil {
			e.logger.WithField("payment_id", p.ID.String()).Warn("failed to release refund lock: ", err)
		}
	}()

	refunded, err := e.store.SumSuccessfulRefunds(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	remaining := orig.Amount - refunded
	amt := remaining
	if amount != nil {
		amt = *amount
	}
	if amt <= 0 || amt > remaining {
		return nil, errors.Wrapf(domain.ErrRefundValidation,
			"refund %.2f exceeds refundable remainder %.2f", amt, remaining)
	}

	strategy, ok := e.registry.For(p.Provider)
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown payment provider %q", p.Provider)
	}

	result, refundErr := strategy.Refund(ctx, orig.GatewayTransactionID, MinorUnits(amt), reason)
	txn := domain.PaymentTransaction{
		ID:                    uuid.New(),
		PaymentID:             p.ID,
		Type:                  domain.TransactionRefund,
		Amount:                amt,
		Currency:              p.Currency,
		Status:                result.Status,
		GatewayTransactionID:  result.TransactionID,
		OriginalTransactionID: &orig.ID,
		FailureReason:         result.FailureReason,
		FailureCode:           result.FailureCode,
		CreatedAt:             time.Now(),
	}
	if refundErr != nil {
		txn.Status = domain.PaymentError
		if txn.FailureReason == "" {
			txn.FailureReason = refundErr.Error()
		}
	}
	if err := e.store.SaveTransaction(ctx, txn); err != nil {
		return nil, err
	}

	if txn.Succeeded() && refunded+amt >= p.Amount {
		if err := e.store.UpdatePaymentState(ctx, p.ID, domain.PaymentRefundCompleted, p.GatewayTransactionID, p.GatewayStatus); err != nil {
			return nil, err
		}
		p.Status = domain.PaymentRefundCompleted
	}
	if txn.Succeeded() {
		e.emit(ctx, EventPaymentRefunded, *p)
	}

	return &txn, refundErr
}

func (e *Engine) emit(ctx context.Context, eventType string, p domain.Payment) {
	payload := map[string]interface{}{
		"paymentId": p.ID,
		"bookingId": p.BookingID,
		"sagaId":    p.SagaID,
		"status":    string(p.Status),
		"amount":    p.Amount,
		"currency":  p.Currency,
		"provider":  p.Provider,
	}
	if err := e.events.EmitStandalone(ctx, eventType, "payment", p.ID, payload); err != nil {
		e.logger.WithField("payment_id", p.ID.String()).Warn("failed to queue payment event: ", err)
	}
}
