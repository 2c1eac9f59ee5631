package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
)

func (r *Repository) CreatePayment(ctx context.Context, tx pgx.Tx, p domain.Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (
			id, reference, booking_id, user_id, amount, currency, status,
			provider, gateway_transaction_id, gateway_status, saga_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.Reference, p.BookingID, p.UserID, p.Amount, p.Currency, p.Status,
		p.Provider, p.GatewayTransactionID, p.GatewayStatus, p.SagaID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, reference, booking_id, user_id, amount, currency, status,
			provider, gateway_transaction_id, gateway_status, saga_id, created_at, updated_at
		FROM payments WHERE id = $1
	`, id).Scan(&p.ID, &p.Reference, &p.BookingID, &p.UserID, &p.Amount, &p.Currency,
		&p.Status, &p.Provider, &p.GatewayTransactionID, &p.GatewayStatus, &p.SagaID,
		&p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetLatestPaymentByBooking returns the most recent payment attempt for a
// booking, whose gateway intent a retry refreshes.
func (r *Repository) GetLatestPaymentByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	err := r.pool.QueryRow(ctx, `
		SELECT id, reference, booking_id, user_id, amount, currency, status,
			provider, gateway_transaction_id, gateway_status, saga_id, created_at, updated_at
		FROM payments WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1
	`, bookingID).Scan(&p.ID, &p.Reference, &p.BookingID, &p.UserID, &p.Amount, &p.Currency,
		&p.Status, &p.Provider, &p.GatewayTransactionID, &p.GatewayStatus, &p.SagaID,
		&p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) UpdatePaymentState(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, gatewayTxID, gatewayStatus string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = $2, gateway_transaction_id = $3,
			gateway_status = $4, updated_at = now()
		WHERE id = $1
	`, id, status, gatewayTxID, gatewayStatus)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) CreateTransaction(ctx context.Context, tx pgx.Tx, t domain.PaymentTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_transactions (
			id, payment_id, transaction_type, amount, currency, status,
			gateway_transaction_id, original_transaction_id, failure_reason, failure_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.PaymentID, t.Type, t.Amount, t.Currency, t.Status,
		t.GatewayTransactionID, t.OriginalTransactionID, t.FailureReason, t.FailureCode, t.CreatedAt)
	return err
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	err := row.Scan(&t.ID, &t.PaymentID, &t.Type, &t.Amount, &t.Currency, &t.Status,
		&t.GatewayTransactionID, &t.OriginalTransactionID, &t.FailureReason, &t.FailureCode, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const transactionColumns = `
	id, payment_id, transaction_type, amount, currency, status,
	gateway_transaction_id, original_transaction_id, failure_reason, failure_code, created_at`

func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT`+transactionColumns+` FROM payment_transactions WHERE id = $1`, id))
}

// GetLatestTransaction returns the most recent transaction for a payment,
// the one whose gateway id reconciliation runs against.
func (r *Repository) GetLatestTransaction(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentTransaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT`+transactionColumns+` FROM payment_transactions WHERE payment_id = $1 ORDER BY created_at DESC LIMIT 1`, paymentID))
}

func (r *Repository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE payment_transactions SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SumSuccessfulRefunds totals settled REFUND transactions that back-reference
// the given original transaction.
func (r *Repository) SumSuccessfulRefunds(ctx context.Context, originalTransactionID uuid.UUID) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payment_transactions
		WHERE original_transaction_id = $1 AND transaction_type = $2 AND status = $3
	`, originalTransactionID, domain.TransactionRefund, domain.PaymentCompleted).Scan(&sum)
	return sum, err
}

// SavePayment persists a payment outside a surrounding transaction.
func (r *Repository) SavePayment(ctx context.Context, p domain.Payment) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return r.CreatePayment(ctx, tx, p)
	})
}

// SaveTransaction persists a transaction outside a surrounding transaction.
func (r *Repository) SaveTransaction(ctx context.Context, t domain.PaymentTransaction) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return r.CreateTransaction(ctx, tx, t)
	})
}
