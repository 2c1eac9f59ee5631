package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
)

const bookingColumns = `
	id, reference, saga_id, user_id, booking_type, status, saga_state,
	total_amount, currency, product_details, reservation_lock_id,
	reservation_locked_at, reservation_expires_at, confirmation_number,
	cancellation_reason, cancelled_at, created_at, updated_at`

func (r *Repository) CreateBooking(ctx context.Context, tx pgx.Tx, b domain.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (
			id, reference, saga_id, user_id, booking_type, status, saga_state,
			total_amount, currency, product_details, reservation_lock_id,
			reservation_locked_at, reservation_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, b.ID, b.Reference, b.SagaID, b.UserID, b.Type, b.Status, b.SagaState,
		b.TotalAmount, b.Currency, b.ProductDetails, b.ReservationLockID,
		b.ReservationLockedAt, b.ReservationExpiresAt, b.CreatedAt, b.UpdatedAt)
	return err
}

// CreateBookingWithEvent persists the booking and queues its analytics
// event in the same serializable transaction, so neither can exist without
// the other.
func (r *Repository) CreateBookingWithEvent(ctx context.Context, b domain.Booking, eventType string, payload interface{}) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.CreateBooking(ctx, tx, b); err != nil {
			return err
		}
		return r.Emit(ctx, tx, eventType, "booking", b.ID, payload)
	})
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.Reference, &b.SagaID, &b.UserID, &b.Type, &b.Status,
		&b.SagaState, &b.TotalAmount, &b.Currency, &b.ProductDetails,
		&b.ReservationLockID, &b.ReservationLockedAt, &b.ReservationExpiresAt,
		&b.ConfirmationNumber, &b.CancellationReason, &b.CancelledAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

func (r *Repository) GetBookingByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE reference = $1`, reference))
}

func (r *Repository) GetBookingBySagaID(ctx context.Context, sagaID string) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE saga_id = $1`, sagaID))
}

func (r *Repository) GetUserBookings(ctx context.Context, userID string) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// transitionableStatuses guards every UPDATE against rows whose lifecycle
// already ended. CONFIRMED/CANCELLED/FAILED rows stay immutable at the SQL
// level even if a caller skips the orchestrator's own check.
var transitionableStatuses = []string{
	string(domain.BookingPending),
	string(domain.BookingPaymentPending),
	string(domain.BookingPaymentFailed),
}

// rejectTransition turns a zero-row UPDATE into the precise error: the row
// is either missing or already terminal.
func (r *Repository) rejectTransition(ctx context.Context, id uuid.UUID) error {
	current, err := r.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(domain.ErrInvalidInput, "booking %s is %s, transition rejected", id, current.Status)
}

// UpdateBookingState persists a status/saga-state transition. Lock columns
// are cleared when clearLock is set; rows already in a terminal status are
// never touched.
func (r *Repository) UpdateBookingState(ctx context.Context, id uuid.UUID, status domain.BookingStatus, state domain.SagaState, clearLock bool) error {
	var result pgconn.CommandTag
	var err error
	if clearLock {
		result, err = r.pool.Exec(ctx, `
			UPDATE bookings SET status = $2, saga_state = $3,
				reservation_lock_id = NULL, reservation_locked_at = NULL,
				reservation_expires_at = NULL, updated_at = now()
			WHERE id = $1 AND status = ANY($4)
		`, id, status, state, transitionableStatuses)
	} else {
		result, err = r.pool.Exec(ctx, `
			UPDATE bookings SET status = $2, saga_state = $3, updated_at = now()
			WHERE id = $1 AND status = ANY($4)
		`, id, status, state, transitionableStatuses)
	}
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.rejectTransition(ctx, id)
	}
	return nil
}

func (r *Repository) ConfirmBooking(ctx context.Context, id uuid.UUID, confirmationNumber string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE bookings SET status = $2, saga_state = $3,
			confirmation_number = COALESCE(confirmation_number, $4),
			reservation_lock_id = NULL, reservation_locked_at = NULL,
			reservation_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($5)
	`, id, domain.BookingConfirmed, domain.SagaBookingCompleted, confirmationNumber, transitionableStatuses)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.rejectTransition(ctx, id)
	}
	return nil
}

func (r *Repository) CancelBooking(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE bookings SET status = $2, saga_state = $3,
			cancellation_reason = $4, cancelled_at = $5,
			reservation_lock_id = NULL, reservation_locked_at = NULL,
			reservation_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($6)
	`, id, domain.BookingCancelled, domain.SagaCancelled, reason, at, transitionableStatuses)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return r.rejectTransition(ctx, id)
	}
	return nil
}

// GetExpiredPendingBookings feeds the expiry sweep: PENDING bookings whose
// reservation hold has lapsed without the saga finishing.
func (r *Repository) GetExpiredPendingBookings(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE status = $1 AND reservation_expires_at IS NOT NULL AND reservation_expires_at <= $2
		ORDER BY reservation_expires_at ASC
		LIMIT $3
	`, domain.BookingPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}
