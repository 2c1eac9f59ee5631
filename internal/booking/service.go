package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/payment"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

// Store is the authoritative booking repository surface the orchestrator
// mutates.
type Store interface {
	CreateBookingWithEvent(ctx context.Context, b domain.Booking, eventType string, payload interface{}) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*domain.Booking, error)
	GetBookingBySagaID(ctx context.Context, sagaID string) (*domain.Booking, error)
	GetUserBookings(ctx context.Context, userID string) ([]domain.Booking, error)
	UpdateBookingState(ctx context.Context, id uuid.UUID, status domain.BookingStatus, state domain.SagaState, clearLock bool) error
	ConfirmBooking(ctx context.Context, id uuid.UUID, confirmationNumber string) error
	CancelBooking(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	GetExpiredPendingBookings(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	EmitStandalone(ctx context.Context, eventType, entityName string, entityID uuid.UUID, payload interface{}) error
}

type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd saga.Command) error
}

// Projector maintains the denormalized history view on the query side.
type Projector interface {
	Project(ctx context.Context, b domain.Booking) error
}

// Auditor records lifecycle transitions in the audit trail. Failures are
// logged and swallowed, the trail is best effort.
type Auditor interface {
	LogBooking(ctx context.Context, action string, b domain.Booking) error
	LogPayment(ctx context.Context, action string, p domain.Payment) error
}

// Service owns the booking lifecycle state machine. It is the only path
// that touches the lock manager and emits saga commands.
type Service struct {
	store    Store
	locks    *lock.Manager
	pub      CommandPublisher
	payments *payment.Engine
	history  Projector
	audit    Auditor
	hold     time.Duration
	logger   observability.Logger
}

func NewService(store Store, locks *lock.Manager, pub CommandPublisher, payments *payment.Engine, history Projector, audit Auditor, hold time.Duration, logger observability.Logger) *Service {
	return &Service{
		store:    store,
		locks:    locks,
		pub:      pub,
		payments: payments,
		history:  history,
		audit:    audit,
		hold:     hold,
		logger:   logger,
	}
}

type CreateBookingCommand struct {
	UserID         string
	Type           domain.BookingType
	TotalAmount    float64
	Currency       string
	ProductDetails json.RawMessage
	SagaID         string
}

func (c CreateBookingCommand) validate() error {
	if c.UserID == "" {
		return errors.Wrap(domain.ErrInvalidInput, "missing user id")
	}
	if c.TotalAmount <= 0 {
		return errors.Wrap(domain.ErrInvalidInput, "total amount must be positive")
	}
	if c.Currency == "" {
		return errors.Wrap(domain.ErrInvalidInput, "missing currency")
	}
	switch c.Type {
	case domain.BookingTypeFlight, domain.BookingTypeHotel, domain.BookingTypeCombo:
		return nil
	}
	return errors.Wrapf(domain.ErrInvalidInput, "unknown booking type %q", c.Type)
}

// CreateBooking acquires the reservation lock, persists the booking PENDING
// and fans out reserve commands to the participants. On
// ErrReservationConflict nothing is persisted. If persistence fails after
// the lock was granted, the lock is released before the failure propagates.
func (s *Service) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (*domain.Booking, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	b := domain.NewBooking(cmd.UserID, cmd.Type, cmd.TotalAmount, cmd.Currency, cmd.ProductDetails, cmd.SagaID)

	held, err := s.locks.Acquire(ctx, "booking:"+b.ID.String(), "booking", b.SagaID, s.hold)
	if err != nil {
		return nil, err
	}
	b.ReservationLockID = &held.LockID
	b.ReservationLockedAt = &held.AcquiredAt
	b.ReservationExpiresAt = &held.ExpiresAt

	event := map[string]interface{}{
		"bookingId": b.ID,
		"reference": b.Reference,
		"sagaId":    b.SagaID,
		"userId":    b.UserID,
		"type":      string(b.Type),
		"amount":    b.TotalAmount,
		"currency":  b.Currency,
	}
	if err := s.store.CreateBookingWithEvent(ctx, b, "booking.initiated", event); err != nil {
		if relErr := s.locks.Release(ctx, held.LockID, b.SagaID); relErr != nil {
			s.logger.WithField("booking_id", b.ID.String()).Warn("failed to release lock after persist failure: ", relErr)
		}
		return nil, err
	}

	for _, action := range reserveActions(b.Type) {
		pubErr := s.pub.PublishCommand(ctx, saga.Command{
			Action:    action,
			BookingID: b.ID,
			SagaID:    b.SagaID,
			Payload:   b.ProductDetails,
		})
		if pubErr != nil {
			// The expiry sweep is the backstop: an unreachable participant
			// leaves the booking PENDING until the hold lapses.
			s.logger.WithField("booking_id", b.ID.String()).Error("failed to publish reserve command: ", pubErr)
		}
	}

	s.project(ctx, b)
	s.auditBooking(ctx, "booking.created", b)
	return &b, nil
}

func reserveActions(t domain.BookingType) []saga.Action {
	switch t {
	case domain.BookingTypeHotel:
		return []saga.Action{saga.ReserveHotel}
	case domain.BookingTypeFlight:
		return []saga.Action{saga.ReserveFlight}
	default:
		return []saga.Action{saga.ReserveHotel, saga.ReserveFlight}
	}
}

func cancelActions(t domain.BookingType) []saga.Action {
	switch t {
	case domain.BookingTypeHotel:
		return []saga.Action{saga.CancelHotelReservation}
	case domain.BookingTypeFlight:
		return []saga.Action{saga.CancelFlightReservation}
	default:
		return []saga.Action{saga.CancelHotelReservation, saga.CancelFlightReservation}
	}
}

// ConfirmBooking completes the saga: status CONFIRMED, a confirmation number
// if none exists yet, and the reservation lock released since confirmed
// bookings no longer need the hold.
func (s *Service) ConfirmBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "booking %s is %s, not confirmable", id, b.Status)
	}

	if err := s.store.ConfirmBooking(ctx, id, domain.NewConfirmationNumber()); err != nil {
		return nil, err
	}
	s.releaseHold(ctx, b)

	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.project(ctx, *updated)
	s.auditBooking(ctx, "booking.confirmed", *updated)
	return updated, nil
}

// CancelBooking releases the hold, records the reason and moves the booking
// to CANCELLED.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID, reason string) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "booking %s is %s, not cancellable", id, b.Status)
	}

	if err := s.store.CancelBooking(ctx, id, reason, time.Now()); err != nil {
		return nil, err
	}
	s.releaseHold(ctx, b)

	if err := s.store.EmitStandalone(ctx, "booking.cancelled", "booking", id, map[string]interface{}{
		"bookingId": id,
		"sagaId":    b.SagaID,
		"reason":    reason,
	}); err != nil {
		s.logger.WithField("booking_id", id.String()).Warn("failed to queue cancellation event: ", err)
	}

	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.project(ctx, *updated)
	s.auditBooking(ctx, "booking.cancelled", *updated)
	return updated, nil
}

// ExpireReservation is the sweep path for a hold that lapsed without the
// saga finishing: compensating cancels to the participants, then a normal
// cancellation.
func (s *Service) ExpireReservation(ctx context.Context, b domain.Booking, reason string) error {
	s.compensate(ctx, b)
	_, err := s.CancelBooking(ctx, b.ID, reason)
	return err
}

// UpdateBookingStatus is the generic transition. The lock is released
// whenever the new status no longer needs the hold; a transition into
// PAYMENT_PENDING keeps it.
func (s *Service) UpdateBookingStatus(ctx context.Context, id uuid.UUID, newStatus domain.BookingStatus) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "booking %s is %s, no further transitions", id, b.Status)
	}

	release := newStatus.ReleasesLock()
	if err := s.store.UpdateBookingState(ctx, id, newStatus, stateFor(newStatus, b.SagaState), release); err != nil {
		return nil, err
	}
	if release {
		s.releaseHold(ctx, b)
	}

	updated, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.project(ctx, *updated)
	return updated, nil
}

func stateFor(status domain.BookingStatus, current domain.SagaState) domain.SagaState {
	switch status {
	case domain.BookingPaymentPending:
		return domain.SagaPaymentPending
	case domain.BookingConfirmed:
		return domain.SagaBookingCompleted
	case domain.BookingCancelled:
		return domain.SagaCancelled
	case domain.BookingFailed, domain.BookingPaymentFailed:
		return domain.SagaCompensating
	}
	return current
}

// ProcessPayment drives the payment step for a fully reserved booking: it
// moves to PAYMENT_PENDING (hold kept), the engine executes the charge, and
// the saga finishes on CONFIRMED or PAYMENT_FAILED. A charge the gateway has
// not yet settled leaves the booking in PAYMENT_PENDING.
func (s *Service) ProcessPayment(ctx context.Context, bookingID uuid.UUID, method payment.Method) (*domain.Payment, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingPending && b.Status != domain.BookingPaymentPending {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "booking %s is %s, not payable", bookingID, b.Status)
	}
	if b.SagaState != domain.SagaReserved && b.SagaState != domain.SagaPaymentPending {
		return nil, errors.Wrapf(domain.ErrInvalidInput,
			"booking %s saga is %s, reservation not complete", bookingID, b.SagaState)
	}

	if _, err := s.UpdateBookingStatus(ctx, bookingID, domain.BookingPaymentPending); err != nil {
		return nil, err
	}

	pay, _, payErr := s.payments.ProcessPayment(ctx, payment.ProcessRequest{
		BookingID: b.ID,
		UserID:    b.UserID,
		SagaID:    b.SagaID,
		Amount:    b.TotalAmount,
		Currency:  b.Currency,
		Method:    method,
	})
	if pay == nil {
		return nil, payErr
	}

	switch pay.Status {
	case domain.PaymentCompleted:
		s.auditPayment(ctx, "payment.completed", *pay)
		if _, err := s.ConfirmBooking(ctx, bookingID); err != nil {
			return pay, err
		}
		return pay, nil
	case domain.PaymentPending, domain.PaymentProcessing:
		// The charge may still settle at the gateway. The booking keeps its
		// hold in PAYMENT_PENDING until reconciliation or a retry resolves it.
		s.auditPayment(ctx, "payment.pending", *pay)
		return pay, payErr
	}

	s.auditPayment(ctx, "payment.failed", *pay)
	if _, err := s.UpdateBookingStatus(ctx, bookingID, domain.BookingPaymentFailed); err != nil {
		return pay, err
	}
	return pay, payErr
}

// compensate issues cancel commands to every participant the saga might have
// reserved through. Cancellation of a hold that never happened is a no-op on
// the participant side, so over-issuing is safe.
func (s *Service) compensate(ctx context.Context, b domain.Booking) {
	for _, action := range cancelActions(b.Type) {
		if err := s.pub.PublishCommand(ctx, saga.Command{
			Action:    action,
			BookingID: b.ID,
			SagaID:    b.SagaID,
		}); err != nil {
			s.logger.WithField("booking_id", b.ID.String()).Error("failed to publish compensation: ", err)
		}
	}
}

func (s *Service) releaseHold(ctx context.Context, b *domain.Booking) {
	if !b.HoldsLock() {
		return
	}
	if err := s.locks.Release(ctx, *b.ReservationLockID, b.SagaID); err != nil {
		s.logger.WithField("booking_id", b.ID.String()).Warn("failed to release reservation lock: ", err)
	}
}

func (s *Service) project(ctx context.Context, b domain.Booking) {
	if s.history == nil {
		return
	}
	if err := s.history.Project(ctx, b); err != nil {
		s.logger.WithField("booking_id", b.ID.String()).Warn("history projection failed: ", err)
	}
}

func (s *Service) auditBooking(ctx context.Context, action string, b domain.Booking) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogBooking(ctx, action, b); err != nil {
		s.logger.WithField("booking_id", b.ID.String()).Warn("audit write failed: ", err)
	}
}

func (s *Service) auditPayment(ctx context.Context, action string, p domain.Payment) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPayment(ctx, action, p); err != nil {
		s.logger.WithField("payment_id", p.ID.String()).Warn("audit write failed: ", err)
	}
}
