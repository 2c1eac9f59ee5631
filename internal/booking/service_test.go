package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/booking"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/payment"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

type memStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]domain.Booking
	events   []string
	failNext error
}

func newMemStore() *memStore {
	return &memStore{bookings: make(map[uuid.UUID]domain.Booking)}
}

func (s *memStore) CreateBookingWithEvent(ctx context.Context, b domain.Booking, eventType string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.bookings[b.ID] = b
	s.events = append(s.events, eventType)
	return nil
}

func (s *memStore) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *memStore) GetBookingByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.Reference == reference {
			b := b
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) GetBookingBySagaID(ctx context.Context, sagaID string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.SagaID == sagaID {
			b := b
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) GetUserBookings(ctx context.Context, userID string) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) UpdateBookingState(ctx context.Context, id uuid.UUID, status domain.BookingStatus, state domain.SagaState, clearLock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	b.SagaState = state
	if clearLock {
		b.ReservationLockID = nil
		b.ReservationLockedAt = nil
		b.ReservationExpiresAt = nil
	}
	s.bookings[id] = b
	return nil
}

func (s *memStore) ConfirmBooking(ctx context.Context, id uuid.UUID, confirmationNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = domain.BookingConfirmed
	b.SagaState = domain.SagaBookingCompleted
	if b.ConfirmationNumber == nil {
		b.ConfirmationNumber = &confirmationNumber
	}
	b.ReservationLockID = nil
	b.ReservationLockedAt = nil
	b.ReservationExpiresAt = nil
	s.bookings[id] = b
	return nil
}

func (s *memStore) CancelBooking(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = domain.BookingCancelled
	b.SagaState = domain.SagaCancelled
	b.CancellationReason = &reason
	b.CancelledAt = &at
	b.ReservationLockID = nil
	b.ReservationLockedAt = nil
	b.ReservationExpiresAt = nil
	s.bookings[id] = b
	return nil
}

func (s *memStore) GetExpiredPendingBookings(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.Status == domain.BookingPending && b.ReservationExpiresAt != nil && !b.ReservationExpiresAt.After(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) EmitStandalone(ctx context.Context, eventType, entityName string, entityID uuid.UUID, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
	return nil
}

func (s *memStore) emitted(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type recordPub struct {
	mu       sync.Mutex
	commands []saga.Command
}

func (p *recordPub) PublishCommand(ctx context.Context, cmd saga.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
	return nil
}

func (p *recordPub) actions() []saga.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []saga.Action
	for _, c := range p.commands {
		out = append(out, c.Action)
	}
	return out
}

type memLockStore struct {
	mu     sync.Mutex
	owners map[string]string
	index  map[string]string
	deny   bool
}

func newMemLockStore() *memLockStore {
	return &memLockStore{owners: make(map[string]string), index: make(map[string]string)}
}

func (s *memLockStore) TryAcquire(ctx context.Context, resourceKey, ownerToken, lockID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deny {
		return false, nil
	}
	if _, held := s.owners[resourceKey]; held {
		return false, nil
	}
	s.owners[resourceKey] = ownerToken
	s.index[lockID] = resourceKey
	return true, nil
}

func (s *memLockStore) ResourceFor(ctx context.Context, lockID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[lockID], nil
}

func (s *memLockStore) Release(ctx context.Context, resourceKey, ownerToken, lockID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, held := s.owners[resourceKey]
	if !held {
		return 0, nil
	}
	if owner != ownerToken {
		return -1, nil
	}
	delete(s.owners, resourceKey)
	delete(s.index, lockID)
	return 1, nil
}

func (s *memLockStore) heldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}

func newTestService(store *memStore, locks *memLockStore, pub *recordPub, engine *payment.Engine) *booking.Service {
	logger := observability.NewLogger()
	return booking.NewService(store, lock.NewManager(locks, logger), pub, engine, nil, nil, 15*time.Minute, logger)
}

func createCommand(t domain.BookingType) booking.CreateBookingCommand {
	return booking.CreateBookingCommand{
		UserID:         "user-1",
		Type:           t,
		TotalAmount:    500,
		Currency:       "USD",
		ProductDetails: []byte(`{"hotelId":"h1","flightId":"f1"}`),
	}
}

func TestService_CreateBookingCombo(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeCombo))
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != domain.BookingPending || b.SagaState != domain.SagaStarted {
		t.Errorf("expected PENDING/SAGA_STARTED, got %s/%s", b.Status, b.SagaState)
	}
	if !b.HoldsLock() {
		t.Error("expected reservation lock on new booking")
	}

	actions := pub.actions()
	if len(actions) != 2 || actions[0] != saga.ReserveHotel || actions[1] != saga.ReserveFlight {
		t.Errorf("expected both reserve commands, got %v", actions)
	}
	if !store.emitted("booking.initiated") {
		t.Error("expected booking.initiated event")
	}
}

func TestService_CreateBookingLockConflict(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	locks.deny = true
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	_, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if !errors.Is(err, domain.ErrReservationConflict) {
		t.Fatalf("expected reservation conflict, got %v", err)
	}
	if len(store.bookings) != 0 {
		t.Error("conflict must persist nothing")
	}
	if len(pub.actions()) != 0 {
		t.Error("conflict must publish nothing")
	}
}

func TestService_CreateBookingPersistFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failNext = errors.New("db down")
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	_, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err == nil {
		t.Fatal("expected persist failure")
	}
	if locks.heldCount() != 0 {
		t.Error("lock must be released when persistence fails")
	}
}

func TestService_ComboReplyFlow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeCombo))
	if err != nil {
		t.Fatal(err)
	}

	d := saga.NewDispatcher(observability.NewLogger())
	svc.RegisterReplyHandlers(d)

	if err := d.Dispatch(ctx, saga.Command{Action: saga.HotelReserved, BookingID: b.ID, SagaID: b.SagaID}); err != nil {
		t.Fatal(err)
	}
	mid, _ := store.GetBooking(ctx, b.ID)
	if mid.SagaState != domain.SagaHotelReserved {
		t.Errorf("expected HOTEL_RESERVED after first leg, got %s", mid.SagaState)
	}

	if err := d.Dispatch(ctx, saga.Command{Action: saga.FlightReserved, BookingID: b.ID, SagaID: b.SagaID}); err != nil {
		t.Fatal(err)
	}
	done, _ := store.GetBooking(ctx, b.ID)
	if done.SagaState != domain.SagaReserved {
		t.Errorf("expected RESERVED after both legs, got %s", done.SagaState)
	}
	if done.Status != domain.BookingPending {
		t.Errorf("reserved booking stays PENDING until payment, got %s", done.Status)
	}
	if !store.emitted("booking.reserved") {
		t.Error("expected booking.reserved event")
	}
}

func TestService_ReservationFailedCompensates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeCombo))
	if err != nil {
		t.Fatal(err)
	}

	d := saga.NewDispatcher(observability.NewLogger())
	svc.RegisterReplyHandlers(d)

	cmd := saga.Command{
		Action:    saga.FlightReservationFailed,
		BookingID: b.ID,
		SagaID:    b.SagaID,
		Reason:    "no seats left",
	}
	if err := d.Dispatch(ctx, cmd); err != nil {
		t.Fatal(err)
	}

	cancelled, _ := store.GetBooking(ctx, b.ID)
	if cancelled.Status != domain.BookingCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "no seats left" {
		t.Error("expected participant reason recorded")
	}
	if locks.heldCount() != 0 {
		t.Error("expected reservation lock released")
	}

	var cancels int
	for _, a := range pub.actions() {
		if a == saga.CancelHotelReservation || a == saga.CancelFlightReservation {
			cancels++
		}
	}
	if cancels != 2 {
		t.Errorf("expected compensation for both legs, got %v", pub.actions())
	}
}

func TestService_LateReplyIgnored(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CancelBooking(ctx, b.ID, "changed plans"); err != nil {
		t.Fatal(err)
	}

	d := saga.NewDispatcher(observability.NewLogger())
	svc.RegisterReplyHandlers(d)
	if err := d.Dispatch(ctx, saga.Command{Action: saga.HotelReserved, BookingID: b.ID, SagaID: b.SagaID}); err != nil {
		t.Fatal(err)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingCancelled {
		t.Errorf("late reply must not resurrect the booking, got %s", after.Status)
	}
}

func TestService_ExpireReservation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.ExpireReservation(ctx, *b, "reservation hold expired"); err != nil {
		t.Fatal(err)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingCancelled {
		t.Errorf("expected CANCELLED, got %s", after.Status)
	}
	if after.CancellationReason == nil || *after.CancellationReason != "reservation hold expired" {
		t.Error("expected expiry reason recorded")
	}
	if locks.heldCount() != 0 {
		t.Error("expected reservation lock released")
	}
}

func TestService_TerminalStatesImmutable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CancelBooking(ctx, b.ID, "changed plans"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ConfirmBooking(ctx, b.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected cancelled booking to be unconfirmable, got %v", err)
	}
	if _, err := svc.UpdateBookingStatus(ctx, b.ID, domain.BookingPaymentPending); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected cancelled booking to refuse transitions, got %v", err)
	}
	if _, err := svc.CancelBooking(ctx, b.ID, "again"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected cancelled booking to refuse re-cancellation, got %v", err)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingCancelled {
		t.Errorf("expected booking to stay CANCELLED, got %s", after.Status)
	}
	if after.ConfirmationNumber != nil {
		t.Error("cancelled booking must never acquire a confirmation number")
	}
	if after.CancellationReason == nil || *after.CancellationReason != "changed plans" {
		t.Error("original cancellation reason must survive")
	}
}

func TestService_UpdateStatusPaymentPendingKeepsLock(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	svc := newTestService(store, locks, pub, nil)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.UpdateBookingStatus(ctx, b.ID, domain.BookingPaymentPending)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.HoldsLock() {
		t.Error("PAYMENT_PENDING must keep the reservation hold")
	}
	if updated.SagaState != domain.SagaPaymentPending {
		t.Errorf("expected PAYMENT_PENDING saga state, got %s", updated.SagaState)
	}
	if locks.heldCount() != 1 {
		t.Error("expected lock still held in the store")
	}
}
