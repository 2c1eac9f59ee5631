package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/booking"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/payment"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

type memPaymentStore struct {
	mu           sync.Mutex
	payments     map[uuid.UUID]domain.Payment
	transactions []domain.PaymentTransaction
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{payments: make(map[uuid.UUID]domain.Payment)}
}

func (s *memPaymentStore) SavePayment(ctx context.Context, p domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
	return nil
}

func (s *memPaymentStore) SaveTransaction(ctx context.Context, t domain.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, t)
	return nil
}

func (s *memPaymentStore) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *memPaymentStore) GetLatestPaymentByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Payment
	for _, p := range s.payments {
		p := p
		if p.BookingID != bookingID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = &p
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (s *memPaymentStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			t := s.transactions[i]
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memPaymentStore) GetLatestTransaction(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].PaymentID == paymentID {
			t := s.transactions[i]
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memPaymentStore) UpdatePaymentState(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, gatewayTxID, gatewayStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.GatewayTransactionID = gatewayTxID
	p.GatewayStatus = gatewayStatus
	s.payments[id] = p
	return nil
}

func (s *memPaymentStore) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			s.transactions[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memPaymentStore) SumSuccessfulRefunds(ctx context.Context, originalTransactionID uuid.UUID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, t := range s.transactions {
		if t.Type == domain.TransactionRefund && t.Status == domain.PaymentCompleted &&
			t.OriginalTransactionID != nil && *t.OriginalTransactionID == originalTransactionID {
			sum += t.Amount
		}
	}
	return sum, nil
}

type fixedStrategy struct {
	charge payment.GatewayCharge
}

func (s *fixedStrategy) Name() string { return "stripe" }

func (s *fixedStrategy) Charge(ctx context.Context, p *domain.Payment, method payment.Method) (payment.GatewayCharge, error) {
	return s.charge, nil
}

func (s *fixedStrategy) Refund(ctx context.Context, gatewayTxID string, amountMinor int64, reason string) (payment.GatewayCharge, error) {
	return payment.GatewayCharge{}, nil
}

func (s *fixedStrategy) RetrieveIntent(ctx context.Context, gatewayTxID string) (*payment.GatewayIntent, error) {
	return nil, domain.ErrNotFound
}

func paymentEngine(store *memStore, locks *memLockStore, charge payment.GatewayCharge) *payment.Engine {
	logger := observability.NewLogger()
	return payment.NewEngine(newMemPaymentStore(), payment.NewRegistry(&fixedStrategy{charge: charge}),
		lock.NewManager(locks, logger), store, logger)
}

// reserveBooking drives the participant reply that moves a single-leg
// booking to RESERVED.
func reserveBooking(t *testing.T, svc *booking.Service, b *domain.Booking) {
	t.Helper()
	d := saga.NewDispatcher(observability.NewLogger())
	svc.RegisterReplyHandlers(d)
	if err := d.Dispatch(context.Background(), saga.Command{
		Action:    saga.HotelReserved,
		BookingID: b.ID,
		SagaID:    b.SagaID,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestService_ProcessPaymentConfirms(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	engine := paymentEngine(store, locks, payment.GatewayCharge{
		TransactionID: "pi_ok",
		Status:        domain.PaymentCompleted,
		GatewayStatus: "succeeded",
	})
	svc := newTestService(store, locks, pub, engine)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}
	reserveBooking(t, svc, b)

	pay, err := svc.ProcessPayment(ctx, b.ID, payment.Method{Provider: "stripe", Token: "tok_visa"})
	if err != nil {
		t.Fatal(err)
	}
	if pay.Status != domain.PaymentCompleted {
		t.Errorf("expected COMPLETED payment, got %s", pay.Status)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingConfirmed {
		t.Errorf("expected CONFIRMED booking, got %s", after.Status)
	}
	if after.HoldsLock() {
		t.Error("confirmed booking must not carry a reservation lock")
	}
	if after.ConfirmationNumber == nil {
		t.Error("expected confirmation number")
	}
	if locks.heldCount() != 0 {
		t.Error("expected reservation lock released")
	}
}

func TestService_ProcessPaymentDeclined(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	engine := paymentEngine(store, locks, payment.GatewayCharge{
		TransactionID: "pi_declined",
		Status:        domain.PaymentDeclined,
		GatewayStatus: "payment_failed",
		FailureCode:   "card_declined",
	})
	svc := newTestService(store, locks, pub, engine)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}
	reserveBooking(t, svc, b)

	pay, err := svc.ProcessPayment(ctx, b.ID, payment.Method{Provider: "stripe", Token: "tok_bad"})
	if err != nil {
		t.Fatal(err)
	}
	if pay.Status != domain.PaymentFailed {
		t.Errorf("expected FAILED payment, got %s", pay.Status)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingPaymentFailed {
		t.Errorf("expected PAYMENT_FAILED booking, got %s", after.Status)
	}
	if locks.heldCount() != 0 {
		t.Error("payment failure must release the reservation lock")
	}
}

func TestService_ProcessPaymentRequiresPayableStatus(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	engine := paymentEngine(store, locks, payment.GatewayCharge{Status: domain.PaymentCompleted})
	svc := newTestService(store, locks, pub, engine)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CancelBooking(ctx, b.ID, "changed plans"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ProcessPayment(ctx, b.ID, payment.Method{Provider: "stripe"}); err == nil {
		t.Error("expected cancelled booking to be unpayable")
	}
}

func TestService_ProcessPaymentRequiresReservation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	engine := paymentEngine(store, locks, payment.GatewayCharge{
		TransactionID: "pi_ok",
		Status:        domain.PaymentCompleted,
		GatewayStatus: "succeeded",
	})
	svc := newTestService(store, locks, pub, engine)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}

	// No participant has replied yet; charging now would confirm a booking
	// backed by no inventory.
	_, err = svc.ProcessPayment(ctx, b.ID, payment.Method{Provider: "stripe", Token: "tok_visa"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected payment rejected before reservation, got %v", err)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingPending || after.SagaState != domain.SagaStarted {
		t.Errorf("rejected payment must leave the booking untouched, got %s/%s", after.Status, after.SagaState)
	}
	if !after.HoldsLock() {
		t.Error("rejected payment must keep the reservation hold")
	}
}

func TestService_ProcessPaymentProcessingKeepsHold(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	locks := newMemLockStore()
	pub := &recordPub{}
	engine := paymentEngine(store, locks, payment.GatewayCharge{
		TransactionID: "pi_processing",
		Status:        domain.PaymentProcessing,
		GatewayStatus: "processing",
	})
	svc := newTestService(store, locks, pub, engine)

	b, err := svc.CreateBooking(ctx, createCommand(domain.BookingTypeHotel))
	if err != nil {
		t.Fatal(err)
	}
	reserveBooking(t, svc, b)

	pay, err := svc.ProcessPayment(ctx, b.ID, payment.Method{Provider: "stripe", Token: "tok_visa"})
	if err != nil {
		t.Fatal(err)
	}
	if pay.Status != domain.PaymentProcessing {
		t.Errorf("expected PROCESSING payment, got %s", pay.Status)
	}

	after, _ := store.GetBooking(ctx, b.ID)
	if after.Status != domain.BookingPaymentPending {
		t.Errorf("unsettled charge must park the booking in PAYMENT_PENDING, got %s", after.Status)
	}
	if !after.HoldsLock() {
		t.Error("unsettled charge must keep the reservation hold")
	}
	if locks.heldCount() != 1 {
		t.Error("expected lock still held in the store")
	}
}
