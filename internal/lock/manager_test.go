package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/lock"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
)

type fakeStore struct {
	mu     sync.Mutex
	owners map[string]string // resourceKey -> ownerToken
	index  map[string]string // lockID -> resourceKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{owners: make(map[string]string), index: make(map[string]string)}
}

func (s *fakeStore) TryAcquire(ctx context.Context, resourceKey, ownerToken, lockID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.owners[resourceKey]; held {
		return false, nil
	}
	s.owners[resourceKey] = ownerToken
	s.index[lockID] = resourceKey
	return true, nil
}

func (s *fakeStore) ResourceFor(ctx context.Context, lockID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[lockID], nil
}

func (s *fakeStore) Release(ctx context.Context, resourceKey, ownerToken, lockID string) (int, error) {
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

func TestManager_AcquireConflict(t *testing.T) {
	ctx := context.Background()
	m := lock.NewManager(newFakeStore(), observability.NewLogger())

	held, err := m.Acquire(ctx, "booking:res-1", "booking", "saga-1", time.Minute)
	if err != nil {
		t.Fatalf("expected first acquire to succeed, got %v", err)
	}

	_, err = m.Acquire(ctx, "booking:res-1", "booking", "saga-2", time.Minute)
	if !errors.Is(err, domain.ErrReservationConflict) {
		t.Errorf("expected reservation conflict, got %v", err)
	}

	if err := m.Release(ctx, held.LockID, "saga-1"); err != nil {
		t.Fatalf("expected release to succeed, got %v", err)
	}

	if _, err := m.Acquire(ctx, "booking:res-1", "booking", "saga-2", time.Minute); err != nil {
		t.Errorf("expected acquire after release to succeed, got %v", err)
	}
}

func TestManager_ConcurrentAcquireExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	m := lock.NewManager(newFakeStore(), observability.NewLogger())

	const n = 50
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Acquire(ctx, "flight:F100", "flight", "saga-"+string(rune('a'+i%26)), time.Minute)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else if !errors.Is(err, domain.ErrReservationConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("expected exactly one winner, got %d", won)
	}
}

func TestManager_ReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	m := lock.NewManager(newFakeStore(), observability.NewLogger())

	held, err := m.Acquire(ctx, "hotel:h-1", "hotel", "saga-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Release(ctx, held.LockID, "saga-1"); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := m.Release(ctx, held.LockID, "saga-1"); err != nil {
		t.Errorf("second release must be a no-op, got %v", err)
	}
}

func TestManager_ReleaseOwnerMismatch(t *testing.T) {
	ctx := context.Background()
	m := lock.NewManager(newFakeStore(), observability.NewLogger())

	held, err := m.Acquire(ctx, "hotel:h-2", "hotel", "saga-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	err = m.Release(ctx, held.LockID, "saga-2")
	if !errors.Is(err, domain.ErrLockOwnerMismatch) {
		t.Errorf("expected owner mismatch, got %v", err)
	}

	// Still held by saga-1.
	_, err = m.Acquire(ctx, "hotel:h-2", "hotel", "saga-3", time.Minute)
	if !errors.Is(err, domain.ErrReservationConflict) {
		t.Errorf("expected lock to remain held, got %v", err)
	}
}
