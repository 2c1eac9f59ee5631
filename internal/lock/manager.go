package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
)

// Store is the Redis-backed lock storage. Split out as an interface so the
// manager can be exercised against an in-process fake.
type Store interface {
	TryAcquire(ctx context.Context, resourceKey, ownerToken, lockID string, ttl time.Duration) (bool, error)
	ResourceFor(ctx context.Context, lockID string) (string, error)
	Release(ctx context.Context, resourceKey, ownerToken, lockID string) (int, error)
}

const (
	releaseMissing  = 0
	releaseMismatch = -1
)

// Manager grants time-bounded exclusive ownership of a resource key to a
// saga. It is the only cross-instance mutual-exclusion primitive in the
// system; every path that mutates shared inventory goes through it.
type Manager struct {
	store  Store
	logger observability.Logger
}

func NewManager(store Store, logger observability.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

func ownerToken(ownerSagaID, lockID string) string {
	return ownerSagaID + ":" + lockID
}

// Acquire succeeds only if no active lock exists for resourceKey. On
// contention it returns domain.ErrReservationConflict.
func (m *Manager) Acquire(ctx context.Context, resourceKey, resourceType, ownerSagaID string, timeout time.Duration) (*domain.DistributedLock, error) {
	lockID := uuid.New().String()
	now := time.Now()

	ok, err := m.store.TryAcquire(ctx, resourceKey, ownerToken(ownerSagaID, lockID), lockID, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.LockConflicts.WithLabelValues(resourceType).Inc()
		return nil, domain.ErrReservationConflict
	}

	observability.LocksAcquired.WithLabelValues(resourceType).Inc()
	return &domain.DistributedLock{
		ResourceKey:  resourceKey,
		ResourceType: resourceType,
		OwnerSagaID:  ownerSagaID,
		LockID:       lockID,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(timeout),
	}, nil
}

// Release is idempotent: releasing a missing or already-released lock is a
// no-op. Releasing with a mismatched owner is rejected and logged; it never
// fails the caller's larger operation.
func (m *Manager) Release(ctx context.Context, lockID, ownerSagaID string) error {
	resourceKey, err := m.store.ResourceFor(ctx, lockID)
	if err != nil {
		return err
	}
	if resourceKey == "" {
		return nil
	}

	res, err := m.store.Release(ctx, resourceKey, ownerToken(ownerSagaID, lockID), lockID)
	if err != nil {
		return err
	}
	switch res {
	case releaseMissing:
		return nil
	case releaseMismatch:
		m.logger.WithField("lock_id", lockID).WithField("resource_key", resourceKey).
			Warn("lock release rejected: owner mismatch")
		return domain.ErrLockOwnerMismatch
	}
	return nil
}
