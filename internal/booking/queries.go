package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/travel-bookings-and-payments/internal/adapters/mongo"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
)

// HistoryReader serves the enriched user-history view from the read
// projection.
type HistoryReader interface {
	GetUserHistory(ctx context.Context, userID string) ([]mongoadapter.HistoryDoc, error)
}

// Queries is the read side of the CQRS split: no mutation, no lock manager.
// Each read is optionally scoped by the requesting user for authorization;
// an empty requester means an internal caller.
type Queries struct {
	store   Store
	history HistoryReader
}

func NewQueries(store Store, history HistoryReader) *Queries {
	return &Queries{store: store, history: history}
}

func scoped(b *domain.Booking, requestingUserID string) (*domain.Booking, error) {
	if requestingUserID != "" && b.UserID != requestingUserID {
		return nil, errors.Wrap(domain.ErrNotFound, "booking not visible to requester")
	}
	return b, nil
}

func (q *Queries) GetByID(ctx context.Context, id uuid.UUID, requestingUserID string) (*domain.Booking, error) {
	b, err := q.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return scoped(b, requestingUserID)
}

func (q *Queries) GetByReference(ctx context.Context, reference, requestingUserID string) (*domain.Booking, error) {
	b, err := q.store.GetBookingByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return scoped(b, requestingUserID)
}

func (q *Queries) GetBySagaID(ctx context.Context, sagaID, requestingUserID string) (*domain.Booking, error) {
	b, err := q.store.GetBookingBySagaID(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return scoped(b, requestingUserID)
}

// GetUserBookings serves the denormalized history view when the projection
// is available and falls back to the authoritative store otherwise.
func (q *Queries) GetUserBookings(ctx context.Context, userID string) ([]mongoadapter.HistoryDoc, error) {
	if q.history != nil {
		return q.history.GetUserHistory(ctx, userID)
	}

	bookings, err := q.store.GetUserBookings(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs := make([]mongoadapter.HistoryDoc, 0, len(bookings))
	for _, b := range bookings {
		doc := mongoadapter.HistoryDoc{
			BookingID:   b.ID,
			Reference:   b.Reference,
			UserID:      b.UserID,
			BookingType: string(b.Type),
			Status:      string(b.Status),
			TotalAmount: b.TotalAmount,
			Currency:    b.Currency,
			CreatedAt:   b.CreatedAt,
			UpdatedAt:   b.UpdatedAt,
		}
		if b.ConfirmationNumber != nil {
			doc.ConfirmationNumber = *b.ConfirmationNumber
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
