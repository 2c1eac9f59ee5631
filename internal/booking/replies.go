package booking

import (
	"context"

	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

// RegisterReplyHandlers wires the orchestrator's reaction to participant
// replies into a dispatcher draining the reply queue.
func (s *Service) RegisterReplyHandlers(d *saga.Dispatcher) {
	d.Register(saga.HotelReserved, s.handleReserved(domain.SagaHotelReserved))
	d.Register(saga.FlightReserved, s.handleReserved(domain.SagaFlightReserved))
	d.Register(saga.HotelReservationFailed, s.handleReservationFailed)
	d.Register(saga.FlightReservationFailed, s.handleReservationFailed)
}

// handleReserved advances the saga. A combo booking is RESERVED only once
// both legs reported in; single-leg bookings go straight to RESERVED.
func (s *Service) handleReserved(leg domain.SagaState) saga.HandlerFunc {
	return func(ctx context.Context, cmd saga.Command) error {
		b, err := s.store.GetBooking(ctx, cmd.BookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingPending {
			// Late reply after cancellation or confirmation; nothing to advance.
			s.logger.WithField("booking_id", b.ID.String()).Debug("ignoring reply for non-pending booking")
			return nil
		}

		next := domain.SagaReserved
		if b.Type == domain.BookingTypeCombo && !comboComplete(b.SagaState, leg) {
			next = leg
		}

		if err := s.store.UpdateBookingState(ctx, b.ID, b.Status, next, false); err != nil {
			return err
		}
		if next == domain.SagaReserved {
			if err := s.store.EmitStandalone(ctx, "booking.reserved", "booking", b.ID, map[string]interface{}{
				"bookingId": b.ID,
				"sagaId":    b.SagaID,
			}); err != nil {
				s.logger.WithField("booking_id", b.ID.String()).Warn("failed to queue reserved event: ", err)
			}
		}
		return nil
	}
}

// comboComplete reports whether the incoming leg completes the pair given
// the saga state recorded so far.
func comboComplete(current, leg domain.SagaState) bool {
	switch leg {
	case domain.SagaHotelReserved:
		return current == domain.SagaFlightReserved
	case domain.SagaFlightReserved:
		return current == domain.SagaHotelReserved
	}
	return false
}

// handleReservationFailed compensates: cancel commands go to every
// participant the saga touched, then the booking is cancelled with the
// participant's reason recorded.
func (s *Service) handleReservationFailed(ctx context.Context, cmd saga.Command) error {
	b, err := s.store.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return err
	}
	if b.Status != domain.BookingPending {
		return nil
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "reservation failed"
	}

	s.compensate(ctx, *b)
	_, err = s.CancelBooking(ctx, b.ID, reason)
	return err
}
