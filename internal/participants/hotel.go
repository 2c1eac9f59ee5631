package participants

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/crdb"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

// CommandPublisher emits saga replies back to the orchestrator.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd saga.Command) error
}

type HotelDetails struct {
	HotelID uuid.UUID `json:"hotelId"`
	Rooms   int       `json:"rooms"`
}

// HotelService holds and releases hotel inventory on saga command. Both
// directions are idempotent on (bookingId, sagaId): redelivery never
// double-decrements and cancelling a hold that never happened is a no-op.
type HotelService struct {
	repo   *crdb.Repository
	pub    CommandPublisher
	logger observability.Logger
}

func NewHotelService(repo *crdb.Repository, pub CommandPublisher, logger observability.Logger) *HotelService {
	return &HotelService{repo: repo, pub: pub, logger: logger}
}

func (s *HotelService) Register(d *saga.Dispatcher) {
	d.Register(saga.ReserveHotel, s.handleReserve)
	d.Register(saga.CancelHotelReservation, s.handleCancel)
}

func (s *HotelService) handleReserve(ctx context.Context, cmd saga.Command) error {
	err := s.reserve(ctx, cmd)

	reply := saga.Command{Action: saga.HotelReserved, BookingID: cmd.BookingID, SagaID: cmd.SagaID}
	if err != nil {
		reply.Action = saga.HotelReservationFailed
		reply.Reason = err.Error()
	}
	if perr := s.pub.PublishCommand(ctx, reply); perr != nil {
		s.logger.WithField("booking_id", cmd.BookingID.String()).Error("failed to publish hotel reply: ", perr)
	}
	return err
}

func (s *HotelService) reserve(ctx context.Context, cmd saga.Command) error {
	var d HotelDetails
	if err := json.Unmarshal(cmd.Payload, &d); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, "malformed hotel payload")
	}
	if d.Rooms <= 0 {
		d.Rooms = 1
	}

	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := s.repo.UpsertHotelReservation(ctx, tx, crdb.HotelReservation{
			ID:        uuid.New(),
			BookingID: cmd.BookingID,
			SagaID:    cmd.SagaID,
			HotelID:   d.HotelID,
			Rooms:     d.Rooms,
		})
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.WithField("booking_id", cmd.BookingID.String()).
				Debug("hotel reservation already recorded, treating redelivery as success")
		}
		return nil
	})
}

func (s *HotelService) handleCancel(ctx context.Context, cmd saga.Command) error {
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		return s.repo.CancelHotelReservation(ctx, tx, cmd.BookingID, cmd.SagaID)
	})
	if err != nil {
		s.logger.WithField("booking_id", cmd.BookingID.String()).Error("hotel cancellation failed: ", err)
	}
	return err
}
