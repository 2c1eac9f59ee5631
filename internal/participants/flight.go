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

type FlightDetails struct {
	FlightID uuid.UUID `json:"flightId"`
	Seats    int       `json:"seats"`
}

type FlightService struct {
	repo   *crdb.Repository
	pub    CommandPublisher
	logger observability.Logger
}

func NewFlightService(repo *crdb.Repository, pub CommandPublisher, logger observability.Logger) *FlightService {
	return &FlightService{repo: repo, pub: pub, logger: logger}
}

func (s *FlightService) Register(d *saga.Dispatcher) {
	d.Register(saga.ReserveFlight, s.handleReserve)
	d.Register(saga.CancelFlightReservation, s.handleCancel)
}

func (s *FlightService) handleReserve(ctx context.Context, cmd saga.Command) error {
	err := s.reserve(ctx, cmd)

	reply := saga.Command{Action: saga.FlightReserved, BookingID: cmd.BookingID, SagaID: cmd.SagaID}
	if err != nil {
		reply.Action = saga.FlightReservationFailed
		reply.Reason = err.Error()
	}
	if perr := s.pub.PublishCommand(ctx, reply); perr != nil {
		s.logger.WithField("booking_id", cmd.BookingID.String()).Error("failed to publish flight reply: ", perr)
	}
	return err
}

func (s *FlightService) reserve(ctx context.Context, cmd saga.Command) error {
	var d FlightDetails
	if err := json.Unmarshal(cmd.Payload, &d); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, "malformed flight payload")
	}
	if d.Seats <= 0 {
		d.Seats = 1
	}

	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := s.repo.UpsertFlightReservation(ctx, tx, crdb.FlightReservation{
			ID:        uuid.New(),
			BookingID: cmd.BookingID,
			SagaID:    cmd.SagaID,
			FlightID:  d.FlightID,
			Seats:     d.Seats,
		})
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.WithField("booking_id", cmd.BookingID.String()).
				Debug("flight reservation already recorded, treating redelivery as success")
		}
		return nil
	})
}

func (s *FlightService) handleCancel(ctx context.Context, cmd saga.Command) error {
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		return s.repo.CancelFlightReservation(ctx, tx, cmd.BookingID, cmd.SagaID)
	})
	if err != nil {
		s.logger.WithField("booking_id", cmd.BookingID.String()).Error("flight cancellation failed: ", err)
	}
	return err
}
