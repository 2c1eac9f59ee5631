package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

func TestDispatcher_RoutesByAction(t *testing.T) {
	d := saga.NewDispatcher(observability.NewLogger())

	var got saga.Command
	d.Register(saga.ReserveHotel, func(ctx context.Context, cmd saga.Command) error {
		got = cmd
		return nil
	})

	cmd := saga.Command{Action: saga.ReserveHotel, BookingID: uuid.New(), SagaID: "saga-1"}
	if err := d.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.BookingID != cmd.BookingID {
		t.Errorf("handler got wrong command: %v", got)
	}
}

func TestDispatcher_UnknownActionIgnored(t *testing.T) {
	d := saga.NewDispatcher(observability.NewLogger())

	cmd := saga.Command{Action: "RESERVE_CRUISE", BookingID: uuid.New(), SagaID: "saga-1"}
	if err := d.Dispatch(context.Background(), cmd); err != nil {
		t.Errorf("unknown action must be a no-op, got %v", err)
	}
}

func TestDispatcher_HandlerErrorPropagates(t *testing.T) {
	d := saga.NewDispatcher(observability.NewLogger())

	boom := errors.New("boom")
	d.Register(saga.ReserveFlight, func(ctx context.Context, cmd saga.Command) error {
		return boom
	})

	err := d.Dispatch(context.Background(), saga.Command{Action: saga.ReserveFlight})
	if !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestCommand_EncodeDecode(t *testing.T) {
	cmd := saga.Command{
		Action:    saga.CancelHotelReservation,
		BookingID: uuid.New(),
		SagaID:    "saga-x",
		Reason:    "participant failure",
	}

	body, err := cmd.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := saga.Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Action != cmd.Action || decoded.BookingID != cmd.BookingID || decoded.Reason != cmd.Reason {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}

func TestAction_RoutingKey(t *testing.T) {
	if got := saga.ReserveHotel.RoutingKey(); got != "saga.hotel" {
		t.Errorf("expected saga.hotel, got %s", got)
	}
	if got := saga.CancelFlightReservation.RoutingKey(); got != "saga.flight" {
		t.Errorf("expected saga.flight, got %s", got)
	}
	if got := saga.HotelReserved.RoutingKey(); got != "saga.reply" {
		t.Errorf("expected saga.reply, got %s", got)
	}
}
