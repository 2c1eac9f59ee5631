package saga

import (
	"encoding/json"

	"github.com/google/uuid"
)

type Action string

// Orchestrator-issued instructions.
const (
	ReserveHotel            Action = "RESERVE_HOTEL"
	CancelHotelReservation  Action = "CANCEL_HOTEL_RESERVATION"
	ReserveFlight           Action = "RESERVE_FLIGHT"
	CancelFlightReservation Action = "CANCEL_FLIGHT_RESERVATION"
)

// Participant replies, observed by the orchestrator on the reply queue.
const (
	HotelReserved           Action = "HOTEL_RESERVED"
	HotelReservationFailed  Action = "HOTEL_RESERVATION_FAILED"
	FlightReserved          Action = "FLIGHT_RESERVED"
	FlightReservationFailed Action = "FLIGHT_RESERVATION_FAILED"
)

// Command is the immutable wire message participants dispatch on. It is not
// persisted beyond transport.
type Command struct {
	Action    Action          `json:"action"`
	BookingID uuid.UUID       `json:"bookingId"`
	SagaID    string          `json:"sagaId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func Decode(body []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(body, &c)
	return c, err
}

// RoutingKey maps an action to the topic routing key it is published under.
func (a Action) RoutingKey() string {
	switch a {
	case ReserveHotel, CancelHotelReservation:
		return "saga.hotel"
	case ReserveFlight, CancelFlightReservation:
		return "saga.flight"
	default:
		return "saga.reply"
	}
}
