package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
)

// Reservation rows are keyed (booking_id, saga_id) so redelivery of the same
// reserve command upserts instead of double-decrementing inventory.

type HotelReservation struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	SagaID    string
	HotelID   uuid.UUID
	Rooms     int
	Status    string // RESERVED, CANCELLED
}

type FlightReservation struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	SagaID    string
	FlightID  uuid.UUID
	Seats     int
	Status    string
}

// UpsertHotelReservation inserts the reservation and decrements room
// inventory only when the row was actually inserted. A pre-existing row for
// (booking_id, saga_id) means the command was already handled: no-op, success.
func (r *Repository) UpsertHotelReservation(ctx context.Context, tx pgx.Tx, res HotelReservation) (bool, error) {
	result, err := tx.Exec(ctx, `
		INSERT INTO hotel_reservations (id, booking_id, saga_id, hotel_id, rooms, status)
		VALUES ($1, $2, $3, $4, $5, 'RESERVED')
		ON CONFLICT (booking_id, saga_id) DO NOTHING
	`, res.ID, res.BookingID, res.SagaID, res.HotelID, res.Rooms)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	dec, err := tx.Exec(ctx, `
		UPDATE hotels SET available_rooms = available_rooms - $2
		WHERE id = $1 AND available_rooms >= $2
	`, res.HotelID, res.Rooms)
	if err != nil {
		return false, err
	}
	if dec.RowsAffected() == 0 {
		return false, domain.ErrReservationConflict
	}
	return true, nil
}

// CancelHotelReservation flips a RESERVED row to CANCELLED and gives the
// rooms back. If no reservation exists yet a CANCELLED tombstone is written
// so a late reserve command is absorbed without touching inventory.
func (r *Repository) CancelHotelReservation(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, sagaID string) error {
	var hotelID uuid.UUID
	var rooms int
	err := tx.QueryRow(ctx, `
		UPDATE hotel_reservations SET status = 'CANCELLED'
		WHERE booking_id = $1 AND saga_id = $2 AND status = 'RESERVED'
		RETURNING hotel_id, rooms
	`, bookingID, sagaID).Scan(&hotelID, &rooms)
	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO hotel_reservations (id, booking_id, saga_id, hotel_id, rooms, status)
			VALUES ($1, $2, $3, '00000000-0000-0000-0000-000000000000', 0, 'CANCELLED')
			ON CONFLICT (booking_id, saga_id) DO NOTHING
		`, uuid.New(), bookingID, sagaID)
		return err
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE hotels SET available_rooms = available_rooms + $2 WHERE id = $1
	`, hotelID, rooms)
	return err
}

func (r *Repository) UpsertFlightReservation(ctx context.Context, tx pgx.Tx, res FlightReservation) (bool, error) {
	result, err := tx.Exec(ctx, `
		INSERT INTO flight_reservations (id, booking_id, saga_id, flight_id, seats, status)
		VALUES ($1, $2, $3, $4, $5, 'RESERVED')
		ON CONFLICT (booking_id, saga_id) DO NOTHING
	`, res.ID, res.BookingID, res.SagaID, res.FlightID, res.Seats)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	dec, err := tx.Exec(ctx, `
		UPDATE flights SET available_seats = available_seats - $2
		WHERE id = $1 AND available_seats >= $2
	`, res.FlightID, res.Seats)
	if err != nil {
		return false, err
	}
	if dec.RowsAffected() == 0 {
		return false, domain.ErrReservationConflict
	}
	return true, nil
}

func (r *Repository) CancelFlightReservation(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, sagaID string) error {
	var flightID uuid.UUID
	var seats int
	err := tx.QueryRow(ctx, `
		UPDATE flight_reservations SET status = 'CANCELLED'
		WHERE booking_id = $1 AND saga_id = $2 AND status = 'RESERVED'
		RETURNING flight_id, seats
	`, bookingID, sagaID).Scan(&flightID, &seats)
	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO flight_reservations (id, booking_id, saga_id, flight_id, seats, status)
			VALUES ($1, $2, $3, '00000000-0000-0000-0000-000000000000', 0, 'CANCELLED')
			ON CONFLICT (booking_id, saga_id) DO NOTHING
		`, uuid.New(), bookingID, sagaID)
		return err
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE flights SET available_seats = available_seats + $2 WHERE id = $1
	`, flightID, seats)
	return err
}
