package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HistoryRepository is the denormalized read projection behind the user
// booking-history query. It never touches write-path locking.
type HistoryRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewHistoryRepository(db *mongo.Database, logger observability.Logger) *HistoryRepository {
	return &HistoryRepository{
		coll:   db.Collection("booking_history"),
		logger: logger,
	}
}

type HistoryDoc struct {
	BookingID          uuid.UUID `bson:"_id"`
	Reference          string    `bson:"reference"`
	UserID             string    `bson:"user_id"`
	BookingType        string    `bson:"booking_type"`
	Status             string    `bson:"status"`
	TotalAmount        float64   `bson:"total_amount"`
	Currency           string    `bson:"currency"`
	ProductSummary     string    `bson:"product_summary"`
	Coordinates        *GeoPoint `bson:"coordinates,omitempty"`
	ConfirmationNumber string    `bson:"confirmation_number,omitempty"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

type GeoPoint struct {
	Lat float64 `bson:"lat"`
	Lng float64 `bson:"lng"`
}

// productPayload is the subset of the opaque productDetails payload the
// projection knows how to summarize.
type productPayload struct {
	HotelName    string   `json:"hotelName"`
	City         string   `json:"city"`
	Nights       int      `json:"nights"`
	FlightNumber string   `json:"flightNumber"`
	Origin       string   `json:"origin"`
	Destination  string   `json:"destination"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

// Project upserts the enriched history view for a booking, deriving the
// human-readable product summary and coordinate metadata from the stored
// product payload.
func (h *HistoryRepository) Project(ctx context.Context, b domain.Booking) error {
	doc := HistoryDoc{
		BookingID:   b.ID,
		Reference:   b.Reference,
		UserID:      b.UserID,
		BookingType: string(b.Type),
		Status:      string(b.Status),
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   time.Now(),
	}
	if b.ConfirmationNumber != nil {
		doc.ConfirmationNumber = *b.ConfirmationNumber
	}

	var p productPayload
	if len(b.ProductDetails) > 0 {
		if err := json.Unmarshal(b.ProductDetails, &p); err != nil {
			h.logger.WithField("booking_id", b.ID.String()).Warn("unparseable product payload, projecting without summary")
		}
	}
	doc.ProductSummary = summarize(b.Type, p)
	if p.Latitude != nil && p.Longitude != nil {
		doc.Coordinates = &GeoPoint{Lat: *p.Latitude, Lng: *p.Longitude}
	}

	_, err := h.coll.ReplaceOne(ctx, bson.M{"_id": b.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		h.logger.Error("failed to project booking history", err)
	}
	return err
}

func summarize(t domain.BookingType, p productPayload) string {
	switch t {
	case domain.BookingTypeHotel:
		if p.HotelName == "" {
			return "Hotel stay"
		}
		return fmt.Sprintf("%s, %s (%d nights)", p.HotelName, p.City, p.Nights)
	case domain.BookingTypeFlight:
		if p.FlightNumber == "" {
			return "Flight"
		}
		return fmt.Sprintf("Flight %s %s-%s", p.FlightNumber, p.Origin, p.Destination)
	case domain.BookingTypeCombo:
		return fmt.Sprintf("Flight %s %s-%s + %s", p.FlightNumber, p.Origin, p.Destination, p.HotelName)
	}
	return string(t)
}

func (h *HistoryRepository) GetUserHistory(ctx context.Context, userID string) ([]HistoryDoc, error) {
	cur, err := h.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		h.logger.Error("failed to query booking history", err)
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []HistoryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
