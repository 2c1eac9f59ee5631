package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID string, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogBooking(ctx context.Context, action string, b domain.Booking) error {
	data := map[string]interface{}{
		"booking_id": b.ID,
		"reference":  b.Reference,
		"saga_id":    b.SagaID,
		"status":     string(b.Status),
		"total":      b.TotalAmount,
		"currency":   b.Currency,
	}
	return a.LogEvent(ctx, action, b.UserID, data)
}

func (a *AuditLogger) LogPayment(ctx context.Context, action string, p domain.Payment) error {
	data := map[string]interface{}{
		"payment_id": p.ID,
		"booking_id": p.BookingID,
		"provider":   p.Provider,
		"status":     string(p.Status),
		"amount":     p.Amount,
		"currency":   p.Currency,
	}
	return a.LogEvent(ctx, action, p.UserID, data)
}
