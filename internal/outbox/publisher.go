package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/crdb"
	"github.com/robertarktes/travel-bookings-and-payments/internal/adapters/rabbit"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
)

// Publisher drains NEW outbox rows to the topic exchange. Rows are claimed
// with FOR UPDATE SKIP LOCKED so multiple publisher instances do not fight
// over the same batch.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	records, err := p.repo.GetUnpublishedOutbox(ctx, 50)
	if err != nil {
		p.logger.Error("failed to fetch outbox batch: ", err)
		return
	}
	for _, rec := range records {
		observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())

		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithField("event_type", rec.EventType).Error("failed to publish outbox record: ", err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now(), rec.DedupeKey); err != nil {
			p.logger.WithField("outbox_id", rec.ID.String()).Error("failed to mark outbox record published: ", err)
		}
	}
}
