package rabbit

import (
	"context"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

const Exchange = "booking.saga"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
}

// PublishCommand encodes a saga command and routes it by its action.
func (p *Publisher) PublishCommand(ctx context.Context, cmd saga.Command) error {
	body, err := cmd.Encode()
	if err != nil {
		return err
	}
	return p.Publish(ctx, cmd.Action.RoutingKey(), amqp.Publishing{
		MessageId:   uuid.New().String(),
		ContentType: "application/json",
		Body:        body,
	})
}
