package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names bound to the saga exchange. Delivery is at-least-once with
// manual ack; consumers ack after local handling regardless of outcome.
const (
	HotelQueue  = "saga.hotel.q"
	FlightQueue = "saga.flight.q"
	ReplyQueue  = "saga.reply.q"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

func NewConsumer(conn *amqp.Connection, queue, bindingKey string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue, bindingKey, Exchange, false, nil); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}
