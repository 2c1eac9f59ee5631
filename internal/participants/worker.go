package participants

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/saga"
)

// DeliverySource is satisfied by the rabbit consumer.
type DeliverySource interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Worker drains a saga command queue into the dispatcher. Messages are
// acknowledged after local handling regardless of business outcome, so a
// processing error is logged instead of causing a redelivery storm.
type Worker struct {
	source     DeliverySource
	dispatcher *saga.Dispatcher
	logger     observability.Logger
}

func NewWorker(source DeliverySource, dispatcher *saga.Dispatcher, logger observability.Logger) *Worker {
	return &Worker{source: source, dispatcher: dispatcher, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.source.Consume(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			w.logger.Error("failed to ack delivery: ", err)
		}
	}()

	cmd, err := saga.Decode(d.Body)
	if err != nil {
		w.logger.Error("undecodable saga command, acking: ", err)
		return
	}
	if err := w.dispatcher.Dispatch(ctx, cmd); err != nil {
		w.logger.WithField("action", string(cmd.Action)).
			WithField("booking_id", cmd.BookingID.String()).
			Error("saga command failed: ", err)
	}
}
