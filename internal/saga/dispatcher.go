package saga

import (
	"context"

	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
)

type HandlerFunc func(ctx context.Context, cmd Command) error

// Dispatcher routes commands purely on the action token. Unrecognized
// actions are acknowledged without action so new command types never block
// the channel for older consumers.
type Dispatcher struct {
	handlers map[Action]HandlerFunc
	logger   observability.Logger
}

func NewDispatcher(logger observability.Logger) *Dispatcher {
	return &Dispatcher{handlers: make(map[Action]HandlerFunc), logger: logger}
}

func (d *Dispatcher) Register(action Action, h HandlerFunc) {
	d.handlers[action] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	h, ok := d.handlers[cmd.Action]
	if !ok {
		d.logger.WithField("action", string(cmd.Action)).Debug("unknown saga action, ignoring")
		observability.SagaCommands.WithLabelValues(string(cmd.Action), "ignored").Inc()
		return nil
	}
	if err := h(ctx, cmd); err != nil {
		observability.SagaCommands.WithLabelValues(string(cmd.Action), "error").Inc()
		return err
	}
	observability.SagaCommands.WithLabelValues(string(cmd.Action), "ok").Inc()
	return nil
}
