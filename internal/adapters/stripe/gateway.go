package stripe

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/robertarktes/travel-bookings-and-payments/internal/domain"
	"github.com/robertarktes/travel-bookings-and-payments/internal/observability"
	"github.com/robertarktes/travel-bookings-and-payments/internal/payment"
)

// Gateway is the Stripe implementation of the payment strategy, built on
// PaymentIntents. All transport failures are wrapped into domain.GatewayError
// with Stripe's own error code attached.
type Gateway struct {
	api    *client.API
	logger observability.Logger
}

func NewGateway(apiKey string, logger observability.Logger) *Gateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Gateway{api: api, logger: logger}
}

func (g *Gateway) Name() string {
	return "stripe"
}

func wrap(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return &domain.GatewayError{Provider: "stripe", Code: string(stripeErr.Code), Err: err}
	}
	return &domain.GatewayError{Provider: "stripe", Code: "transport_error", Err: err}
}

func terminal(status stripego.PaymentIntentStatus) bool {
	return status == stripego.PaymentIntentStatusSucceeded ||
		status == stripego.PaymentIntentStatusCanceled
}

// refreshable reports whether an existing intent can be updated in place
// instead of being replaced.
func refreshable(status stripego.PaymentIntentStatus, intentCurrency, wantCurrency string) bool {
	return !terminal(status) && strings.EqualFold(intentCurrency, wantCurrency)
}

func (g *Gateway) intentParams(ctx context.Context, p *domain.Payment) *stripego.PaymentIntentParams {
	params := &stripego.PaymentIntentParams{
		Params:      stripego.Params{Context: ctx},
		Amount:      stripego.Int64(payment.MinorUnits(p.Amount)),
		Description: stripego.String("booking " + p.BookingID.String()),
	}
	params.AddMetadata("booking_id", p.BookingID.String())
	params.AddMetadata("saga_id", p.SagaID)
	params.AddMetadata("payment_reference", p.Reference)
	return params
}

// EnsureIntent creates or refreshes the external payment intent for p. An
// existing non-terminal intent with matching currency is updated in place;
// a terminal or currency-mismatched intent is cancelled and replaced.
func (g *Gateway) EnsureIntent(ctx context.Context, p *domain.Payment) (*stripego.PaymentIntent, error) {
	currency := strings.ToLower(p.Currency)

	if p.GatewayTransactionID != "" {
		pi, err := g.api.PaymentIntents.Get(p.GatewayTransactionID, &stripego.PaymentIntentParams{
			Params: stripego.Params{Context: ctx},
		})
		if err != nil {
			return nil, wrap(err)
		}
		if refreshable(pi.Status, string(pi.Currency), currency) {
			updated, err := g.api.PaymentIntents.Update(p.GatewayTransactionID, g.intentParams(ctx, p))
			if err != nil {
				return nil, wrap(err)
			}
			return updated, nil
		}
		if !terminal(pi.Status) {
			if _, err := g.api.PaymentIntents.Cancel(p.GatewayTransactionID, &stripego.PaymentIntentCancelParams{
				Params: stripego.Params{Context: ctx},
			}); err != nil {
				g.logger.WithField("intent_id", p.GatewayTransactionID).Warn("failed to cancel stale intent: ", err)
			}
		}
	}

	params := g.intentParams(ctx, p)
	params.Currency = stripego.String(currency)
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrap(err)
	}
	return pi, nil
}

// Charge refreshes (or creates) the intent for the payment and confirms it
// with the supplied instrument. A retried payment reuses its prior intent
// so the gateway does not stack abandoned authorizations.
func (g *Gateway) Charge(ctx context.Context, p *domain.Payment, method payment.Method) (payment.GatewayCharge, error) {
	pi, err := g.EnsureIntent(ctx, p)
	if err != nil {
		var gwErr *domain.GatewayError
		errors.As(err, &gwErr)
		return payment.GatewayCharge{
			Status:        domain.PaymentError,
			FailureReason: err.Error(),
			FailureCode:   gwErr.Code,
		}, err
	}

	confirmed, err := g.api.PaymentIntents.Confirm(pi.ID, &stripego.PaymentIntentConfirmParams{
		Params:        stripego.Params{Context: ctx},
		PaymentMethod: stripego.String(method.Token),
	})
	if err != nil {
		wrapped := wrap(err)
		var gwErr *domain.GatewayError
		errors.As(wrapped, &gwErr)
		return payment.GatewayCharge{
			TransactionID: pi.ID,
			Status:        domain.PaymentError,
			FailureReason: err.Error(),
			FailureCode:   gwErr.Code,
		}, wrapped
	}

	return payment.GatewayCharge{
		TransactionID: confirmed.ID,
		Status:        payment.MapGatewayStatus(string(confirmed.Status)),
		GatewayStatus: string(confirmed.Status),
	}, nil
}

func (g *Gateway) Refund(ctx context.Context, gatewayTxID string, amountMinor int64, reason string) (payment.GatewayCharge, error) {
	params := &stripego.RefundParams{
		Params:        stripego.Params{Context: ctx},
		PaymentIntent: stripego.String(gatewayTxID),
		Amount:        stripego.Int64(amountMinor),
	}
	params.AddMetadata("reason", reason)

	ref, err := g.api.Refunds.New(params)
	if err != nil {
		wrapped := wrap(err)
		var gwErr *domain.GatewayError
		errors.As(wrapped, &gwErr)
		return payment.GatewayCharge{
			Status:        domain.PaymentError,
			FailureReason: err.Error(),
			FailureCode:   gwErr.Code,
		}, wrapped
	}

	status := domain.PaymentProcessing
	switch ref.Status {
	case stripego.RefundStatusSucceeded:
		status = domain.PaymentCompleted
	case stripego.RefundStatusFailed:
		status = domain.PaymentFailed
	case stripego.RefundStatusCanceled:
		status = domain.PaymentCancelled
	}
	return payment.GatewayCharge{
		TransactionID: ref.ID,
		Status:        status,
		GatewayStatus: string(ref.Status),
	}, nil
}

// RetrieveIntent fetches the canonical intent with its latest charge
// expanded, the gateway truth reconciliation compares against.
func (g *Gateway) RetrieveIntent(ctx context.Context, gatewayTxID string) (*payment.GatewayIntent, error) {
	params := &stripego.PaymentIntentParams{
		Params: stripego.Params{Context: ctx},
	}
	params.AddExpand("latest_charge")

	pi, err := g.api.PaymentIntents.Get(gatewayTxID, params)
	if err != nil {
		return nil, wrap(err)
	}

	intent := &payment.GatewayIntent{
		ID:          pi.ID,
		Status:      string(pi.Status),
		AmountMinor: pi.Amount,
		Currency:    string(pi.Currency),
	}
	if pi.LatestCharge != nil {
		intent.LatestChargeID = pi.LatestCharge.ID
	}
	return intent, nil
}
