package stripe

import (
	"testing"

	stripego "github.com/stripe/stripe-go/v76"
)

func TestRefreshable(t *testing.T) {
	cases := []struct {
		name     string
		status   stripego.PaymentIntentStatus
		currency string
		want     string
		ok       bool
	}{
		{"pending intent same currency updates in place", stripego.PaymentIntentStatusRequiresPaymentMethod, "usd", "usd", true},
		{"processing intent same currency updates in place", stripego.PaymentIntentStatusProcessing, "eur", "EUR", true},
		{"succeeded intent is replaced", stripego.PaymentIntentStatusSucceeded, "usd", "usd", false},
		{"canceled intent is replaced", stripego.PaymentIntentStatusCanceled, "usd", "usd", false},
		{"currency mismatch is replaced", stripego.PaymentIntentStatusRequiresConfirmation, "eur", "usd", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := refreshable(tc.status, tc.currency, tc.want); got != tc.ok {
				t.Errorf("refreshable(%s, %s, %s) = %v, want %v", tc.status, tc.currency, tc.want, got, tc.ok)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if !terminal(stripego.PaymentIntentStatusSucceeded) || !terminal(stripego.PaymentIntentStatusCanceled) {
		t.Error("succeeded and canceled intents are terminal")
	}
	if terminal(stripego.PaymentIntentStatusProcessing) || terminal(stripego.PaymentIntentStatusRequiresAction) {
		t.Error("in-flight intents are not terminal")
	}
}
