package charge

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

// Stripe charges through PaymentIntents confirmed with a test payment
// method. There is no customer-facing card entry in this flow, so the
// intent is confirmed server-side and redirects are disabled.
type Stripe struct {
	testPaymentMethod string
}

func NewStripe(secretKey string, testPaymentMethod string) *Stripe {
	stripe.Key = secretKey
	if testPaymentMethod == "" {
		testPaymentMethod = "pm_card_visa"
	}
	return &Stripe{testPaymentMethod: testPaymentMethod}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Charge(_ context.Context, req Request) (Result, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Confirm:       stripe.Bool(true),
		PaymentMethod: stripe.String(s.testPaymentMethod),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	// Deterministic key: a redelivered charge request hits the same intent.
	params.IdempotencyKey = stripe.String("charge:" + req.OrderID)

	pi, err := paymentintent.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return Result{Declined: true, Reason: string(stripeErr.Code)}, nil
		}
		return Result{}, err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Result{ProviderPaymentID: pi.ID, Declined: true, Reason: "intent status " + string(pi.Status)}, nil
	}
	return Result{ProviderPaymentID: pi.ID}, nil
}

func (s *Stripe) Refund(_ context.Context, providerPaymentID string, orderID string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerPaymentID),
	}
	params.IdempotencyKey = stripe.String("refund:" + orderID)

	ref, err := refund.New(params)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}
