package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrIgnoredEvent is returned by ParseStripeEvent for event types that carry no payment outcome
var ErrIgnoredEvent = errors.New("event type carries no payment outcome")

// StripeCheckoutClient implements CheckoutClient with Stripe PaymentIntents
type StripeCheckoutClient struct{}

// NewStripeCheckoutClient creates a new Stripe client
func NewStripeCheckoutClient(secretKey string) (*StripeCheckoutClient, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = secretKey

	return &StripeCheckoutClient{}, nil
}

// CreatePaymentIntent creates a PaymentIntent and returns its client secret
func (c *StripeCheckoutClient) CreatePaymentIntent(ctx context.Context, req *CheckoutIntentRequest) (*CheckoutIntent, error) {
	if req == nil {
		return nil, fmt.Errorf("checkout intent request is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: make(map[string]string, len(req.Metadata)+1),
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.Metadata["reservation_id"] = req.ReservationID
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &CheckoutIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// CancelPaymentIntent cancels an intent that was never paid
func (c *StripeCheckoutClient) CancelPaymentIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}

	if _, err := paymentintent.Cancel(intentID, params); err != nil {
		return fmt.Errorf("failed to cancel payment intent: %w", err)
	}
	return nil
}

// Refund refunds a PaymentIntent
func (c *StripeCheckoutClient) Refund(ctx context.Context, intentID string, amountMinor int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amountMinor > 0 {
		params.Amount = stripe.Int64(amountMinor)
	}

	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// ParseStripeEvent verifies a webhook payload and normalizes it into the
// reservation it belongs to and the payment result.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (string, *Result, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("invalid webhook signature: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", nil, fmt.Errorf("failed to parse %s: %w", event.Type, err)
	}

	reservationID := pi.Metadata["reservation_id"]
	if reservationID == "" {
		return "", nil, fmt.Errorf("payment intent %s has no reservation_id", pi.ID)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return reservationID, Success(pi.ID), nil
	case "payment_intent.payment_failed":
		reason := "Payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return reservationID, Failure(FailureRejected, reason), nil
	default:
		return reservationID, Cancelled("Payment was canceled"), nil
	}
}
