package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"go.uber.org/zap"
)

// cancelTimeout bounds the call that closes an abandoned intent
const cancelTimeout = 10 * time.Second

// CheckoutIntent is a payment session opened with a hosted checkout provider
type CheckoutIntent struct {
	ID           string
	ClientSecret string
}

// CheckoutIntentRequest describes the session to open, amount in minor units
type CheckoutIntentRequest struct {
	ReservationID string
	AmountMinor   int64
	Currency      string
	Description   string
	Metadata      map[string]string
}

// CheckoutClient is the provider API used by HostedCheckoutGateway
type CheckoutClient interface {
	CreatePaymentIntent(ctx context.Context, req *CheckoutIntentRequest) (*CheckoutIntent, error)
	CancelPaymentIntent(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amountMinor int64) error
}

// HostedCheckoutConfig holds configuration for the hosted checkout gateway
type HostedCheckoutConfig struct {
	Currency string
	Merchant string
}

// DefaultHostedCheckoutConfig returns default configuration
func DefaultHostedCheckoutConfig() *HostedCheckoutConfig {
	return &HostedCheckoutConfig{
		Currency: "inr",
		Merchant: "EventTix",
	}
}

// HostedCheckoutGateway opens a checkout session and waits for the widget's result
type HostedCheckoutGateway struct {
	config *HostedCheckoutConfig
	client CheckoutClient
	hub    *CallbackHub
}

// NewHostedCheckoutGateway creates a new hosted checkout gateway
func NewHostedCheckoutGateway(config *HostedCheckoutConfig, client CheckoutClient, hub *CallbackHub) (*HostedCheckoutGateway, error) {
	if config == nil {
		config = DefaultHostedCheckoutConfig()
	}
	if client == nil {
		return nil, fmt.Errorf("checkout client is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("callback hub is required")
	}
	if config.Currency == "" {
		config.Currency = "inr"
	}
	if config.Merchant == "" {
		config.Merchant = "EventTix"
	}
	return &HostedCheckoutGateway{config: config, client: client, hub: hub}, nil
}

// Kind returns the rail this gateway serves
func (g *HostedCheckoutGateway) Kind() Kind {
	return KindHostedCheckout
}

// Execute opens the checkout session and blocks until the provider reports back
func (g *HostedCheckoutGateway) Execute(ctx context.Context, req *PaymentRequest) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("payment request is required")
	}
	if !req.Amount.IsPositive() {
		return Failure(FailureRejected, "Amount must be positive"), nil
	}

	currency := g.config.Currency
	merchant := g.config.Merchant
	description := "Tickets for " + req.EventTitle
	if in, ok := req.Instruction.(HostedCheckout); ok {
		if in.Currency != "" {
			currency = in.Currency
		}
		if in.Merchant != "" {
			merchant = in.Merchant
		}
		if in.Description != "" {
			description = in.Description
		}
	}

	intent, err := g.client.CreatePaymentIntent(ctx, &CheckoutIntentRequest{
		ReservationID: req.ReservationID,
		AmountMinor:   toMinorUnits(req.Amount),
		Currency:      currency,
		Description:   description,
		Metadata: map[string]string{
			"reservation_id": req.ReservationID,
			"event_id":       req.EventID,
			"buyer_id":       req.BuyerID,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return Failure(FailureNetwork, fmt.Sprintf("checkout unavailable: %v", err)), nil
	}

	res, err := g.hub.Await(ctx, &Handoff{
		ReservationID: req.ReservationID,
		Provider:      KindHostedCheckout,
		Amount:        req.Amount.String(),
		Currency:      currency,
		Merchant:      merchant,
		Description:   description,
		ClientSecret:  intent.ClientSecret,
		IntentID:      intent.ID,
	})
	if err != nil || !res.IsSuccess() {
		// the hold is about to be released; the widget must not be able to charge for it
		g.cancelIntent(ctx, req.ReservationID, intent.ID)
	}
	return res, err
}

func (g *HostedCheckoutGateway) cancelIntent(ctx context.Context, reservationID, intentID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	if err := g.client.CancelPaymentIntent(ctx, intentID); err != nil {
		logger.Get().Warn("Failed to cancel payment intent",
			zap.String("reservation_id", reservationID),
			zap.String("intent_id", intentID),
			zap.Error(err),
		)
	}
}

// Refund returns a settled payment to the buyer
func (g *HostedCheckoutGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	if reference == "" {
		return fmt.Errorf("payment reference is required")
	}
	return g.client.Refund(ctx, reference, toMinorUnits(amount))
}

// toMinorUnits converts to the smallest currency unit (paise, cents)
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
