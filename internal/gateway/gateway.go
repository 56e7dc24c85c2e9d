package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// Kind identifies a payment rail
type Kind string

const (
	KindOnChain        Kind = "onchain"
	KindHostedCheckout Kind = "hosted_checkout"
	KindMock           Kind = "mock"
)

// Instruction carries rail-specific payment details.
// OnChainTransfer and HostedCheckout are the only implementations.
type Instruction interface {
	Kind() Kind
	instruction()
}

// OnChainTransfer pays a wallet address on an EVM chain
type OnChainTransfer struct {
	Recipient string `json:"recipient"`
	ChainID   int64  `json:"chain_id"`
}

func (OnChainTransfer) Kind() Kind  { return KindOnChain }
func (OnChainTransfer) instruction() {}

// HostedCheckout pays through a hosted card widget
type HostedCheckout struct {
	Currency    string `json:"currency"`
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
}

func (HostedCheckout) Kind() Kind  { return KindHostedCheckout }
func (HostedCheckout) instruction() {}

// PaymentRequest asks a provider to collect Amount for a reservation
type PaymentRequest struct {
	ReservationID string
	EventID       string
	EventTitle    string
	BuyerID       string
	Amount        decimal.Decimal
	Instruction   Instruction
}

// Outcome is the normalized result of a payment
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailure       Outcome = "failure"
	OutcomeUserCancelled Outcome = "user_cancelled"
)

// FailureKind distinguishes a refused payment from one that never completed
type FailureKind string

const (
	FailureRejected FailureKind = "rejected"
	FailureNetwork  FailureKind = "network"
)

// Result is what every provider reports back
type Result struct {
	Outcome     Outcome     `json:"outcome"`
	Reference   string      `json:"reference,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}

// Success builds a successful result
func Success(reference string) *Result {
	return &Result{Outcome: OutcomeSuccess, Reference: reference}
}

// Failure builds a failed result
func Failure(kind FailureKind, reason string) *Result {
	return &Result{Outcome: OutcomeFailure, FailureKind: kind, Reason: reason}
}

// Cancelled builds a user-cancelled result
func Cancelled(reason string) *Result {
	return &Result{Outcome: OutcomeUserCancelled, Reason: reason}
}

// IsSuccess returns true for a successful payment
func (r *Result) IsSuccess() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

// Err maps a non-success outcome to its domain error, keeping the provider reason
func (r *Result) Err() error {
	if r == nil {
		return domain.ErrPaymentNetworkError
	}

	var sentinel error
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeUserCancelled:
		sentinel = domain.ErrPaymentCancelledByUser
	case OutcomeFailure:
		if r.FailureKind == FailureNetwork {
			sentinel = domain.ErrPaymentNetworkError
		} else {
			sentinel = domain.ErrPaymentRejected
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrPaymentRejected, r.Outcome)
	}

	if r.Reason == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, r.Reason)
}

// Provider executes payments on one rail. It never touches the ledger.
// A returned error means no outcome was reached (for example the context expired).
type Provider interface {
	Kind() Kind
	Execute(ctx context.Context, req *PaymentRequest) (*Result, error)
}

// Refunder is implemented by providers that can return money for a settled payment
type Refunder interface {
	Refund(ctx context.Context, reference string, amount decimal.Decimal) error
}

// Handoff is what the UI needs to drive the wallet or checkout widget
type Handoff struct {
	ReservationID string `json:"reservation_id"`
	Provider      Kind   `json:"provider"`
	Amount        string `json:"amount"`

	// on-chain
	Recipient string `json:"recipient,omitempty"`
	ChainID   int64  `json:"chain_id,omitempty"`
	AmountWei string `json:"amount_wei,omitempty"`

	// hosted checkout
	Currency     string `json:"currency,omitempty"`
	Merchant     string `json:"merchant,omitempty"`
	Description  string `json:"description,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	IntentID     string `json:"intent_id,omitempty"`
}
