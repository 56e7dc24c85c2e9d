package gateway

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/yugalbansal1/eticket1/internal/domain"
)

const (
	// DefaultChainID is the chain the platform wallet lives on
	DefaultChainID int64 = 41
	// DefaultRecipient is the platform wallet used when an event has no organizer wallet
	DefaultRecipient = "0xF5FeFBf4eE405d61eFa05870357ca86b14196462"
	// DefaultDecimals converts whole tokens into base units
	DefaultDecimals int32 = 18
)

// Wallet error codes reported by injected browser providers
const (
	WalletCodeUserRejected = 4001
	WalletCodeInternal     = -32603
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAddress reports whether s looks like an EVM account address
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// OnChainConfig holds configuration for the on-chain gateway
type OnChainConfig struct {
	ChainID   int64
	Recipient string
	Decimals  int32
	// Verifier checks reported transactions before they count as payment
	Verifier ReceiptVerifier
}

// DefaultOnChainConfig returns default configuration. It has no verifier.
func DefaultOnChainConfig() *OnChainConfig {
	return &OnChainConfig{
		ChainID:   DefaultChainID,
		Recipient: DefaultRecipient,
		Decimals:  DefaultDecimals,
	}
}

// WalletOutcome is what the buyer's wallet reports after a transfer attempt
type WalletOutcome struct {
	TxHash       string `json:"tx_hash"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Result normalizes the wallet report
func (w *WalletOutcome) Result() *Result {
	if w.ErrorCode == 0 && w.ErrorMessage == "" && w.TxHash != "" {
		return Success(w.TxHash)
	}

	switch w.ErrorCode {
	case WalletCodeUserRejected:
		return Cancelled("Transaction rejected by user")
	case WalletCodeInternal:
		return Failure(FailureNetwork, "Network error. Please try again")
	}

	msg := w.ErrorMessage
	if strings.Contains(strings.ToLower(msg), "insufficient funds") {
		return Failure(FailureRejected, "Insufficient funds for transaction")
	}
	if msg == "" {
		msg = "Transaction failed"
	}
	return Failure(FailureRejected, msg)
}

// OnChainGateway collects payment as a native-token transfer signed in the buyer's wallet.
// The server never holds keys: Execute publishes the transfer details and waits
// for the wallet callback delivered through the hub.
type OnChainGateway struct {
	config *OnChainConfig
	hub    *CallbackHub
}

// NewOnChainGateway creates a new on-chain gateway
func NewOnChainGateway(config *OnChainConfig, hub *CallbackHub) (*OnChainGateway, error) {
	if config == nil {
		config = DefaultOnChainConfig()
	}
	if hub == nil {
		return nil, fmt.Errorf("callback hub is required")
	}
	if config.Verifier == nil {
		return nil, fmt.Errorf("receipt verifier is required")
	}
	if config.ChainID == 0 {
		config.ChainID = DefaultChainID
	}
	if config.Recipient == "" {
		config.Recipient = DefaultRecipient
	}
	if config.Decimals <= 0 {
		config.Decimals = DefaultDecimals
	}
	if !IsValidAddress(config.Recipient) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidRecipient, config.Recipient)
	}

	return &OnChainGateway{config: config, hub: hub}, nil
}

// Kind returns the rail this gateway serves
func (g *OnChainGateway) Kind() Kind {
	return KindOnChain
}

// Execute publishes the transfer and blocks until the wallet reports back
func (g *OnChainGateway) Execute(ctx context.Context, req *PaymentRequest) (*Result, error) {
	handoff, failure := g.transfer(req)
	if failure != nil {
		return failure, nil
	}
	return g.hub.Await(ctx, handoff)
}

// VerifyPayment checks a reported transaction against the transfer req asks for
func (g *OnChainGateway) VerifyPayment(ctx context.Context, req *PaymentRequest, txHash string) error {
	handoff, failure := g.transfer(req)
	if failure != nil {
		return fmt.Errorf("%w: %s", domain.ErrPaymentUnverified, failure.Reason)
	}
	amount, ok := new(big.Int).SetString(handoff.AmountWei, 10)
	if !ok {
		return fmt.Errorf("%w: bad amount %s", domain.ErrPaymentUnverified, handoff.AmountWei)
	}
	return g.config.Verifier.VerifyTransfer(ctx, &Transfer{
		TxHash:    txHash,
		Recipient: handoff.Recipient,
		AmountWei: amount,
		ChainID:   handoff.ChainID,
	})
}

// transfer resolves what the wallet must send, or the failure that stops the payment
func (g *OnChainGateway) transfer(req *PaymentRequest) (*Handoff, *Result) {
	if req == nil {
		return nil, Failure(FailureRejected, "Payment request is required")
	}

	recipient := g.config.Recipient
	chainID := g.config.ChainID
	if in, ok := req.Instruction.(OnChainTransfer); ok {
		if in.Recipient != "" {
			recipient = in.Recipient
		}
		if in.ChainID != 0 {
			chainID = in.ChainID
		}
	}

	// The wallet would send funds nowhere useful; refuse before prompting the buyer
	if !IsValidAddress(recipient) {
		return nil, Failure(FailureRejected, "Invalid recipient address")
	}
	if !req.Amount.IsPositive() {
		return nil, Failure(FailureRejected, "Amount must be positive")
	}

	return &Handoff{
		ReservationID: req.ReservationID,
		Provider:      KindOnChain,
		Amount:        req.Amount.String(),
		Recipient:     recipient,
		ChainID:       chainID,
		AmountWei:     req.Amount.Shift(g.config.Decimals).Truncate(0).String(),
	}, nil
}
