package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/gateway"
)

// PurchaseRequest represents a request to buy tickets of one tier.
// Either TierID or TierName identifies the tier.
type PurchaseRequest struct {
	EventID  string `json:"event_id" binding:"required"`
	TierID   string `json:"tier_id,omitempty"`
	TierName string `json:"tier_name,omitempty"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
	Provider string `json:"provider,omitempty"`
}

// AttemptResponse represents a purchase attempt in API responses
type AttemptResponse struct {
	ReservationID    string           `json:"reservation_id"`
	EventID          string           `json:"event_id"`
	TierID           string           `json:"tier_id"`
	Quantity         int              `json:"quantity"`
	Provider         string           `json:"provider"`
	Amount           decimal.Decimal  `json:"amount"`
	State            string           `json:"state"`
	TicketID         string           `json:"ticket_id,omitempty"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	Retryable        bool             `json:"retryable,omitempty"`
	ExpiresAt        time.Time        `json:"expires_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Payment          *gateway.Handoff `json:"payment,omitempty"`
}

// AttemptFromDomain converts an attempt; code is the stable error code of a failed attempt
func AttemptFromDomain(a *domain.Attempt, handoff *gateway.Handoff, code string) *AttemptResponse {
	resp := &AttemptResponse{
		ReservationID:    a.ReservationID,
		EventID:          a.EventID,
		TierID:           a.TierID,
		Quantity:         a.Quantity,
		Provider:         a.Provider,
		Amount:           a.Amount,
		State:            string(a.State),
		TicketID:         a.TicketID,
		PaymentReference: a.PaymentReference,
		ExpiresAt:        a.ExpiresAt,
		UpdatedAt:        a.UpdatedAt,
		Payment:          handoff,
	}
	if a.Err != nil {
		resp.Error = a.FailureMessage()
		resp.ErrorCode = code
		resp.Retryable = domain.IsRetryable(a.Err)
	}
	return resp
}

// WalletCallbackRequest is posted by the UI after the wallet transfer finishes
type WalletCallbackRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
	TxHash        string `json:"tx_hash"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

// ToOutcome converts the request into the wallet report
func (r *WalletCallbackRequest) ToOutcome() *gateway.WalletOutcome {
	return &gateway.WalletOutcome{
		TxHash:       r.TxHash,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
	}
}
