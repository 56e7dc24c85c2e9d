package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReconciliationAlert records money that moved without a live hold to settle it
type ReconciliationAlert struct {
	ID               string          `json:"id"`
	ReservationID    string          `json:"reservation_id"`
	EventID          string          `json:"event_id"`
	TierID           string          `json:"tier_id"`
	BuyerID          string          `json:"buyer_id"`
	Provider         string          `json:"provider"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	DetectedAt       time.Time       `json:"detected_at"`
	Resolved         bool            `json:"resolved"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	Note             string          `json:"note,omitempty"`
}

// NewReconciliationAlert builds an unresolved alert for res
func NewReconciliationAlert(res *Reservation, provider, reference, reason string) *ReconciliationAlert {
	alert := &ReconciliationAlert{
		ID:               uuid.New().String(),
		Provider:         provider,
		PaymentReference: reference,
		Reason:           reason,
		DetectedAt:       time.Now().UTC(),
	}
	if res != nil {
		alert.ReservationID = res.ID
		alert.EventID = res.EventID
		alert.TierID = res.TierID
		alert.BuyerID = res.BuyerID
		alert.Amount = res.TotalPrice()
	}
	return alert
}

// Resolve marks the alert as handled
func (a *ReconciliationAlert) Resolve(by, note string) {
	now := time.Now().UTC()
	a.Resolved = true
	a.ResolvedBy = by
	a.ResolvedAt = &now
	a.Note = note
}
