package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttemptState is the settlement state of a purchase attempt
type AttemptState string

const (
	AttemptRequested AttemptState = "REQUESTED"
	AttemptReserved  AttemptState = "RESERVED"
	AttemptPaying    AttemptState = "PAYING"
	AttemptConfirmed AttemptState = "CONFIRMED"
	AttemptFailed    AttemptState = "FAILED"
)

// IsFinal returns true if the attempt reached CONFIRMED or FAILED
func (s AttemptState) IsFinal() bool {
	return s == AttemptConfirmed || s == AttemptFailed
}

func (s AttemptState) String() string {
	return string(s)
}

// Attempt tracks one purchase from request to settlement
type Attempt struct {
	ReservationID    string          `json:"reservation_id"`
	EventID          string          `json:"event_id"`
	TierID           string          `json:"tier_id"`
	BuyerID          string          `json:"buyer_id"`
	Quantity         int             `json:"quantity"`
	Provider         string          `json:"provider"`
	Amount           decimal.Decimal `json:"amount"`
	State            AttemptState    `json:"state"`
	TicketID         string          `json:"ticket_id,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Err              error           `json:"-"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FailureMessage returns the error text for a failed attempt
func (a *Attempt) FailureMessage() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// Clone returns a copy safe to hand out while the attempt keeps progressing
func (a *Attempt) Clone() *Attempt {
	c := *a
	return &c
}
