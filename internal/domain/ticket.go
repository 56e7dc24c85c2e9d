package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TicketStatus represents the lifecycle status of a ticket
type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "active"
	TicketStatusUsed      TicketStatus = "used"
	TicketStatusRefunded  TicketStatus = "refunded"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// IsValid checks if the status is known
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusActive, TicketStatusUsed, TicketStatusRefunded, TicketStatusCancelled:
		return true
	}
	return false
}

func (s TicketStatus) String() string {
	return string(s)
}

// ticketNamespace scopes deterministic ticket ids
var ticketNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a10-2c4d6e8f0a1b")

// TicketIDFor derives the ticket id from the reservation it settles.
// The same reservation always yields the same ticket id.
func TicketIDFor(reservationID string) string {
	return uuid.NewSHA1(ticketNamespace, []byte(reservationID)).String()
}

// Ticket is an issued ticket bound to a confirmed reservation
type Ticket struct {
	ID               string          `json:"id"`
	ReservationID    string          `json:"reservation_id"`
	EventID          string          `json:"event_id"`
	TierID           string          `json:"tier_id"`
	TierName         string          `json:"tier_name"`
	Quantity         int             `json:"quantity"`
	BuyerID          string          `json:"buyer_id"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	PaymentProvider  string          `json:"payment_provider"`
	PaymentReference string          `json:"payment_reference"`
	Status           TicketStatus    `json:"status"`
	PurchasedAt      time.Time       `json:"purchased_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewTicket builds an active ticket from a confirmed reservation
func NewTicket(res *Reservation, tierName, provider, reference string) (*Ticket, error) {
	if res == nil {
		return nil, ErrReservationNotFound
	}
	if res.State != ReservationConfirmed {
		return nil, ErrReservationNotConfirmed
	}
	now := time.Now().UTC()
	return &Ticket{
		ID:               TicketIDFor(res.ID),
		ReservationID:    res.ID,
		EventID:          res.EventID,
		TierID:           res.TierID,
		TierName:         tierName,
		Quantity:         res.Quantity,
		BuyerID:          res.BuyerID,
		UnitPrice:        res.UnitPrice,
		TotalPrice:       res.TotalPrice(),
		PaymentProvider:  provider,
		PaymentReference: reference,
		Status:           TicketStatusActive,
		PurchasedAt:      now,
		UpdatedAt:        now,
	}, nil
}

// CanTransitionTo checks if the ticket may move to the given status
func (t *Ticket) CanTransitionTo(next TicketStatus) bool {
	return t.Status == TicketStatusActive && next != TicketStatusActive && next.IsValid()
}

// TransitionTo applies a status change
func (t *Ticket) TransitionTo(next TicketStatus) error {
	if !t.CanTransitionTo(next) {
		return ErrInvalidTicketTransition
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// BelongsTo checks if the ticket belongs to the buyer
func (t *Ticket) BelongsTo(buyerID string) bool {
	return t.BuyerID == buyerID
}
