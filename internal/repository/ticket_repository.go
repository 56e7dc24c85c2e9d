package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// TicketSummary aggregates sold tickets for dashboards.
// Refunded and cancelled tickets are excluded.
type TicketSummary struct {
	Orders  int             `json:"orders"`
	Tickets int             `json:"tickets"`
	Revenue decimal.Decimal `json:"revenue"`
}

// TicketRepository defines the interface for ticket data access
type TicketRepository interface {
	// CreateIfAbsent stores the ticket unless one exists for the same reservation.
	// It returns the stored ticket and whether it was created by this call.
	CreateIfAbsent(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error)

	// GetByID retrieves a ticket by its ID
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)

	// GetByReservationID retrieves the ticket issued for a reservation
	GetByReservationID(ctx context.Context, reservationID string) (*domain.Ticket, error)

	// GetByPaymentReference retrieves the ticket a provider payment settled
	GetByPaymentReference(ctx context.Context, provider, reference string) (*domain.Ticket, error)

	// ListByBuyer returns a buyer's tickets, newest first
	ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error)

	// ListByEvent returns an event's tickets, newest first
	ListByEvent(ctx context.Context, eventID string) ([]*domain.Ticket, error)

	// UpdateStatus moves a ticket from one status to another, failing if it is no longer in from
	UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus) (*domain.Ticket, error)

	// Summarize aggregates tickets of the given events, or of all events when eventIDs is nil
	Summarize(ctx context.Context, eventIDs []string) (*TicketSummary, error)
}

func countsTowardSales(s domain.TicketStatus) bool {
	return s == domain.TicketStatusActive || s == domain.TicketStatusUsed
}
