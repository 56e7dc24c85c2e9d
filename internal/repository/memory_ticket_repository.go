package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// MemoryTicketRepository implements TicketRepository in process memory
type MemoryTicketRepository struct {
	mu            sync.RWMutex
	tickets       map[string]*domain.Ticket
	byReservation map[string]string
}

// NewMemoryTicketRepository creates a new MemoryTicketRepository
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets:       make(map[string]*domain.Ticket),
		byReservation: make(map[string]string),
	}
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	return &c
}

// CreateIfAbsent stores the ticket unless the reservation already has one
func (r *MemoryTicketRepository) CreateIfAbsent(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byReservation[ticket.ReservationID]; ok {
		return cloneTicket(r.tickets[id]), false, nil
	}
	r.tickets[ticket.ID] = cloneTicket(ticket)
	r.byReservation[ticket.ReservationID] = ticket.ID
	return cloneTicket(ticket), true, nil
}

// GetByID retrieves a ticket by its ID
func (r *MemoryTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

// GetByReservationID retrieves the ticket issued for a reservation
func (r *MemoryTicketRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReservation[reservationID]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return cloneTicket(r.tickets[id]), nil
}

// GetByPaymentReference retrieves the ticket a provider payment settled
func (r *MemoryTicketRepository) GetByPaymentReference(ctx context.Context, provider, reference string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tickets {
		if t.PaymentProvider == provider && t.PaymentReference == reference {
			return cloneTicket(t), nil
		}
	}
	return nil, domain.ErrTicketNotFound
}

func (r *MemoryTicketRepository) list(match func(*domain.Ticket) bool) []*domain.Ticket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Ticket, 0)
	for _, t := range r.tickets {
		if match(t) {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out
}

// ListByBuyer returns a buyer's tickets
func (r *MemoryTicketRepository) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error) {
	return r.list(func(t *domain.Ticket) bool { return t.BuyerID == buyerID }), nil
}

// ListByEvent returns an event's tickets
func (r *MemoryTicketRepository) ListByEvent(ctx context.Context, eventID string) ([]*domain.Ticket, error) {
	return r.list(func(t *domain.Ticket) bool { return t.EventID == eventID }), nil
}

// UpdateStatus moves a ticket between statuses
func (r *MemoryTicketRepository) UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	if t.Status != from {
		return nil, domain.ErrInvalidTicketTransition
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return cloneTicket(t), nil
}

// Summarize aggregates sold tickets
func (r *MemoryTicketRepository) Summarize(ctx context.Context, eventIDs []string) (*TicketSummary, error) {
	var include map[string]bool
	if eventIDs != nil {
		include = make(map[string]bool, len(eventIDs))
		for _, id := range eventIDs {
			include[id] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sum := &TicketSummary{Revenue: decimal.Zero}
	for _, t := range r.tickets {
		if include != nil && !include[t.EventID] {
			continue
		}
		if !countsTowardSales(t.Status) {
			continue
		}
		sum.Orders++
		sum.Tickets += t.Quantity
		sum.Revenue = sum.Revenue.Add(t.TotalPrice)
	}
	return sum, nil
}
