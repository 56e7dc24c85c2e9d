package service

import (
	"context"
	"fmt"

	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/gateway"
	"github.com/yugalbansal1/eticket1/internal/metrics"
	"github.com/yugalbansal1/eticket1/internal/repository"
	"github.com/yugalbansal1/eticket1/pkg/logger"
	"github.com/yugalbansal1/eticket1/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentInfo describes the payment that settled a reservation
type PaymentInfo struct {
	Provider  string
	Reference string
	TierName  string
}

// RefundProviders looks up the refund capability of a payment rail
type RefundProviders interface {
	Refunder(kind gateway.Kind) (gateway.Refunder, bool)
}

// TicketIssuer issues and manages tickets
type TicketIssuer interface {
	// Issue writes the ticket for a confirmed reservation exactly once
	Issue(ctx context.Context, res *domain.Reservation, payment PaymentInfo) (*domain.Ticket, error)

	// FindByPayment returns the ticket a provider payment already settled
	FindByPayment(ctx context.Context, provider, reference string) (*domain.Ticket, error)

	GetTicket(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error)
	ListByBuyer(ctx context.Context, session *domain.Session) ([]*domain.Ticket, error)
	ListByEvent(ctx context.Context, session *domain.Session, eventID string) ([]*domain.Ticket, error)

	// CheckIn marks a ticket used at the venue
	CheckIn(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error)

	// Refund returns the payment through the provider when it supports refunds
	Refund(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error)

	// CancelTicket voids a ticket without moving money
	CancelTicket(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error)
}

type ticketIssuer struct {
	tickets   repository.TicketRepository
	events    repository.EventRepository
	refunds   RefundProviders
	publisher EventPublisher
}

// NewTicketIssuer creates a new TicketIssuer. refunds may be nil.
func NewTicketIssuer(
	tickets repository.TicketRepository,
	events repository.EventRepository,
	refunds RefundProviders,
	publisher EventPublisher,
) TicketIssuer {
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	return &ticketIssuer{
		tickets:   tickets,
		events:    events,
		refunds:   refunds,
		publisher: publisher,
	}
}

func (s *ticketIssuer) Issue(ctx context.Context, res *domain.Reservation, payment PaymentInfo) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.issue")
	defer span.End()

	tierName := payment.TierName
	if tierName == "" && res != nil {
		tierName = res.TierID
	}

	ticket, err := domain.NewTicket(res, tierName, payment.Provider, payment.Reference)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("reservation_id", res.ID),
		attribute.String("ticket_id", ticket.ID),
	)

	stored, created, err := s.tickets.CreateIfAbsent(ctx, ticket)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to store ticket: %w", err)
	}
	if !created {
		return stored, nil
	}

	metrics.TicketIssued()
	if err := s.publisher.PublishTicketIssued(ctx, stored); err != nil {
		logger.Get().Warn("Failed to publish ticket issued event",
			zap.String("ticket_id", stored.ID),
			zap.Error(err),
		)
	}
	return stored, nil
}

func (s *ticketIssuer) FindByPayment(ctx context.Context, provider, reference string) (*domain.Ticket, error) {
	return s.tickets.GetByPaymentReference(ctx, provider, reference)
}

func (s *ticketIssuer) GetTicket(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.CanAccess(ticket.BuyerID) {
		return ticket, nil
	}
	// organizers see tickets of their own events
	if err := s.authorizeEvent(ctx, session, ticket.EventID); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *ticketIssuer) ListByBuyer(ctx context.Context, session *domain.Session) ([]*domain.Ticket, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	return s.tickets.ListByBuyer(ctx, session.UserID)
}

func (s *ticketIssuer) ListByEvent(ctx context.Context, session *domain.Session, eventID string) ([]*domain.Ticket, error) {
	if err := s.authorizeEvent(ctx, session, eventID); err != nil {
		return nil, err
	}
	return s.tickets.ListByEvent(ctx, eventID)
}

func (s *ticketIssuer) CheckIn(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeEvent(ctx, session, ticket.EventID); err != nil {
		return nil, err
	}
	return s.transition(ctx, ticket, domain.TicketStatusUsed)
}

func (s *ticketIssuer) Refund(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ticket.refund")
	defer span.End()

	if !session.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ticket.CanTransitionTo(domain.TicketStatusRefunded) {
		return nil, domain.ErrInvalidTicketTransition
	}

	if s.refunds != nil {
		if refunder, ok := s.refunds.Refunder(gateway.Kind(ticket.PaymentProvider)); ok {
			if err := refunder.Refund(ctx, ticket.PaymentReference, ticket.TotalPrice); err != nil {
				telemetry.RecordError(span, err)
				return nil, fmt.Errorf("%w: refund failed: %v", domain.ErrPaymentNetworkError, err)
			}
		} else {
			// on-chain transfers are returned by the organizer out of band
			logger.Get().Info("Provider has no refund capability, marking ticket refunded",
				zap.String("ticket_id", ticket.ID),
				zap.String("provider", ticket.PaymentProvider),
				zap.String("amount", ticket.TotalPrice.StringFixed(2)),
			)
		}
	}

	return s.transition(ctx, ticket, domain.TicketStatusRefunded)
}

func (s *ticketIssuer) CancelTicket(ctx context.Context, session *domain.Session, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.CanAccess(ticket.BuyerID) {
		if err := s.authorizeEvent(ctx, session, ticket.EventID); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, ticket, domain.TicketStatusCancelled)
}

func (s *ticketIssuer) transition(ctx context.Context, ticket *domain.Ticket, next domain.TicketStatus) (*domain.Ticket, error) {
	if !ticket.CanTransitionTo(next) {
		return nil, domain.ErrInvalidTicketTransition
	}
	updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, ticket.Status, next)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.PublishTicketStatusChanged(ctx, updated); err != nil {
		logger.Get().Warn("Failed to publish ticket status event",
			zap.String("ticket_id", updated.ID),
			zap.Error(err),
		)
	}
	return updated, nil
}

// authorizeEvent allows admins and the organizer who owns the event
func (s *ticketIssuer) authorizeEvent(ctx context.Context, session *domain.Session, eventID string) error {
	if !session.Authenticated() {
		return domain.ErrUnauthorized
	}
	if session.IsAdmin() {
		return nil
	}
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return domain.ErrForbidden
		}
		return err
	}
	if !session.CanManage(event.OrganizerID) {
		return domain.ErrForbidden
	}
	return nil
}
