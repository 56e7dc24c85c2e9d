package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/internal/repository"
)

// DashboardStats summarizes sales for a dashboard
type DashboardStats struct {
	TotalEvents    int             `json:"total_events"`
	UpcomingEvents int             `json:"upcoming_events"`
	Orders         int             `json:"orders"`
	TicketsSold    int             `json:"tickets_sold"`
	Revenue        decimal.Decimal `json:"revenue"`
	OpenAlerts     int             `json:"open_alerts,omitempty"`
}

// DashboardService computes admin and organizer statistics
type DashboardService interface {
	AdminStats(ctx context.Context, session *domain.Session) (*DashboardStats, error)
	OrganizerStats(ctx context.Context, session *domain.Session) (*DashboardStats, error)
}

type dashboardService struct {
	events  repository.EventRepository
	tickets repository.TicketRepository
	alerts  repository.AlertRepository
}

// NewDashboardService creates a new DashboardService
func NewDashboardService(
	events repository.EventRepository,
	tickets repository.TicketRepository,
	alerts repository.AlertRepository,
) DashboardService {
	return &dashboardService{events: events, tickets: tickets, alerts: alerts}
}

func (s *dashboardService) AdminStats(ctx context.Context, session *domain.Session) (*DashboardStats, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	if !session.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	events, err := s.events.List(ctx, repository.EventFilter{})
	if err != nil {
		return nil, err
	}
	summary, err := s.tickets.Summarize(ctx, nil)
	if err != nil {
		return nil, err
	}
	open, err := s.alerts.CountOpen(ctx)
	if err != nil {
		return nil, err
	}

	stats := statsFor(events, summary)
	stats.OpenAlerts = open
	return stats, nil
}

func (s *dashboardService) OrganizerStats(ctx context.Context, session *domain.Session) (*DashboardStats, error) {
	if !session.Authenticated() {
		return nil, domain.ErrUnauthorized
	}
	if session.Role != domain.RoleOrganizer && !session.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	events, err := s.events.List(ctx, repository.EventFilter{OrganizerID: session.UserID})
	if err != nil {
		return nil, err
	}

	// an organizer without events has sold nothing; a nil slice would mean all events
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	summary := &repository.TicketSummary{Revenue: decimal.Zero}
	if len(ids) > 0 {
		summary, err = s.tickets.Summarize(ctx, ids)
		if err != nil {
			return nil, err
		}
	}
	return statsFor(events, summary), nil
}

func statsFor(events []*domain.Event, summary *repository.TicketSummary) *DashboardStats {
	stats := &DashboardStats{
		TotalEvents: len(events),
		Orders:      summary.Orders,
		TicketsSold: summary.Tickets,
		Revenue:     summary.Revenue,
	}
	for _, e := range events {
		if e.Status == domain.EventStatusUpcoming {
			stats.UpcomingEvents++
		}
	}
	return stats
}
