package repository

import (
	"context"

	"github.com/yugalbansal1/eticket1/internal/domain"
)

// EventFilter narrows ListEvents results. Empty fields match everything.
type EventFilter struct {
	Category    domain.Category
	Status      domain.EventStatus
	OrganizerID string
}

// Matches reports whether the event passes the filter
func (f EventFilter) Matches(e *domain.Event) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.OrganizerID != "" && e.OrganizerID != f.OrganizerID {
		return false
	}
	return true
}

// EventRepository defines the interface for catalog data access
type EventRepository interface {
	// Create stores a new event with its tiers
	Create(ctx context.Context, event *domain.Event) error

	// GetByID retrieves an event with its tiers
	GetByID(ctx context.Context, id string) (*domain.Event, error)

	// List returns events matching the filter, newest first
	List(ctx context.Context, filter EventFilter) ([]*domain.Event, error)

	// Update replaces an event and its tier set
	Update(ctx context.Context, event *domain.Event) error

	// Delete removes an event and its tiers
	Delete(ctx context.Context, id string) error
}
