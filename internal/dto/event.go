package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// TierRequest describes one ticket tier in a create or update request.
// ID is optional; tiers without one are matched to existing tiers by name.
type TierRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Capacity  int             `json:"capacity" binding:"min=0"`
}

// EventRequest represents the body of create and update event calls
type EventRequest struct {
	Title           string        `json:"title" binding:"required"`
	Description     string        `json:"description"`
	Date            string        `json:"date"`
	Time            string        `json:"time"`
	Venue           string        `json:"venue"`
	ImageURL        string        `json:"image_url"`
	Category        string        `json:"category" binding:"required"`
	Status          string        `json:"status"`
	OrganizerWallet string        `json:"organizer_wallet"`
	Tiers           []TierRequest `json:"tiers" binding:"dive"`
}

// EventListQuery holds the filters accepted by the event list endpoint
type EventListQuery struct {
	Category    string `form:"category"`
	Status      string `form:"status"`
	OrganizerID string `form:"organizer_id"`
}

// TierAvailability is a tier with its live inventory counts
type TierAvailability struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Capacity  int             `json:"capacity"`
	Sold      int             `json:"sold"`
	Held      int             `json:"held"`
	Available int             `json:"available"`
}

// EventResponse represents an event in API responses
type EventResponse struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Date            string             `json:"date"`
	Time            string             `json:"time"`
	Venue           string             `json:"venue"`
	ImageURL        string             `json:"image_url,omitempty"`
	Category        string             `json:"category"`
	Status          string             `json:"status"`
	OrganizerID     string             `json:"organizer_id"`
	OrganizerWallet string             `json:"organizer_wallet,omitempty"`
	Tiers           []TierAvailability `json:"tiers"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// EventFromDomain converts an event. inventory may be nil or partial;
// tiers without counts report their full capacity as available.
func EventFromDomain(e *domain.Event, inventory map[string]*domain.TierInventory) *EventResponse {
	resp := &EventResponse{
		ID:              e.ID,
		Title:           e.Title,
		Description:     e.Description,
		Date:            e.Date,
		Time:            e.Time,
		Venue:           e.Venue,
		ImageURL:        e.ImageURL,
		Category:        string(e.Category),
		Status:          string(e.Status),
		OrganizerID:     e.OrganizerID,
		OrganizerWallet: e.OrganizerWallet,
		Tiers:           make([]TierAvailability, 0, len(e.Tiers)),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
	for _, t := range e.Tiers {
		ta := TierAvailability{
			ID:        t.ID,
			Name:      t.Name,
			UnitPrice: t.UnitPrice,
			Capacity:  t.Capacity,
			Available: t.Capacity,
		}
		if inv, ok := inventory[t.ID]; ok {
			ta.Sold = inv.Sold
			ta.Held = inv.Held
			ta.Available = inv.Available()
		}
		resp.Tiers = append(resp.Tiers, ta)
	}
	return resp
}
