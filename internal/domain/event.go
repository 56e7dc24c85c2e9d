package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the kind of event
type Category string

const (
	CategoryConcert  Category = "concert"
	CategoryComedy   Category = "comedy"
	CategorySports   Category = "sports"
	CategoryTheater  Category = "theater"
	CategoryFestival Category = "festival"
)

// IsValid checks if the category is known
func (c Category) IsValid() bool {
	switch c {
	case CategoryConcert, CategoryComedy, CategorySports, CategoryTheater, CategoryFestival:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of an event
type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "upcoming"
	EventStatusOngoing   EventStatus = "ongoing"
	EventStatusCompleted EventStatus = "completed"
)

// IsValid checks if the status is known
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusUpcoming, EventStatusOngoing, EventStatusCompleted:
		return true
	}
	return false
}

// Well-known tier names. Any non-empty name is accepted.
const (
	TierGeneral   = "general"
	TierVIP       = "vip"
	TierEarlyBird = "earlyBird"
	TierGroup     = "group"
)

// Tier is a priced ticket class with its own capacity
type Tier struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Capacity  int             `json:"capacity"`
}

// Validate checks tier fields
func (t *Tier) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidTier
	}
	if t.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	if t.Capacity < 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// Event is a published event and its tiers
type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
	Time        string      `json:"time"`
	Venue       string      `json:"venue"`
	ImageURL    string      `json:"image_url,omitempty"`
	Category    Category    `json:"category"`
	Status      EventStatus `json:"status"`
	OrganizerID string      `json:"organizer_id"`
	Tiers       []*Tier     `json:"tiers"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// OrganizerWallet receives on-chain payments; empty uses the platform wallet
	OrganizerWallet string `json:"organizer_wallet,omitempty"`
}

// Validate checks event fields and its tiers
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.OrganizerID) == "" {
		return ErrInvalidEvent
	}
	if !e.Category.IsValid() || !e.Status.IsValid() {
		return ErrInvalidEvent
	}
	seen := make(map[string]bool, len(e.Tiers))
	for _, t := range e.Tiers {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return ErrDuplicateTierName
		}
		seen[t.Name] = true
	}
	return nil
}

// Tier returns the tier with the given id
func (e *Event) Tier(id string) (*Tier, bool) {
	for _, t := range e.Tiers {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// TierByName returns the tier with the given name
func (e *Event) TierByName(name string) (*Tier, bool) {
	for _, t := range e.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// OnSale reports whether tickets may still be bought
func (e *Event) OnSale() bool {
	return e.Status != EventStatusCompleted
}

// TierInventory is the ledger's view of one tier
type TierInventory struct {
	EventID   string          `json:"event_id"`
	TierID    string          `json:"tier_id"`
	Capacity  int             `json:"capacity"`
	Sold      int             `json:"sold"`
	Held      int             `json:"held"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Available is the quantity that can still be reserved
func (i *TierInventory) Available() int {
	return i.Capacity - i.Sold - i.Held
}

// InUse reports whether the tier has holds or sales
func (i *TierInventory) InUse() bool {
	return i.Sold > 0 || i.Held > 0
}
