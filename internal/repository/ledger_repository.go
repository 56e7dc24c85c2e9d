package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// DefaultReservationTTL is used when ReserveParams.TTL is zero
const DefaultReservationTTL = 10 * time.Minute

// ReserveParams contains parameters for holding tier inventory
type ReserveParams struct {
	EventID  string
	TierID   string
	BuyerID  string
	Quantity int
	TTL      time.Duration
}

// TierSpec is the catalog's view of a tier pushed into the ledger
type TierSpec struct {
	EventID   string
	TierID    string
	Capacity  int
	UnitPrice decimal.Decimal
}

// LedgerRepository is the authority on tier inventory.
// Every operation on one tier is linearizable with every other operation on that tier.
type LedgerRepository interface {
	// UpsertTier creates a tier or updates its capacity and price.
	// Lowering capacity below sold plus held fails with ErrCapacityBelowCommitted.
	UpsertTier(ctx context.Context, spec TierSpec) error

	// RemoveTier deletes a tier that has no live holds and no sales
	RemoveTier(ctx context.Context, tierID string) error

	// Reserve releases the tier's expired holds, checks capacity and creates a HELD reservation
	Reserve(ctx context.Context, params ReserveParams) (*domain.Reservation, error)

	// Confirm moves a HELD reservation to CONFIRMED and its quantity into sold
	Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error)

	// Release moves a HELD reservation to RELEASED. Terminal reservations are returned unchanged.
	Release(ctx context.Context, reservationID string, reason domain.ReleaseReason) (*domain.Reservation, error)

	// ReleaseExpired releases up to limit HELD reservations whose expiry is at or before now
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)

	// Get returns a reservation by id
	Get(ctx context.Context, reservationID string) (*domain.Reservation, error)

	// Inventory returns the current counts for a tier
	Inventory(ctx context.Context, tierID string) (*domain.TierInventory, error)
}

func validateReserve(params *ReserveParams) error {
	if params.TierID == "" {
		return domain.ErrTierNotFound
	}
	if params.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if params.TTL <= 0 {
		params.TTL = DefaultReservationTTL
	}
	return nil
}

func validateSpec(spec TierSpec) error {
	if spec.TierID == "" || spec.EventID == "" {
		return domain.ErrInvalidTier
	}
	if spec.UnitPrice.IsNegative() {
		return domain.ErrInvalidPrice
	}
	if spec.Capacity < 0 {
		return domain.ErrInvalidCapacity
	}
	return nil
}
