package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationState is the state of a hold
type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationReleased  ReservationState = "RELEASED"
)

// IsTerminal reports whether no further transition is possible
func (s ReservationState) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased
}

func (s ReservationState) String() string {
	return string(s)
}

// ReleaseReason records why a hold was released
type ReleaseReason string

const (
	ReleasePaymentFailed ReleaseReason = "payment_failed"
	ReleaseCancelled     ReleaseReason = "cancelled"
	ReleaseExpired       ReleaseReason = "expired"
	ReleaseTimeout       ReleaseReason = "timeout"
)

// Reservation is a hold on tier inventory pending payment
type Reservation struct {
	ID            string           `json:"id"`
	EventID       string           `json:"event_id"`
	TierID        string           `json:"tier_id"`
	BuyerID       string           `json:"buyer_id"`
	Quantity      int              `json:"quantity"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	State         ReservationState `json:"state"`
	ReleaseReason ReleaseReason    `json:"release_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
	ReleasedAt    *time.Time       `json:"released_at,omitempty"`
}

// TotalPrice is the snapshot unit price times quantity
func (r *Reservation) TotalPrice() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// IsExpiredAt reports whether a HELD reservation has passed its expiry
func (r *Reservation) IsExpiredAt(t time.Time) bool {
	return r.State == ReservationHeld && !t.Before(r.ExpiresAt)
}

// IsLiveAt reports whether the hold still counts against capacity and can be confirmed
func (r *Reservation) IsLiveAt(t time.Time) bool {
	return r.State == ReservationHeld && t.Before(r.ExpiresAt)
}

// Confirm moves HELD to CONFIRMED. Confirming a CONFIRMED reservation is a no-op
// reported by changed=false.
func (r *Reservation) Confirm(now time.Time) (changed bool, err error) {
	switch r.State {
	case ReservationConfirmed:
		return false, nil
	case ReservationReleased:
		return false, ErrAlreadyTerminal
	}
	if r.IsExpiredAt(now) {
		return false, ErrReservationExpired
	}
	r.State = ReservationConfirmed
	r.ConfirmedAt = &now
	return true, nil
}

// Release moves HELD to RELEASED. Releasing a terminal reservation is a no-op
// reported by changed=false.
func (r *Reservation) Release(reason ReleaseReason, now time.Time) (changed bool) {
	if r.State.IsTerminal() {
		return false
	}
	r.State = ReservationReleased
	r.ReleaseReason = reason
	r.ReleasedAt = &now
	return true
}

// BelongsTo checks if the reservation belongs to the buyer
func (r *Reservation) BelongsTo(buyerID string) bool {
	return r.BuyerID == buyerID
}

// Clone returns a copy that callers may keep without sharing ledger state
func (r *Reservation) Clone() *Reservation {
	c := *r
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		c.ReleasedAt = &t
	}
	return &c
}
