package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// Clock returns the current time
type Clock func() time.Time

// memoryTier holds one tier's counts. mu serializes every operation on the tier.
type memoryTier struct {
	mu           sync.Mutex
	spec         TierSpec
	sold         int
	held         int
	removed      bool
	holds        map[string]*domain.Reservation // HELD only
	reservations map[string]*domain.Reservation
}

// MemoryLedgerRepository implements LedgerRepository in process memory
type MemoryLedgerRepository struct {
	mu    sync.RWMutex
	tiers map[string]*memoryTier
	index map[string]string // reservation id -> tier id
	now   Clock
}

// NewMemoryLedgerRepository creates a new MemoryLedgerRepository
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return NewMemoryLedgerRepositoryWithClock(time.Now)
}

// NewMemoryLedgerRepositoryWithClock creates a ledger that reads time from clock
func NewMemoryLedgerRepositoryWithClock(clock Clock) *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		tiers: make(map[string]*memoryTier),
		index: make(map[string]string),
		now:   clock,
	}
}

func (r *MemoryLedgerRepository) tier(tierID string) (*memoryTier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tiers[tierID]
	return t, ok
}

// UpsertTier creates a tier or updates its capacity and price
func (r *MemoryLedgerRepository) UpsertTier(ctx context.Context, spec TierSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}

	r.mu.Lock()
	t, ok := r.tiers[spec.TierID]
	if !ok {
		r.tiers[spec.TierID] = &memoryTier{
			spec:         spec,
			holds:        make(map[string]*domain.Reservation),
			reservations: make(map[string]*domain.Reservation),
		}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.expireLocked(r.now())
	if spec.Capacity < t.sold+t.held {
		return domain.ErrCapacityBelowCommitted
	}
	t.spec = spec
	return nil
}

// RemoveTier deletes a tier with no holds and no sales
func (r *MemoryLedgerRepository) RemoveTier(ctx context.Context, tierID string) error {
	t, ok := r.tier(tierID)
	if !ok {
		return domain.ErrTierNotFound
	}

	t.mu.Lock()
	t.expireLocked(r.now())
	if t.sold > 0 || t.held > 0 {
		t.mu.Unlock()
		return domain.ErrTierInUse
	}
	t.removed = true
	t.mu.Unlock()

	r.mu.Lock()
	delete(r.tiers, tierID)
	r.mu.Unlock()
	return nil
}

// Reserve holds quantity units of a tier for the buyer
func (r *MemoryLedgerRepository) Reserve(ctx context.Context, params ReserveParams) (*domain.Reservation, error) {
	if err := validateReserve(&params); err != nil {
		return nil, err
	}
	t, ok := r.tier(params.TierID)
	if !ok {
		return nil, domain.ErrTierNotFound
	}

	t.mu.Lock()
	now := r.now()
	if t.removed || (params.EventID != "" && t.spec.EventID != params.EventID) {
		t.mu.Unlock()
		return nil, domain.ErrTierNotFound
	}
	t.expireLocked(now)
	if t.spec.Capacity-t.sold-t.held < params.Quantity {
		t.mu.Unlock()
		return nil, domain.ErrInsufficientCapacity
	}

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		EventID:   t.spec.EventID,
		TierID:    t.spec.TierID,
		BuyerID:   params.BuyerID,
		Quantity:  params.Quantity,
		UnitPrice: t.spec.UnitPrice,
		State:     domain.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(params.TTL),
	}
	t.held += res.Quantity
	t.holds[res.ID] = res
	t.reservations[res.ID] = res
	out := res.Clone()
	t.mu.Unlock()

	r.mu.Lock()
	r.index[res.ID] = res.TierID
	r.mu.Unlock()

	return out, nil
}

func (r *MemoryLedgerRepository) lookup(reservationID string) (*memoryTier, *domain.Reservation, error) {
	r.mu.RLock()
	tierID, ok := r.index[reservationID]
	var t *memoryTier
	if ok {
		t = r.tiers[tierID]
	}
	r.mu.RUnlock()
	if t == nil {
		return nil, nil, domain.ErrReservationNotFound
	}

	t.mu.Lock()
	res, ok := t.reservations[reservationID]
	if !ok {
		t.mu.Unlock()
		return nil, nil, domain.ErrReservationNotFound
	}
	return t, res, nil
}

// Confirm moves a HELD reservation to CONFIRMED
func (r *MemoryLedgerRepository) Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	t, res, err := r.lookup(reservationID)
	if err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	now := r.now()
	changed, err := res.Confirm(now)
	if err != nil {
		if errors.Is(err, domain.ErrReservationExpired) {
			t.releaseLocked(res, domain.ReleaseExpired, now)
		}
		return nil, err
	}
	if changed {
		delete(t.holds, res.ID)
		t.held -= res.Quantity
		t.sold += res.Quantity
	}
	return res.Clone(), nil
}

// Release moves a HELD reservation to RELEASED
func (r *MemoryLedgerRepository) Release(ctx context.Context, reservationID string, reason domain.ReleaseReason) (*domain.Reservation, error) {
	t, res, err := r.lookup(reservationID)
	if err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	t.releaseLocked(res, reason, r.now())
	return res.Clone(), nil
}

// ReleaseExpired releases expired holds across all tiers
func (r *MemoryLedgerRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.RLock()
	tiers := make([]*memoryTier, 0, len(r.tiers))
	for _, t := range r.tiers {
		tiers = append(tiers, t)
	}
	r.mu.RUnlock()

	var released []*domain.Reservation
	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		if limit > 0 && len(released) >= limit {
			break
		}

		t.mu.Lock()
		expired := make([]*domain.Reservation, 0)
		for _, res := range t.holds {
			if res.IsExpiredAt(now) {
				expired = append(expired, res)
			}
		}
		sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
		for _, res := range expired {
			if limit > 0 && len(released) >= limit {
				break
			}
			t.releaseLocked(res, domain.ReleaseExpired, now)
			released = append(released, res.Clone())
		}
		t.mu.Unlock()
	}
	return released, nil
}

// Get returns a reservation by id
func (r *MemoryLedgerRepository) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	t, res, err := r.lookup(reservationID)
	if err != nil {
		return nil, err
	}
	defer t.mu.Unlock()
	return res.Clone(), nil
}

// Inventory returns the current counts for a tier
func (r *MemoryLedgerRepository) Inventory(ctx context.Context, tierID string) (*domain.TierInventory, error) {
	t, ok := r.tier(tierID)
	if !ok {
		return nil, domain.ErrTierNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(r.now())
	return &domain.TierInventory{
		EventID:   t.spec.EventID,
		TierID:    t.spec.TierID,
		Capacity:  t.spec.Capacity,
		Sold:      t.sold,
		Held:      t.held,
		UnitPrice: t.spec.UnitPrice,
	}, nil
}

// expireLocked releases every hold past its expiry. Caller holds t.mu.
func (t *memoryTier) expireLocked(now time.Time) {
	for _, res := range t.holds {
		if res.IsExpiredAt(now) {
			t.releaseLocked(res, domain.ReleaseExpired, now)
		}
	}
}

// releaseLocked is the single release path. Caller holds t.mu.
func (t *memoryTier) releaseLocked(res *domain.Reservation, reason domain.ReleaseReason, now time.Time) {
	if !res.Release(reason, now) {
		return
	}
	delete(t.holds, res.ID)
	t.held -= res.Quantity
}
