package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// testClock is a settable clock shared by a ledger under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ledgerFactory builds a fresh ledger reading time from clock
type ledgerFactory func(t *testing.T, clock *testClock) LedgerRepository

func newTier(t *testing.T, ledger LedgerRepository, capacity int, price string) TierSpec {
	t.Helper()
	spec := TierSpec{
		EventID:   "evt-" + uuid.NewString(),
		TierID:    "tier-" + uuid.NewString(),
		Capacity:  capacity,
		UnitPrice: decimal.RequireFromString(price),
	}
	if err := ledger.UpsertTier(context.Background(), spec); err != nil {
		t.Fatalf("UpsertTier() error = %v", err)
	}
	return spec
}

func reserve(t *testing.T, ledger LedgerRepository, spec TierSpec, qty int) *domain.Reservation {
	t.Helper()
	res, err := ledger.Reserve(context.Background(), ReserveParams{
		EventID:  spec.EventID,
		TierID:   spec.TierID,
		BuyerID:  "buyer-1",
		Quantity: qty,
		TTL:      10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	return res
}

func assertInventory(t *testing.T, ledger LedgerRepository, tierID string, sold, held, available int) {
	t.Helper()
	inv, err := ledger.Inventory(context.Background(), tierID)
	if err != nil {
		t.Fatalf("Inventory() error = %v", err)
	}
	if inv.Sold != sold || inv.Held != held || inv.Available() != available {
		t.Errorf("Inventory() sold=%d held=%d available=%d, want sold=%d held=%d available=%d",
			inv.Sold, inv.Held, inv.Available(), sold, held, available)
	}
}

// runLedgerContract exercises the behavior every ledger backend must share
func runLedgerContract(t *testing.T, factory ledgerFactory) {
	ctx := context.Background()

	t.Run("confirm moves held into sold", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 5, "10")

		first := reserve(t, ledger, spec, 2)
		other := reserve(t, ledger, spec, 1)
		assertInventory(t, ledger, spec.TierID, 0, 3, 2)

		confirmed, err := ledger.Confirm(ctx, first.ID)
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if confirmed.State != domain.ReservationConfirmed {
			t.Errorf("State = %v, want CONFIRMED", confirmed.State)
		}

		if _, err := ledger.Release(ctx, other.ID, domain.ReleaseCancelled); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		assertInventory(t, ledger, spec.TierID, 2, 0, 3)
	})

	t.Run("last seat goes to exactly one buyer", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 1, "10")

		var (
			wg           sync.WaitGroup
			mu           sync.Mutex
			successes    int
			insufficient int
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.Reserve(ctx, ReserveParams{TierID: spec.TierID, BuyerID: uuid.NewString(), Quantity: 1})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, domain.ErrInsufficientCapacity):
					insufficient++
				default:
					t.Errorf("Reserve() unexpected error = %v", err)
				}
			}()
		}
		wg.Wait()

		if successes != 1 || insufficient != 1 {
			t.Errorf("successes=%d insufficient=%d, want 1 and 1", successes, insufficient)
		}
	})

	t.Run("concurrent reserves never exceed capacity", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 10, "5")

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			won int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := ledger.Reserve(ctx, ReserveParams{TierID: spec.TierID, BuyerID: uuid.NewString(), Quantity: 1 + i%2})
				if err != nil {
					return
				}
				if i%3 == 0 {
					_, _ = ledger.Confirm(ctx, res.ID)
				}
				mu.Lock()
				won += res.Quantity
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		inv, err := ledger.Inventory(ctx, spec.TierID)
		if err != nil {
			t.Fatalf("Inventory() error = %v", err)
		}
		if inv.Sold+inv.Held > inv.Capacity {
			t.Errorf("sold %d + held %d exceeds capacity %d", inv.Sold, inv.Held, inv.Capacity)
		}
		if inv.Sold+inv.Held != won {
			t.Errorf("sold+held = %d, want %d", inv.Sold+inv.Held, won)
		}
	})

	t.Run("release is idempotent and blocks confirm", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 3, "10")
		res := reserve(t, ledger, spec, 2)

		for i := 0; i < 2; i++ {
			got, err := ledger.Release(ctx, res.ID, domain.ReleaseCancelled)
			if err != nil {
				t.Fatalf("Release() #%d error = %v", i+1, err)
			}
			if got.State != domain.ReservationReleased || got.ReleaseReason != domain.ReleaseCancelled {
				t.Errorf("Release() #%d = %v/%v", i+1, got.State, got.ReleaseReason)
			}
		}
		assertInventory(t, ledger, spec.TierID, 0, 0, 3)

		if _, err := ledger.Confirm(ctx, res.ID); !errors.Is(err, domain.ErrAlreadyTerminal) {
			t.Errorf("Confirm() after release error = %v, want %v", err, domain.ErrAlreadyTerminal)
		}
	})

	t.Run("confirm twice counts once", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 5, "10")
		res := reserve(t, ledger, spec, 2)

		for i := 0; i < 2; i++ {
			if _, err := ledger.Confirm(ctx, res.ID); err != nil {
				t.Fatalf("Confirm() #%d error = %v", i+1, err)
			}
		}
		assertInventory(t, ledger, spec.TierID, 2, 0, 3)

		got, err := ledger.Release(ctx, res.ID, domain.ReleaseTimeout)
		if err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if got.State != domain.ReservationConfirmed {
			t.Errorf("Release() of confirmed changed state to %v", got.State)
		}
		assertInventory(t, ledger, spec.TierID, 2, 0, 3)
	})

	t.Run("sweep releases expired holds", func(t *testing.T) {
		clock := newTestClock()
		ledger := factory(t, clock)
		spec := newTier(t, ledger, 2, "10")
		res := reserve(t, ledger, spec, 2)

		released, err := ledger.ReleaseExpired(ctx, clock.Now(), 100)
		if err != nil {
			t.Fatalf("ReleaseExpired() error = %v", err)
		}
		for _, r := range released {
			if r.ID == res.ID {
				t.Fatal("live hold released early")
			}
		}

		clock.Advance(11 * time.Minute)
		released, err = ledger.ReleaseExpired(ctx, clock.Now(), 100)
		if err != nil {
			t.Fatalf("ReleaseExpired() error = %v", err)
		}
		found := false
		for _, r := range released {
			if r.ID == res.ID {
				found = true
				if r.ReleaseReason != domain.ReleaseExpired {
					t.Errorf("ReleaseReason = %v, want expired", r.ReleaseReason)
				}
			}
		}
		if !found {
			t.Fatal("expired hold not released by sweep")
		}
		assertInventory(t, ledger, spec.TierID, 0, 0, 2)
		reserve(t, ledger, spec, 2)
	})

	t.Run("confirm after expiry releases and fails", func(t *testing.T) {
		clock := newTestClock()
		ledger := factory(t, clock)
		spec := newTier(t, ledger, 2, "10")
		res := reserve(t, ledger, spec, 1)

		clock.Advance(10 * time.Minute)
		if _, err := ledger.Confirm(ctx, res.ID); !errors.Is(err, domain.ErrReservationExpired) {
			t.Fatalf("Confirm() error = %v, want %v", err, domain.ErrReservationExpired)
		}
		got, err := ledger.Get(ctx, res.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.State != domain.ReservationReleased || got.ReleaseReason != domain.ReleaseExpired {
			t.Errorf("Get() = %v/%v, want RELEASED/expired", got.State, got.ReleaseReason)
		}
		assertInventory(t, ledger, spec.TierID, 0, 0, 2)
	})

	t.Run("reserve reclaims expired holds", func(t *testing.T) {
		clock := newTestClock()
		ledger := factory(t, clock)
		spec := newTier(t, ledger, 1, "10")
		reserve(t, ledger, spec, 1)

		if _, err := ledger.Reserve(ctx, ReserveParams{TierID: spec.TierID, Quantity: 1}); !errors.Is(err, domain.ErrInsufficientCapacity) {
			t.Fatalf("Reserve() error = %v, want %v", err, domain.ErrInsufficientCapacity)
		}
		clock.Advance(time.Hour)
		reserve(t, ledger, spec, 1)
	})

	t.Run("reservation keeps its price", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 5, "19.99")
		res := reserve(t, ledger, spec, 2)

		spec.UnitPrice = decimal.RequireFromString("49.99")
		if err := ledger.UpsertTier(ctx, spec); err != nil {
			t.Fatalf("UpsertTier() error = %v", err)
		}

		confirmed, err := ledger.Confirm(ctx, res.ID)
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if !confirmed.UnitPrice.Equal(decimal.RequireFromString("19.99")) {
			t.Errorf("UnitPrice = %v, want 19.99", confirmed.UnitPrice)
		}
		if !confirmed.TotalPrice().Equal(decimal.RequireFromString("39.98")) {
			t.Errorf("TotalPrice() = %v, want 39.98", confirmed.TotalPrice())
		}

		next := reserve(t, ledger, spec, 1)
		if !next.UnitPrice.Equal(decimal.RequireFromString("49.99")) {
			t.Errorf("new reservation UnitPrice = %v, want 49.99", next.UnitPrice)
		}
	})

	t.Run("tier guards", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		spec := newTier(t, ledger, 5, "10")
		res := reserve(t, ledger, spec, 3)

		spec.Capacity = 2
		if err := ledger.UpsertTier(ctx, spec); !errors.Is(err, domain.ErrCapacityBelowCommitted) {
			t.Errorf("UpsertTier() error = %v, want %v", err, domain.ErrCapacityBelowCommitted)
		}
		if err := ledger.RemoveTier(ctx, spec.TierID); !errors.Is(err, domain.ErrTierInUse) {
			t.Errorf("RemoveTier() error = %v, want %v", err, domain.ErrTierInUse)
		}

		if _, err := ledger.Release(ctx, res.ID, domain.ReleaseCancelled); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if err := ledger.RemoveTier(ctx, spec.TierID); err != nil {
			t.Errorf("RemoveTier() error = %v", err)
		}
		if _, err := ledger.Inventory(ctx, spec.TierID); !errors.Is(err, domain.ErrTierNotFound) {
			t.Errorf("Inventory() error = %v, want %v", err, domain.ErrTierNotFound)
		}
	})

	t.Run("unknown ids", func(t *testing.T) {
		ledger := factory(t, newTestClock())
		missing := uuid.NewString()

		if _, err := ledger.Confirm(ctx, missing); !errors.Is(err, domain.ErrReservationNotFound) {
			t.Errorf("Confirm() error = %v", err)
		}
		if _, err := ledger.Release(ctx, missing, domain.ReleaseCancelled); !errors.Is(err, domain.ErrReservationNotFound) {
			t.Errorf("Release() error = %v", err)
		}
		if _, err := ledger.Reserve(ctx, ReserveParams{TierID: missing, Quantity: 1}); !errors.Is(err, domain.ErrTierNotFound) {
			t.Errorf("Reserve() error = %v", err)
		}
		spec := newTier(t, ledger, 5, "10")
		if _, err := ledger.Reserve(ctx, ReserveParams{TierID: spec.TierID, Quantity: 0}); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("Reserve() zero quantity error = %v", err)
		}
	})
}
