package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/pkg/database"
)

const reservationColumns = `
	id, event_id, tier_id, buyer_id, quantity, unit_price::text, state,
	release_reason, created_at, expires_at, confirmed_at, released_at`

// PostgresLedgerRepository implements LedgerRepository on PostgreSQL.
// Each operation runs in one transaction holding the tier row lock.
type PostgresLedgerRepository struct {
	pool *pgxpool.Pool
	now  Clock
}

// NewPostgresLedgerRepository creates a new PostgresLedgerRepository
func NewPostgresLedgerRepository(pool *pgxpool.Pool) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{pool: pool, now: time.Now}
}

type ledgerTierRow struct {
	eventID   string
	capacity  int
	sold      int
	held      int
	unitPrice decimal.Decimal
}

func lockTier(ctx context.Context, tx pgx.Tx, tierID string) (*ledgerTierRow, error) {
	var (
		row   ledgerTierRow
		price string
	)
	err := tx.QueryRow(ctx, `
		SELECT event_id, capacity, sold, held, unit_price::text
		FROM ledger_tiers
		WHERE tier_id = $1
		FOR UPDATE
	`, tierID).Scan(&row.eventID, &row.capacity, &row.sold, &row.held, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTierNotFound
		}
		return nil, fmt.Errorf("failed to lock tier: %w", err)
	}
	if row.unitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse tier price: %w", err)
	}
	return &row, nil
}

// expireTierHolds releases the tier's expired holds. The tier row must be locked.
func expireTierHolds(ctx context.Context, tx pgx.Tx, tierID string, now time.Time) (int, error) {
	var freed int
	err := tx.QueryRow(ctx, `
		WITH expired AS (
			UPDATE reservations
			SET state = 'RELEASED', release_reason = 'expired', released_at = $2
			WHERE tier_id = $1 AND state = 'HELD' AND expires_at <= $2
			RETURNING quantity
		)
		SELECT COALESCE(SUM(quantity), 0) FROM expired
	`, tierID, now).Scan(&freed)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired holds: %w", err)
	}
	if freed > 0 {
		if _, err := tx.Exec(ctx, `UPDATE ledger_tiers SET held = held - $2, updated_at = $3 WHERE tier_id = $1`,
			tierID, freed, now); err != nil {
			return 0, fmt.Errorf("failed to update held count: %w", err)
		}
	}
	return freed, nil
}

// UpsertTier creates a tier or updates its capacity and price
func (r *PostgresLedgerRepository) UpsertTier(ctx context.Context, spec TierSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}

	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := r.now()
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_tiers (tier_id, event_id, capacity, unit_price, updated_at)
			VALUES ($1, $2, $3, $4::text::numeric, $5)
			ON CONFLICT (tier_id) DO NOTHING
		`, spec.TierID, spec.EventID, spec.Capacity, spec.UnitPrice.String(), now)
		if err != nil {
			return fmt.Errorf("failed to insert tier: %w", err)
		}

		tier, err := lockTier(ctx, tx, spec.TierID)
		if err != nil {
			return err
		}
		freed, err := expireTierHolds(ctx, tx, spec.TierID, now)
		if err != nil {
			return err
		}
		if spec.Capacity < tier.sold+tier.held-freed {
			return domain.ErrCapacityBelowCommitted
		}

		_, err = tx.Exec(ctx, `
			UPDATE ledger_tiers
			SET capacity = $2, unit_price = $3::text::numeric, event_id = $4, updated_at = $5
			WHERE tier_id = $1
		`, spec.TierID, spec.Capacity, spec.UnitPrice.String(), spec.EventID, now)
		if err != nil {
			return fmt.Errorf("failed to update tier: %w", err)
		}
		return nil
	})
}

// RemoveTier deletes a tier with no holds and no sales
func (r *PostgresLedgerRepository) RemoveTier(ctx context.Context, tierID string) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tier, err := lockTier(ctx, tx, tierID)
		if err != nil {
			return err
		}
		freed, err := expireTierHolds(ctx, tx, tierID, r.now())
		if err != nil {
			return err
		}
		if tier.sold > 0 || tier.held-freed > 0 {
			return domain.ErrTierInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM ledger_tiers WHERE tier_id = $1`, tierID); err != nil {
			return fmt.Errorf("failed to delete tier: %w", err)
		}
		return nil
	})
}

// Reserve holds quantity units of a tier. The hold is committed before returning.
func (r *PostgresLedgerRepository) Reserve(ctx context.Context, params ReserveParams) (*domain.Reservation, error) {
	if err := validateReserve(&params); err != nil {
		return nil, err
	}

	var res *domain.Reservation
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tier, err := lockTier(ctx, tx, params.TierID)
		if err != nil {
			return err
		}
		if params.EventID != "" && tier.eventID != params.EventID {
			return domain.ErrTierNotFound
		}

		now := r.now()
		freed, err := expireTierHolds(ctx, tx, params.TierID, now)
		if err != nil {
			return err
		}
		if tier.capacity-tier.sold-(tier.held-freed) < params.Quantity {
			return domain.ErrInsufficientCapacity
		}

		res = &domain.Reservation{
			ID:        uuid.New().String(),
			EventID:   tier.eventID,
			TierID:    params.TierID,
			BuyerID:   params.BuyerID,
			Quantity:  params.Quantity,
			UnitPrice: tier.unitPrice,
			State:     domain.ReservationHeld,
			CreatedAt: now,
			ExpiresAt: now.Add(params.TTL),
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (
				id, event_id, tier_id, buyer_id, quantity, unit_price, state, created_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9)
		`, res.ID, res.EventID, res.TierID, res.BuyerID, res.Quantity, res.UnitPrice.String(),
			string(res.State), res.CreatedAt, res.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE ledger_tiers SET held = held + $2, updated_at = $3 WHERE tier_id = $1`,
			params.TierID, params.Quantity, now); err != nil {
			return fmt.Errorf("failed to update held count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// transition locks the reservation's tier, then the reservation, and hands both to fn
func (r *PostgresLedgerRepository) transition(ctx context.Context, reservationID string, fn func(tx pgx.Tx, res *domain.Reservation, now time.Time) error) error {
	var tierID string
	err := r.pool.QueryRow(ctx, `SELECT tier_id FROM reservations WHERE id = $1`, reservationID).Scan(&tierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrReservationNotFound
		}
		return fmt.Errorf("failed to find reservation: %w", err)
	}

	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockTier(ctx, tx, tierID); err != nil && !errors.Is(err, domain.ErrTierNotFound) {
			return err
		}
		res, err := scanReservation(tx.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, reservationID))
		if err != nil {
			return err
		}
		return fn(tx, res, r.now())
	})
}

func releaseReservation(ctx context.Context, tx pgx.Tx, res *domain.Reservation, reason domain.ReleaseReason, now time.Time) error {
	if !res.Release(reason, now) {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET state = $2, release_reason = $3, released_at = $4 WHERE id = $1
	`, res.ID, string(res.State), string(res.ReleaseReason), now); err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE ledger_tiers SET held = held - $2, updated_at = $3 WHERE tier_id = $1`,
		res.TierID, res.Quantity, now); err != nil {
		return fmt.Errorf("failed to update held count: %w", err)
	}
	return nil
}

// Confirm moves a HELD reservation to CONFIRMED
func (r *PostgresLedgerRepository) Confirm(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	var (
		out     *domain.Reservation
		expired bool
	)
	err := r.transition(ctx, reservationID, func(tx pgx.Tx, res *domain.Reservation, now time.Time) error {
		changed, err := res.Confirm(now)
		if errors.Is(err, domain.ErrReservationExpired) {
			// commit the release, report the expiry afterwards
			expired = true
			return releaseReservation(ctx, tx, res, domain.ReleaseExpired, now)
		}
		if err != nil {
			return err
		}
		if changed {
			if _, err := tx.Exec(ctx, `UPDATE reservations SET state = $2, confirmed_at = $3 WHERE id = $1`,
				res.ID, string(res.State), now); err != nil {
				return fmt.Errorf("failed to confirm reservation: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				UPDATE ledger_tiers SET held = held - $2, sold = sold + $2, updated_at = $3 WHERE tier_id = $1
			`, res.TierID, res.Quantity, now); err != nil {
				return fmt.Errorf("failed to update sold count: %w", err)
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, domain.ErrReservationExpired
	}
	return out, nil
}

// Release moves a HELD reservation to RELEASED
func (r *PostgresLedgerRepository) Release(ctx context.Context, reservationID string, reason domain.ReleaseReason) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := r.transition(ctx, reservationID, func(tx pgx.Tx, res *domain.Reservation, now time.Time) error {
		if err := releaseReservation(ctx, tx, res, reason, now); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseExpired releases up to limit expired holds through the release path
func (r *PostgresLedgerRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM reservations
		WHERE state = 'HELD' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired reservations: %w", err)
	}

	var released []*domain.Reservation
	for _, id := range ids {
		var changed *domain.Reservation
		err := r.transition(ctx, id, func(tx pgx.Tx, res *domain.Reservation, _ time.Time) error {
			if !res.IsExpiredAt(now) {
				return nil
			}
			if err := releaseReservation(ctx, tx, res, domain.ReleaseExpired, now); err != nil {
				return err
			}
			changed = res
			return nil
		})
		if err != nil {
			return released, err
		}
		if changed != nil {
			released = append(released, changed)
		}
	}
	return released, nil
}

// Get returns a reservation by id
func (r *PostgresLedgerRepository) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return scanReservation(r.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, reservationID))
}

// Inventory returns the current counts for a tier, excluding expired holds
func (r *PostgresLedgerRepository) Inventory(ctx context.Context, tierID string) (*domain.TierInventory, error) {
	var (
		inv   = &domain.TierInventory{TierID: tierID}
		price string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT t.event_id, t.capacity, t.sold, t.unit_price::text,
			COALESCE((
				SELECT SUM(quantity) FROM reservations
				WHERE tier_id = t.tier_id AND state = 'HELD' AND expires_at > $2
			), 0)
		FROM ledger_tiers t
		WHERE t.tier_id = $1
	`, tierID, r.now()).Scan(&inv.EventID, &inv.Capacity, &inv.Sold, &price, &inv.Held)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTierNotFound
		}
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	if inv.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse tier price: %w", err)
	}
	return inv, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res                     domain.Reservation
		price, state, reason    string
		confirmedAt, releasedAt *time.Time
	)
	err := row.Scan(
		&res.ID,
		&res.EventID,
		&res.TierID,
		&res.BuyerID,
		&res.Quantity,
		&price,
		&state,
		&reason,
		&res.CreatedAt,
		&res.ExpiresAt,
		&confirmedAt,
		&releasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}

	if res.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse reservation price: %w", err)
	}
	res.State = domain.ReservationState(state)
	res.ReleaseReason = domain.ReleaseReason(reason)
	res.ConfirmedAt = confirmedAt
	res.ReleasedAt = releasedAt
	return &res, nil
}
