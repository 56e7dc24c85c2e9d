package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
	"github.com/yugalbansal1/eticket1/pkg/database"
)

// PostgresEventRepository implements EventRepository using PostgreSQL
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

// Create stores a new event and its tiers in one transaction
func (r *PostgresEventRepository) Create(ctx context.Context, event *domain.Event) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (
				id, title, description, event_date, event_time, venue, image_url,
				category, status, organizer_id, organizer_wallet, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, event.ID, event.Title, event.Description, event.Date, event.Time, event.Venue, event.ImageURL,
			string(event.Category), string(event.Status), event.OrganizerID, event.OrganizerWallet,
			event.CreatedAt, event.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		return insertTiers(ctx, tx, event)
	})
}

func insertTiers(ctx context.Context, tx pgx.Tx, event *domain.Event) error {
	for i, t := range event.Tiers {
		_, err := tx.Exec(ctx, `
			INSERT INTO event_tiers (id, event_id, name, unit_price, capacity, position)
			VALUES ($1, $2, $3, $4::text::numeric, $5, $6)
		`, t.ID, event.ID, t.Name, t.UnitPrice.String(), t.Capacity, i)
		if err != nil {
			return fmt.Errorf("failed to create tier %s: %w", t.Name, err)
		}
	}
	return nil
}

// GetByID retrieves an event with its tiers
func (r *PostgresEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	events, err := r.query(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrEventNotFound
	}
	return events[0], nil
}

// List returns events matching the filter, newest first
func (r *PostgresEventRepository) List(ctx context.Context, filter EventFilter) ([]*domain.Event, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OrganizerID != "" {
		args = append(args, filter.OrganizerID)
		conds = append(conds, fmt.Sprintf("organizer_id = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return r.query(ctx, where, args...)
}

func (r *PostgresEventRepository) query(ctx context.Context, where string, args ...interface{}) ([]*domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, description, event_date, event_time, venue, image_url,
			category, status, organizer_id, organizer_wallet, created_at, updated_at
		FROM events `+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var (
		events []*domain.Event
		byID   = make(map[string]*domain.Event)
		ids    []string
	)
	for rows.Next() {
		e := &domain.Event{}
		var category, status string
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Time, &e.Venue, &e.ImageURL,
			&category, &status, &e.OrganizerID, &e.OrganizerWallet, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Category = domain.Category(category)
		e.Status = domain.EventStatus(status)
		e.Tiers = []*domain.Tier{}
		events = append(events, e)
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	if len(ids) == 0 {
		return events, nil
	}

	tierRows, err := r.pool.Query(ctx, `
		SELECT id, event_id, name, unit_price::text, capacity
		FROM event_tiers
		WHERE event_id = ANY($1)
		ORDER BY event_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers: %w", err)
	}
	defer tierRows.Close()

	for tierRows.Next() {
		t := &domain.Tier{}
		var price string
		if err := tierRows.Scan(&t.ID, &t.EventID, &t.Name, &price, &t.Capacity); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		if t.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse tier price: %w", err)
		}
		if e, ok := byID[t.EventID]; ok {
			e.Tiers = append(e.Tiers, t)
		}
	}
	return events, tierRows.Err()
}

// Update replaces an event and its tier set
func (r *PostgresEventRepository) Update(ctx context.Context, event *domain.Event) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE events SET
				title = $2, description = $3, event_date = $4, event_time = $5, venue = $6,
				image_url = $7, category = $8, status = $9, organizer_wallet = $10, updated_at = $11
			WHERE id = $1
		`, event.ID, event.Title, event.Description, event.Date, event.Time, event.Venue,
			event.ImageURL, string(event.Category), string(event.Status), event.OrganizerWallet, event.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrEventNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event_tiers WHERE event_id = $1`, event.ID); err != nil {
			return fmt.Errorf("failed to replace tiers: %w", err)
		}
		return insertTiers(ctx, tx, event)
	})
}

// Delete removes an event and its tiers
func (r *PostgresEventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
