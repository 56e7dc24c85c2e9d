package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

// AlertRepository stores reconciliation alerts
type AlertRepository interface {
	Create(ctx context.Context, alert *domain.ReconciliationAlert) error
	GetByID(ctx context.Context, id string) (*domain.ReconciliationAlert, error)
	// List returns alerts newest first; openOnly skips resolved ones
	List(ctx context.Context, openOnly bool) ([]*domain.ReconciliationAlert, error)
	Update(ctx context.Context, alert *domain.ReconciliationAlert) error
	CountOpen(ctx context.Context) (int, error)
}

// MemoryAlertRepository implements AlertRepository in process memory
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*domain.ReconciliationAlert
}

// NewMemoryAlertRepository creates a new MemoryAlertRepository
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*domain.ReconciliationAlert)}
}

func (r *MemoryAlertRepository) Create(ctx context.Context, alert *domain.ReconciliationAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *alert
	r.alerts[alert.ID] = &c
	return nil
}

func (r *MemoryAlertRepository) GetByID(ctx context.Context, id string) (*domain.ReconciliationAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	c := *a
	return &c, nil
}

func (r *MemoryAlertRepository) List(ctx context.Context, openOnly bool) ([]*domain.ReconciliationAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ReconciliationAlert, 0, len(r.alerts))
	for _, a := range r.alerts {
		if openOnly && a.Resolved {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (r *MemoryAlertRepository) Update(ctx context.Context, alert *domain.ReconciliationAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return domain.ErrAlertNotFound
	}
	c := *alert
	r.alerts[alert.ID] = &c
	return nil
}

func (r *MemoryAlertRepository) CountOpen(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n, nil
}

const alertColumns = `
	id, reservation_id, event_id, tier_id, buyer_id, provider, payment_reference,
	amount::text, reason, detected_at, resolved, resolved_by, resolved_at, note`

// PostgresAlertRepository implements AlertRepository using PostgreSQL
type PostgresAlertRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAlertRepository creates a new PostgresAlertRepository
func NewPostgresAlertRepository(pool *pgxpool.Pool) *PostgresAlertRepository {
	return &PostgresAlertRepository{pool: pool}
}

func (r *PostgresAlertRepository) Create(ctx context.Context, a *domain.ReconciliationAlert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconciliation_alerts (
			id, reservation_id, event_id, tier_id, buyer_id, provider, payment_reference,
			amount, reason, detected_at, resolved
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, $10, $11)
	`, a.ID, a.ReservationID, a.EventID, a.TierID, a.BuyerID, a.Provider, a.PaymentReference,
		a.Amount.String(), a.Reason, a.DetectedAt, a.Resolved)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation alert: %w", err)
	}
	return nil
}

func (r *PostgresAlertRepository) GetByID(ctx context.Context, id string) (*domain.ReconciliationAlert, error) {
	return scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM reconciliation_alerts WHERE id = $1`, id))
}

func (r *PostgresAlertRepository) List(ctx context.Context, openOnly bool) ([]*domain.ReconciliationAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM reconciliation_alerts`
	if openOnly {
		query += ` WHERE NOT resolved`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY detected_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*domain.ReconciliationAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *PostgresAlertRepository) Update(ctx context.Context, a *domain.ReconciliationAlert) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_alerts
		SET resolved = $2, resolved_by = $3, resolved_at = $4, note = $5
		WHERE id = $1
	`, a.ID, a.Resolved, a.ResolvedBy, a.ResolvedAt, a.Note)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

func (r *PostgresAlertRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation_alerts WHERE NOT resolved`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reconciliation alerts: %w", err)
	}
	return n, nil
}

func scanAlert(row pgx.Row) (*domain.ReconciliationAlert, error) {
	var (
		a          domain.ReconciliationAlert
		amount     string
		resolvedAt *time.Time
	)
	err := row.Scan(&a.ID, &a.ReservationID, &a.EventID, &a.TierID, &a.BuyerID, &a.Provider,
		&a.PaymentReference, &amount, &a.Reason, &a.DetectedAt, &a.Resolved, &a.ResolvedBy,
		&resolvedAt, &a.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to scan reconciliation alert: %w", err)
	}
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse alert amount: %w", err)
	}
	a.ResolvedAt = resolvedAt
	return &a, nil
}
