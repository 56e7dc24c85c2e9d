package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yugalbansal1/eticket1/internal/domain"
)

const ticketColumns = `
	id, reservation_id, event_id, tier_id, tier_name, quantity, buyer_id,
	unit_price::text, total_price::text, payment_provider, payment_reference,
	status, purchased_at, updated_at`

// PostgresTicketRepository implements TicketRepository using PostgreSQL
type PostgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketRepository creates a new PostgresTicketRepository
func NewPostgresTicketRepository(pool *pgxpool.Pool) *PostgresTicketRepository {
	return &PostgresTicketRepository{pool: pool}
}

// CreateIfAbsent inserts the ticket; the unique reservation_id keeps issuance exactly-once
func (r *PostgresTicketRepository) CreateIfAbsent(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO tickets (
			id, reservation_id, event_id, tier_id, tier_name, quantity, buyer_id,
			unit_price, total_price, payment_provider, payment_reference,
			status, purchased_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9::text::numeric, $10, $11, $12, $13, $14)
		ON CONFLICT (reservation_id) DO NOTHING
	`, t.ID, t.ReservationID, t.EventID, t.TierID, t.TierName, t.Quantity, t.BuyerID,
		t.UnitPrice.String(), t.TotalPrice.String(), t.PaymentProvider, t.PaymentReference,
		string(t.Status), t.PurchasedAt, t.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create ticket: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return t, true, nil
	}

	existing, err := r.GetByReservationID(ctx, t.ReservationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves a ticket by its ID
func (r *PostgresTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
}

// GetByReservationID retrieves the ticket issued for a reservation
func (r *PostgresTicketRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE reservation_id = $1`, reservationID))
}

// GetByPaymentReference retrieves the ticket a provider payment settled
func (r *PostgresTicketRepository) GetByPaymentReference(ctx context.Context, provider, reference string) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE payment_provider = $1 AND payment_reference = $2 LIMIT 1`,
		provider, reference))
}

// ListByBuyer returns a buyer's tickets
func (r *PostgresTicketRepository) ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error) {
	return r.list(ctx, `WHERE buyer_id = $1`, buyerID)
}

// ListByEvent returns an event's tickets
func (r *PostgresTicketRepository) ListByEvent(ctx context.Context, eventID string) ([]*domain.Ticket, error) {
	return r.list(ctx, `WHERE event_id = $1`, eventID)
}

func (r *PostgresTicketRepository) list(ctx context.Context, where string, args ...interface{}) ([]*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets `+where+` ORDER BY purchased_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]*domain.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// UpdateStatus moves a ticket between statuses with a compare-and-set on the current status
func (r *PostgresTicketRepository) UpdateStatus(ctx context.Context, id string, from, to domain.TicketStatus) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		UPDATE tickets SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+ticketColumns,
		id, string(from), string(to), time.Now().UTC()))
	if errors.Is(err, domain.ErrTicketNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrInvalidTicketTransition
	}
	return t, err
}

// Summarize aggregates sold tickets
func (r *PostgresTicketRepository) Summarize(ctx context.Context, eventIDs []string) (*TicketSummary, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(total_price), 0)::text
		FROM tickets
		WHERE status IN ('active', 'used')`
	args := []interface{}{}
	if eventIDs != nil {
		query += ` AND event_id = ANY($1)`
		args = append(args, eventIDs)
	}

	var (
		sum     TicketSummary
		revenue string
	)
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&sum.Orders, &sum.Tickets, &revenue); err != nil {
		return nil, fmt.Errorf("failed to summarize tickets: %w", err)
	}
	var err error
	if sum.Revenue, err = decimal.NewFromString(revenue); err != nil {
		return nil, fmt.Errorf("failed to parse revenue: %w", err)
	}
	return &sum, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t                 domain.Ticket
		unit, total, stat string
	)
	err := row.Scan(
		&t.ID,
		&t.ReservationID,
		&t.EventID,
		&t.TierID,
		&t.TierName,
		&t.Quantity,
		&t.BuyerID,
		&unit,
		&total,
		&t.PaymentProvider,
		&t.PaymentReference,
		&stat,
		&t.PurchasedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}
	if t.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return nil, fmt.Errorf("failed to parse ticket price: %w", err)
	}
	if t.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse ticket total: %w", err)
	}
	t.Status = domain.TicketStatus(stat)
	return &t, nil
}
