package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/events"
)

const (
	appendEventSQL = `INSERT INTO sale_events (id, event_type, sale_id, payload, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5)`

	pendingEventsSQL = `SELECT id::text, event_type, sale_id, payload, created_at
		FROM sale_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markEventsPublishedSQL = `UPDATE sale_events SET published_at = now() WHERE id = ANY($1::uuid[])`
)

var (
	_ order.Outbox = (*OutboxRepository)(nil)
	_ events.Store = (*OutboxRepository)(nil)
)

// OutboxRepository stores sale events next to the sales they describe.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Append records the sale.completed event of o.
func (r *OutboxRepository) Append(ctx context.Context, o *order.Order) error {
	e := events.NewSaleCompleted(o)
	_, err := conn(ctx, r.pool).Exec(ctx, appendEventSQL,
		e.ID.String(), e.Type, e.SaleID, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending event for sale %q: %w", o.InvoiceNumber, err)
	}
	return nil
}

// Pending claims up to limit unpublished events. Rows claimed by another
// relay are skipped.
func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, pendingEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Event, error) {
		var (
			e  events.Event
			id string
		)
		if err := row.Scan(&id, &e.Type, &e.SaleID, &e.Payload, &e.CreatedAt); err != nil {
			return e, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return e, fmt.Errorf("parsing event id %q: %w", id, err)
		}
		e.ID = parsed
		return e, nil
	})
}

// MarkPublished sets published_at on the given events.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	if _, err := conn(ctx, r.pool).Exec(ctx, markEventsPublishedSQL, strs); err != nil {
		return fmt.Errorf("marking %d events published: %w", len(ids), err)
	}
	return nil
}
