package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/events"
)

const (
	appendEventSQL = `INSERT INTO sale_events (id, event_type, sale_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`

	pendingEventsSQL = `SELECT id, event_type, sale_id, payload, created_at
		FROM sale_events WHERE published_at IS NULL
		ORDER BY created_at, id LIMIT ?`

	markEventsPublishedSQL = `UPDATE sale_events SET published_at = ? WHERE id IN (%s)`
)

var (
	_ order.Outbox = (*OutboxStore)(nil)
	_ events.Store = (*OutboxStore)(nil)
)

// OutboxStore implements order.Outbox and events.Store.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore returns an OutboxStore.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Append records the sale.completed event of o.
func (s *OutboxStore) Append(ctx context.Context, o *order.Order) error {
	e := events.NewSaleCompleted(o)
	_, err := s.db.conn(ctx).ExecContext(ctx, appendEventSQL,
		e.ID.String(), e.Type, e.SaleID, string(e.Payload), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("appending event for sale %q: %w", o.InvoiceNumber, err)
	}
	return nil
}

// Pending returns up to limit unpublished events, oldest first.
func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, pendingEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e                    events.Event
			id, payload, created string
		)
		if err := rows.Scan(&id, &e.Type, &e.SaleID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing event id %q: %w", id, err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing created_at of event %s: %w", id, err)
		}
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending events: %w", err)
	}
	return out, nil
}

// MarkPublished sets published_at on the given events.
func (s *OutboxStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	if _, err := s.db.conn(ctx).ExecContext(ctx, fmt.Sprintf(markEventsPublishedSQL, placeholders), args...); err != nil {
		return fmt.Errorf("marking %d events published: %w", len(ids), err)
	}
	return nil
}
