package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-backend/internal/domain/invoice"
)

const (
	latestInvoiceNumberSQL = `SELECT invoice_number FROM sales ORDER BY id DESC LIMIT 1`

	seedCounterSQL = `INSERT INTO invoice_sequences (name, next_value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET next_value = GREATEST(invoice_sequences.next_value, EXCLUDED.next_value)
		RETURNING next_value`

	// The row lock taken here is held until the surrounding transaction ends,
	// so a concurrent checkout waits and a rollback returns the number.
	nextCounterValueSQL = `UPDATE invoice_sequences SET next_value = next_value + 1
		WHERE name = $1 RETURNING next_value - 1`

	resetCounterSQL = `INSERT INTO invoice_sequences (name, next_value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET next_value = EXCLUDED.next_value`
)

var _ invoice.Store = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Store backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// LatestInvoiceNumber returns the invoice number of the newest sale.
func (r *InvoiceRepository) LatestInvoiceNumber(ctx context.Context) (string, bool, error) {
	var number string
	err := conn(ctx, r.pool).QueryRow(ctx, latestInvoiceNumberSQL).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting latest invoice number: %w", err)
	}
	return number, true, nil
}

// SeedCounter creates the named counter or raises it to next.
func (r *InvoiceRepository) SeedCounter(ctx context.Context, name string, next int64) (int64, error) {
	var v int64
	if err := conn(ctx, r.pool).QueryRow(ctx, seedCounterSQL, name, next).Scan(&v); err != nil {
		return 0, fmt.Errorf("seeding counter %q: %w", name, err)
	}
	return v, nil
}

// NextValue advances the named counter and returns its previous value.
func (r *InvoiceRepository) NextValue(ctx context.Context, name string) (int64, error) {
	var v int64
	err := conn(ctx, r.pool).QueryRow(ctx, nextCounterValueSQL, name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("counter %q: %w", name, invoice.ErrNotInitialized)
	}
	if err != nil {
		return 0, fmt.Errorf("advancing counter %q: %w", name, err)
	}
	return v, nil
}

// ResetCounter sets the named counter to next unconditionally. Used after a
// restore, when the counter must follow the restored sales.
func (r *InvoiceRepository) ResetCounter(ctx context.Context, name string, next int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, resetCounterSQL, name, next); err != nil {
		return fmt.Errorf("resetting counter %q: %w", name, err)
	}
	return nil
}
