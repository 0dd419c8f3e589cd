package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-backend/internal/domain/order"
)

const (
	createSaleSQL = `INSERT INTO sales (invoice_number, created_at, subtotal, tax, total, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	createSaleLineSQL = `INSERT INTO sale_lines (sale_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)`

	saleColumns = `id, invoice_number, created_at, subtotal, tax, total, payment_method`

	getSaleSQL = `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`

	listSalesSQL = `SELECT ` + saleColumns + ` FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC`

	listSaleLinesSQL = `SELECT sale_id, product_id, product_name, quantity, unit_price, line_total
		FROM sale_lines WHERE sale_id = ANY($1) ORDER BY sale_id, id`
)

var _ order.Repository = (*SaleRepository)(nil)

// SaleRepository implements order.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Create inserts the sale header and its lines and sets o.ID. It must run
// inside a unit of work so that header and lines commit together.
func (r *SaleRepository) Create(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	err := q.QueryRow(ctx, createSaleSQL,
		o.InvoiceNumber, o.CreatedAt, o.Subtotal, o.Tax, o.Total, o.PaymentMethod,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("creating sale %q: %w", o.InvoiceNumber, err)
	}

	b := &pgx.Batch{}
	for _, l := range o.Lines {
		b.Queue(createSaleLineSQL, o.ID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.LineTotal)
	}
	br := q.SendBatch(ctx, b)
	for range o.Lines {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("creating lines of sale %q: %w", o.InvoiceNumber, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("creating lines of sale %q: %w", o.InvoiceNumber, err)
	}
	return nil
}

// GetByID returns a sale with its lines.
func (r *SaleRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getSaleSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting sale %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting sale %d: %w", id, err)
	}

	sales := []order.Order{o}
	if err := r.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

// List returns sales in the filter window, newest first, each with its lines.
func (r *SaleRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listSalesSQL, optionalTime(filter.From), optionalTime(filter.To))
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}
	if err := r.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *SaleRepository) attachLines(ctx context.Context, sales []order.Order) error {
	if len(sales) == 0 {
		return nil
	}

	ids := make([]int64, len(sales))
	index := make(map[int64]int, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
		index[s.ID] = i
	}

	rows, err := conn(ctx, r.pool).Query(ctx, listSaleLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing sale lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID int64
			l      order.Line
		)
		if err := rows.Scan(&saleID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return fmt.Errorf("scanning sale line: %w", err)
		}
		i := index[saleID]
		sales[i].Lines = append(sales[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing sale lines: %w", err)
	}
	return nil
}

func scanSale(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.InvoiceNumber, &o.CreatedAt, &o.Subtotal, &o.Tax, &o.Total, &o.PaymentMethod)
	return o, err
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
