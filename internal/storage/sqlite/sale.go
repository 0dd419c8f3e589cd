package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/domain/order"
)

const (
	latestInvoiceNumberSQL = `SELECT invoice_number FROM sales ORDER BY id DESC LIMIT 1`

	seedCounterSQL = `INSERT INTO invoice_sequences (name, next_value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET next_value = MAX(next_value, excluded.next_value)
		RETURNING next_value`

	nextCounterValueSQL = `UPDATE invoice_sequences SET next_value = next_value + 1
		WHERE name = ? RETURNING next_value - 1`

	createSaleSQL = `INSERT INTO sales (invoice_number, created_at, subtotal, tax, total, payment_method)
		VALUES (?, ?, ?, ?, ?, ?)`

	createSaleLineSQL = `INSERT INTO sale_lines (sale_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES (?, ?, ?, ?, ?, ?)`

	saleColumns = `id, invoice_number, created_at, subtotal, tax, total, payment_method`

	getSaleSQL = `SELECT ` + saleColumns + ` FROM sales WHERE id = ?`

	listSalesSQL = `SELECT ` + saleColumns + ` FROM sales
		WHERE (?1 IS NULL OR created_at >= ?1) AND (?2 IS NULL OR created_at < ?2)
		ORDER BY created_at DESC, id DESC`

	listSaleLinesSQL = `SELECT sale_id, product_id, product_name, quantity, unit_price, line_total
		FROM sale_lines WHERE sale_id IN (%s) ORDER BY sale_id, id`
)

var _ invoice.Store = (*InvoiceStore)(nil)

// InvoiceStore implements invoice.Store.
type InvoiceStore struct {
	db *DB
}

// NewInvoiceStore returns an InvoiceStore.
func NewInvoiceStore(db *DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// LatestInvoiceNumber returns the invoice number of the newest sale.
func (s *InvoiceStore) LatestInvoiceNumber(ctx context.Context) (string, bool, error) {
	var number string
	err := s.db.conn(ctx).QueryRowContext(ctx, latestInvoiceNumberSQL).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting latest invoice number: %w", err)
	}
	return number, true, nil
}

// SeedCounter creates the named counter or raises it to next.
func (s *InvoiceStore) SeedCounter(ctx context.Context, name string, next int64) (int64, error) {
	var v int64
	if err := s.db.conn(ctx).QueryRowContext(ctx, seedCounterSQL, name, next).Scan(&v); err != nil {
		return 0, fmt.Errorf("seeding counter %q: %w", name, err)
	}
	return v, nil
}

// NextValue advances the named counter and returns its previous value.
func (s *InvoiceStore) NextValue(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.conn(ctx).QueryRowContext(ctx, nextCounterValueSQL, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("counter %q: %w", name, invoice.ErrNotInitialized)
	}
	if err != nil {
		return 0, fmt.Errorf("advancing counter %q: %w", name, err)
	}
	return v, nil
}

var _ order.Repository = (*SaleStore)(nil)

// SaleStore implements order.Repository.
type SaleStore struct {
	db *DB
}

// NewSaleStore returns a SaleStore.
func NewSaleStore(db *DB) *SaleStore {
	return &SaleStore{db: db}
}

// Create inserts the sale header and its lines and sets o.ID.
func (s *SaleStore) Create(ctx context.Context, o *order.Order) error {
	q := s.db.conn(ctx)

	res, err := q.ExecContext(ctx, createSaleSQL,
		o.InvoiceNumber, formatTime(o.CreatedAt), o.Subtotal, o.Tax, o.Total, o.PaymentMethod,
	)
	if err != nil {
		return fmt.Errorf("creating sale %q: %w", o.InvoiceNumber, err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("creating sale %q: %w", o.InvoiceNumber, err)
	}

	for _, l := range o.Lines {
		if _, err := q.ExecContext(ctx, createSaleLineSQL,
			o.ID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.LineTotal,
		); err != nil {
			return fmt.Errorf("creating lines of sale %q: %w", o.InvoiceNumber, err)
		}
	}
	return nil
}

// GetByID returns a sale with its lines.
func (s *SaleStore) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	o, err := scanSale(s.db.conn(ctx).QueryRowContext(ctx, getSaleSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting sale %d: %w", id, err)
	}

	sales := []order.Order{o}
	if err := s.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

// List returns sales in the filter window, newest first, each with its lines.
func (s *SaleStore) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, listSalesSQL, optionalTime(filter.From), optionalTime(filter.To))
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}

	var sales []order.Order
	func() {
		defer rows.Close()
		for rows.Next() {
			var o order.Order
			if o, err = scanSale(rows); err != nil {
				return
			}
			sales = append(sales, o)
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, fmt.Errorf("listing sales: %w", err)
	}

	if err := s.attachLines(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *SaleStore) attachLines(ctx context.Context, sales []order.Order) error {
	if len(sales) == 0 {
		return nil
	}

	args := make([]any, len(sales))
	index := make(map[int64]int, len(sales))
	for i, o := range sales {
		args[i] = o.ID
		index[o.ID] = i
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sales)), ",")

	rows, err := s.db.conn(ctx).QueryContext(ctx, fmt.Sprintf(listSaleLinesSQL, placeholders), args...)
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

func scanSale(row rowScanner) (order.Order, error) {
	var (
		o       order.Order
		created string
	)
	if err := row.Scan(&o.ID, &o.InvoiceNumber, &created, &o.Subtotal, &o.Tax, &o.Total, &o.PaymentMethod); err != nil {
		return o, err
	}
	t, err := parseTime(created)
	if err != nil {
		return o, fmt.Errorf("parsing created_at of sale %d: %w", o.ID, err)
	}
	o.CreatedAt = t
	return o, nil
}
