package sqlite

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
)

const (
	// Amounts are stored as text, so sums are taken in Go to stay exact.
	saleTotalsSQL = `SELECT total FROM sales
		WHERE (?1 IS NULL OR created_at >= ?1) AND (?2 IS NULL OR created_at < ?2)`

	unitsSoldSQL = `SELECT product_id, product_name, quantity, line_total FROM sale_lines ORDER BY id`

	lowStockSQL = `SELECT ` + productColumns + ` FROM products WHERE stock < ? ORDER BY stock, id`

	productCountSQL = `SELECT count(*) FROM products`
)

var _ report.Repository = (*ReportStore)(nil)

// ReportStore implements report.Repository.
type ReportStore struct {
	db *DB
}

// NewReportStore returns a ReportStore.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// SalesTotals counts and sums sales created in [from, to).
func (s *ReportStore) SalesTotals(ctx context.Context, from, to time.Time) (report.Totals, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, saleTotalsSQL, optionalTime(from), optionalTime(to))
	if err != nil {
		return report.Totals{}, fmt.Errorf("summing sales: %w", err)
	}
	defer rows.Close()

	t := report.Totals{Revenue: decimal.Zero}
	for rows.Next() {
		var total decimal.Decimal
		if err := rows.Scan(&total); err != nil {
			return report.Totals{}, fmt.Errorf("scanning sale total: %w", err)
		}
		t.Count++
		t.Revenue = t.Revenue.Add(total)
	}
	if err := rows.Err(); err != nil {
		return report.Totals{}, fmt.Errorf("summing sales: %w", err)
	}
	return t, nil
}

// TopProducts returns the best sellers by units sold.
func (s *ReportStore) TopProducts(ctx context.Context, limit int) ([]report.TopProduct, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, unitsSoldSQL)
	if err != nil {
		return nil, fmt.Errorf("listing top products: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*report.TopProduct)
	var seen []int64
	for rows.Next() {
		var (
			id, qty   int64
			name      string
			lineTotal decimal.Decimal
		)
		if err := rows.Scan(&id, &name, &qty, &lineTotal); err != nil {
			return nil, fmt.Errorf("scanning sale line: %w", err)
		}
		tp, ok := byID[id]
		if !ok {
			tp = &report.TopProduct{ProductID: id, Revenue: decimal.Zero}
			byID[id] = tp
			seen = append(seen, id)
		}
		tp.Name = name
		tp.UnitsSold += int(qty)
		tp.Revenue = tp.Revenue.Add(lineTotal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing top products: %w", err)
	}

	out := make([]report.TopProduct, 0, len(seen))
	for _, id := range seen {
		out = append(out, *byID[id])
	}
	sortTopProducts(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LowStock returns products with fewer than threshold units, scarcest first.
func (s *ReportStore) LowStock(ctx context.Context, threshold int) ([]product.Product, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx, lowStockSQL, threshold)
	if err != nil {
		return nil, fmt.Errorf("listing low stock: %w", err)
	}
	return collectProducts(rows)
}

// ProductCount returns the catalog size.
func (s *ReportStore) ProductCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.conn(ctx).QueryRowContext(ctx, productCountSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return n, nil
}

// sortTopProducts orders by units sold, then product ID.
func sortTopProducts(tps []report.TopProduct) {
	slices.SortStableFunc(tps, func(a, b report.TopProduct) int {
		if c := cmp.Compare(b.UnitsSold, a.UnitsSold); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
}
