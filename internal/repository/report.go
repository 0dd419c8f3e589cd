package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
)

const (
	salesTotalsSQL = `SELECT count(*), COALESCE(sum(total), 0) FROM sales
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)`

	topProductsSQL = `SELECT product_id,
			(array_agg(product_name ORDER BY id DESC))[1],
			sum(quantity),
			sum(line_total)
		FROM sale_lines
		GROUP BY product_id
		ORDER BY sum(quantity) DESC, product_id
		LIMIT $1`

	lowStockSQL = `SELECT ` + productColumns + ` FROM products WHERE stock < $1 ORDER BY stock, id`

	productCountSQL = `SELECT count(*) FROM products`
)

var _ report.Repository = (*ReportRepository)(nil)

// ReportRepository implements report.Repository backed by PostgreSQL.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository returns a ReportRepository that uses the given pool.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// SalesTotals counts and sums sales created in [from, to).
func (r *ReportRepository) SalesTotals(ctx context.Context, from, to time.Time) (report.Totals, error) {
	var t report.Totals
	err := conn(ctx, r.pool).QueryRow(ctx, salesTotalsSQL, optionalTime(from), optionalTime(to)).
		Scan(&t.Count, &t.Revenue)
	if err != nil {
		return report.Totals{}, fmt.Errorf("summing sales: %w", err)
	}
	return t, nil
}

// TopProducts returns the best sellers by units sold.
func (r *ReportRepository) TopProducts(ctx context.Context, limit int) ([]report.TopProduct, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, topProductsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top products: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (report.TopProduct, error) {
		var tp report.TopProduct
		err := row.Scan(&tp.ProductID, &tp.Name, &tp.UnitsSold, &tp.Revenue)
		return tp, err
	})
}

// LowStock returns products with fewer than threshold units, scarcest first.
func (r *ReportRepository) LowStock(ctx context.Context, threshold int) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, lowStockSQL, threshold)
	if err != nil {
		return nil, fmt.Errorf("listing low stock: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ProductCount returns the catalog size.
func (r *ReportRepository) ProductCount(ctx context.Context) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, productCountSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return n, nil
}
