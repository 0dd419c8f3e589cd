// Package report builds read-only views over sales and the catalog.
package report

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
)

const (
	// DefaultLowStockThreshold marks products with fewer units as low on stock.
	DefaultLowStockThreshold = 20
	// DefaultTopProducts is how many best sellers the dashboard shows.
	DefaultTopProducts = 5
)

// ErrInvalidRange is returned when a report range ends before it starts.
var ErrInvalidRange = errors.New("report range ends before it starts")

// Totals aggregates sales.
type Totals struct {
	Count   int
	Revenue decimal.Decimal
}

// TopProduct is a best seller by units sold.
type TopProduct struct {
	ProductID int64
	Name      string
	UnitsSold int
	Revenue   decimal.Decimal
}

// Dashboard is the shop overview.
type Dashboard struct {
	Totals        Totals
	Today         Totals
	AverageTicket decimal.Decimal
	TopProducts   []TopProduct
	LowStock      []product.Product
	ProductCount  int
}

// SalesReport lists the sales in a date range.
type SalesReport struct {
	From  time.Time
	To    time.Time
	Sales []order.Order
	Count int
	Total decimal.Decimal
}

// Repository answers the aggregate queries.
type Repository interface {
	// SalesTotals aggregates sales created in [from, to). Zero bounds are open.
	SalesTotals(ctx context.Context, from, to time.Time) (Totals, error)
	TopProducts(ctx context.Context, limit int) ([]TopProduct, error)
	LowStock(ctx context.Context, threshold int) ([]product.Product, error)
	ProductCount(ctx context.Context) (int, error)
}

// Config tunes reports.
type Config struct {
	LowStockThreshold int
	TopProducts       int
	// Location is the shop's time zone, used to find "today".
	Location *time.Location
}

// Service builds reports.
type Service struct {
	repo   Repository
	orders order.Repository
	cfg    Config
	now    func() time.Time
}

// NewService creates a report Service.
func NewService(repo Repository, orders order.Repository, cfg Config) *Service {
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = DefaultLowStockThreshold
	}
	if cfg.TopProducts <= 0 {
		cfg.TopProducts = DefaultTopProducts
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{repo: repo, orders: orders, cfg: cfg, now: time.Now}
}

// Dashboard returns the shop overview.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	totals, err := s.repo.SalesTotals(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, errors.Wrap(err, "sales totals")
	}

	dayStart := startOfDay(s.now(), s.cfg.Location)
	today, err := s.repo.SalesTotals(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, errors.Wrap(err, "today totals")
	}

	top, err := s.repo.TopProducts(ctx, s.cfg.TopProducts)
	if err != nil {
		return nil, errors.Wrap(err, "top products")
	}

	low, err := s.repo.LowStock(ctx, s.cfg.LowStockThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "low stock")
	}

	count, err := s.repo.ProductCount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "product count")
	}

	avg := decimal.Zero
	if totals.Count > 0 {
		avg = totals.Revenue.Div(decimal.NewFromInt(int64(totals.Count))).Round(2)
	}

	return &Dashboard{
		Totals:        totals,
		Today:         today,
		AverageTicket: avg,
		TopProducts:   top,
		LowStock:      low,
		ProductCount:  count,
	}, nil
}

// SalesReport returns the sales made on the calendar days from through to,
// both inclusive, in the shop's time zone.
func (s *Service) SalesReport(ctx context.Context, from, to time.Time) (*SalesReport, error) {
	start := startOfDay(from, s.cfg.Location)
	end := startOfDay(to, s.cfg.Location).AddDate(0, 0, 1)
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	sales, err := s.orders.List(ctx, order.ListFilter{From: start, To: end})
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}

	total := decimal.Zero
	for _, o := range sales {
		total = total.Add(o.Total)
	}

	return &SalesReport{
		From:  start,
		To:    end,
		Sales: sales,
		Count: len(sales),
		Total: total,
	}, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
