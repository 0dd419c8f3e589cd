package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
	"github.com/xenking/pos-backend/internal/events"
	"github.com/xenking/pos-backend/internal/repository"
	"github.com/xenking/pos-backend/internal/storage/sqlite"
)

// catalog is the product store seen by both the API and the stock ledger.
type catalog interface {
	product.Repository
	inventory.Store
}

// outbox is written by checkout and drained by the relay.
type outbox interface {
	order.Outbox
	events.Store
}

// store bundles one backend's repositories.
type store struct {
	uow      order.UnitOfWork
	products catalog
	invoices invoice.Store
	sales    order.Repository
	reports  report.Repository
	outbox   outbox
	ping     func(ctx context.Context) error
	close    func()
}

func (s *store) Ping(ctx context.Context) error { return s.ping(ctx) }

// openStore connects to the configured backend and applies the schema.
func openStore(ctx context.Context, lg *zap.Logger, cfg DatabaseConfig) (*store, error) {
	switch cfg.Driver {
	case DriverSQLite:
		lg.Info("Opening SQLite store", zap.String("path", cfg.SQLitePath))
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		return &store{
			uow:      db,
			products: sqlite.NewProductStore(db),
			invoices: sqlite.NewInvoiceStore(db),
			sales:    sqlite.NewSaleStore(db),
			reports:  sqlite.NewReportStore(db),
			outbox:   sqlite.NewOutboxStore(db),
			ping:     db.Ping,
			close:    func() { _ = db.Close() },
		}, nil
	default:
		lg.Info("Connecting to PostgreSQL")
		pool, err := repository.NewPool(ctx, cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &store{
			uow:      repository.NewTxManager(pool),
			products: repository.NewProductRepository(pool),
			invoices: repository.NewInvoiceRepository(pool),
			sales:    repository.NewSaleRepository(pool),
			reports:  repository.NewReportRepository(pool),
			outbox:   repository.NewOutboxRepository(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil
	}
}
