package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/repository"
	"github.com/xenking/pos-backend/internal/storage/sqlite"
)

type productJSON struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category"`
}

func main() {
	var (
		driver       string
		databaseURL  string
		sqlitePath   string
		productsFile string
	)

	flag.StringVar(&driver, "driver", "postgres", "store driver: postgres or sqlite")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&sqlitePath, "sqlite-path", "pos.db", "SQLite database file")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if driver == "postgres" && databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	products, closeStore, err := openCatalog(ctx, driver, databaseURL, sqlitePath)
	if err != nil {
		slog.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	err = seedProducts(ctx, products, productsFile)
	closeStore()
	if err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

// openCatalog connects to the store and applies the schema.
func openCatalog(ctx context.Context, driver, databaseURL, sqlitePath string) (product.Repository, func(), error) {
	switch driver {
	case "sqlite":
		slog.Info("opening sqlite store", slog.String("path", sqlitePath))
		db, err := sqlite.Open(ctx, sqlitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite")
		}
		return sqlite.NewProductStore(db), func() { _ = db.Close() }, nil
	case "postgres":
		slog.Info("connecting to database")
		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to database")
		}
		slog.Info("running migrations")
		if err := repository.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return repository.NewProductRepository(pool), pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown driver %q", driver)
	}
}

// seedProducts upserts the products in file by name. Existing products get
// the seeded price and category; their stock is left alone.
func seedProducts(ctx context.Context, repo product.Repository, file string) error {
	slog.Info("reading products file", slog.String("path", file))

	data, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	var seed []productJSON
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	existing, err := repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	byName := make(map[string]product.Product, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	slog.Info("upserting products", slog.Int("count", len(seed)))
	for _, s := range seed {
		p := product.Product{Name: s.Name, Price: s.Price, Stock: s.Stock, Category: s.Category}.Normalize()
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "product %q", s.Name)
		}

		if cur, ok := byName[p.Name]; ok {
			p.ID, p.Stock = cur.ID, cur.Stock
			if err := repo.Update(ctx, &p); err != nil {
				return errors.Wrapf(err, "update product %q", p.Name)
			}
			slog.Info("updated product", slog.Int64("id", p.ID), slog.String("name", p.Name))
			continue
		}
		if err := repo.Create(ctx, &p); err != nil {
			return errors.Wrapf(err, "create product %q", p.Name)
		}
		slog.Info("created product", slog.Int64("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}
