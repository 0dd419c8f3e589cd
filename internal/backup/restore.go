package backup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/repository"
)

// Restorer replaces the store contents with an archive.
type Restorer struct {
	pool     *pgxpool.Pool
	tx       *repository.TxManager
	invoices *repository.InvoiceRepository
	numbers  invoice.Config
}

// NewRestorer returns a Restorer. numbers must match the server's invoice
// settings so the counter can be rebuilt from the restored sales.
func NewRestorer(pool *pgxpool.Pool, numbers invoice.Config) *Restorer {
	if numbers.Prefix == "" {
		numbers.Prefix = invoice.DefaultPrefix
	}
	if numbers.Start <= 0 {
		numbers.Start = invoice.DefaultStart
	}
	return &Restorer{
		pool:     pool,
		tx:       repository.NewTxManager(pool),
		invoices: repository.NewInvoiceRepository(pool),
		numbers:  numbers,
	}
}

// Restore loads the archive in dir in one transaction: every table is
// truncated and reloaded, identity sequences move past the restored ids and
// the invoice counter follows the newest restored sale. On any error the
// store is left untouched.
func (r *Restorer) Restore(ctx context.Context, dir string) (*Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	for _, table := range Tables {
		if _, ok := m.Table(table); !ok {
			return nil, errors.Errorf("archive %s has no %s table", m.Name, table)
		}
	}

	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		tx, _ := repository.TxFromContext(ctx)

		if _, err := tx.Exec(ctx, "TRUNCATE "+joinIdentifiers(Tables)+" RESTART IDENTITY"); err != nil {
			return errors.Wrap(err, "truncate")
		}
		for _, table := range Tables {
			info, _ := m.Table(table)
			rows, err := copyIn(ctx, tx, table, filepath.Join(dir, info.File))
			if err != nil {
				return errors.Wrapf(err, "load %s", table)
			}
			if rows != info.Rows {
				return errors.Errorf("load %s: got %d rows, manifest says %d", table, rows, info.Rows)
			}
			slog.Info("restored table", slog.String("table", table), slog.Int64("rows", rows))
		}

		for _, table := range identityTables {
			id := pgx.Identifier{table}.Sanitize()
			if _, err := tx.Exec(ctx,
				`SELECT setval(pg_get_serial_sequence($1, 'id'), COALESCE((SELECT MAX(id) FROM `+id+`), 0) + 1, false)`,
				table,
			); err != nil {
				return errors.Wrapf(err, "reset %s identity", table)
			}
		}

		next := r.numbers.Start
		latest, ok, err := r.invoices.LatestInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		if ok {
			seq, err := invoice.Parse(latest, r.numbers.Prefix)
			if err != nil {
				return err
			}
			next = seq + 1
		}
		if err := r.invoices.ResetCounter(ctx, invoice.CounterName, next); err != nil {
			return err
		}
		slog.Info("invoice counter reset", slog.String("next", invoice.Format(r.numbers.Prefix, next)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func copyIn(ctx context.Context, tx pgx.Tx, table, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	copySQL := "COPY " + pgx.Identifier{table}.Sanitize() + " FROM STDIN WITH (FORMAT csv, HEADER true)"
	tag, err := tx.Conn().PgConn().CopyFrom(ctx, gz, copySQL)
	if err != nil {
		return 0, errors.Wrap(err, "copy")
	}
	return tag.RowsAffected(), nil
}

func joinIdentifiers(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
