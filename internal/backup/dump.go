package backup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

// Dumper writes archives of a PostgreSQL store.
type Dumper struct {
	pool    *pgxpool.Pool
	root    string
	workers int
	now     func() time.Time
}

// NewDumper returns a Dumper writing under root with up to workers tables
// dumped in parallel.
func NewDumper(pool *pgxpool.Pool, root string, workers int) *Dumper {
	if workers <= 0 {
		workers = 4
	}
	return &Dumper{pool: pool, root: root, workers: min(workers, len(Tables)), now: time.Now}
}

// Backup dumps every table as of one snapshot. The coordinating transaction
// exports its snapshot and each worker imports it, so the tables agree with
// each other even while tills keep selling.
func (d *Dumper) Backup(ctx context.Context) (*Manifest, error) {
	created := d.now().UTC()
	name := Name(created)
	final := filepath.Join(d.root, name)
	if _, err := os.Stat(final); err == nil {
		return nil, errors.Errorf("backup %s already exists", name)
	}
	tmp := final + partial
	if err := os.MkdirAll(tmp, 0o750); err != nil {
		return nil, errors.Wrap(err, "create backup dir")
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	coord, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}
	defer coord.Release()

	tx, err := coord.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, errors.Wrap(err, "begin snapshot transaction")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var snapshot string
	if err := tx.QueryRow(ctx, `SELECT pg_export_snapshot()`).Scan(&snapshot); err != nil {
		return nil, errors.Wrap(err, "export snapshot")
	}
	slog.Info("exported snapshot", slog.String("snapshot", snapshot), slog.Int("workers", d.workers))

	tables := make([]TableInfo, len(Tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, table := range Tables {
		g.Go(func() error {
			file := fileName(table)
			rows, err := d.dumpTable(gctx, snapshot, table, filepath.Join(tmp, file))
			if err != nil {
				return errors.Wrapf(err, "dump %s", table)
			}
			tables[i] = TableInfo{Name: table, File: file, Rows: rows}
			slog.Info("dumped table", slog.String("table", table), slog.Int64("rows", rows))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &Manifest{Name: name, CreatedAt: created, Snapshot: snapshot, Tables: tables}
	if err := writeManifest(tmp, m); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, final); err != nil {
		return nil, errors.Wrap(err, "publish backup")
	}
	return m, nil
}

func (d *Dumper) dumpTable(ctx context.Context, snapshot, table, path string) (rows int64, rerr error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "acquire connection")
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, "SET TRANSACTION SNAPSHOT "+quoteLiteral(snapshot)); err != nil {
		return 0, errors.Wrap(err, "import snapshot")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, errors.Wrap(err, "create file")
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrap(err, "close file")
		}
	}()

	gz := pgzip.NewWriter(f)
	copySQL := "COPY " + pgx.Identifier{table}.Sanitize() + " TO STDOUT WITH (FORMAT csv, HEADER true)"
	tag, err := tx.Conn().PgConn().CopyTo(ctx, gz, copySQL)
	if err != nil {
		_ = gz.Close()
		return 0, errors.Wrap(err, "copy")
	}
	if err := gz.Close(); err != nil {
		return 0, errors.Wrap(err, "flush gzip")
	}
	if err := f.Sync(); err != nil {
		return 0, errors.Wrap(err, "sync file")
	}
	return tag.RowsAffected(), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
