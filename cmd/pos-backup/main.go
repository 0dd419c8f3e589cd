package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-backend/internal/backup"
	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/repository"
)

const defaultAutoInterval = 24 * time.Hour

type options struct {
	databaseURL string
	dir         string
	keep        int
	workers     int
	prefix      string
	start       int64
}

func usage() {
	fmt.Fprint(flag.CommandLine.Output(), `Usage: pos-backup [flags] <command> [args]

Commands:
  backup           dump all tables to a new archive
  list             show archives, newest first
  restore <name>   replace the store contents with an archive
  verify <name>    check row counts and invoice number uniqueness
  auto [hours]     back up every N hours (default 24) until interrupted

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.dir, "dir", "backups", "directory holding the archives")
	flag.IntVar(&opts.keep, "keep", backup.DefaultKeep, "number of archives to retain")
	flag.IntVar(&opts.workers, "workers", 4, "tables dumped in parallel")
	flag.StringVar(&opts.prefix, "prefix", invoice.DefaultPrefix, "invoice number prefix used by the server")
	flag.Int64Var(&opts.start, "start", invoice.DefaultStart, "first invoice sequence number")
	flag.Usage = usage
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, flag.Args()); err != nil {
		slog.Error("pos-backup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("command is required")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "list":
		return list(opts)
	case "verify":
		name, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		return verify(ctx, opts, name)
	}

	if opts.databaseURL == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	switch cmd {
	case "backup":
		return runBackup(ctx, opts, pool)
	case "restore":
		name, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		return restore(ctx, opts, pool, name)
	case "auto":
		interval := defaultAutoInterval
		if len(args) > 0 {
			hours, err := strconv.ParseFloat(args[0], 64)
			if err != nil || hours <= 0 {
				return errors.Errorf("invalid interval %q: want a positive number of hours", args[0])
			}
			interval = time.Duration(hours * float64(time.Hour))
		}
		return auto(ctx, opts, pool, interval)
	default:
		flag.Usage()
		return errors.Errorf("unknown command %q", cmd)
	}
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.Errorf("%s takes exactly one archive name", cmd)
	}
	return args[0], nil
}

func runBackup(ctx context.Context, opts options, pool *pgxpool.Pool) error {
	started := time.Now()
	m, err := backup.NewDumper(pool, opts.dir, opts.workers).Backup(ctx)
	if err != nil {
		return errors.Wrap(err, "backup")
	}
	slog.Info("backup completed",
		slog.String("name", m.Name),
		slog.Duration("took", time.Since(started)),
	)

	removed, err := backup.Prune(opts.dir, opts.keep)
	if err != nil {
		return errors.Wrap(err, "prune")
	}
	for _, name := range removed {
		slog.Info("removed old backup", slog.String("name", name))
	}
	return nil
}

func list(opts options) error {
	entries, err := backup.List(opts.dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no backups in", opts.dir)
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%d bytes\n", e.Name, e.CreatedAt.Local().Format(time.DateTime), e.Size)
	}
	return nil
}

func restore(ctx context.Context, opts options, pool *pgxpool.Pool, name string) error {
	dir, err := backup.Resolve(opts.dir, name)
	if err != nil {
		return err
	}
	r := backup.NewRestorer(pool, invoice.Config{Prefix: opts.prefix, Start: opts.start})
	m, err := r.Restore(ctx, dir)
	if err != nil {
		return errors.Wrapf(err, "restore %s", name)
	}
	slog.Info("restore completed", slog.String("name", m.Name), slog.Time("created_at", m.CreatedAt))
	return nil
}

func verify(ctx context.Context, opts options, name string) error {
	dir, err := backup.Resolve(opts.dir, name)
	if err != nil {
		return err
	}
	rep, err := backup.Verify(ctx, dir)
	if err != nil {
		return errors.Wrapf(err, "verify %s", name)
	}
	for _, t := range rep.Tables {
		status := "ok"
		if t.Rows != t.Expected {
			status = "MISMATCH"
		}
		fmt.Printf("%-20s %10d / %-10d %s\n", t.Name, t.Rows, t.Expected, status)
	}
	for _, number := range rep.DuplicateInvoices {
		fmt.Println("duplicate invoice number:", number)
	}
	if !rep.OK() {
		return errors.Errorf("backup %s failed verification", name)
	}
	slog.Info("backup verified", slog.String("name", name))
	return nil
}

func auto(ctx context.Context, opts options, pool *pgxpool.Pool, interval time.Duration) error {
	slog.Info("automatic backups enabled", slog.Duration("interval", interval), slog.Int("keep", opts.keep))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := runBackup(ctx, opts, pool); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("scheduled backup failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			slog.Info("automatic backups stopped")
			return nil
		case <-ticker.C:
		}
	}
}
