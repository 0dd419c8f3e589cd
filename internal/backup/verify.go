package backup

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
)

const verifyFPR = 0.001

// TableCheck compares a dumped table with its manifest entry.
type TableCheck struct {
	Name     string
	Expected int64
	Rows     int64
}

// Report is the result of Verify.
type Report struct {
	Name   string
	Tables []TableCheck
	// DuplicateInvoices lists invoice numbers found on more than one sale.
	DuplicateInvoices []string
}

// OK reports whether every table matched and no invoice number repeats.
func (r *Report) OK() bool {
	for _, t := range r.Tables {
		if t.Rows != t.Expected {
			return false
		}
	}
	return len(r.DuplicateInvoices) == 0
}

// Verify reads every file of the archive in dir, checks row counts against
// the manifest and looks for repeated invoice numbers.
//
// Invoice numbers go through a bloom filter first; only numbers the filter
// has probably seen before are counted exactly on a second pass.
func Verify(ctx context.Context, dir string) (*Report, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	rep := &Report{Name: m.Name}
	for _, t := range m.Tables {
		rows, err := scanCSV(ctx, filepath.Join(dir, t.File), "", nil)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", t.Name)
		}
		rep.Tables = append(rep.Tables, TableCheck{Name: t.Name, Expected: t.Rows, Rows: rows})
	}

	sales, ok := m.Table("sales")
	if !ok {
		return rep, nil
	}
	path := filepath.Join(dir, sales.File)

	filter := bloom.NewWithEstimates(uint(max(sales.Rows, 1000)), verifyFPR)
	suspects := make(map[string]int)
	if _, err := scanCSV(ctx, path, "invoice_number", func(number string) {
		if filter.TestAndAddString(number) {
			suspects[number] = 0
		}
	}); err != nil {
		return nil, errors.Wrap(err, "scan invoice numbers")
	}
	if len(suspects) == 0 {
		return rep, nil
	}

	if _, err := scanCSV(ctx, path, "invoice_number", func(number string) {
		if _, ok := suspects[number]; ok {
			suspects[number]++
		}
	}); err != nil {
		return nil, errors.Wrap(err, "count suspect invoice numbers")
	}
	for number, n := range suspects {
		if n > 1 {
			rep.DuplicateInvoices = append(rep.DuplicateInvoices, number)
		}
	}
	slices.Sort(rep.DuplicateInvoices)
	return rep, nil
}

// scanCSV streams a gzip CSV file with a header row and returns the number
// of records. When column is set, fn receives that column of every record.
func scanCSV(ctx context.Context, path, column string, fn func(string)) (int64, error) {
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

	r := csv.NewReader(gz)
	r.ReuseRecord = true
	header, err := r.Read()
	if err == io.EOF {
		return 0, errors.New("missing header")
	}
	if err != nil {
		return 0, errors.Wrap(err, "read header")
	}

	idx := -1
	if column != "" {
		idx = slices.Index(header, column)
		if idx < 0 {
			return 0, errors.Errorf("no %s column", column)
		}
	}

	var n int64
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "record %d", n+1)
		}
		if n%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		n++
		if idx >= 0 {
			fn(rec[idx])
		}
	}
}
