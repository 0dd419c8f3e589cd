// Package invoice allocates sequential invoice numbers of the form
// "<prefix>-<n>" from a durable counter.
package invoice

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-faster/errors"
)

const (
	// DefaultPrefix is the invoice number prefix used by the shop.
	DefaultPrefix = "FAC"
	// DefaultStart is the first number issued when no sales exist.
	DefaultStart int64 = 1000
	// CounterName identifies the invoice counter row.
	CounterName = "invoice"
)

// ErrNotInitialized is returned by Next when Init has not completed.
var ErrNotInitialized = errors.New("invoice sequencer not initialized")

// MalformedNumberError indicates a persisted invoice number could not be parsed.
type MalformedNumberError struct {
	Number string
}

func (e *MalformedNumberError) Error() string {
	return "malformed invoice number " + strconv.Quote(e.Number)
}

// Store is the durable side of the sequence.
type Store interface {
	// LatestInvoiceNumber returns the invoice number of the most recent sale.
	// ok is false when no sales exist.
	LatestInvoiceNumber(ctx context.Context) (number string, ok bool, err error)
	// SeedCounter creates the counter with next, or raises an existing
	// counter to next if it is lower. It returns the resulting next value.
	SeedCounter(ctx context.Context, name string, next int64) (int64, error)
	// NextValue advances the counter on the transaction carried by ctx and
	// returns the value it held before the advance.
	NextValue(ctx context.Context, name string) (int64, error)
}

// Config controls numbering.
type Config struct {
	Prefix string
	Start  int64
}

// Sequencer hands out invoice numbers. The counter lives in the store, so
// several processes sharing the store cannot issue the same number, and a
// rolled back transaction gives its number back.
type Sequencer struct {
	store  Store
	prefix string
	start  int64
	ready  atomic.Bool
}

// NewSequencer returns a Sequencer. Init must succeed before Next is used.
func NewSequencer(store Store, cfg Config) *Sequencer {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Start <= 0 {
		cfg.Start = DefaultStart
	}
	return &Sequencer{
		store:  store,
		prefix: cfg.Prefix,
		start:  cfg.Start,
	}
}

// Init seeds the durable counter from sales history: the sequence of the
// newest invoice plus one, or the configured start when there are no sales.
// An existing counter that is already ahead is left alone.
func (s *Sequencer) Init(ctx context.Context) (int64, error) {
	next := s.start

	latest, ok, err := s.store.LatestInvoiceNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "read latest invoice number")
	}
	if ok {
		seq, err := Parse(latest, s.prefix)
		if err != nil {
			return 0, err
		}
		next = seq + 1
	}

	seeded, err := s.store.SeedCounter(ctx, CounterName, next)
	if err != nil {
		return 0, errors.Wrap(err, "seed invoice counter")
	}

	s.ready.Store(true)
	return seeded, nil
}

// Ready reports whether Init has completed.
func (s *Sequencer) Ready() bool {
	return s.ready.Load()
}

// Next allocates the next invoice number on the transaction carried by ctx.
func (s *Sequencer) Next(ctx context.Context) (string, error) {
	if !s.ready.Load() {
		return "", ErrNotInitialized
	}
	v, err := s.store.NextValue(ctx, CounterName)
	if err != nil {
		return "", errors.Wrap(err, "advance invoice counter")
	}
	return Format(s.prefix, v), nil
}

// Format renders an invoice number.
func Format(prefix string, seq int64) string {
	return prefix + "-" + strconv.FormatInt(seq, 10)
}

// Parse extracts the sequence from an invoice number with the given prefix.
func Parse(number, prefix string) (int64, error) {
	rest, ok := strings.CutPrefix(number, prefix+"-")
	if !ok {
		return 0, &MalformedNumberError{Number: number}
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq <= 0 {
		return 0, &MalformedNumberError{Number: number}
	}
	return seq, nil
}
