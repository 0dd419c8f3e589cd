package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Input errors, reported before anything is written.
var (
	ErrEmptyCart    = errors.New("cart must contain at least one item")
	ErrInvalidTotal = errors.New("total must not be negative")
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("sale not found")

// ErrPersistence matches every *PersistenceError via errors.Is.
var ErrPersistence = errors.New("persistence failure")

// InvalidLineError indicates a malformed cart line.
type InvalidLineError struct {
	Index  int
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

// TotalMismatchError indicates the declared total differs from the sum of the
// line totals.
type TotalMismatchError struct {
	Declared decimal.Decimal
	Computed decimal.Decimal
}

func (e *TotalMismatchError) Error() string {
	return fmt.Sprintf("declared total %s does not match line totals %s",
		e.Declared.StringFixed(2), e.Computed.StringFixed(2))
}

// PersistenceError wraps a storage failure during checkout. The checkout was
// rolled back.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence failure: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports ErrPersistence as a match.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
