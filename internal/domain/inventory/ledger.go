// Package inventory owns stock counts and the all-or-nothing reservation of
// a cart against them.
package inventory

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-backend/internal/domain/product"
)

// MaxQuantity is the largest stock count, and so the largest quantity of one
// product in an order, that a product row can hold.
const MaxQuantity = math.MaxInt32

// Item is one product/quantity pair to reserve.
type Item struct {
	ProductID int64
	Quantity  int
}

// Reservation is the outcome of reserving one product: the catalog snapshot
// taken under lock and the stock left after the decrement.
type Reservation struct {
	Product   product.Product
	Quantity  int
	Remaining int
}

// ProductNotFoundError indicates a cart references a product that does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// QuantityRangeError indicates an order asks for a quantity of one product
// outside 1..MaxQuantity, either on a single item or summed over repeats.
type QuantityRangeError struct {
	ProductID int64
}

func (e *QuantityRangeError) Error() string {
	return fmt.Sprintf("quantity of product %d must be between 1 and %d", e.ProductID, MaxQuantity)
}

// InsufficientStockError indicates a product does not have enough units on hand.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

// Store is the catalog access the ledger needs. Both methods must run on the
// transaction carried by ctx; GetForUpdate must lock the row until commit.
type Store interface {
	GetForUpdate(ctx context.Context, id int64) (*product.Product, error)
	SetStock(ctx context.Context, id int64, quantity int) error
}

// Ledger is the single source of truth for stock.
type Ledger struct {
	store Store
}

// NewLedger returns a Ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// ReserveForOrder checks every item against current stock and, only if all of
// them fit, writes the decremented counts. It must be called inside a unit of
// work: the row locks taken here are what serializes competing orders, and the
// decrements become visible to them only when that unit commits.
//
// Quantities of repeated products are merged, and rows are locked in ascending
// product ID order so that two carts over the same products cannot deadlock.
func (l *Ledger) ReserveForOrder(ctx context.Context, items []Item) ([]Reservation, error) {
	merged, err := Merge(items)
	if err != nil {
		return nil, err
	}

	reservations := make([]Reservation, 0, len(merged))
	for _, item := range merged {
		p, err := l.store.GetForUpdate(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, &ProductNotFoundError{ProductID: item.ProductID}
			}
			return nil, errors.Wrapf(err, "lock product %d", item.ProductID)
		}
		if p.Stock < item.Quantity {
			return nil, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   item.Quantity,
			}
		}
		reservations = append(reservations, Reservation{
			Product:   *p,
			Quantity:  item.Quantity,
			Remaining: p.Stock - item.Quantity,
		})
	}

	// Every line passed; nothing has been written before this point.
	for _, r := range reservations {
		if err := l.store.SetStock(ctx, r.Product.ID, r.Remaining); err != nil {
			return nil, errors.Wrapf(err, "set stock for product %d", r.Product.ID)
		}
	}

	return reservations, nil
}

// Merge sums quantities per product and returns the items sorted by product ID.
// Every quantity and every sum must stay within 1..MaxQuantity.
func Merge(items []Item) ([]Item, error) {
	totals := make(map[int64]int, len(items))
	for _, item := range items {
		sum := totals[item.ProductID]
		if item.Quantity <= 0 || item.Quantity > MaxQuantity-sum {
			return nil, &QuantityRangeError{ProductID: item.ProductID}
		}
		totals[item.ProductID] = sum + item.Quantity
	}

	merged := make([]Item, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Item{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(merged, func(a, b Item) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})
	return merged, nil
}
