package inventory

import (
	"context"
	"math"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-backend/internal/domain/product"
)

type mockStore struct {
	products map[int64]*product.Product
	locked   []int64
	writes   map[int64]int
	getErr   error
	setErr   error
}

func newMockStore(products ...product.Product) *mockStore {
	m := &mockStore{
		products: make(map[int64]*product.Product),
		writes:   make(map[int64]int),
	}
	for i := range products {
		m.products[products[i].ID] = &products[i]
	}
	return m
}

func (m *mockStore) GetForUpdate(_ context.Context, id int64) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.locked = append(m.locked, id)
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) SetStock(_ context.Context, id int64, quantity int) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.writes[id] = quantity
	return nil
}

func testProduct(id int64, name string, stock int) product.Product {
	return product.Product{ID: id, Name: name, Price: decimal.NewFromInt(100), Stock: stock}
}

func TestReserveForOrder(t *testing.T) {
	store := newMockStore(testProduct(1, "Cuaderno", 10), testProduct(2, "Lápiz", 5))
	l := NewLedger(store)

	res, err := l.ReserveForOrder(context.Background(), []Item{
		{ProductID: 2, Quantity: 5},
		{ProductID: 1, Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, []int64{1, 2}, store.locked, "rows are locked in id order")
	assert.Equal(t, map[int64]int{1: 7, 2: 0}, store.writes)
	assert.Equal(t, "Cuaderno", res[0].Product.Name)
	assert.Equal(t, 7, res[0].Remaining)
}

func TestReserveForOrder_NothingWrittenOnShortage(t *testing.T) {
	store := newMockStore(testProduct(1, "Cuaderno", 10), testProduct(2, "Lápiz", 1))
	l := NewLedger(store)

	_, err := l.ReserveForOrder(context.Background(), []Item{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 2},
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "Lápiz", stockErr.ProductName)
	assert.Contains(t, err.Error(), "available 1, requested 2")
	assert.Empty(t, store.writes)
}

func TestReserveForOrder_NotFound(t *testing.T) {
	store := newMockStore(testProduct(1, "Cuaderno", 10))
	l := NewLedger(store)

	_, err := l.ReserveForOrder(context.Background(), []Item{{ProductID: 7, Quantity: 1}})

	var nfErr *ProductNotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, int64(7), nfErr.ProductID)
	assert.Empty(t, store.writes)
}

func TestReserveForOrder_StoreErrors(t *testing.T) {
	t.Run("Lock", func(t *testing.T) {
		store := newMockStore(testProduct(1, "Cuaderno", 10))
		store.getErr = errors.New("connection reset")

		_, err := NewLedger(store).ReserveForOrder(context.Background(), []Item{{ProductID: 1, Quantity: 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock product 1")
	})
	t.Run("Write", func(t *testing.T) {
		store := newMockStore(testProduct(1, "Cuaderno", 10))
		store.setErr = errors.New("connection reset")

		_, err := NewLedger(store).ReserveForOrder(context.Background(), []Item{{ProductID: 1, Quantity: 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "set stock for product 1")
	})
}

func TestMerge(t *testing.T) {
	got, err := Merge([]Item{
		{ProductID: 3, Quantity: 1},
		{ProductID: 1, Quantity: 2},
		{ProductID: 3, Quantity: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []Item{
		{ProductID: 1, Quantity: 2},
		{ProductID: 3, Quantity: 5},
	}, got)

	got, err = Merge([]Item{{ProductID: 1, Quantity: MaxQuantity - 1}, {ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, []Item{{ProductID: 1, Quantity: MaxQuantity}}, got)
}

func TestMerge_QuantityRange(t *testing.T) {
	for _, tt := range []struct {
		name  string
		items []Item
	}{
		{"SingleTooLarge", []Item{{ProductID: 1, Quantity: MaxQuantity + 1}}},
		{"SumTooLarge", []Item{{ProductID: 1, Quantity: MaxQuantity}, {ProductID: 1, Quantity: 1}}},
		{"SumWraps", []Item{{ProductID: 1, Quantity: math.MaxInt}, {ProductID: 1, Quantity: math.MaxInt}}},
		{"Zero", []Item{{ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 0}}},
		{"Negative", []Item{{ProductID: 1, Quantity: -3}}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.items)
			var rangeErr *QuantityRangeError
			require.ErrorAs(t, err, &rangeErr)
			assert.Equal(t, int64(1), rangeErr.ProductID)
		})
	}
}

func TestReserveForOrder_QuantityOverflow(t *testing.T) {
	store := newMockStore(testProduct(1, "Cuaderno", 5))
	l := NewLedger(store)

	_, err := l.ReserveForOrder(context.Background(), []Item{
		{ProductID: 1, Quantity: math.MaxInt},
		{ProductID: 1, Quantity: math.MaxInt},
	})
	var rangeErr *QuantityRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Empty(t, store.locked)
	assert.Empty(t, store.writes)
}
