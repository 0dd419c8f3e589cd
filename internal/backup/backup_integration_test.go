//go:build integration

package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/pgtest"
	"github.com/xenking/pos-backend/internal/repository"
)

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)
	root := t.TempDir()

	products := repository.NewProductRepository(pool)
	invoices := repository.NewInvoiceRepository(pool)
	sales := repository.NewSaleRepository(pool)
	seq := invoice.NewSequencer(invoices, invoice.Config{})
	_, err := seq.Init(ctx)
	require.NoError(t, err)
	proc, err := order.NewProcessor(repository.NewTxManager(pool), inventory.NewLedger(products), seq, sales, order.Config{},
		order.WithOutbox(repository.NewOutboxRepository(pool)),
	)
	require.NoError(t, err)

	p := &product.Product{Name: "Cuaderno", Price: decimal.NewFromInt(1000), Stock: 10, Category: "General"}
	require.NoError(t, products.Create(ctx, p))
	sell := func() *order.Order {
		o, err := proc.PlaceOrder(ctx, order.PlaceOrderRequest{
			Items: []order.CartItem{{ProductID: p.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)}},
			Total: decimal.NewFromInt(1000),
		})
		require.NoError(t, err)
		return o
	}
	sell()
	sell()

	d := NewDumper(pool, root, 2)
	d.now = func() time.Time { return time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC) }
	m, err := d.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pos_20240503T120000Z", m.Name)
	assert.NotEmpty(t, m.Snapshot)
	sales0, ok := m.Table("sales")
	require.True(t, ok)
	assert.EqualValues(t, 2, sales0.Rows)
	_, err = os.Stat(filepath.Join(root, m.Name+partial))
	assert.True(t, os.IsNotExist(err), "partial directory is gone")

	rep, err := Verify(ctx, filepath.Join(root, m.Name))
	require.NoError(t, err)
	assert.True(t, rep.OK())

	// Diverge from the archive, then roll back to it.
	sell()
	require.NoError(t, products.Delete(ctx, p.ID))

	dir, err := Resolve(root, m.Name)
	require.NoError(t, err)
	_, err = NewRestorer(pool, invoice.Config{}).Restore(ctx, dir)
	require.NoError(t, err)

	restored, err := products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, restored.Stock)

	list, err := sales.List(ctx, order.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "FAC-1001", list[0].InvoiceNumber)

	// The counter follows the restored sales and identities keep growing.
	o := sell()
	assert.Equal(t, "FAC-1002", o.InvoiceNumber)
	assert.Greater(t, o.ID, list[0].ID)

	other := &product.Product{Name: "Lápiz", Price: decimal.NewFromInt(500), Stock: 3, Category: "General"}
	require.NoError(t, products.Create(ctx, other))
	assert.Greater(t, other.ID, p.ID)
}

func TestRestore_BadArchiveLeavesStore(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t)
	root := t.TempDir()

	products := repository.NewProductRepository(pool)
	p := &product.Product{Name: "Cuaderno", Price: decimal.NewFromInt(1000), Stock: 10, Category: "General"}
	require.NoError(t, products.Create(ctx, p))

	m, err := NewDumper(pool, root, 0).Backup(ctx)
	require.NoError(t, err)
	dir := filepath.Join(root, m.Name)

	m.Tables[0].Rows = 42
	require.NoError(t, writeManifest(dir, m))
	require.NoError(t, products.SetStock(ctx, p.ID, 1))

	_, err = NewRestorer(pool, invoice.Config{}).Restore(ctx, dir)
	require.ErrorContains(t, err, "manifest says 42")

	got, err := products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
}
