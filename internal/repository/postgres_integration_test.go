//go:build integration

package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
	"github.com/xenking/pos-backend/internal/pgtest"
	"github.com/xenking/pos-backend/internal/repository"
)

type fixture struct {
	tx        *repository.TxManager
	products  *repository.ProductRepository
	invoices  *repository.InvoiceRepository
	sales     *repository.SaleRepository
	outbox    *repository.OutboxRepository
	reports   *repository.ReportRepository
	sequencer *invoice.Sequencer
	processor *order.Processor
}

func newFixture(t *testing.T, pool *pgxpool.Pool) *fixture {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `TRUNCATE products, sales, sale_lines, invoice_sequences, sale_events RESTART IDENTITY`)
	require.NoError(t, err)

	f := &fixture{
		tx:       repository.NewTxManager(pool),
		products: repository.NewProductRepository(pool),
		invoices: repository.NewInvoiceRepository(pool),
		sales:    repository.NewSaleRepository(pool),
		outbox:   repository.NewOutboxRepository(pool),
		reports:  repository.NewReportRepository(pool),
	}
	f.sequencer = invoice.NewSequencer(f.invoices, invoice.Config{})
	_, err = f.sequencer.Init(ctx)
	require.NoError(t, err)

	f.processor, err = order.NewProcessor(f.tx, inventory.NewLedger(f.products), f.sequencer, f.sales, order.Config{},
		order.WithOutbox(f.outbox),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) addProduct(t *testing.T, name, price string, stock int) int64 {
	t.Helper()
	p := &product.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock, Category: "General"}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p.ID
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func sell(id int64, qty int, price, total string) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		Items: []order.CartItem{{ProductID: id, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}},
		Total: decimal.RequireFromString(total),
	}
}

func TestPostgres(t *testing.T) {
	pool := pgtest.Start(t)

	t.Run("Checkout", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		id := f.addProduct(t, "Cuaderno", "1000", 5)

		o, err := f.processor.PlaceOrder(ctx, sell(id, 3, "1000", "3000"))
		require.NoError(t, err)
		assert.Equal(t, "FAC-1000", o.InvoiceNumber)
		assert.Equal(t, 2, f.stock(t, id))

		got, err := f.sales.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("2521.01").Equal(got.Subtotal))
		assert.True(t, decimal.RequireFromString("478.99").Equal(got.Tax))
		assert.True(t, decimal.RequireFromString("3000").Equal(got.Total))
		require.Len(t, got.Lines, 1)
		assert.Equal(t, "Cuaderno", got.Lines[0].ProductName)

		_, err = f.sales.GetByID(ctx, o.ID+100)
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("FailuresChangeNothing", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		id := f.addProduct(t, "Cuaderno", "1000", 5)

		_, err := f.processor.PlaceOrder(ctx, order.PlaceOrderRequest{
			Items: []order.CartItem{
				{ProductID: id, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)},
				{ProductID: 999, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)},
			},
			Total: decimal.NewFromInt(2000),
		})
		var nfErr *inventory.ProductNotFoundError
		require.ErrorAs(t, err, &nfErr)
		assert.Equal(t, 5, f.stock(t, id))

		o, err := f.processor.PlaceOrder(ctx, sell(id, 1, "1000", "1000"))
		require.NoError(t, err)
		assert.Equal(t, "FAC-1000", o.InvoiceNumber, "rolled back checkout consumes no number")
	})

	t.Run("ConcurrentLastUnit", func(t *testing.T) {
		f := newFixture(t, pool)
		id := f.addProduct(t, "Cuaderno", "1000", 1)

		var (
			wg   sync.WaitGroup
			errs = make([]error, 4)
		)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.processor.PlaceOrder(context.Background(), sell(id, 1, "1000", "1000"))
			}()
		}
		wg.Wait()

		var ok int
		for _, err := range errs {
			var stockErr *inventory.InsufficientStockError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &stockErr):
				assert.Equal(t, 0, stockErr.Available)
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 0, f.stock(t, id))
	})

	t.Run("ConcurrentInvoiceNumbers", func(t *testing.T) {
		f := newFixture(t, pool)
		id := f.addProduct(t, "Lápiz", "500", 100)

		const n = 25
		var wg sync.WaitGroup
		numbers := make([]string, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o, err := f.processor.PlaceOrder(context.Background(), sell(id, 1, "500", "500"))
				if err == nil {
					numbers[i] = o.InvoiceNumber
				}
			}()
		}
		wg.Wait()

		seen := make(map[string]bool, n)
		for _, num := range numbers {
			require.NotEmpty(t, num)
			require.False(t, seen[num], "duplicate %s", num)
			seen[num] = true
		}
		assert.True(t, seen["FAC-1000"])
		assert.True(t, seen[invoice.Format(invoice.DefaultPrefix, invoice.DefaultStart+n-1)])
		assert.Equal(t, 100-n, f.stock(t, id))
	})

	t.Run("SequencerResumes", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		id := f.addProduct(t, "Cuaderno", "1000", 10)
		for range 3 {
			_, err := f.processor.PlaceOrder(ctx, sell(id, 1, "1000", "1000"))
			require.NoError(t, err)
		}

		seq := invoice.NewSequencer(repository.NewInvoiceRepository(pool), invoice.Config{})
		next, err := seq.Init(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1003), next)

		latest, ok, err := f.invoices.LatestInvoiceNumber(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "FAC-1002", latest)
	})

	t.Run("Products", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		id := f.addProduct(t, "Borrador", "300", 12)
		f.addProduct(t, "Agenda", "25000", 3)

		list, err := f.products.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Agenda", list[0].Name)

		p, err := f.products.GetByID(ctx, id)
		require.NoError(t, err)
		p.Price = decimal.RequireFromString("350.50")
		require.NoError(t, f.products.Update(ctx, p))

		p, err = f.products.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("350.50").Equal(p.Price))

		require.NoError(t, f.products.Delete(ctx, id))
		_, err = f.products.GetByID(ctx, id)
		require.ErrorIs(t, err, product.ErrNotFound)
		require.ErrorIs(t, f.products.Delete(ctx, id), product.ErrNotFound)
	})

	t.Run("SaleListFilter", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		id := f.addProduct(t, "Cuaderno", "1000", 10)

		for _, day := range []time.Time{
			time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
			time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC),
		} {
			proc, err := order.NewProcessor(f.tx, inventory.NewLedger(f.products), f.sequencer, f.sales, order.Config{},
				order.WithClock(func() time.Time { return day }),
			)
			require.NoError(t, err)
			_, err = proc.PlaceOrder(ctx, sell(id, 1, "1000", "1000"))
			require.NoError(t, err)
		}

		all, err := f.sales.List(ctx, order.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "FAC-1002", all[0].InvoiceNumber)

		window, err := f.sales.List(ctx, order.ListFilter{
			From: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.Equal(t, "FAC-1001", window[0].InvoiceNumber)
	})

	t.Run("Reports", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		a := f.addProduct(t, "Cuaderno", "1000", 50)
		b := f.addProduct(t, "Lápiz", "500", 8)

		_, err := f.processor.PlaceOrder(ctx, order.PlaceOrderRequest{
			Items: []order.CartItem{
				{ProductID: a, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)},
				{ProductID: b, Quantity: 3, UnitPrice: decimal.NewFromInt(500)},
			},
			Total: decimal.NewFromInt(2500),
		})
		require.NoError(t, err)

		svc := report.NewService(f.reports, f.sales, report.Config{Location: time.UTC})
		d, err := svc.Dashboard(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, d.Totals.Count)
		assert.True(t, decimal.NewFromInt(2500).Equal(d.Totals.Revenue))
		require.Len(t, d.TopProducts, 2)
		assert.Equal(t, b, d.TopProducts[0].ProductID)
		require.Len(t, d.LowStock, 1)
		assert.Equal(t, "Lápiz", d.LowStock[0].Name)
		assert.Equal(t, 2, d.ProductCount)
	})

	t.Run("OutboxSkipLocked", func(t *testing.T) {
		f := newFixture(t, pool)
		ctx := context.Background()
		id := f.addProduct(t, "Cuaderno", "1000", 5)
		for range 2 {
			_, err := f.processor.PlaceOrder(ctx, sell(id, 1, "1000", "1000"))
			require.NoError(t, err)
		}

		// A relay holding one claimed row keeps it from a second relay.
		err := f.tx.RunInTx(ctx, func(ctx context.Context) error {
			claimed, err := f.outbox.Pending(ctx, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)

			other, err := f.outbox.Pending(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, other, 1)
			assert.NotEqual(t, claimed[0].ID, other[0].ID)

			return f.outbox.MarkPublished(ctx, []uuid.UUID{claimed[0].ID})
		})
		require.NoError(t, err)

		pending, err := f.outbox.Pending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}
