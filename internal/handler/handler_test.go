package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/invoice"
	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
	"github.com/xenking/pos-backend/internal/storage/sqlite"
)

type testServer struct {
	mux      *http.ServeMux
	products *sqlite.ProductStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	products := sqlite.NewProductStore(db)
	sales := sqlite.NewSaleStore(db)
	seq := invoice.NewSequencer(sqlite.NewInvoiceStore(db), invoice.Config{})
	_, err = seq.Init(ctx)
	require.NoError(t, err)

	proc, err := order.NewProcessor(db, inventory.NewLedger(products), seq, sales, order.Config{})
	require.NoError(t, err)
	reports := report.NewService(sqlite.NewReportStore(db), sales, report.Config{Location: time.UTC})

	h := NewHandler(HandlerConfig{Location: time.UTC}, products, proc, sales, reports)
	mux := http.NewServeMux()
	h.Register(mux)
	return &testServer{mux: mux, products: products}
}

func (s *testServer) do(t *testing.T, method, target, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func (s *testServer) addProduct(t *testing.T, name string, price int64, stock int) int64 {
	t.Helper()
	p := &product.Product{Name: name, Price: decimal.NewFromInt(price), Stock: stock, Category: "General"}
	require.NoError(t, s.products.Create(context.Background(), p))
	return p.ID
}

// fields decodes a flat JSON object into raw strings.
func fields(t *testing.T, body []byte) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out[key] = strings.Trim(raw.String(), `"`)
		return nil
	})
	require.NoError(t, err, string(body))
	return out
}

func TestPlaceOrder(t *testing.T) {
	s := newTestServer(t)
	id := s.addProduct(t, "Cuaderno", 1000, 5)

	code, body := s.do(t, http.MethodPost, "/api/sales",
		`{"items":[{"product_id":`+itoa(id)+`,"name":"Cuaderno","quantity":3,"unit_price":1000}],"total":3000}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	f := fields(t, body)
	assert.Equal(t, "FAC-1000", f["invoice_number"])
	assert.Equal(t, "2521.01", f["subtotal"])
	assert.Equal(t, "478.99", f["tax"])
	assert.Equal(t, "3000.00", f["total"])
	assert.Equal(t, "Efectivo", f["payment_method"])
	assert.Equal(t, "1", f["item_count"])

	p, err := s.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	code, body = s.do(t, http.MethodGet, "/api/sales/"+f["id"], "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "FAC-1000", fields(t, body)["invoice_number"])
}

func TestPlaceOrder_Errors(t *testing.T) {
	s := newTestServer(t)
	id := itoa(s.addProduct(t, "Cuaderno", 1000, 5))

	for _, tt := range []struct {
		name string
		body string
		code int
	}{
		{"MalformedJSON", `{"items":`, http.StatusBadRequest},
		{"NotAnObject", `[]`, http.StatusBadRequest},
		{"EmptyCart", `{"items":[],"total":0}`, http.StatusBadRequest},
		{"MissingTotal", `{"items":[{"product_id":` + id + `,"quantity":1,"unit_price":1000}]}`, http.StatusBadRequest},
		{"ZeroQuantity", `{"items":[{"product_id":` + id + `,"quantity":0,"unit_price":1000}],"total":0}`, http.StatusBadRequest},
		{"NegativeTotal", `{"items":[{"product_id":` + id + `,"quantity":1,"unit_price":1000}],"total":-5}`, http.StatusBadRequest},
		{"BadPrice", `{"items":[{"product_id":` + id + `,"quantity":1,"unit_price":"abc"}],"total":1}`, http.StatusBadRequest},
		{"UnknownProduct", `{"items":[{"product_id":999,"quantity":1,"unit_price":1000}],"total":1000}`, http.StatusNotFound},
		{"InsufficientStock", `{"items":[{"product_id":` + id + `,"quantity":10,"unit_price":1000}],"total":10000}`, http.StatusConflict},
	} {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, http.MethodPost, "/api/sales", tt.body)
			assert.Equal(t, tt.code, code, string(body))
			assert.Equal(t, itoa(int64(tt.code)), fields(t, body)["code"])
		})
	}

	p, err := s.products.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

func TestPlaceOrder_InsufficientStockBody(t *testing.T) {
	s := newTestServer(t)
	id := itoa(s.addProduct(t, "Cuaderno", 1000, 5))

	code, body := s.do(t, http.MethodPost, "/api/sales",
		`{"items":[{"product_id":`+id+`,"quantity":10,"unit_price":"1000"}],"total":"10000"}`)
	require.Equal(t, http.StatusConflict, code)

	f := fields(t, body)
	assert.Equal(t, "Cuaderno", f["product_name"])
	assert.Equal(t, "5", f["available"])
	assert.Equal(t, "10", f["requested"])
}

func TestProductsCRUD(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/products", `{"name":"Lápiz HB","price":800,"stock":200}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	created := fields(t, body)
	assert.Equal(t, "General", created["category"])
	assert.Equal(t, "800.00", created["price"])

	code, body = s.do(t, http.MethodPut, "/api/products/"+created["id"], `{"stock":150}`)
	require.Equal(t, http.StatusOK, code, string(body))
	updated := fields(t, body)
	assert.Equal(t, "150", updated["stock"])
	assert.Equal(t, "Lápiz HB", updated["name"])

	code, _ = s.do(t, http.MethodGet, "/api/products", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodDelete, "/api/products/"+created["id"], "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = s.do(t, http.MethodGet, "/api/products/"+created["id"], "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProductValidation(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"price":800,"stock":1}`,
		`{"name":"x","price":0,"stock":1}`,
		`{"name":"x","price":10,"stock":-1}`,
		`{"name":"x","price":10,"stock":"many"}`,
	} {
		code, resp := s.do(t, http.MethodPost, "/api/products", body)
		assert.Equal(t, http.StatusBadRequest, code, string(resp))
	}

	code, _ := s.do(t, http.MethodGet, "/api/products/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPut, "/api/products/42", `{"stock":1}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	id := itoa(s.addProduct(t, "Cuaderno", 1000, 30))

	code, body := s.do(t, http.MethodPost, "/api/sales",
		`{"items":[{"product_id":`+id+`,"quantity":11,"unit_price":1000}],"total":11000,"payment_method":"Tarjeta"}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = s.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, code)
	d := fields(t, body)
	assert.Equal(t, "1", d["sales_count"])
	assert.Equal(t, "11000.00", d["total_revenue"])
	assert.Contains(t, d["low_stock"], "Cuaderno")

	today := time.Now().UTC().Format(dateLayout)
	code, body = s.do(t, http.MethodGet, "/api/reports/sales?from="+today+"&to="+today, "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, "1", fields(t, body)["count"])

	code, _ = s.do(t, http.MethodGet, "/api/reports/sales?from=2024-05-03&to=2024-05-01", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/api/reports/sales?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

type failingCheckout struct{ err error }

func (f failingCheckout) PlaceOrder(context.Context, order.PlaceOrderRequest) (*order.Order, error) {
	return nil, f.err
}

func TestPlaceOrder_InternalError(t *testing.T) {
	h := NewHandler(HandlerConfig{}, nil, failingCheckout{
		err: &order.PersistenceError{Err: errors.New("connection refused")},
	}, nil, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/sales",
		strings.NewReader(`{"items":[{"product_id":1,"quantity":1,"unit_price":1}],"total":1}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func itoa(v int64) string {
	return decimal.NewFromInt(v).String()
}
