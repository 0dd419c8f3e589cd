package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
)

// Checkout places orders.
type Checkout interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
}

// Reports builds read-only reports.
type Reports interface {
	Dashboard(ctx context.Context) (*report.Dashboard, error)
	SalesReport(ctx context.Context, from, to time.Time) (*report.SalesReport, error)
}

var (
	_ Checkout = (*order.Processor)(nil)
	_ Reports  = (*report.Service)(nil)
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Location is the shop's time zone, used to read report dates.
	Location *time.Location
}

// Handler serves the POS JSON API.
type Handler struct {
	products product.Repository
	checkout Checkout
	sales    order.Repository
	reports  Reports
	location *time.Location
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	checkout Checkout,
	sales order.Repository,
	reports Reports,
) *Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		products: products,
		checkout: checkout,
		sales:    sales,
		reports:  reports,
		location: loc,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("POST /api/products", h.CreateProduct)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)
	mux.HandleFunc("PUT /api/products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /api/products/{id}", h.DeleteProduct)

	mux.HandleFunc("POST /api/sales", h.PlaceOrder)
	mux.HandleFunc("GET /api/sales", h.ListSales)
	mux.HandleFunc("GET /api/sales/{id}", h.GetSale)

	mux.HandleFunc("GET /api/dashboard", h.Dashboard)
	mux.HandleFunc("GET /api/reports/sales", h.SalesReport)
}
