package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-backend/internal/domain/inventory"
)

// State is how far a checkout got.
type State string

const (
	StateReceived         State = "received"
	StateValidated        State = "validated"
	StateStockReserved    State = "stock_reserved"
	StateInvoiceAllocated State = "invoice_allocated"
	StatePersisted        State = "persisted"
	StateCommitted        State = "committed"
	StateAborted          State = "aborted"
)

// PlaceOrderRequest is a checkout as submitted by the till.
type PlaceOrderRequest struct {
	Items         []CartItem
	Total         decimal.Decimal
	PaymentMethod string
}

// StockReserver decrements stock for a cart, all or nothing.
type StockReserver interface {
	ReserveForOrder(ctx context.Context, items []inventory.Item) ([]inventory.Reservation, error)
}

// InvoiceAllocator hands out the next invoice number on the caller's
// transaction.
type InvoiceAllocator interface {
	Next(ctx context.Context) (string, error)
}

// Config tunes checkout.
type Config struct {
	VATRate              decimal.Decimal
	DefaultPaymentMethod string
	// Timeout bounds the whole transaction. Zero means no extra bound.
	Timeout time.Duration
	// VerifyTotal rejects checkouts whose declared total differs from the sum
	// of line totals.
	VerifyTotal bool
}

// Option configures a Processor.
type Option func(*Processor)

// WithOutbox records a sale event for every committed order.
func WithOutbox(o Outbox) Option {
	return func(p *Processor) { p.outbox = o }
}

// WithMeterProvider sets the meter provider for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Processor) { p.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Processor) { p.tracerProvider = tp }
}

// WithClock overrides the time source used for sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor runs checkouts. Stock reservation, invoice allocation, the sale
// record and its outbox event are written in one unit of work: either all of
// them become visible or none do.
type Processor struct {
	uow      UnitOfWork
	stock    StockReserver
	invoices InvoiceAllocator
	orders   Repository
	outbox   Outbox
	cfg      Config
	now      func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	results        metric.Int64Counter
	duration       metric.Float64Histogram
}

// NewProcessor creates a Processor.
func NewProcessor(
	uow UnitOfWork,
	stock StockReserver,
	invoices InvoiceAllocator,
	orders Repository,
	cfg Config,
	opts ...Option,
) (*Processor, error) {
	if cfg.VATRate.IsZero() {
		cfg.VATRate = DefaultVATRate
	}
	if cfg.DefaultPaymentMethod == "" {
		cfg.DefaultPaymentMethod = DefaultPaymentMethod
	}

	p := &Processor{
		uow:            uow,
		stock:          stock,
		invoices:       invoices,
		orders:         orders,
		cfg:            cfg,
		now:            time.Now,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(p)
	}

	const scope = "github.com/xenking/pos-backend/internal/domain/order"
	p.tracer = p.tracerProvider.Tracer(scope)
	meter := p.meterProvider.Meter(scope)

	var err error
	if p.results, err = meter.Int64Counter("pos.checkout.results",
		metric.WithDescription("Checkouts by outcome and the state they reached"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout results counter")
	}
	if p.duration, err = meter.Float64Histogram("pos.checkout.duration",
		metric.WithDescription("Checkout latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout duration histogram")
	}

	return p, nil
}

// PlaceOrder validates a cart and, in one transaction, reserves stock,
// allocates an invoice number and records the sale. Input errors are
// returned before anything is written. Any failure after that rolls the
// whole checkout back and is returned as a *PersistenceError unless it is a
// stock problem (*inventory.ProductNotFoundError,
// *inventory.InsufficientStockError), which is returned unwrapped.
//
// A line whose UnitPrice is zero or whose Name is empty is treated as not
// priced or named by the till: the catalog price and name read under the
// row lock are recorded instead. A free item therefore cannot be sold at a
// zero line price; discount it through the declared total.
func (p *Processor) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int("pos.cart.items", len(req.Items))),
	)
	defer span.End()

	state := StateReceived
	lg := zctx.From(ctx)
	defer func() {
		result := StateCommitted
		if rerr != nil {
			result = StateAborted
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			level := zap.WarnLevel
			if errors.Is(rerr, ErrPersistence) {
				level = zap.ErrorLevel
			}
			lg.Log(level, "Checkout aborted",
				zap.String("reached", string(state)),
				zap.Error(rerr),
			)
		}
		attrs := metric.WithAttributes(
			attribute.String("result", string(result)),
			attribute.String("reached", string(state)),
		)
		p.results.Add(ctx, 1, attrs)
		p.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	if err := validate(req); err != nil {
		return nil, err
	}
	state = StateValidated

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = p.cfg.DefaultPaymentMethod
	}

	txCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var o *Order
	err := p.uow.RunInTx(txCtx, func(ctx context.Context) error {
		items := make([]inventory.Item, len(req.Items))
		for i, it := range req.Items {
			items[i] = inventory.Item{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		reserved, err := p.stock.ReserveForOrder(ctx, items)
		if err != nil {
			return err
		}
		state = StateStockReserved

		lines := buildLines(req.Items, reserved)
		if p.cfg.VerifyTotal {
			computed := SumLines(lines)
			if !computed.Round(2).Equal(req.Total.Round(2)) {
				return &TotalMismatchError{Declared: req.Total, Computed: computed}
			}
		}

		number, err := p.invoices.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "allocate invoice number")
		}
		state = StateInvoiceAllocated

		subtotal, tax := ExtractVAT(req.Total, p.cfg.VATRate)
		o = &Order{
			InvoiceNumber: number,
			CreatedAt:     p.now().UTC(),
			Subtotal:      subtotal,
			Tax:           tax,
			Total:         req.Total,
			PaymentMethod: paymentMethod,
			Lines:         lines,
		}
		if err := p.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create sale")
		}
		if p.outbox != nil {
			if err := p.outbox.Append(ctx, o); err != nil {
				return errors.Wrap(err, "append sale event")
			}
		}
		state = StatePersisted
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	state = StateCommitted

	span.SetAttributes(
		attribute.String("pos.invoice_number", o.InvoiceNumber),
		attribute.Int64("pos.sale_id", o.ID),
	)
	lg.Info("Checkout committed",
		zap.Int64("sale_id", o.ID),
		zap.String("invoice_number", o.InvoiceNumber),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Int("lines", len(o.Lines)),
	)
	return o, nil
}

func validate(req PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyCart
	}
	perProduct := make(map[int64]int, len(req.Items))
	for i, it := range req.Items {
		switch {
		case it.ProductID <= 0:
			return &InvalidLineError{Index: i, Reason: "product id must be positive"}
		case it.Quantity <= 0:
			return &InvalidLineError{Index: i, Reason: "quantity must be greater than 0"}
		case it.Quantity > inventory.MaxQuantity:
			return &InvalidLineError{Index: i, Reason: fmt.Sprintf("quantity must not exceed %d", inventory.MaxQuantity)}
		case it.Quantity > inventory.MaxQuantity-perProduct[it.ProductID]:
			return &InvalidLineError{Index: i, Reason: fmt.Sprintf("combined quantity of product %d must not exceed %d",
				it.ProductID, inventory.MaxQuantity)}
		case it.UnitPrice.IsNegative():
			return &InvalidLineError{Index: i, Reason: "unit price must not be negative"}
		}
		perProduct[it.ProductID] += it.Quantity
	}
	if req.Total.IsNegative() {
		return ErrInvalidTotal
	}
	return nil
}

// buildLines keeps the cart's line order. Name and price come from the cart;
// when the till left them out the catalog values read under lock are used.
func buildLines(items []CartItem, reserved []inventory.Reservation) []Line {
	catalog := make(map[int64]inventory.Reservation, len(reserved))
	for _, r := range reserved {
		catalog[r.Product.ID] = r
	}

	lines := make([]Line, len(items))
	for i, it := range items {
		name, price := it.Name, it.UnitPrice
		if r, ok := catalog[it.ProductID]; ok {
			if name == "" {
				name = r.Product.Name
			}
			if price.IsZero() {
				price = r.Product.Price
			}
		}
		lines[i] = Line{
			ProductID:   it.ProductID,
			ProductName: name,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			LineTotal:   LineTotal(it.Quantity, price),
		}
	}
	return lines
}

// classify leaves domain failures as they are and marks everything else as a
// persistence failure.
func classify(err error) error {
	var (
		notFound     *inventory.ProductNotFoundError
		insufficient *inventory.InsufficientStockError
		outOfRange   *inventory.QuantityRangeError
		mismatch     *TotalMismatchError
	)
	switch {
	case errors.As(err, &outOfRange):
		return outOfRange
	case errors.As(err, &notFound):
		return notFound
	case errors.As(err, &insufficient):
		return insufficient
	case errors.As(err, &mismatch):
		return mismatch
	}
	return &PersistenceError{Err: err}
}
