package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPaymentMethod is recorded when the caller does not name one.
const DefaultPaymentMethod = "Efectivo"

// Order is a committed sale. It is created once per successful checkout and
// never modified afterwards.
type Order struct {
	ID            int64
	InvoiceNumber string
	CreatedAt     time.Time
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod string
	Lines         []Line
}

// ItemCount returns the number of lines on the order.
func (o *Order) ItemCount() int {
	return len(o.Lines)
}

// Line is one product on an order. Name and unit price are snapshots taken
// at sale time and do not follow later catalog edits.
type Line struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// CartItem is a line as submitted by the till.
type CartItem struct {
	ProductID int64
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// ListFilter restricts which orders List returns. Zero times are open bounds.
type ListFilter struct {
	From time.Time
	To   time.Time
}

// Repository persists and reads orders.
type Repository interface {
	// Create writes the header and every line of o on the transaction carried
	// by ctx and sets o.ID.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	// List returns orders newest first, each with its lines.
	List(ctx context.Context, filter ListFilter) ([]Order, error)
}

// Outbox records that an order was committed, on the same transaction as
// the order itself.
type Outbox interface {
	Append(ctx context.Context, o *Order) error
}

// UnitOfWork runs fn inside one database transaction. The transaction is
// carried by the context passed to fn; it commits when fn returns nil and
// rolls back otherwise.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
