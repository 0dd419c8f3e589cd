// Package events publishes sale events recorded in the transactional outbox.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/pos-backend/internal/domain/order"
)

// TypeSaleCompleted is emitted once per committed sale.
const TypeSaleCompleted = "sale.completed"

// Event is an outbox row.
type Event struct {
	ID        uuid.UUID
	Type      string
	SaleID    int64
	Payload   []byte
	CreatedAt time.Time
}

// Key is the partition/routing key of the event. Events of one sale share it.
func (e Event) Key() string {
	return strconv.FormatInt(e.SaleID, 10)
}

// NewSaleCompleted builds the event for a committed order. The payload
// carries the invoice number so consumers can drop redeliveries.
func NewSaleCompleted(o *order.Order) Event {
	id := uuid.New()

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(id.String())
	e.FieldStart("type")
	e.Str(TypeSaleCompleted)
	e.FieldStart("sale_id")
	e.Int64(o.ID)
	e.FieldStart("invoice_number")
	e.Str(o.InvoiceNumber)
	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("subtotal")
	e.Num(jx.Num(o.Subtotal.StringFixed(2)))
	e.FieldStart("tax")
	e.Num(jx.Num(o.Tax.StringFixed(2)))
	e.FieldStart("total")
	e.Num(jx.Num(o.Total.StringFixed(2)))
	e.FieldStart("payment_method")
	e.Str(o.PaymentMethod)
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(l.ProductID)
		e.FieldStart("product_name")
		e.Str(l.ProductName)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unit_price")
		e.Num(jx.Num(l.UnitPrice.StringFixed(2)))
		e.FieldStart("line_total")
		e.Num(jx.Num(l.LineTotal.StringFixed(2)))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	return Event{
		ID:        id,
		Type:      TypeSaleCompleted,
		SaleID:    o.ID,
		Payload:   append([]byte(nil), e.Bytes()...),
		CreatedAt: o.CreatedAt,
	}
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
