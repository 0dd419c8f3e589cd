package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-backend/internal/domain/order"
)

// PlaceOrder runs a checkout for the submitted cart. An item's "unit_price"
// and "name" are optional: when omitted, or when unit_price is 0, the sale
// line records the catalog price and name.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var (
		req      order.PlaceOrderRequest
		hasTotal bool
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			if d.Next() != jx.Array {
				return &fieldError{Field: key, Reason: "must be an array"}
			}
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeCartItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "total":
			v, err := decodeDecimal(d, key)
			if err != nil {
				return err
			}
			req.Total, hasTotal = v, true
		case "payment_method":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := decodeString(d, key)
			if err != nil {
				return err
			}
			req.PaymentMethod = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !hasTotal {
		writeError(w, r, &fieldError{Field: "total", Reason: "required"})
		return
	}

	o, err := h.checkout.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListSales returns every sale, newest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.sales.List(r.Context(), order.ListFilter{})
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list sales"))
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range sales {
			encodeOrder(e, &sales[i])
		}
		e.ArrEnd()
	})
}

// GetSale returns one sale with its lines.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.sales.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func decodeCartItem(d *jx.Decoder) (order.CartItem, error) {
	var item order.CartItem
	if d.Next() != jx.Object {
		return item, &fieldError{Field: "items", Reason: "must contain objects"}
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			item.ProductID, err = decodeInt64(d, key)
		case "name":
			item.Name, err = decodeString(d, key)
		case "quantity":
			item.Quantity, err = decodeInt(d, key)
		case "unit_price":
			item.UnitPrice, err = decodeDecimal(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("invoice_number")
	e.Str(o.InvoiceNumber)
	e.FieldStart("created_at")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("subtotal")
	encodeMoney(e, o.Subtotal)
	e.FieldStart("tax")
	encodeMoney(e, o.Tax)
	e.FieldStart("total")
	encodeMoney(e, o.Total)
	e.FieldStart("payment_method")
	e.Str(o.PaymentMethod)
	e.FieldStart("item_count")
	e.Int(o.ItemCount())
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
		encodeMoney(e, l.UnitPrice)
		e.FieldStart("line_total")
		encodeMoney(e, l.LineTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
