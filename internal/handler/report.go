package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-backend/internal/domain/report"
)

const dateLayout = "2006-01-02"

// Dashboard returns the shop overview.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.reports.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "dashboard"))
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("total_revenue")
		encodeMoney(e, d.Totals.Revenue)
		e.FieldStart("sales_count")
		e.Int(d.Totals.Count)
		e.FieldStart("today_revenue")
		encodeMoney(e, d.Today.Revenue)
		e.FieldStart("today_sales")
		e.Int(d.Today.Count)
		e.FieldStart("average_ticket")
		encodeMoney(e, d.AverageTicket)
		e.FieldStart("product_count")
		e.Int(d.ProductCount)
		e.FieldStart("top_products")
		e.ArrStart()
		for _, tp := range d.TopProducts {
			e.ObjStart()
			e.FieldStart("product_id")
			e.Int64(tp.ProductID)
			e.FieldStart("name")
			e.Str(tp.Name)
			e.FieldStart("units_sold")
			e.Int(tp.UnitsSold)
			e.FieldStart("revenue")
			encodeMoney(e, tp.Revenue)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("low_stock")
		e.ArrStart()
		for _, p := range d.LowStock {
			encodeProduct(e, p)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// SalesReport returns sales between the from and to dates, both inclusive.
// Missing dates default to today.
func (h *Handler) SalesReport(w http.ResponseWriter, r *http.Request) {
	today := time.Now().In(h.location)
	from, err := h.queryDate(r, "from", today)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := h.queryDate(r, "to", today)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rep, err := h.reports.SalesReport(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, report.ErrInvalidRange) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, errors.Wrap(err, "sales report"))
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("from")
		e.Str(rep.From.Format(dateLayout))
		e.FieldStart("to")
		e.Str(rep.To.AddDate(0, 0, -1).Format(dateLayout))
		e.FieldStart("count")
		e.Int(rep.Count)
		e.FieldStart("total")
		encodeMoney(e, rep.Total)
		e.FieldStart("sales")
		e.ArrStart()
		for i := range rep.Sales {
			encodeOrder(e, &rep.Sales[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (h *Handler) queryDate(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, h.location)
	if err != nil {
		return time.Time{}, &fieldError{Field: name, Reason: "must be a date in YYYY-MM-DD format"}
	}
	return t, nil
}
