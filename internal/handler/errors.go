package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-backend/internal/domain/inventory"
	"github.com/xenking/pos-backend/internal/domain/order"
	"github.com/xenking/pos-backend/internal/domain/product"
	"github.com/xenking/pos-backend/internal/domain/report"
)

// writeError maps domain errors to HTTP responses. Anything unrecognised is
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErr     *fieldError
		validErr     *product.ValidationError
		lineErr      *order.InvalidLineError
		rangeErr     *inventory.QuantityRangeError
		mismatchErr  *order.TotalMismatchError
		notFoundErr  *inventory.ProductNotFoundError
		insufficient *inventory.InsufficientStockError
	)

	switch {
	case errors.Is(err, errBadJSON),
		errors.As(err, &fieldErr),
		errors.As(err, &validErr),
		errors.Is(err, order.ErrEmptyCart),
		errors.As(err, &lineErr),
		errors.As(err, &rangeErr),
		errors.Is(err, order.ErrInvalidTotal),
		errors.As(err, &mismatchErr),
		errors.Is(err, report.ErrInvalidRange):
		writeErrorBody(w, r, http.StatusBadRequest, err.Error(), nil)

	case errors.As(err, &notFoundErr):
		writeErrorBody(w, r, http.StatusNotFound, err.Error(), func(e *jx.Encoder) {
			e.FieldStart("product_id")
			e.Int64(notFoundErr.ProductID)
		})

	case errors.Is(err, product.ErrNotFound), errors.Is(err, order.ErrNotFound):
		writeErrorBody(w, r, http.StatusNotFound, err.Error(), nil)

	case errors.As(err, &insufficient):
		writeErrorBody(w, r, http.StatusConflict, err.Error(), func(e *jx.Encoder) {
			e.FieldStart("product_id")
			e.Int64(insufficient.ProductID)
			e.FieldStart("product_name")
			e.Str(insufficient.ProductName)
			e.FieldStart("available")
			e.Int(insufficient.Available)
			e.FieldStart("requested")
			e.Int(insufficient.Requested)
		})

	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorBody(w, r, http.StatusInternalServerError, "internal server error", nil)
	}
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, msg string, extra func(e *jx.Encoder)) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		if extra != nil {
			extra(e)
		}
		e.ObjEnd()
	})
}
