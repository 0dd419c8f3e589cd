package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-backend/internal/domain/product"
)

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

// CreateProduct adds a product to the catalog.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var u product.Update
	if err := decodeBody(w, r, productFields(&u)); err != nil {
		writeError(w, r, err)
		return
	}

	p := u.Apply(product.Product{}).Normalize()
	if err := p.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.products.Create(r.Context(), &p); err != nil {
		writeError(w, r, errors.Wrap(err, "create product"))
		return
	}
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) { encodeProduct(e, p) })
}

// UpdateProduct applies a partial update. Fields left out keep their value.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var u product.Update
	if err := decodeBody(w, r, productFields(&u)); err != nil {
		writeError(w, r, err)
		return
	}

	current, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := u.Apply(*current).Normalize()
	if err := p.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.products.Update(r.Context(), &p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p) })
}

// DeleteProduct removes a product. Past sales keep their line snapshots.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func productFields(u *product.Update) func(d *jx.Decoder, key string) error {
	return func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			v, err := decodeString(d, key)
			if err != nil {
				return err
			}
			u.Name = &v
		case "price":
			v, err := decodeDecimal(d, key)
			if err != nil {
				return err
			}
			u.Price = &v
		case "stock":
			v, err := decodeInt(d, key)
			if err != nil {
				return err
			}
			u.Stock = &v
		case "category":
			v, err := decodeString(d, key)
			if err != nil {
				return err
			}
			u.Category = &v
		default:
			return d.Skip()
		}
		return nil
	}
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("category")
	e.Str(p.Category)
	e.ObjEnd()
}
