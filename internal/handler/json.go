package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// errBadJSON marks malformed request bodies.
var errBadJSON = errors.New("malformed JSON body")

func writeJSON(w http.ResponseWriter, r *http.Request, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

// decodeBody decodes the request body as a JSON object, calling field for
// every key.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	if d.Next() != jx.Object {
		return errBadJSON
	}
	if err := d.Obj(field); err != nil {
		var fe *fieldError
		if errors.As(err, &fe) {
			return fe
		}
		return errors.Wrap(errBadJSON, err.Error())
	}
	return nil
}

// fieldError is a well-formed body with an unusable value.
type fieldError struct {
	Field  string
	Reason string
}

func (e *fieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, &fieldError{Field: field, Reason: "must be a number"}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &fieldError{Field: field, Reason: "must be a number"}
	}
	return v, nil
}

func decodeInt(d *jx.Decoder, field string) (int, error) {
	if d.Next() != jx.Number {
		return 0, &fieldError{Field: field, Reason: "must be an integer"}
	}
	v, err := d.Int()
	if err != nil {
		return 0, &fieldError{Field: field, Reason: "must be an integer"}
	}
	return v, nil
}

func decodeInt64(d *jx.Decoder, field string) (int64, error) {
	if d.Next() != jx.Number {
		return 0, &fieldError{Field: field, Reason: "must be an integer"}
	}
	v, err := d.Int64()
	if err != nil {
		return 0, &fieldError{Field: field, Reason: "must be an integer"}
	}
	return v, nil
}

func decodeString(d *jx.Decoder, field string) (string, error) {
	if d.Next() != jx.String {
		return "", &fieldError{Field: field, Reason: "must be a string"}
	}
	return d.Str()
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.Format(time.RFC3339))
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &fieldError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}
