package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/product"
)

const maxBodySize = 64 << 10

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// requestError is a malformed or invalid request body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

type productBody struct {
	ID     string          `json:"id" validate:"required,max=128"`
	Name   string          `json:"name" validate:"required,max=256"`
	Price  decimal.Decimal `json:"price" validate:"gte=0"`
	Images []string        `json:"images" validate:"max=20,dive,max=2048"`
}

func (p *productBody) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = cart.DecodeDecimal(d)
		case "images":
			p.Images = p.Images[:0]
			err = d.Arr(func(d *jx.Decoder) error {
				img, err := d.Str()
				if err != nil {
					return err
				}
				p.Images = append(p.Images, img)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

func (p *productBody) Product() product.Product {
	return product.Product{ID: p.ID, Name: p.Name, Price: p.Price, Images: p.Images}
}

// addItemRequest is the body of POST /api/cart/items.
type addItemRequest struct {
	Product       productBody `json:"product"`
	SelectedBrand string      `json:"selectedBrand" validate:"max=128"`
	SelectedModel string      `json:"selectedModel" validate:"max=128"`
}

func (req *addItemRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product":
			err = req.Product.Decode(d)
		case "selectedBrand":
			req.SelectedBrand, err = d.Str()
		case "selectedModel":
			req.SelectedModel, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// variantRequest identifies a cart row; it is the body of
// PATCH /api/cart/items and the query of DELETE /api/cart/items.
type variantRequest struct {
	ID            string `json:"id" validate:"required,max=128"`
	SelectedBrand string `json:"selectedBrand" validate:"max=128"`
	SelectedModel string `json:"selectedModel" validate:"max=128"`
	Quantity      int    `json:"quantity" validate:"lte=9999"`
}

func (req *variantRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			req.ID, err = d.Str()
		case "selectedBrand":
			req.SelectedBrand, err = d.Str()
		case "selectedModel":
			req.SelectedModel, err = d.Str()
		case "quantity":
			req.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

func (req *variantRequest) Key() cart.VariantKey {
	return cart.VariantKey{ID: req.ID, Brand: req.SelectedBrand, Model: req.SelectedModel}
}

// couponRequest is the body of POST /api/cart/coupon. An empty code is left to
// the applier, which reports it without counting an attempt.
type couponRequest struct {
	Code string `json:"code" validate:"max=64"`
}

func (req *couponRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.Code, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// checkoutRequest is the body of POST /api/checkout.
type checkoutRequest struct {
	SourceID string `json:"sourceId" validate:"required,max=512"`
}

func (req *checkoutRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "sourceId":
			req.SourceID, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

type decodable interface {
	Decode(d *jx.Decoder) error
}

// decodeBody reads and validates a JSON request body into dst.
func (h *Handler) decodeBody(r *http.Request, dst decodable) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) > maxBodySize {
		return &requestError{msg: errBodyTooLarge.Error()}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &requestError{msg: errEmptyBody.Error()}
	}
	if err := dst.Decode(jx.DecodeBytes(data)); err != nil {
		return &requestError{msg: "invalid request body: " + err.Error()}
	}
	return h.validateStruct(dst)
}

func (h *Handler) validateStruct(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &requestError{msg: "validation failed: " + err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldPath(fe)+" "+validationMessage(fe))
	}
	sort.Strings(fields)
	return &requestError{msg: "validation failed: " + strings.Join(fields, "; ")}
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "uuid":
		return "must be a UUID"
	}
	return "is invalid"
}
