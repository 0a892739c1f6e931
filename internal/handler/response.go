package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/checkout"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
	"github.com/xenking/oolio-storefront/internal/domain/storefront"
)

// writeView writes the session view. A non-empty msg adds the error envelope
// under "error" so clients can render the state next to the failure.
func writeView(w http.ResponseWriter, status int, v storefront.View, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	encodeViewFields(e, v)
	if msg != "" {
		e.FieldStart("error")
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	}
	e.ObjEnd()

	writeJSON(w, status, e.Bytes())
}

func encodeViewFields(e *jx.Encoder, v storefront.View) {
	e.FieldStart("cart")
	cart.EncodeState(e, v.Cart)
	e.FieldStart("coupon")
	encodeCoupon(e, v.Coupon)
	e.FieldStart("discount")
	cart.EncodeDecimal(e, v.Discount)
	e.FieldStart("total")
	cart.EncodeDecimal(e, v.Total)
	e.FieldStart("processing")
	e.Bool(v.Processing)
}

func encodeCoupon(e *jx.Encoder, s coupon.Session) {
	e.ObjStart()
	e.FieldStart("input")
	e.Str(s.Input)
	e.FieldStart("code")
	e.Str(s.Code)
	e.FieldStart("status")
	e.Str(s.Status.String())
	e.FieldStart("discountRate")
	cart.EncodeDecimal(e, s.Discount)
	e.FieldStart("attempts")
	e.Int(s.Attempts)
	if s.Message != "" {
		e.FieldStart("message")
		e.Str(s.Message)
	}
	if s.Warning != "" {
		e.FieldStart("warning")
		e.Str(s.Warning)
	}
	if !s.BlockedUntil.IsZero() {
		e.FieldStart("blockedUntil")
		e.Str(s.BlockedUntil.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()
}

// writeCheckout writes a placed order together with the post-checkout view.
func writeCheckout(w http.ResponseWriter, res *checkout.Result, v storefront.View) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("order")
	checkout.EncodeOrder(e, res.Order)
	e.FieldStart("payment")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(res.Payment.PaymentID)
	e.FieldStart("status")
	e.Str(res.Payment.Status)
	e.FieldStart("outcome")
	e.Str(res.Payment.Outcome.String())
	e.ObjEnd()
	encodeViewFields(e, v)
	e.ObjEnd()

	writeJSON(w, http.StatusCreated, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
