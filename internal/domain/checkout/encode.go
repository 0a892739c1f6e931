package checkout

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
)

// EncodeOrder writes o as the JSON order document shared by the backend
// request and the checkout response.
func EncodeOrder(e *jx.Encoder, o *Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("selectedBrand")
		e.Str(it.Brand)
		e.FieldStart("selectedModel")
		e.Str(it.Model)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		cart.EncodeDecimal(e, it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	cart.EncodeDecimal(e, o.Subtotal)
	e.FieldStart("tax")
	cart.EncodeDecimal(e, o.Tax)
	e.FieldStart("discount")
	cart.EncodeDecimal(e, o.Discount)
	e.FieldStart("total")
	cart.EncodeDecimal(e, o.Total)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("paymentId")
	e.Str(o.PaymentID)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
