package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
)

// Order is the payload recorded with the backend after a successful payment.
type Order struct {
	ID         string
	Items      []OrderItem
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
	PaymentID  string
	CreatedAt  time.Time
}

// OrderItem is a single line of an order.
type OrderItem struct {
	ProductID string
	Name      string
	Brand     string
	Model     string
	Quantity  int
	Price     decimal.Decimal
}

// OrderSubmitter records paid orders.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, order *Order) error
}

// Journal keeps a local record of captured payments until the order
// submission succeeds.
type Journal interface {
	RecordPayment(ctx context.Context, order *Order) error
	MarkSubmitted(ctx context.Context, orderID string) error
}

// BuildOrder prices the cart. The discount is taken off the subtotal and the
// total is the cart total minus the discount, floored at zero and rounded to
// two decimal places.
func BuildOrder(state cart.State, couponCode string, fraction decimal.Decimal) *Order {
	items := make([]OrderItem, len(state.Items))
	for i, it := range state.Items {
		items[i] = OrderItem{
			ProductID: it.ID,
			Name:      it.Name,
			Brand:     it.SelectedBrand,
			Model:     it.SelectedModel,
			Quantity:  it.Quantity,
			Price:     it.Price,
		}
	}

	discount := decimal.Zero
	if couponCode != "" {
		discount = coupon.DiscountAmount(state.Subtotal, fraction)
	}

	total := state.Total.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return &Order{
		ID:         uuid.New().String(),
		Items:      items,
		Subtotal:   state.Subtotal,
		Tax:        state.Tax,
		Discount:   discount,
		Total:      total.Round(2),
		CouponCode: couponCode,
	}
}

// MinorUnits converts an amount into the smallest currency unit (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
