// Package cart holds the shopping cart state model: line items keyed by
// product variant, derived totals, and a write-through Store.
package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrQuantityBelowOne is returned when a quantity update asks for less
	// than one unit. The cart is left unchanged; callers should remove the
	// item instead.
	ErrQuantityBelowOne = errors.New("quantity must be at least 1, use remove instead of zero")
	// ErrCorruptSnapshot is returned when a persisted snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt cart snapshot")
)

// VariantKey identifies a distinct cart row. The same product bought for two
// different brand/model selections produces two rows.
type VariantKey struct {
	ID    string
	Brand string
	Model string
}

// Item is a single cart line.
type Item struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	Images        []string
	SelectedBrand string
	SelectedModel string
	Quantity      int
}

// Key returns the item's variant key.
func (i Item) Key() VariantKey {
	return VariantKey{ID: i.ID, Brand: i.SelectedBrand, Model: i.SelectedModel}
}

// LineTotal returns price * quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// State is an immutable snapshot of the cart. Every mutation produces a new
// State; Items is never shared between two States.
type State struct {
	Items     []Item
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	ItemCount int
}

// Empty returns the empty cart.
func Empty() State {
	return State{
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
	}
}

// IsEmpty reports whether the cart has no items.
func (s State) IsEmpty() bool {
	return len(s.Items) == 0
}

// Find returns the index of the item with the given key, or -1.
func (s State) Find(key VariantKey) int {
	for i, item := range s.Items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

// Recalculate builds a State from items, deriving every total.
//
//	subtotal  = sum(price * quantity)
//	tax       = subtotal * taxRate, rounded to cents
//	total     = subtotal + tax
//	itemCount = sum(quantity)
func Recalculate(items []Item, taxRate decimal.Decimal) State {
	subtotal := decimal.Zero
	count := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
		count += item.Quantity
	}
	tax := subtotal.Mul(taxRate).Round(2)

	return State{
		Items:     items,
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
		ItemCount: count,
	}
}

func cloneItems(items []Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
