package product

import (
	"github.com/shopspring/decimal"
)

// Product is the catalog entry a shopper adds to the cart. It is supplied by
// the caller as read from the product API; the cart does not look it up.
type Product struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Images []string
}
