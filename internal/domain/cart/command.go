package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/domain/product"
)

// Command is a cart action. The set of commands is closed.
type Command interface {
	command()
}

// AddItem adds one unit of a product variant.
type AddItem struct {
	Product product.Product
	Brand   string
	Model   string
}

// RemoveItem deletes the row for a variant.
type RemoveItem struct {
	Key VariantKey
}

// UpdateQuantity sets the quantity of a variant's row.
type UpdateQuantity struct {
	Key      VariantKey
	Quantity int
}

// ClearCart empties the cart.
type ClearCart struct{}

// LoadSnapshot replaces the cart contents with previously persisted items.
type LoadSnapshot struct {
	Items []Item
}

func (AddItem) command()        {}
func (RemoveItem) command()     {}
func (UpdateQuantity) command() {}
func (ClearCart) command()      {}
func (LoadSnapshot) command()   {}

// Reduce applies cmd to state and returns the resulting State. It never
// mutates state. On error the returned State is state itself.
func Reduce(state State, cmd Command, taxRate decimal.Decimal) (State, error) {
	switch c := cmd.(type) {
	case AddItem:
		return Recalculate(addItem(state.Items, c), taxRate), nil
	case RemoveItem:
		return Recalculate(removeItem(state.Items, c.Key), taxRate), nil
	case UpdateQuantity:
		if c.Quantity < 1 {
			return state, ErrQuantityBelowOne
		}
		return Recalculate(updateQuantity(state.Items, c.Key, c.Quantity), taxRate), nil
	case ClearCart:
		return Recalculate(nil, taxRate), nil
	case LoadSnapshot:
		return Recalculate(normalize(c.Items), taxRate), nil
	default:
		return state, errors.Errorf("unsupported cart command %T", cmd)
	}
}

func addItem(items []Item, c AddItem) []Item {
	key := VariantKey{ID: c.Product.ID, Brand: c.Brand, Model: c.Model}
	out := cloneItems(items)
	for i := range out {
		if out[i].Key() == key {
			out[i].Quantity++
			return out
		}
	}
	return append(out, Item{
		ID:            c.Product.ID,
		Name:          c.Product.Name,
		Price:         c.Product.Price,
		Images:        c.Product.Images,
		SelectedBrand: c.Brand,
		SelectedModel: c.Model,
		Quantity:      1,
	})
}

func removeItem(items []Item, key VariantKey) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Key() != key {
			out = append(out, item)
		}
	}
	return out
}

func updateQuantity(items []Item, key VariantKey, qty int) []Item {
	out := cloneItems(items)
	for i := range out {
		if out[i].Key() == key {
			out[i].Quantity = max(qty, 1)
		}
	}
	return out
}

// normalize clamps quantities and merges duplicate variant rows, keeping
// the position of the first occurrence.
func normalize(items []Item) []Item {
	out := make([]Item, 0, len(items))
	index := make(map[VariantKey]int, len(items))
	for _, item := range items {
		item.Quantity = max(item.Quantity, 1)
		if i, ok := index[item.Key()]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.Key()] = len(out)
		out = append(out, item)
	}
	return out
}
