package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestProduct(id string, price string) product.Product {
	return product.Product{
		ID:     id,
		Name:   "Skin " + id,
		Price:  d(price),
		Images: []string{"https://cdn.example.com/" + id + ".jpg"},
	}
}

func mustReduce(t *testing.T, s State, cmds ...Command) State {
	t.Helper()
	for _, c := range cmds {
		var err error
		s, err = Reduce(s, c, decimal.Zero)
		require.NoError(t, err)
	}
	return s
}

func assertTotalsConsistent(t *testing.T, s State) {
	t.Helper()
	sum := decimal.Zero
	count := 0
	for _, item := range s.Items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		count += item.Quantity
	}
	assert.True(t, sum.Equal(s.Subtotal), "subtotal %s, want %s", s.Subtotal, sum)
	assert.Equal(t, count, s.ItemCount)
	assert.True(t, s.Subtotal.Add(s.Tax).Equal(s.Total))
}

func TestReduce_AddItemMergesVariant(t *testing.T) {
	p1 := newTestProduct("p1", "10.00")
	add := AddItem{Product: p1, Brand: "Apple", Model: "15"}

	s := mustReduce(t, Empty(), add, add, add)

	require.Len(t, s.Items, 1)
	assert.Equal(t, 3, s.Items[0].Quantity)
	assert.True(t, d("30").Equal(s.Subtotal))
	assertTotalsConsistent(t, s)
}

func TestReduce_AddItemDistinctVariants(t *testing.T) {
	p1 := newTestProduct("p1", "10.00")
	p2 := newTestProduct("p2", "4.50")

	s := mustReduce(t, Empty(),
		AddItem{Product: p1, Brand: "Apple", Model: "15"},
		AddItem{Product: p1, Brand: "Apple", Model: "14"},
		AddItem{Product: p2, Brand: "Samsung", Model: "S24"},
		AddItem{Product: p1, Brand: "Apple", Model: "15"},
	)

	require.Len(t, s.Items, 3)
	assert.Equal(t, "15", s.Items[0].SelectedModel, "insertion order is display order")
	assert.Equal(t, 2, s.Items[0].Quantity)
	assert.Equal(t, "14", s.Items[1].SelectedModel)
	assert.Equal(t, "p2", s.Items[2].ID)
	assert.Equal(t, 4, s.ItemCount)
	assert.True(t, d("34.50").Equal(s.Subtotal))
	assertTotalsConsistent(t, s)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	p1 := newTestProduct("p1", "10.00")
	before := mustReduce(t, Empty(), AddItem{Product: p1, Brand: "Apple", Model: "15"})

	after := mustReduce(t, before,
		AddItem{Product: p1, Brand: "Apple", Model: "15"},
		UpdateQuantity{Key: VariantKey{ID: "p1", Brand: "Apple", Model: "15"}, Quantity: 7},
	)

	assert.Equal(t, 1, before.Items[0].Quantity)
	assert.Equal(t, 7, after.Items[0].Quantity)
}

func TestReduce_RemoveItem(t *testing.T) {
	p1 := newTestProduct("p1", "10.00")
	p2 := newTestProduct("p2", "5.00")
	s := mustReduce(t, Empty(),
		AddItem{Product: p1, Brand: "Apple", Model: "15"},
		AddItem{Product: p2, Brand: "Apple", Model: "15"},
	)

	t.Run("present", func(t *testing.T) {
		got := mustReduce(t, s, RemoveItem{Key: VariantKey{ID: "p1", Brand: "Apple", Model: "15"}})
		require.Len(t, got.Items, 1)
		assert.Equal(t, "p2", got.Items[0].ID)
		assertTotalsConsistent(t, got)
	})

	t.Run("absent is a no-op", func(t *testing.T) {
		got := mustReduce(t, s, RemoveItem{Key: VariantKey{ID: "p1", Brand: "Apple", Model: "14"}})
		assert.Len(t, got.Items, 2)
		assert.True(t, s.Subtotal.Equal(got.Subtotal))
	})
}

func TestReduce_UpdateQuantity(t *testing.T) {
	p1 := newTestProduct("p1", "2.50")
	key := VariantKey{ID: "p1", Brand: "Apple", Model: "15"}
	s := mustReduce(t, Empty(), AddItem{Product: p1, Brand: "Apple", Model: "15"})

	tests := []struct {
		name    string
		qty     int
		wantQty int
		wantErr error
	}{
		{name: "increase", qty: 4, wantQty: 4},
		{name: "one", qty: 1, wantQty: 1},
		{name: "zero rejected", qty: 0, wantQty: 1, wantErr: ErrQuantityBelowOne},
		{name: "negative rejected", qty: -3, wantQty: 1, wantErr: ErrQuantityBelowOne},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reduce(s, UpdateQuantity{Key: key, Quantity: tt.qty}, decimal.Zero)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, s, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, got.Items[0].Quantity)
			assertTotalsConsistent(t, got)
		})
	}
}

func TestReduce_ClearCart(t *testing.T) {
	p1 := newTestProduct("p1", "2.50")
	s := mustReduce(t, Empty(), AddItem{Product: p1}, ClearCart{})

	assert.True(t, s.IsEmpty())
	assert.True(t, s.Subtotal.IsZero())
	assert.Equal(t, 0, s.ItemCount)
}

func TestReduce_LoadSnapshotNormalizes(t *testing.T) {
	s := mustReduce(t, Empty(), LoadSnapshot{Items: []Item{
		{ID: "p1", Price: d("1"), SelectedBrand: "A", SelectedModel: "1", Quantity: 0},
		{ID: "p2", Price: d("2"), Quantity: 2},
		{ID: "p1", Price: d("1"), SelectedBrand: "A", SelectedModel: "1", Quantity: 3},
	}})

	require.Len(t, s.Items, 2)
	assert.Equal(t, 4, s.Items[0].Quantity)
	assert.Equal(t, 6, s.ItemCount)
	assertTotalsConsistent(t, s)
}

func TestRecalculate_Tax(t *testing.T) {
	items := []Item{
		{ID: "p1", Price: d("9.99"), Quantity: 3},
	}

	s := Recalculate(items, d("0.08"))

	// 29.97 * 0.08 = 2.3976 -> 2.40
	assert.True(t, d("29.97").Equal(s.Subtotal))
	assert.True(t, d("2.40").Equal(s.Tax))
	assert.True(t, d("32.37").Equal(s.Total))
}
