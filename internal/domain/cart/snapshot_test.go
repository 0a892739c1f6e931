package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	state := Recalculate([]Item{
		{
			ID:            "p1",
			Name:          "Carbon skin",
			Price:         d("19.90"),
			Images:        []string{"a.jpg", "b.jpg"},
			SelectedBrand: "Apple",
			SelectedModel: "iPhone 15",
			Quantity:      2,
		},
		{ID: "p2", Name: "Cable", Price: d("5"), Quantity: 1},
	}, d("0"))

	items, err := DecodeSnapshot(EncodeSnapshot(state))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "p1", items[0].ID)
	assert.Equal(t, "Carbon skin", items[0].Name)
	assert.True(t, d("19.90").Equal(items[0].Price))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, items[0].Images)
	assert.Equal(t, "Apple", items[0].SelectedBrand)
	assert.Equal(t, "iPhone 15", items[0].SelectedModel)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Empty(t, items[1].Images)
}

func TestDecodeSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantItems int
		wantErr   bool
	}{
		{
			name:      "legacy _id and string price",
			input:     `{"items":[{"_id":"p1","name":"x","price":"12.50","images":null,"selectedBrand":null,"quantity":1}],"subtotal":12.5}`,
			wantItems: 1,
		},
		{
			name:      "empty items",
			input:     `{"items":[],"subtotal":0,"tax":0,"total":0,"itemCount":0}`,
			wantItems: 0,
		},
		{name: "not json", input: `{"items":[`, wantErr: true},
		{name: "items is an object", input: `{"items":{"0":{"id":"p1"}}}`, wantErr: true},
		{name: "items missing", input: `{"subtotal":3}`, wantErr: true},
		{name: "top level array", input: `[]`, wantErr: true},
		{name: "item without id", input: `{"items":[{"price":1,"quantity":1}]}`, wantErr: true},
		{name: "bad price", input: `{"items":[{"id":"p1","price":"abc","quantity":1}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := DecodeSnapshot([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrCorruptSnapshot)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.wantItems)
		})
	}
}
