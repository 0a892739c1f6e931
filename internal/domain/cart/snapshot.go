package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EncodeSnapshot serializes state as
//
//	{"items":[...],"subtotal":N,"tax":N,"total":N,"itemCount":N}
func EncodeSnapshot(s State) []byte {
	var e jx.Encoder
	EncodeState(&e, s)
	return e.Bytes()
}

// EncodeState writes state as a JSON object to e.
func EncodeState(e *jx.Encoder, s State) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, item := range s.Items {
		encodeItem(e, item)
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	EncodeDecimal(e, s.Subtotal)
	e.FieldStart("tax")
	EncodeDecimal(e, s.Tax)
	e.FieldStart("total")
	EncodeDecimal(e, s.Total)
	e.FieldStart("itemCount")
	e.Int(s.ItemCount)
	e.ObjEnd()
}

func encodeItem(e *jx.Encoder, item Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(item.ID)
	e.FieldStart("name")
	e.Str(item.Name)
	e.FieldStart("price")
	EncodeDecimal(e, item.Price)
	e.FieldStart("images")
	e.ArrStart()
	for _, img := range item.Images {
		e.Str(img)
	}
	e.ArrEnd()
	e.FieldStart("selectedBrand")
	e.Str(item.SelectedBrand)
	e.FieldStart("selectedModel")
	e.Str(item.SelectedModel)
	e.FieldStart("quantity")
	e.Int(item.Quantity)
	e.ObjEnd()
}

// EncodeDecimal writes d as a JSON number.
func EncodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

// DecodeDecimal reads a JSON number or numeric string.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for decimal", d.Next())
	}
}

// DecodeSnapshot parses a persisted snapshot and returns its items. Totals in
// the payload are ignored; they are always recomputed from items. Any
// malformed input, including a missing or non-array "items" field, yields
// ErrCorruptSnapshot.
func DecodeSnapshot(data []byte) ([]Item, error) {
	var (
		items    []Item
		hasItems bool
	)
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, ErrCorruptSnapshot
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		if d.Next() != jx.Array {
			return errors.New("items is not an array")
		}
		hasItems = true
		return d.Arr(func(d *jx.Decoder) error {
			item, err := decodeItem(d)
			if err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(ErrCorruptSnapshot, err.Error())
	}
	if !hasItems {
		return nil, ErrCorruptSnapshot
	}
	return items, nil
}

func decodeItem(d *jx.Decoder) (Item, error) {
	var item Item
	if d.Next() != jx.Object {
		return item, errors.New("item is not an object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id", "_id":
			item.ID, err = d.Str()
		case "name":
			item.Name, err = d.Str()
		case "price":
			item.Price, err = DecodeDecimal(d)
		case "images":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.Arr(func(d *jx.Decoder) error {
				img, err := d.Str()
				if err != nil {
					return err
				}
				item.Images = append(item.Images, img)
				return nil
			})
		case "selectedBrand":
			item.SelectedBrand, err = decodeOptStr(d)
		case "selectedModel":
			item.SelectedModel, err = decodeOptStr(d)
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return item, err
	}
	if item.ID == "" {
		return item, errors.New("item without id")
	}
	return item, nil
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
