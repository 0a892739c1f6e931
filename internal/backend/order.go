package backend

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
)

// CreateOrder records a paid order.
func (c *Client) CreateOrder(ctx context.Context, o *checkout.Order) error {
	const op = "create order"

	data, status, err := c.do(ctx, op, http.MethodPost, "/orders", nil, encodeOrder(o))
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return statusError(op, status, data)
	}
	return nil
}

func encodeOrder(o *checkout.Order) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	checkout.EncodeOrder(e, o)
	return append([]byte(nil), e.Bytes()...)
}
