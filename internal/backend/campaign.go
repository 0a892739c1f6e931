package backend

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
)

// SearchCampaign looks a campaign up by code.
//
// 404 maps to coupon.ErrCampaignNotFound and 429 to coupon.ErrTooManyRequests.
func (c *Client) SearchCampaign(ctx context.Context, code string) (*coupon.Campaign, error) {
	const op = "search campaign"

	data, status, err := c.do(ctx, op, http.MethodGet, "/campaigns/search", url.Values{"code": {code}}, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, coupon.ErrCampaignNotFound
	case status == http.StatusTooManyRequests:
		return nil, coupon.ErrTooManyRequests
	case status < 200 || status > 299:
		return nil, statusError(op, status, data)
	}

	camp, err := decodeCampaign(data)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	if camp == nil {
		return nil, coupon.ErrCampaignNotFound
	}
	if camp.Code == "" {
		camp.Code = code
	}
	return camp, nil
}

// decodeCampaign reads a campaign object, or the first element of an array of
// them. An empty body, null, an empty object or an empty array means no match.
func decodeCampaign(data []byte) (*coupon.Campaign, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	d := jx.DecodeBytes(data)
	switch d.Next() {
	case jx.Null:
		return nil, nil
	case jx.Array:
		var first *coupon.Campaign
		if err := d.Arr(func(d *jx.Decoder) error {
			if first != nil {
				return d.Skip()
			}
			c, err := decodeCampaignObject(d)
			first = c
			return err
		}); err != nil {
			return nil, errors.Wrap(err, "decode campaigns")
		}
		return first, nil
	default:
		c, err := decodeCampaignObject(d)
		if err != nil {
			return nil, errors.Wrap(err, "decode campaign")
		}
		return c, nil
	}
}

func decodeCampaignObject(d *jx.Decoder) (*coupon.Campaign, error) {
	var (
		camp  coupon.Campaign
		found bool
	)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		found = true
		switch key {
		case "id", "_id":
			v, err := d.Str()
			camp.ID = v
			return err
		case "code":
			v, err := d.Str()
			camp.Code = v
			return err
		case "discount":
			v, err := cart.DecodeDecimal(d)
			camp.Discount = v
			return err
		case "active":
			v, err := d.Bool()
			camp.Active = v
			return err
		case "startDate":
			v, err := decodeTime(d, false)
			camp.StartDate = v
			return err
		case "endDate":
			v, err := decodeTime(d, true)
			camp.EndDate = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &camp, nil
}

// decodeTime accepts RFC 3339 timestamps and plain dates. A plain date is
// read in UTC and, for an end date, covers the whole day.
func decodeTime(d *jx.Decoder, endOfDay bool) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse time %q", s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}
