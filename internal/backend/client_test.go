package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/", time.Second, WithToken("secret"))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ", time.Second)
	assert.ErrorIs(t, err, errBaseURLRequired)
}

func TestClient_SearchCampaign(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *coupon.Campaign
		wantErr error
	}{
		{
			name:   "found",
			status: http.StatusOK,
			body:   `{"_id":"c1","discount":10,"active":true,"startDate":"2025-01-01T00:00:00Z","endDate":null,"extra":[1,2]}`,
			want: &coupon.Campaign{
				ID: "c1", Code: "SAVE10", Discount: decimal.NewFromInt(10), Active: true,
				StartDate: ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
			},
		},
		{
			name:   "date only",
			status: http.StatusOK,
			body:   `{"id":"c4","code":"SAVE10","discount":5,"active":true,"startDate":"2025-06-01","endDate":"2025-06-30"}`,
			want: &coupon.Campaign{
				ID: "c4", Code: "SAVE10", Discount: decimal.NewFromInt(5), Active: true,
				StartDate: ptr(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
				EndDate:   ptr(time.Date(2025, 6, 30, 23, 59, 59, 999999999, time.UTC)),
			},
		},
		{
			name:   "array takes first",
			status: http.StatusOK,
			body:   `[{"id":"c2","code":"SAVE10","discount":"12.5","active":false},{"id":"c3"}]`,
			want:   &coupon.Campaign{ID: "c2", Code: "SAVE10", Discount: decimal.RequireFromString("12.5")},
		},
		{name: "null body", status: http.StatusOK, body: `null`, wantErr: coupon.ErrCampaignNotFound},
		{name: "empty array", status: http.StatusOK, body: `[]`, wantErr: coupon.ErrCampaignNotFound},
		{name: "empty body", status: http.StatusOK, body: ``, wantErr: coupon.ErrCampaignNotFound},
		{name: "not found", status: http.StatusNotFound, body: `{"message":"no"}`, wantErr: coupon.ErrCampaignNotFound},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: coupon.ErrTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/campaigns/search", r.URL.Path)
				assert.Equal(t, "SAVE10", r.URL.Query().Get("code"))
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			got, err := c.SearchCampaign(context.Background(), "SAVE10")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Code, got.Code)
			assert.True(t, tt.want.Discount.Equal(got.Discount))
			assert.Equal(t, tt.want.Active, got.Active)
			if tt.want.StartDate != nil {
				require.NotNil(t, got.StartDate)
				assert.True(t, tt.want.StartDate.Equal(*got.StartDate))
			} else {
				assert.Nil(t, got.StartDate)
			}
			if tt.want.EndDate != nil {
				require.NotNil(t, got.EndDate)
				assert.True(t, tt.want.EndDate.Equal(*got.EndDate))
			} else {
				assert.Nil(t, got.EndDate)
			}
		})
	}
}

func TestClient_SearchCampaignErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
		})
		_, err := c.SearchCampaign(context.Background(), "X")
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.Status)
		assert.Equal(t, "boom", se.Body)
		assert.NotErrorIs(t, err, coupon.ErrCampaignNotFound)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"discount":true}`)
		})
		_, err := c.SearchCampaign(context.Background(), "X")
		assert.Error(t, err)
	})

	t.Run("bad date", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"id":"c","endDate":"tomorrow"}`)
		})
		_, err := c.SearchCampaign(context.Background(), "X")
		assert.Error(t, err)
	})
}

func TestClient_CreateOrder(t *testing.T) {
	created := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	order := &checkout.Order{
		ID: "o1",
		Items: []checkout.OrderItem{
			{ProductID: "p1", Name: "Skin", Brand: "Apple", Model: "15", Quantity: 2, Price: decimal.RequireFromString("10.50")},
		},
		Subtotal:   decimal.RequireFromString("21"),
		Tax:        decimal.Zero,
		Discount:   decimal.RequireFromString("2.1"),
		Total:      decimal.RequireFromString("18.9"),
		CouponCode: "SAVE10",
		PaymentID:  "pay_1",
		CreatedAt:  created,
	}

	var fields map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		fields = map[string]string{}
		require.NoError(t, jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
			raw, err := d.Raw()
			fields[string(key)] = raw.String()
			return err
		}))
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.CreateOrder(context.Background(), order))
	assert.Equal(t, `"o1"`, fields["id"])
	assert.Equal(t, `18.9`, fields["total"])
	assert.Equal(t, `"SAVE10"`, fields["couponCode"])
	assert.Equal(t, `"pay_1"`, fields["paymentId"])
	assert.Equal(t, `"2025-06-15T12:00:00Z"`, fields["createdAt"])
	assert.JSONEq(t,
		`[{"productId":"p1","name":"Skin","selectedBrand":"Apple","selectedModel":"15","quantity":2,"price":10.5}]`,
		fields["items"],
	)
}

func TestClient_CreateOrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	err := c.CreateOrder(context.Background(), &checkout.Order{ID: "o1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func ptr[T any](v T) *T { return &v }
