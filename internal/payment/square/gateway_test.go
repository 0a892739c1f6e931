package square

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-faster/errors"
	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
)

type mockPayments struct {
	resp    *sq.CreatePaymentResponse
	err     error
	lastReq *sq.CreatePaymentRequest
}

func (m *mockPayments) Create(_ context.Context, req *sq.CreatePaymentRequest, _ ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error) {
	m.lastReq = req
	return m.resp, m.err
}

func paymentResponse(id, status string) *sq.CreatePaymentResponse {
	return &sq.CreatePaymentResponse{Payment: &sq.Payment{ID: &id, Status: &status}}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "bad env", cfg: Config{Environment: "staging", AccessToken: "t", LocationID: "L"}, wantErr: errInvalidEnv},
		{name: "no token", cfg: Config{LocationID: "L"}, wantErr: errAccessTokenRequired},
		{name: "no location", cfg: Config{AccessToken: "t"}, wantErr: errLocationRequired},
		{name: "ok", cfg: Config{Environment: "Production", AccessToken: "t", LocationID: "L"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "L", g.locationID)
		})
	}
}

func TestGateway_Pay(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		wantOutcome checkout.Outcome
	}{
		{name: "completed", status: "COMPLETED", wantOutcome: checkout.OutcomeSucceeded},
		{name: "approved", status: "APPROVED", wantOutcome: checkout.OutcomeSucceeded},
		{name: "canceled", status: "CANCELED", wantOutcome: checkout.OutcomeCancelled},
		{name: "failed", status: "FAILED", wantOutcome: checkout.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockPayments{resp: paymentResponse("pay_1", tt.status)}
			g := newGateway(m, "LOC", nil)

			res, err := g.Pay(context.Background(), checkout.PaymentRequest{
				IdempotencyKey: "order-1",
				SourceID:       "cnon:card-nonce-ok",
				Amount:         1890,
				Currency:       "aud",
				ReferenceID:    "order-1",
				Note:           "2 items",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, "pay_1", res.PaymentID)
			assert.Equal(t, tt.status, res.Status)

			req := m.lastReq
			require.NotNil(t, req)
			assert.Equal(t, "order-1", req.IdempotencyKey)
			assert.Equal(t, "cnon:card-nonce-ok", req.SourceID)
			assert.Equal(t, "LOC", *req.LocationID)
			assert.Equal(t, int64(1890), *req.AmountMoney.Amount)
			assert.Equal(t, sq.Currency("AUD"), *req.AmountMoney.Currency)
			assert.Equal(t, "2 items", *req.Note)
		})
	}
}

func TestGateway_PayErrors(t *testing.T) {
	t.Run("card declined", func(t *testing.T) {
		payload := `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED","detail":"declined"}]}`
		m := &mockPayments{err: sqcore.NewAPIError(http.StatusPaymentRequired, errors.New(payload))}
		g := newGateway(m, "LOC", nil)

		res, err := g.Pay(context.Background(), checkout.PaymentRequest{IdempotencyKey: "k", Amount: 100})
		require.NoError(t, err)
		assert.Equal(t, checkout.OutcomeFailed, res.Outcome)
		assert.Equal(t, "CARD_DECLINED", res.Status)
	})

	t.Run("authentication error", func(t *testing.T) {
		payload := `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`
		m := &mockPayments{err: sqcore.NewAPIError(http.StatusUnauthorized, errors.New(payload))}
		g := newGateway(m, "LOC", nil)

		_, err := g.Pay(context.Background(), checkout.PaymentRequest{IdempotencyKey: "k", Amount: 100})
		var apiErr *sqcore.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	})

	t.Run("transport error", func(t *testing.T) {
		m := &mockPayments{err: errors.New("dial tcp: refused")}
		g := newGateway(m, "LOC", nil)

		_, err := g.Pay(context.Background(), checkout.PaymentRequest{IdempotencyKey: "k", Amount: 100})
		assert.ErrorContains(t, err, "refused")
	})

	t.Run("empty response", func(t *testing.T) {
		g := newGateway(&mockPayments{resp: &sq.CreatePaymentResponse{}}, "LOC", nil)
		_, err := g.Pay(context.Background(), checkout.PaymentRequest{IdempotencyKey: "k", Amount: 100})
		assert.Error(t, err)
	})
}
