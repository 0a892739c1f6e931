// Package square charges checkouts through the Square Payments API.
package square

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
)

const (
	SandboxEnv    = "sandbox"
	ProductionEnv = "production"
)

// paymentMethodError is the Square error category of card declines.
const paymentMethodError = "PAYMENT_METHOD_ERROR"

var baseURLs = map[string]string{
	SandboxEnv:    "https://connect.squareupsandbox.com",
	ProductionEnv: "https://connect.squareup.com",
}

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errInvalidEnv          = errors.Errorf("square environment must be %q or %q", SandboxEnv, ProductionEnv)
)

// Config holds Square credentials.
type Config struct {
	Environment string `yaml:"environment" default:"sandbox" validate:"omitempty,oneof=sandbox production"`
	AccessToken string `yaml:"access_token" validate:"required"`
	LocationID  string `yaml:"location_id" validate:"required"`
	// BaseURL overrides the environment's API endpoint.
	BaseURL string `yaml:"base_url"`
}

// paymentsAPI is the part of the Square SDK the gateway uses.
type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

// Gateway implements checkout.Gateway.
type Gateway struct {
	payments   paymentsAPI
	locationID string
	lg         *zap.Logger
}

var _ checkout.Gateway = (*Gateway)(nil)

// New builds a Gateway from cfg.
func New(cfg Config, lg *zap.Logger) (*Gateway, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env == "" {
		env = SandboxEnv
	}
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, errInvalidEnv
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		baseURL = u
	}

	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	location := strings.TrimSpace(cfg.LocationID)
	if location == "" {
		return nil, errLocationRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(token),
	)
	return newGateway(sdk.Payments, location, lg), nil
}

func newGateway(p paymentsAPI, locationID string, lg *zap.Logger) *Gateway {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Gateway{payments: p, locationID: locationID, lg: lg}
}

// Pay creates a Square payment. Card declines are returned as an
// OutcomeFailed result; only transport and API failures are errors.
func (g *Gateway) Pay(ctx context.Context, req checkout.PaymentRequest) (checkout.PaymentResult, error) {
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(req.Currency)))
	if currency == "" {
		currency = sq.Currency("USD")
	}
	amount := req.Amount

	sqReq := &sq.CreatePaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       req.SourceID,
		LocationID:     ptrString(g.locationID),
		AmountMoney: &sq.Money{
			Amount:   &amount,
			Currency: &currency,
		},
		ReferenceID: ptrString(req.ReferenceID),
		Note:        ptrString(req.Note),
	}

	lg := g.lg.With(zap.String("idempotency_key", req.IdempotencyKey))
	lg.Debug("Creating payment", zap.Int64("amount", req.Amount), zap.String("currency", string(currency)))

	resp, err := g.payments.Create(ctx, sqReq)
	if err != nil {
		var apiErr *sqcore.APIError
		if errors.As(err, &apiErr) {
			if code, declined := declineCode(apiErr); declined {
				lg.Info("Payment declined", zap.String("code", code))
				return checkout.PaymentResult{Outcome: checkout.OutcomeFailed, Status: code}, nil
			}
			return checkout.PaymentResult{}, errors.Wrapf(err, "square create payment: status %d", apiErr.StatusCode)
		}
		return checkout.PaymentResult{}, errors.Wrap(err, "square create payment")
	}

	payment := resp.GetPayment()
	if payment == nil {
		return checkout.PaymentResult{}, errors.New("square create payment: empty response")
	}
	status := stringValue(payment.GetStatus())
	res := checkout.PaymentResult{
		Outcome:   outcomeForStatus(status),
		PaymentID: stringValue(payment.GetID()),
		Status:    status,
	}
	lg.Info("Payment created",
		zap.String("payment_id", res.PaymentID),
		zap.String("status", status),
	)
	return res, nil
}

func outcomeForStatus(status string) checkout.Outcome {
	switch strings.ToUpper(status) {
	case "COMPLETED", "APPROVED", "PENDING":
		return checkout.OutcomeSucceeded
	case "CANCELED", "CANCELLED":
		return checkout.OutcomeCancelled
	default:
		return checkout.OutcomeFailed
	}
}

// declineCode reports whether the API error carries a payment method error,
// which Square uses for card declines.
func declineCode(apiErr *sqcore.APIError) (string, bool) {
	inner := apiErr.Unwrap()
	if inner == nil {
		return "", false
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return "", false
	}

	var (
		code     string
		declined bool
	)
	err := jx.DecodeStr(raw).Obj(func(d *jx.Decoder, key string) error {
		if key != "errors" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var category, c string
			if err := d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "category":
					v, err := d.Str()
					category = v
					return err
				case "code":
					v, err := d.Str()
					c = v
					return err
				default:
					return d.Skip()
				}
			}); err != nil {
				return err
			}
			if !declined && category == paymentMethodError {
				declined = true
				code = c
			}
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return code, declined
}

func ptrString(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
