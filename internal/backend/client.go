// Package backend is the client of the storefront REST backend: campaign
// lookup and order submission.
package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
)

const (
	defaultTimeout = 10 * time.Second
	errorBodyLimit = 1024
)

var errBaseURLRequired = errors.New("backend base url is required")

var (
	_ coupon.Lookup           = (*Client)(nil)
	_ checkout.OrderSubmitter = (*Client)(nil)
)

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Op + ": unexpected status " + http.StatusText(e.Status)
	}
	return e.Op + ": unexpected status " + http.StatusText(e.Status) + ": " + e.Body
}

// Client talks to the backend over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default instrumented HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithTracerProvider sets the tracer provider of the default transport.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider of the default transport.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) { c.meterProvider = mp }
}

// NewClient builds a backend client for baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{baseURL: trimmed}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}

	if c.httpClient == nil {
		var topts []otelhttp.Option
		if c.tracerProvider != nil {
			topts = append(topts, otelhttp.WithTracerProvider(c.tracerProvider))
		}
		if c.meterProvider != nil {
			topts = append(topts, otelhttp.WithMeterProvider(c.meterProvider))
		}
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, topts...),
		}
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s: execute request", op)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrapf(err, "%s: read response", op)
	}
	return data, resp.StatusCode, nil
}

func statusError(op string, status int, body []byte) error {
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	return &StatusError{Op: op, Status: status, Body: strings.TrimSpace(string(body))}
}
