package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
)

// DefaultTimeout is how long Checkout waits for the gateway before giving up.
const DefaultTimeout = 60 * time.Second

// DefaultAttemptTTL bounds how long an unresolved checkout keeps its
// idempotency key. It matches the gateway's idempotency window.
const DefaultAttemptTTL = 24 * time.Hour

// Sentinel errors for checkout.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrAbandoned        = errors.New("payment timed out")
	ErrPaymentFailed    = errors.New("payment failed")
	ErrPaymentCancelled = errors.New("payment cancelled")
	ErrOrderNotRecorded = errors.New("order not recorded")
)

// OrderNotRecordedError reports a payment that succeeded while the order
// could not be submitted. It matches ErrOrderNotRecorded.
type OrderNotRecordedError struct {
	OrderID   string
	PaymentID string
	Err       error
}

func (e *OrderNotRecordedError) Error() string {
	return fmt.Sprintf("order %s not recorded for payment %s: %v", e.OrderID, e.PaymentID, e.Err)
}

func (e *OrderNotRecordedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrOrderNotRecorded) match.
func (e *OrderNotRecordedError) Is(target error) bool {
	return target == ErrOrderNotRecorded
}

// Request holds the input for a checkout.
type Request struct {
	// Session scopes unresolved checkouts. Empty disables late settlement.
	Session    string
	Cart       cart.State
	CouponCode string
	Fraction   decimal.Decimal
	SourceID   string
}

// Result holds the output of a paid checkout.
type Result struct {
	Order   *Order
	Payment PaymentResult
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCurrency sets the ISO 4217 currency code charged.
func WithCurrency(c string) Option {
	return func(s *Service) { s.currency = c }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Service) { s.lg = lg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithJournal records every captured payment before its order is submitted.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithAttemptTTL overrides DefaultAttemptTTL.
func WithAttemptTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTTL = d
		}
	}
}

// Service charges the cart and records the order.
type Service struct {
	gateway    Gateway
	orders     OrderSubmitter
	journal    Journal
	timeout    time.Duration
	attemptTTL time.Duration
	currency   string
	lg         *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]*attempt // by session
}

// attempt is a checkout whose payment outcome is not known to the shopper
// yet. Retrying the same cart reuses its order ID as the idempotency key.
type attempt struct {
	session     string
	fingerprint string
	orderID     string
	createdAt   time.Time

	record sync.Mutex // serializes order recording

	// Guarded by Service.mu.
	pending   int // gateway calls not yet resolved
	result    *Result
	delivered bool
}

// NewService creates a checkout Service.
func NewService(gateway Gateway, orders OrderSubmitter, opts ...Option) *Service {
	s := &Service{
		gateway:    gateway,
		orders:     orders,
		timeout:    DefaultTimeout,
		attemptTTL: DefaultAttemptTTL,
		currency:   "USD",
		lg:         zap.NewNop(),
		now:        time.Now,
		attempts:   make(map[string]*attempt),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type payment struct {
	res PaymentResult
	err error
}

// Checkout prices the cart, charges it and records the order.
//
// The timeout is advisory: the gateway call is not cancelled when it fires.
// Checkout returns ErrAbandoned and the late result is settled in the
// background: a captured payment still gets its order recorded and is handed
// out once through Settled. Until the outcome is known, checking out the
// same cart again reuses the order ID, so the gateway cannot charge twice.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if req.Cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	o := BuildOrder(req.Cart, req.CouponCode, req.Fraction)
	o.CreatedAt = s.now()
	a, settled := s.claim(req.Session, o)
	if settled != nil {
		return settled, nil
	}
	lg := s.lg.With(zap.String("order_id", o.ID))

	payReq := PaymentRequest{
		IdempotencyKey: o.ID,
		SourceID:       req.SourceID,
		Amount:         MinorUnits(o.Total),
		Currency:       s.currency,
		ReferenceID:    o.ID,
		Note:           note(o),
	}

	done := make(chan payment, 1)
	go func() {
		res, err := s.gateway.Pay(context.WithoutCancel(ctx), payReq)
		done <- payment{res: res, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var p payment
	select {
	case p = <-done:
	case <-timer.C:
		lg.Warn("Checkout abandoned waiting for payment", zap.Duration("timeout", s.timeout))
		go s.settleLate(context.WithoutCancel(ctx), lg, a, o, done)
		return nil, ErrAbandoned
	case <-ctx.Done():
		go s.settleLate(context.WithoutCancel(ctx), lg, a, o, done)
		return nil, errors.Wrap(ctx.Err(), "wait for payment")
	}

	if p.err != nil {
		s.release(a)
		lg.Warn("Payment request failed", zap.Error(p.err))
		return nil, errors.Wrapf(ErrPaymentFailed, "gateway: %v", p.err)
	}

	switch p.res.Outcome {
	case OutcomeSucceeded:
	case OutcomeCancelled:
		s.release(a)
		return nil, ErrPaymentCancelled
	default:
		s.release(a)
		return nil, errors.Wrapf(ErrPaymentFailed, "status %s", p.res.Status)
	}

	res, err := s.recordOrder(ctx, a, o, p.res)
	s.deliver(a)
	if err != nil {
		lg.Error("Paid order not recorded", zap.String("payment_id", p.res.PaymentID), zap.Error(err))
		return nil, err
	}

	lg.Info("Order placed",
		zap.String("payment_id", res.Order.PaymentID),
		zap.String("total", res.Order.Total.StringFixed(2)),
	)
	return res, nil
}

// Settled hands out, once, a checkout of session that was abandoned but
// whose payment was later captured and recorded.
func (s *Service) Settled(session string) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[session]
	if !ok || a.result == nil || a.delivered {
		return nil, false
	}
	a.delivered = true
	delete(s.attempts, session)
	return a.result, true
}

// claim registers o as the session's unresolved checkout. When the previous
// unresolved checkout charged the same cart its order ID is reused, and an
// already recorded result is returned instead.
func (s *Service) claim(session string, o *Order) (*attempt, *Result) {
	if session == "" {
		return nil, nil
	}
	fp := fingerprint(o)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, a := range s.attempts {
		if now.Sub(a.createdAt) > s.attemptTTL {
			delete(s.attempts, key)
		}
	}

	if prev, ok := s.attempts[session]; ok && prev.fingerprint == fp {
		if prev.result != nil && !prev.delivered {
			prev.delivered = true
			delete(s.attempts, session)
			return nil, prev.result
		}
		o.ID, o.CreatedAt = prev.orderID, prev.createdAt
		prev.pending++
		return prev, nil
	}

	a := &attempt{session: session, fingerprint: fp, orderID: o.ID, createdAt: o.CreatedAt, pending: 1}
	s.attempts[session] = a
	return a, nil
}

// recordOrder submits the paid order once per attempt.
func (s *Service) recordOrder(ctx context.Context, a *attempt, o *Order, pay PaymentResult) (*Result, error) {
	if a != nil {
		a.record.Lock()
		defer a.record.Unlock()

		s.mu.Lock()
		res := a.result
		s.mu.Unlock()
		if res != nil {
			return res, nil
		}
	}

	o.PaymentID = pay.PaymentID
	if s.journal != nil {
		if err := s.journal.RecordPayment(ctx, o); err != nil {
			s.lg.Warn("Failed to journal payment", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if err := s.orders.CreateOrder(ctx, o); err != nil {
		return nil, &OrderNotRecordedError{OrderID: o.ID, PaymentID: o.PaymentID, Err: err}
	}
	if s.journal != nil {
		if err := s.journal.MarkSubmitted(ctx, o.ID); err != nil {
			s.lg.Warn("Failed to mark journaled order submitted", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	res := &Result{Order: o, Payment: pay}
	if a != nil {
		s.mu.Lock()
		a.result = res
		s.mu.Unlock()
	}
	return res, nil
}

// deliver forgets an attempt whose outcome reached the shopper.
func (s *Service) deliver(a *attempt) {
	if a == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.pending--
	a.delivered = true
	if s.attempts[a.session] == a {
		delete(s.attempts, a.session)
	}
}

// release resolves one gateway call of a that did not charge the shopper.
// The attempt is forgotten once no other call of it is pending.
func (s *Service) release(a *attempt) {
	if a == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.pending--
	if a.pending <= 0 && a.result == nil && s.attempts[a.session] == a {
		delete(s.attempts, a.session)
	}
}

// finish resolves one gateway call of a, keeping the attempt.
func (s *Service) finish(a *attempt) {
	if a == nil {
		return
	}
	s.mu.Lock()
	a.pending--
	s.mu.Unlock()
}

// settleLate waits for an abandoned payment. A capture still records the
// order; a failed order submission keeps the attempt so a retry of the same
// cart replays the payment and records it then.
func (s *Service) settleLate(ctx context.Context, lg *zap.Logger, a *attempt, o *Order, done <-chan payment) {
	p := <-done
	if p.err != nil {
		lg.Warn("Late payment error after checkout was abandoned", zap.Error(p.err))
		s.release(a)
		return
	}
	if p.res.Outcome != OutcomeSucceeded {
		lg.Warn("Late payment result after checkout was abandoned",
			zap.Stringer("outcome", p.res.Outcome),
			zap.String("payment_id", p.res.PaymentID),
		)
		s.release(a)
		return
	}

	_, err := s.recordOrder(ctx, a, o, p.res)
	s.finish(a)
	if err != nil {
		lg.Error("Late paid order not recorded", zap.String("payment_id", p.res.PaymentID), zap.Error(err))
		return
	}
	lg.Info("Late payment captured, order recorded", zap.String("payment_id", p.res.PaymentID))
}

// fingerprint identifies what a checkout charges for.
func fingerprint(o *Order) string {
	var b strings.Builder
	for _, it := range o.Items {
		fmt.Fprintf(&b, "%s|%s|%s|%d|%s;", it.ProductID, it.Brand, it.Model, it.Quantity, it.Price.String())
	}
	fmt.Fprintf(&b, "%s|%s", o.CouponCode, o.Total.StringFixed(2))
	return b.String()
}

func note(o *Order) string {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	if o.CouponCode != "" {
		return fmt.Sprintf("%d items, coupon %s", n, o.CouponCode)
	}
	return fmt.Sprintf("%d items", n)
}
