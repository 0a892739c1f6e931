package coupon

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/kv"
)

// Persistent store keys.
const (
	AttemptsKey     = "couponAttempts"
	BlockedUntilKey = "couponBlockedUntil"
	ValidCodeKey    = "validCoupon"
)

// Defaults for the attempt limiter.
const (
	DefaultMaxAttempts   = 5
	DefaultBlockDuration = 10 * time.Minute
)

// Option configures an Applier.
type Option func(*Applier)

// WithMaxAttempts sets how many failed submissions establish a block.
func WithMaxAttempts(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithBlockDuration sets how long a block lasts.
func WithBlockDuration(d time.Duration) Option {
	return func(a *Applier) {
		if d > 0 {
			a.blockDuration = d
		}
	}
}

// WithPrefilter sets a known-code index consulted before the lookup.
func WithPrefilter(p Prefilter) Option {
	return func(a *Applier) { a.prefilter = p }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(a *Applier) { a.lg = lg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

// WithMeter sets the meter used for attempt and block counters.
func WithMeter(m metric.Meter) Option {
	return func(a *Applier) { a.meter = m }
}

// Applier validates coupon codes and holds the shopper's coupon Session.
//
// Every submission with a non-empty code counts as an attempt before the
// lookup result is known. A successful code resets the counter. Once the
// counter reaches the maximum a block is established and further submissions
// fail with *RateLimitedError without calling the lookup. A rejected code never
// removes a previously applied discount.
//
// Applier is not safe for concurrent use; callers serialize access.
type Applier struct {
	lookup        Lookup
	kv            kv.Store
	prefilter     Prefilter
	maxAttempts   int
	blockDuration time.Duration
	lg            *zap.Logger
	now           func() time.Time
	meter         metric.Meter

	attempts metric.Int64Counter
	blocks   metric.Int64Counter

	session Session
	pending string
}

// NewApplier creates an Applier. Call Init to restore persisted state.
func NewApplier(lookup Lookup, store kv.Store, opts ...Option) *Applier {
	a := &Applier{
		lookup:        lookup,
		kv:            store,
		maxAttempts:   DefaultMaxAttempts,
		blockDuration: DefaultBlockDuration,
		lg:            zap.NewNop(),
		now:           time.Now,
		meter:         noop.NewMeterProvider().Meter("coupon"),
	}
	for _, o := range opts {
		o(a)
	}

	var err error
	if a.attempts, err = a.meter.Int64Counter("storefront.coupon.attempts",
		metric.WithDescription("Coupon submissions by outcome"),
	); err != nil {
		a.attempts = noop.Int64Counter{}
	}
	if a.blocks, err = a.meter.Int64Counter("storefront.coupon.blocks",
		metric.WithDescription("Coupon attempt blocks established"),
	); err != nil {
		a.blocks = noop.Int64Counter{}
	}
	return a
}

// NormalizeCode trims and upper-cases a user entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Session returns the current coupon session.
func (a *Applier) Session() Session {
	return a.session
}

// Discount returns the discount amount for subtotal, zero when no code is
// applied.
func (a *Applier) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !a.session.Applied() {
		return decimal.Zero
	}
	return DiscountAmount(subtotal, a.session.Discount)
}

// Fraction returns the applied discount fraction.
func (a *Applier) Fraction() decimal.Decimal {
	if !a.session.Applied() {
		return decimal.Zero
	}
	return a.session.Discount
}

// Init restores the attempt counter, the block and the last valid code. An
// expired block clears both block and counter. The restored code is not
// applied until Restore re-validates it.
func (a *Applier) Init(ctx context.Context) error {
	a.session = Session{Discount: decimal.Zero}
	a.pending = ""

	raw, err := a.get(ctx, AttemptsKey)
	if err != nil {
		return err
	}
	if raw != "" {
		n, perr := strconv.Atoi(raw)
		if perr != nil || n < 0 {
			a.lg.Warn("Discarding invalid coupon attempt counter", zap.String("value", raw))
			a.del(ctx, AttemptsKey)
		} else {
			a.session.Attempts = n
		}
	}

	raw, err = a.get(ctx, BlockedUntilKey)
	if err != nil {
		return err
	}
	if raw != "" {
		ms, perr := strconv.ParseInt(raw, 10, 64)
		switch {
		case perr != nil:
			a.lg.Warn("Discarding invalid coupon block", zap.String("value", raw))
			a.del(ctx, BlockedUntilKey)
		default:
			a.session.BlockedUntil = time.UnixMilli(ms)
			a.clearExpiredBlock(ctx, a.now())
		}
	}

	code, err := a.get(ctx, ValidCodeKey)
	if err != nil {
		return err
	}
	if code = NormalizeCode(code); code != "" {
		a.pending = code
		a.session.Input = code
	}
	return nil
}

// Pending reports whether a restored code still awaits re-validation.
func (a *Applier) Pending() bool {
	return a.pending != ""
}

// Restore re-validates the code restored by Init without counting an attempt.
// A code that is no longer valid is dropped. Lookup failures keep the persisted
// code for a later Restore and return ErrLookupFailed.
func (a *Applier) Restore(ctx context.Context) error {
	code := a.pending
	if code == "" {
		return nil
	}

	c, err := a.validate(ctx, code, a.now())
	switch {
	case err == nil:
		a.pending = ""
		a.apply(code, c)
		return nil
	case errors.Is(err, ErrInvalidOrExpired):
		a.lg.Info("Dropping coupon that is no longer valid", zap.String("code", code))
		a.pending = ""
		a.session.Input = ""
		a.del(ctx, ValidCodeKey)
		return nil
	default:
		return ErrLookupFailed
	}
}

// Submit validates code and applies it on success.
//
// Returned errors: ErrEmptyCode, *RateLimitedError (matches ErrRateLimited),
// ErrInvalidOrExpired and ErrLookupFailed. The Session is returned in every
// case and carries the user facing message.
func (a *Applier) Submit(ctx context.Context, raw string) (Session, error) {
	now := a.now()
	code := NormalizeCode(raw)
	a.session.Warning = ""

	if code == "" {
		return a.reject(ErrEmptyCode, "empty"), ErrEmptyCode
	}

	a.clearExpiredBlock(ctx, now)
	if a.session.Blocked(now) {
		rl := a.rateLimited(now)
		return a.reject(rl, "blocked"), rl
	}

	a.session.Input = code
	a.session.Status = StatusChecking
	a.session.Attempts++
	a.set(ctx, AttemptsKey, strconv.Itoa(a.session.Attempts))

	c, err := a.validate(ctx, code, now)
	if err == nil {
		a.pending = ""
		a.apply(code, c)
		a.session.Attempts = 0
		a.del(ctx, AttemptsKey)
		a.set(ctx, ValidCodeKey, code)
		a.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "applied")))
		return a.session, nil
	}

	if errors.Is(err, ErrTooManyRequests) {
		a.block(ctx, now)
		rl := a.rateLimited(now)
		return a.reject(rl, "throttled"), rl
	}

	outcome := "invalid"
	if errors.Is(err, ErrLookupFailed) {
		outcome = "lookup_failed"
	}
	s := a.reject(err, outcome)

	switch left := a.maxAttempts - a.session.Attempts; {
	case left <= 0:
		a.block(ctx, now)
		a.session.Warning = a.rateLimited(now).Error()
	case left == 1:
		a.session.Warning = "one coupon attempt left before a temporary block"
	}
	s.Warning = a.session.Warning
	s.BlockedUntil = a.session.BlockedUntil
	return s, err
}

// Reset forgets the applied code. The attempt counter and any block stay.
func (a *Applier) Reset(ctx context.Context) {
	a.pending = ""
	a.session.Input = ""
	a.session.Code = ""
	a.session.CampaignID = ""
	a.session.Discount = decimal.Zero
	a.session.Status = StatusIdle
	a.session.Message = ""
	a.session.Warning = ""
	a.del(ctx, ValidCodeKey)
}

func (a *Applier) validate(ctx context.Context, code string, now time.Time) (*Campaign, error) {
	if a.prefilter != nil && !a.prefilter.MayContain(code) {
		return nil, ErrInvalidOrExpired
	}

	c, err := a.lookup.SearchCampaign(ctx, code)
	switch {
	case errors.Is(err, ErrCampaignNotFound):
		return nil, ErrInvalidOrExpired
	case errors.Is(err, ErrTooManyRequests):
		return nil, ErrTooManyRequests
	case err != nil:
		a.lg.Warn("Coupon lookup failed", zap.String("code", code), zap.Error(err))
		return nil, ErrLookupFailed
	case c == nil:
		return nil, ErrInvalidOrExpired
	}

	if err := c.Check(now); err != nil {
		return nil, err
	}
	return c, nil
}

func (a *Applier) apply(code string, c *Campaign) {
	a.session.Input = code
	a.session.Code = code
	a.session.CampaignID = c.ID
	a.session.Discount = c.Fraction()
	a.session.Status = StatusApplied
	a.session.Message = "Coupon " + code + " applied"
}

// reject records a failed submission. The input reverts to the applied code
// and the discount is left untouched.
func (a *Applier) reject(err error, outcome string) Session {
	a.session.Status = StatusRejected
	a.session.Message = err.Error()
	a.session.Input = a.session.Code
	a.attempts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return a.session
}

func (a *Applier) block(ctx context.Context, now time.Time) {
	a.session.BlockedUntil = now.Add(a.blockDuration)
	a.set(ctx, BlockedUntilKey, strconv.FormatInt(a.session.BlockedUntil.UnixMilli(), 10))
	a.blocks.Add(ctx, 1)
	a.lg.Info("Coupon attempts blocked",
		zap.Int("attempts", a.session.Attempts),
		zap.Time("until", a.session.BlockedUntil),
	)
}

func (a *Applier) rateLimited(now time.Time) *RateLimitedError {
	return &RateLimitedError{
		Until:     a.session.BlockedUntil,
		Remaining: a.session.BlockedUntil.Sub(now),
	}
}

func (a *Applier) clearExpiredBlock(ctx context.Context, now time.Time) {
	if a.session.BlockedUntil.IsZero() || now.Before(a.session.BlockedUntil) {
		return
	}
	a.session.BlockedUntil = time.Time{}
	a.session.Attempts = 0
	a.del(ctx, BlockedUntilKey)
	a.del(ctx, AttemptsKey)
}

func (a *Applier) get(ctx context.Context, key string) (string, error) {
	v, err := a.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", key)
	}
	return v, nil
}

func (a *Applier) set(ctx context.Context, key, value string) {
	if err := a.kv.Set(ctx, key, value); err != nil {
		a.lg.Warn("Failed to persist coupon state", zap.String("key", key), zap.Error(err))
	}
}

func (a *Applier) del(ctx context.Context, key string) {
	if err := a.kv.Delete(ctx, key); err != nil {
		a.lg.Warn("Failed to erase coupon state", zap.String("key", key), zap.Error(err))
	}
}
