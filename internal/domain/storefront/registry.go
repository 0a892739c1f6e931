package storefront

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
	"github.com/xenking/oolio-storefront/internal/domain/kv"
)

// DefaultIdleTTL is how long an unused session controller stays in memory.
const DefaultIdleTTL = 30 * time.Minute

// ErrEmptySession is returned for a blank session ID.
var ErrEmptySession = errors.New("session id required")

// Deps builds the per-session collaborators of a Controller.
type Deps struct {
	Lookup        coupon.Lookup
	Prefilter     coupon.Prefilter
	Checkout      Checkouter
	TaxRate       decimal.Decimal
	Staleness     time.Duration
	MaxAttempts   int
	BlockDuration time.Duration
	CouponOptions []coupon.Option
	Logger        *zap.Logger
}

// Factory builds an uninitialized Controller over the session's store.
type Factory func(sessionID string, store kv.Store) *Controller

// NewFactory returns a Factory wiring Deps into a cart store and a coupon
// applier per session.
func NewFactory(deps Deps) Factory {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return func(sessionID string, store kv.Store) *Controller {
		slg := lg.With(zap.String("session_id", sessionID))

		cartOpts := []cart.Option{cart.WithTaxRate(deps.TaxRate), cart.WithLogger(slg)}
		if deps.Staleness > 0 {
			cartOpts = append(cartOpts, cart.WithStaleness(deps.Staleness))
		}

		couponOpts := []coupon.Option{
			coupon.WithMaxAttempts(deps.MaxAttempts),
			coupon.WithBlockDuration(deps.BlockDuration),
			coupon.WithLogger(slg),
		}
		if deps.Prefilter != nil {
			couponOpts = append(couponOpts, coupon.WithPrefilter(deps.Prefilter))
		}
		couponOpts = append(couponOpts, deps.CouponOptions...)

		return NewController(
			sessionID,
			cart.NewStore(store, cartOpts...),
			coupon.NewApplier(deps.Lookup, store, couponOpts...),
			deps.Checkout,
			slg,
		)
	}
}

type session struct {
	ctrl     *Controller
	ready    chan struct{}
	err      error
	lastSeen time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL overrides DefaultIdleTTL.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(lg *zap.Logger) RegistryOption {
	return func(r *Registry) { r.lg = lg }
}

// WithRegistryClock overrides time.Now.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry holds one Controller per session. Each session's state lives under
// the "session:<id>:" namespace of the shared store.
type Registry struct {
	store   kv.Store
	factory Factory
	idleTTL time.Duration
	lg      *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates a Registry.
func NewRegistry(store kv.Store, factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:    store,
		factory:  factory,
		idleTTL:  DefaultIdleTTL,
		lg:       zap.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Namespace returns the key prefix of a session.
func Namespace(sessionID string) string {
	return "session:" + sessionID + ":"
}

// Get returns the session's Controller, creating and initializing it on first
// use. Concurrent callers for the same session share one initialization.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Controller, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		s.lastSeen = r.now()
		r.mu.Unlock()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if s.err != nil {
			return nil, s.err
		}
		return s.ctrl, nil
	}

	s = &session{
		ctrl:     r.factory(sessionID, kv.Prefixed(r.store, Namespace(sessionID))),
		ready:    make(chan struct{}),
		lastSeen: r.now(),
	}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	s.err = s.ctrl.Init(ctx)
	close(s.ready)

	if s.err != nil {
		r.mu.Lock()
		if r.sessions[sessionID] == s {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		return nil, errors.Wrapf(s.err, "init session %s", sessionID)
	}
	return s.ctrl, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops controllers idle for longer than the idle TTL. Sessions with a
// checkout in flight are kept. Persisted state is untouched.
func (r *Registry) Evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) < r.idleTTL {
			continue
		}
		select {
		case <-s.ready:
		default:
			continue
		}
		if s.err == nil && s.ctrl.Busy() {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n
}

// Run evicts idle controllers every half idle TTL until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Evict(r.now()); n > 0 {
				r.lg.Debug("Evicted idle sessions", zap.Int("count", n), zap.Int("live", r.Len()))
			}
		}
	}
}
