package cart

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/kv"
	"github.com/xenking/oolio-storefront/internal/domain/product"
)

// Persistent store keys.
const (
	SnapshotKey  = "cart"
	TimestampKey = "cartTimestamp"
)

// DefaultStaleness is how long a persisted snapshot stays loadable.
const DefaultStaleness = 24 * time.Hour

// Option configures a Store.
type Option func(*Store)

// WithTaxRate sets the tax rate applied to the subtotal (0.08 for 8%).
func WithTaxRate(rate decimal.Decimal) Option {
	return func(s *Store) { s.taxRate = rate }
}

// WithStaleness overrides DefaultStaleness.
func WithStaleness(d time.Duration) Option {
	return func(s *Store) { s.staleness = d }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Store) { s.lg = lg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the authoritative cart State and writes it through to a
// kv.Store after every mutation. It is not safe for concurrent use; callers
// serialize access.
type Store struct {
	kv        kv.Store
	taxRate   decimal.Decimal
	staleness time.Duration
	lg        *zap.Logger
	now       func() time.Time

	state State
}

// NewStore creates an empty Store. Call Init to restore a persisted snapshot.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:        store,
		taxRate:   decimal.Zero,
		staleness: DefaultStaleness,
		lg:        zap.NewNop(),
		now:       time.Now,
		state:     Empty(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current cart.
func (s *Store) State() State {
	return s.state
}

// TaxRate returns the configured tax rate.
func (s *Store) TaxRate() decimal.Decimal {
	return s.taxRate
}

// Init loads the persisted snapshot. Snapshots older than the staleness
// window, or that fail to decode, are erased and the cart starts empty.
// Only storage read failures are returned.
func (s *Store) Init(ctx context.Context) error {
	s.state = Empty()

	raw, err := s.kv.Get(ctx, SnapshotKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read cart snapshot")
	}

	ts, err := s.kv.Get(ctx, TimestampKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return errors.Wrap(err, "read cart timestamp")
	default:
		written, perr := strconv.ParseInt(ts, 10, 64)
		if perr != nil {
			s.lg.Warn("Discarding cart snapshot with invalid timestamp", zap.String("timestamp", ts))
			s.erase(ctx)
			return nil
		}
		if age := s.now().Sub(time.UnixMilli(written)); age > s.staleness {
			s.lg.Info("Discarding stale cart snapshot", zap.Duration("age", age))
			s.erase(ctx)
			return nil
		}
	}

	items, err := DecodeSnapshot([]byte(raw))
	if err != nil {
		s.lg.Warn("Discarding corrupt cart snapshot", zap.Error(err))
		s.erase(ctx)
		return nil
	}

	state, err := Reduce(s.state, LoadSnapshot{Items: items}, s.taxRate)
	if err != nil {
		return err
	}
	s.state = state
	if state.IsEmpty() {
		s.erase(ctx)
	}
	return nil
}

// Dispatch applies cmd, stores the resulting State and writes it through.
// Persistence failures are logged; the in-memory State stays authoritative.
func (s *Store) Dispatch(ctx context.Context, cmd Command) (State, error) {
	next, err := Reduce(s.state, cmd, s.taxRate)
	if err != nil {
		return s.state, err
	}
	s.state = next

	if _, ok := cmd.(ClearCart); ok {
		s.erase(ctx)
		return next, nil
	}
	s.persist(ctx)
	return next, nil
}

// AddItem adds one unit of the product variant.
func (s *Store) AddItem(ctx context.Context, p product.Product, brand, model string) (State, error) {
	return s.Dispatch(ctx, AddItem{Product: p, Brand: brand, Model: model})
}

// RemoveItem deletes the variant's row. Missing rows are ignored.
func (s *Store) RemoveItem(ctx context.Context, key VariantKey) (State, error) {
	return s.Dispatch(ctx, RemoveItem{Key: key})
}

// UpdateQuantity sets the variant's quantity. Quantities below one return
// ErrQuantityBelowOne and leave the cart unchanged.
func (s *Store) UpdateQuantity(ctx context.Context, key VariantKey, qty int) (State, error) {
	return s.Dispatch(ctx, UpdateQuantity{Key: key, Quantity: qty})
}

// ClearCart empties the cart and erases the persisted snapshot.
func (s *Store) ClearCart(ctx context.Context) (State, error) {
	return s.Dispatch(ctx, ClearCart{})
}

func (s *Store) persist(ctx context.Context) {
	if s.state.IsEmpty() {
		s.erase(ctx)
		return
	}
	if err := s.kv.Set(ctx, SnapshotKey, string(EncodeSnapshot(s.state))); err != nil {
		s.lg.Warn("Failed to persist cart snapshot", zap.Error(err))
		return
	}
	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.kv.Set(ctx, TimestampKey, stamp); err != nil {
		s.lg.Warn("Failed to persist cart timestamp", zap.Error(err))
	}
}

func (s *Store) erase(ctx context.Context) {
	for _, key := range []string{SnapshotKey, TimestampKey} {
		if err := s.kv.Delete(ctx, key); err != nil {
			s.lg.Warn("Failed to erase cart key", zap.String("key", key), zap.Error(err))
		}
	}
}
