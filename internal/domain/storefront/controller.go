// Package storefront owns the per-session cart, coupon and checkout state.
package storefront

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/checkout"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
	"github.com/xenking/oolio-storefront/internal/domain/product"
)

// ErrCheckoutInProgress is returned while a payment for the session is in
// flight.
var ErrCheckoutInProgress = errors.New("checkout already in progress")

// restoreRetryInterval throttles coupon re-validation outside checkout.
const restoreRetryInterval = 5 * time.Second

// Checkouter charges a cart. Settled hands out a checkout of the session
// that was abandoned but captured later.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Settled(session string) (*checkout.Result, bool)
}

var _ Checkouter = (*checkout.Service)(nil)

// View is everything the shopper sees: the cart, the coupon session and the
// resulting amounts.
type View struct {
	Cart       cart.State
	Coupon     coupon.Session
	Discount   decimal.Decimal
	Total      decimal.Decimal
	Processing bool
}

// Controller serializes every event of one session. It is the only owner of
// the session's cart store and coupon applier.
type Controller struct {
	mu         sync.Mutex
	session    string
	cart       *cart.Store
	coupon     *coupon.Applier
	checkout   Checkouter
	lg         *zap.Logger
	processing atomic.Bool
	now        func() time.Time

	nextRestore time.Time
}

// NewController creates a Controller for session. Call Init before use.
func NewController(session string, c *cart.Store, a *coupon.Applier, co Checkouter, lg *zap.Logger) *Controller {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Controller{session: session, cart: c, coupon: a, checkout: co, lg: lg, now: time.Now}
}

// Init restores the persisted cart and coupon state and re-validates the last
// applied coupon. A failed coupon re-validation is logged, not returned.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cart.Init(ctx); err != nil {
		return errors.Wrap(err, "init cart")
	}
	if err := c.coupon.Init(ctx); err != nil {
		return errors.Wrap(err, "init coupon")
	}
	c.restoreCoupon(ctx, true)
	return nil
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view()
}

// Refresh catches up on outcomes that arrived in the background and returns
// the current view: a late captured checkout empties the cart, and a
// restored coupon whose lookup failed is re-validated.
func (c *Controller) Refresh(ctx context.Context) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile(ctx)
	return c.view()
}

// Busy reports whether a checkout is in flight.
func (c *Controller) Busy() bool {
	return c.processing.Load()
}

// AddItem adds one unit of the product variant.
func (c *Controller) AddItem(ctx context.Context, p product.Product, brand, model string) (View, error) {
	return c.dispatch(ctx, cart.AddItem{Product: p, Brand: brand, Model: model})
}

// RemoveItem deletes the variant's row.
func (c *Controller) RemoveItem(ctx context.Context, key cart.VariantKey) (View, error) {
	return c.dispatch(ctx, cart.RemoveItem{Key: key})
}

// UpdateQuantity sets the variant's quantity.
func (c *Controller) UpdateQuantity(ctx context.Context, key cart.VariantKey, qty int) (View, error) {
	return c.dispatch(ctx, cart.UpdateQuantity{Key: key, Quantity: qty})
}

// ClearCart empties the cart.
func (c *Controller) ClearCart(ctx context.Context) (View, error) {
	return c.dispatch(ctx, cart.ClearCart{})
}

func (c *Controller) dispatch(ctx context.Context, cmd cart.Command) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.processing.Load() {
		return c.view(), ErrCheckoutInProgress
	}
	c.reconcile(ctx)
	_, err := c.cart.Dispatch(ctx, cmd)
	return c.view(), err
}

// ApplyCoupon submits a coupon code. The returned View is valid on error too.
func (c *Controller) ApplyCoupon(ctx context.Context, code string) (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.processing.Load() {
		return c.view(), ErrCheckoutInProgress
	}
	c.reconcile(ctx)
	_, err := c.coupon.Submit(ctx, code)
	return c.view(), err
}

// Checkout charges the cart. The session lock is released while the payment
// is in flight; other mutations fail with ErrCheckoutInProgress meanwhile.
//
// Once the payment is captured the cart is cleared and the applied coupon is
// forgotten, even when the order could not be recorded afterwards. A checkout
// abandoned earlier and captured since is returned as this checkout's result.
// A restored coupon that still cannot be validated fails with
// coupon.ErrLookupFailed instead of charging without its discount.
func (c *Controller) Checkout(ctx context.Context, sourceID string) (*checkout.Result, error) {
	c.mu.Lock()
	if c.processing.Load() {
		c.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	if res, ok := c.settle(ctx); ok {
		c.mu.Unlock()
		return res, nil
	}
	if !c.restoreCoupon(ctx, true) {
		c.mu.Unlock()
		return nil, coupon.ErrLookupFailed
	}
	s := c.coupon.Session()
	req := checkout.Request{
		Session:    c.session,
		Cart:       c.cart.State(),
		CouponCode: s.Code,
		Fraction:   c.coupon.Fraction(),
		SourceID:   sourceID,
	}
	c.processing.Store(true)
	c.mu.Unlock()

	res, err := c.checkout.Checkout(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing.Store(false)
	if err != nil && !errors.Is(err, checkout.ErrOrderNotRecorded) {
		return nil, err
	}

	c.clear(ctx)
	return res, err
}

// reconcile applies background outcomes. Callers hold mu.
func (c *Controller) reconcile(ctx context.Context) {
	if _, ok := c.settle(ctx); ok {
		return
	}
	c.restoreCoupon(ctx, false)
}

// settle clears the cart when an abandoned checkout was captured later.
// Every cart mutation reconciles first, so the paid cart is the current one.
func (c *Controller) settle(ctx context.Context) (*checkout.Result, bool) {
	if c.checkout == nil {
		return nil, false
	}
	res, ok := c.checkout.Settled(c.session)
	if !ok {
		return nil, false
	}
	c.lg.Info("Abandoned checkout was paid, clearing cart",
		zap.String("order_id", res.Order.ID),
		zap.String("payment_id", res.Payment.PaymentID),
	)
	c.clear(ctx)
	return res, true
}

// restoreCoupon re-validates a restored coupon whose lookup failed. Unless
// force is set, retries are throttled. It reports whether no restore is
// outstanding.
func (c *Controller) restoreCoupon(ctx context.Context, force bool) bool {
	if !c.coupon.Pending() {
		return true
	}
	now := c.now()
	if !force && now.Before(c.nextRestore) {
		return false
	}
	if err := c.coupon.Restore(ctx); err != nil {
		c.nextRestore = now.Add(restoreRetryInterval)
		c.lg.Warn("Failed to restore coupon", zap.Error(err))
		return false
	}
	return true
}

func (c *Controller) clear(ctx context.Context) {
	if _, err := c.cart.ClearCart(ctx); err != nil {
		c.lg.Warn("Failed to clear cart after checkout", zap.Error(err))
	}
	c.coupon.Reset(ctx)
}

func (c *Controller) view() View {
	state := c.cart.State()
	discount := c.coupon.Discount(state.Subtotal)
	total := state.Total.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return View{
		Cart:       state,
		Coupon:     c.coupon.Session(),
		Discount:   discount,
		Total:      total.Round(2),
		Processing: c.processing.Load(),
	}
}
