// Package coupon validates promo codes against the campaign lookup and
// tracks the shopper's coupon session, including attempt rate limiting.
package coupon

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCode is returned when no code was entered.
	ErrEmptyCode = errors.New("enter a coupon code")
	// ErrInvalidOrExpired is returned when the code is unknown, inactive, or
	// outside its validity window.
	ErrInvalidOrExpired = errors.New("invalid or expired coupon code")
	// ErrLookupFailed is returned when the campaign lookup itself failed.
	ErrLookupFailed = errors.New("could not check coupon, try again")
	// ErrRateLimited is matched by *RateLimitedError.
	ErrRateLimited = errors.New("too many coupon attempts")

	// ErrCampaignNotFound is returned by Lookup implementations when no
	// campaign matches the code.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrTooManyRequests is returned by Lookup implementations when the
	// lookup service itself throttles the caller.
	ErrTooManyRequests = errors.New("campaign lookup throttled")
)

// RateLimitedError reports an active coupon block.
type RateLimitedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many coupon attempts, try again in %d minutes", e.Minutes())
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Minutes returns the remaining block rounded up to whole minutes.
func (e *RateLimitedError) Minutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

// Campaign is a promotion as returned by the lookup service.
type Campaign struct {
	ID        string
	Code      string
	Discount  decimal.Decimal // percentage, 0-100
	Active    bool
	StartDate *time.Time
	EndDate   *time.Time
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Fraction converts the percentage discount into a 0-1 multiplier.
func (c *Campaign) Fraction() decimal.Decimal {
	f := c.Discount.Div(hundred)
	if f.IsNegative() {
		return decimal.Zero
	}
	if f.GreaterThan(one) {
		return one
	}
	return f
}

// Check returns ErrInvalidOrExpired when the campaign is inactive or now is
// outside its start/end window.
func (c *Campaign) Check(now time.Time) error {
	if !c.Active {
		return ErrInvalidOrExpired
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return ErrInvalidOrExpired
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return ErrInvalidOrExpired
	}
	return nil
}

// DiscountAmount applies fraction to subtotal, rounded to cents.
func DiscountAmount(subtotal, fraction decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(fraction)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

// Lookup finds a campaign by code.
type Lookup interface {
	SearchCampaign(ctx context.Context, code string) (*Campaign, error)
}

// Prefilter reports whether a code may exist. A false answer is definitive.
type Prefilter interface {
	MayContain(code string) bool
}
