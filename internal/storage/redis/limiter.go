package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-storefront/pkg/httpmiddleware"
)

// Limiter is a fixed-window request limiter whose counters live in Redis, so
// every replica shares them.
type Limiter struct {
	store  cmdable
	limit  int
	window time.Duration
}

var _ httpmiddleware.Limiter = (*Limiter)(nil)

// NewLimiter creates a Limiter allowing limit requests per window over the
// store's connection.
func NewLimiter(s *Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: s.store, limit: limit, window: window}
}

// Allow increments the key's counter for the window containing now. The
// counter expires with its window.
func (l *Limiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.window)
	k := fmt.Sprintf("%s:ratelimit:%s:%d", keyNamespace, key, start.Unix())

	count, err := l.store.Incr(ctx, k).Result()
	if err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "incr rate counter")
	}
	if count == 1 {
		if err := l.store.Expire(ctx, k, l.window).Err(); err != nil {
			return httpmiddleware.Decision{}, errors.Wrap(err, "expire rate counter")
		}
	}

	return httpmiddleware.Decision{
		Allowed:   count <= int64(l.limit),
		Remaining: max(l.limit-int(count), 0),
		ResetAt:   start.Add(l.window),
	}, nil
}
