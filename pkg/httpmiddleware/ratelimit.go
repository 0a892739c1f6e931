package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is a Limiter verdict for one request.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, RemoteIP is used.
	KeyFunc func(*http.Request) string
	// Now overrides time.Now.
	Now func() time.Time
	// Limiter holds the counters. If nil, an in-process SlidingWindow is used.
	Limiter Limiter
}

// RateLimit returns a middleware that enforces a per-key request limit. When
// the limit is exceeded it responds with 429 Too Many Requests and a JSON
// body. Every response includes X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers. Limiter failures let the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = RemoteIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := cfg.Now()
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(d.ResetAt.Sub(now), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// window tracks request counts across two adjacent fixed windows.
type window struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// SlidingWindow is an in-process Limiter approximating a sliding window by
// weighting the previous fixed window by its overlap with the current one.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*SlidingWindow)(nil)

// NewSlidingWindow creates a SlidingWindow allowing limit requests per window.
func NewSlidingWindow(limit int, size time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: size, windows: make(map[string]*window)}
}

// Allow counts a request for key at now.
func (s *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{currStart: now}
		s.windows[key] = w
	}
	if now.Sub(w.currStart) >= s.window {
		w.prevCount, w.prevStart = w.currCount, w.currStart
		w.currCount = 0
		w.currStart = now.Truncate(s.window)
		if now.Sub(w.prevStart) >= 2*s.window {
			w.prevCount = 0
		}
	}

	overlap := max(1-now.Sub(w.currStart).Seconds()/s.window.Seconds(), 0)
	count := w.prevCount*overlap + w.currCount
	d := Decision{ResetAt: w.currStart.Add(s.window)}
	if count >= float64(s.limit) {
		return d, nil
	}

	w.currCount++
	d.Allowed = true
	d.Remaining = max(int(float64(s.limit)-count-1), 0)
	return d, nil
}

// Cleanup drops keys whose windows have fully expired.
func (s *SlidingWindow) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, w := range s.windows {
		if now.Sub(w.currStart) >= 2*s.window {
			delete(s.windows, key)
			n++
		}
	}
	return n
}

// Run calls Cleanup every two windows until ctx is cancelled.
func (s *SlidingWindow) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Cleanup(now)
		}
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the host of
// RemoteAddr, in that order. Only use it behind a proxy that overwrites those
// headers; clients can set them freely.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return RemoteIP(r)
}

// RemoteIP returns the host of the connection's RemoteAddr, ignoring every
// client-supplied header.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
