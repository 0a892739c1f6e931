// Package memory provides an in-process kv.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/oolio-storefront/internal/domain/kv"
)

var _ kv.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTTL expires keys ttl after their last write. Zero keeps them.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type item struct {
	value   string
	expires time.Time // zero never expires
}

// Store is a mutex-guarded map. The zero value is not usable; use New.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]item
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{items: make(map[string]item), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the value for key or kv.ErrNotFound. Expired keys are not
// found.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || it.expired(now) {
		return "", kv.ErrNotFound
	}
	return it.value, nil
}

// Set stores value under key and restarts its TTL.
func (s *Store) Set(_ context.Context, key, value string) error {
	it := item{value: value}
	if s.ttl > 0 {
		it.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = it
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// Len reports the number of stored keys, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

// Sweep drops keys expired at now and returns how many were dropped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
			n++
		}
	}
	return n
}

// Run sweeps expired keys every TTL until ctx is cancelled. Without a TTL it
// only waits for ctx.
func (s *Store) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

func (it item) expired(now time.Time) bool {
	return !it.expires.IsZero() && !now.Before(it.expires)
}
