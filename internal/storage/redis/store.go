// Package redis provides a kv.Store backed by Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/oolio-storefront/internal/domain/kv"
)

const keyNamespace = "storefront"

var _ kv.Store = (*Store)(nil)

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Config holds the Redis connection settings.
type Config struct {
	URL string
	// TTL is applied to every write. Zero keeps keys until deleted.
	TTL time.Duration
}

// Store implements kv.Store on top of a Redis client. Keys are namespaced
// with "storefront:".
type Store struct {
	store cmdable
	raw   *redis.Client
	ttl   time.Duration
}

// New parses cfg.URL, connects, and verifies connectivity with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Store{store: raw, raw: raw, ttl: cfg.TTL}, nil
}

func newWithCmdable(c cmdable, ttl time.Duration) *Store {
	return &Store{store: c, ttl: ttl}
}

func (s *Store) key(k string) string {
	return fmt.Sprintf("%s:%s", keyNamespace, k)
}

// Get returns the value stored at key, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.store.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", kv.ErrNotFound
		}
		return "", errors.Wrapf(err, "get %q", key)
	}
	return v, nil
}

// Set stores value at key with the configured TTL.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.store.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.store.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "delete %q", key)
	}
	return nil
}

// Ping checks connectivity; used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.store.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}
