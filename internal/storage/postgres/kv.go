package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/oolio-storefront/internal/domain/kv"
)

const (
	getItemSQL = `SELECT value FROM kv_items WHERE key = $1`

	setItemSQL = `INSERT INTO kv_items (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	deleteItemSQL = `DELETE FROM kv_items WHERE key = $1`
)

var _ kv.Store = (*Store)(nil)

// querier is the subset of pgxpool.Pool used by Store.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements kv.Store on the kv_items table.
type Store struct {
	q querier
}

// NewStore returns a Store that uses the given pool (or transaction).
func NewStore(q querier) *Store {
	return &Store{q: q}
}

// Journal returns a paid order Journal sharing the Store's connection.
func (s *Store) Journal() *Journal {
	return NewJournal(s.q)
}

// Get returns the value stored under key, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.q.QueryRow(ctx, getItemSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kv.ErrNotFound
		}
		return "", errors.Wrapf(err, "get item %q", key)
	}
	return value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.q.Exec(ctx, setItemSQL, key, value); err != nil {
		return errors.Wrapf(err, "set item %q", key)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.q.Exec(ctx, deleteItemSQL, key); err != nil {
		return errors.Wrapf(err, "delete item %q", key)
	}
	return nil
}
