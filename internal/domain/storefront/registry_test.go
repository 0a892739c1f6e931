package storefront

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-storefront/internal/domain/cart"
	"github.com/xenking/oolio-storefront/internal/domain/kv"
	"github.com/xenking/oolio-storefront/internal/storage/memory"
)

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewRegistry(store, NewFactory(Deps{Lookup: &mockLookup{}}))

	a, err := r.Get(ctx, "a")
	require.NoError(t, err)
	b, err := r.Get(ctx, "b")
	require.NoError(t, err)

	_, err = a.AddItem(ctx, testProduct("p1", "5.00"), "Apple", "15")
	require.NoError(t, err)

	assert.Equal(t, 1, a.View().Cart.ItemCount)
	assert.True(t, b.View().Cart.IsEmpty())

	again, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = store.Get(ctx, Namespace("a")+cart.SnapshotKey)
	assert.NoError(t, err)
	_, err = store.Get(ctx, Namespace("b")+cart.SnapshotKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestRegistry_EmptySession(t *testing.T) {
	r := NewRegistry(memory.New(), NewFactory(Deps{Lookup: &mockLookup{}}))
	_, err := r.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySession)
}

func TestRegistry_ConcurrentGetSharesController(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(memory.New(), NewFactory(Deps{Lookup: &mockLookup{}}))

	const n = 16
	got := make([]*Controller, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Get(ctx, "shared")
			assert.NoError(t, err)
			got[i] = c
		}()
	}
	wg.Wait()

	for _, c := range got {
		assert.Same(t, got[0], c)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EvictIdle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := NewRegistry(store, NewFactory(Deps{Lookup: &mockLookup{}}),
		WithIdleTTL(time.Minute),
		WithRegistryClock(clock),
	)

	old, err := r.Get(ctx, "old")
	require.NoError(t, err)
	_, err = old.AddItem(ctx, testProduct("p1", "5.00"), "Apple", "15")
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	_, err = r.Get(ctx, "fresh")
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.Equal(t, 1, r.Evict(now))
	assert.Equal(t, 1, r.Len())

	restored, err := r.Get(ctx, "old")
	require.NoError(t, err)
	assert.NotSame(t, old, restored)
	assert.Equal(t, 1, restored.View().Cart.ItemCount)
}

func TestRegistry_InitFailureNotCached(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(errStore{}, NewFactory(Deps{Lookup: &mockLookup{}}))

	_, err := r.Get(ctx, "s")
	assert.ErrorIs(t, err, errBroken)
	assert.Zero(t, r.Len())
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	r := NewRegistry(memory.New(), NewFactory(Deps{Lookup: &mockLookup{}}), WithIdleTTL(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
