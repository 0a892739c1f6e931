//go:build integration

package storefront

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
	"github.com/xenking/oolio-storefront/internal/domain/kv"
	"github.com/xenking/oolio-storefront/internal/storage/postgres"
	"github.com/xenking/oolio-storefront/internal/storage/redis"
)

var (
	redisURL    string
	databaseURL string
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("testdata/docker-compose.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}
	defer func() {
		if err := dc.Down(context.Background(), tc.RemoveOrphans(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	err = dc.
		WaitForService("redis", wait.ForListeningPort("6379/tcp")).
		WaitForService("postgres", wait.ForLog("database system is ready to accept connections").WithOccurrence(2)).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Printf("compose up: %v", err)
		return 1
	}

	redisC, err := dc.ServiceContainer(ctx, "redis")
	if err != nil {
		log.Printf("redis container: %v", err)
		return 1
	}
	redisHost, err := redisC.Host(ctx)
	if err != nil {
		log.Printf("redis host: %v", err)
		return 1
	}
	redisPort, err := redisC.MappedPort(ctx, "6379/tcp")
	if err != nil {
		log.Printf("redis port: %v", err)
		return 1
	}
	redisURL = fmt.Sprintf("redis://%s:%s/0", redisHost, redisPort.Port())

	pgC, err := dc.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Printf("postgres container: %v", err)
		return 1
	}
	pgHost, err := pgC.Host(ctx)
	if err != nil {
		log.Printf("postgres host: %v", err)
		return 1
	}
	pgPort, err := pgC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Printf("postgres port: %v", err)
		return 1
	}
	databaseURL = fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", pgHost, pgPort.Port())

	return m.Run()
}

func openRedis(t *testing.T) kv.Store {
	t.Helper()
	s, err := redis.New(context.Background(), redis.Config{URL: redisURL, TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openPostgres(t *testing.T) kv.Store {
	t.Helper()
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return postgres.NewStore(pool)
}

func TestPersistence_SessionSurvivesRestart(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) kv.Store
	}{
		{"redis", openRedis},
		{"postgres", openPostgres},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			session := fmt.Sprintf("it-%d", time.Now().UnixNano())
			deps := Deps{Lookup: &mockLookup{}, Checkout: &mockCheckout{}}

			c, err := NewRegistry(store, NewFactory(deps)).Get(ctx, session)
			require.NoError(t, err)
			_, err = c.AddItem(ctx, testProduct("p1", "20.00"), "Apple", "15")
			require.NoError(t, err)
			_, err = c.AddItem(ctx, testProduct("p1", "20.00"), "Apple", "15")
			require.NoError(t, err)
			v, err := c.ApplyCoupon(ctx, "SAVE10")
			require.NoError(t, err)
			require.True(t, d("36").Equal(v.Total))

			// A fresh registry over the same storage restores cart and coupon.
			restored, err := NewRegistry(store, NewFactory(deps)).Get(ctx, session)
			require.NoError(t, err)
			v = restored.View()
			assert.Equal(t, 2, v.Cart.ItemCount)
			assert.Equal(t, "SAVE10", v.Coupon.Code)
			assert.True(t, d("36").Equal(v.Total))

			_, err = restored.Checkout(ctx, "nonce")
			require.NoError(t, err)
			_, err = store.Get(ctx, Namespace(session)+coupon.ValidCodeKey)
			assert.ErrorIs(t, err, kv.ErrNotFound)

			empty, err := NewRegistry(store, NewFactory(deps)).Get(ctx, session)
			require.NoError(t, err)
			assert.True(t, empty.View().Cart.IsEmpty())
		})
	}
}

func TestPersistence_CouponBlockSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := openRedis(t)
	session := fmt.Sprintf("it-block-%d", time.Now().UnixNano())
	deps := Deps{Lookup: &mockLookup{}, MaxAttempts: 2, BlockDuration: time.Minute}

	c, err := NewRegistry(store, NewFactory(deps)).Get(ctx, session)
	require.NoError(t, err)
	for range 2 {
		_, err = c.ApplyCoupon(ctx, "BOGUS")
		require.ErrorIs(t, err, coupon.ErrInvalidOrExpired)
	}

	restored, err := NewRegistry(store, NewFactory(deps)).Get(ctx, session)
	require.NoError(t, err)
	_, err = restored.ApplyCoupon(ctx, "SAVE10")
	assert.ErrorIs(t, err, coupon.ErrRateLimited)
}

func TestPersistence_PaidOrderJournal(t *testing.T) {
	ctx := context.Background()
	store, ok := openPostgres(t).(*postgres.Store)
	require.True(t, ok)
	j := store.Journal()

	before, beforeTotal, err := j.Unsubmitted(ctx)
	require.NoError(t, err)

	o := &checkout.Order{
		ID:        fmt.Sprintf("order-%d", time.Now().UnixNano()),
		PaymentID: "pay_it",
		Subtotal:  decimal.RequireFromString("60.50"),
		Tax:       decimal.RequireFromString("4.84"),
		Discount:  decimal.RequireFromString("6.05"),
		Total:     decimal.RequireFromString("59.29"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, j.RecordPayment(ctx, o))
	require.NoError(t, j.RecordPayment(ctx, o), "recording twice is a no-op")

	n, total, err := j.Unsubmitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, n)
	assert.True(t, beforeTotal.Add(o.Total).Equal(total), "total %s", total)

	require.NoError(t, j.MarkSubmitted(ctx, o.ID))
	n, total, err = j.Unsubmitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, n)
	assert.True(t, beforeTotal.Equal(total))
}
