package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-storefront/internal/backend"
	"github.com/xenking/oolio-storefront/internal/codeindex"
	"github.com/xenking/oolio-storefront/internal/domain/checkout"
	"github.com/xenking/oolio-storefront/internal/domain/coupon"
	"github.com/xenking/oolio-storefront/internal/domain/kv"
	"github.com/xenking/oolio-storefront/internal/domain/storefront"
	"github.com/xenking/oolio-storefront/internal/handler"
	"github.com/xenking/oolio-storefront/internal/payment/square"
	"github.com/xenking/oolio-storefront/internal/storage/memory"
	"github.com/xenking/oolio-storefront/internal/storage/postgres"
	"github.com/xenking/oolio-storefront/internal/storage/redis"
	"github.com/xenking/oolio-storefront/pkg/health"
	"github.com/xenking/oolio-storefront/pkg/httpmiddleware"
)

const (
	serviceName     = "storefront"
	maxLiveSessions = 100_000
	memoryKeyTTL    = 24 * time.Hour
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Backend),
	)

	healthSvc := health.New()

	// Session storage.
	store, closeStore, err := openStore(ctx, cfg.Storage, healthSvc)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			lg.Warn("Failed to close storage", zap.Error(err))
		}
	}()

	// External services.
	client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout,
		backend.WithToken(cfg.Backend.Token),
		backend.WithTracerProvider(m.TracerProvider()),
		backend.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}
	gateway, err := square.New(cfg.Square, lg.Named("square"))
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}

	// Domain services.
	checkoutOpts := []checkout.Option{
		checkout.WithTimeout(cfg.Checkout.Timeout),
		checkout.WithCurrency(cfg.Checkout.Currency),
		checkout.WithLogger(lg.Named("checkout")),
	}
	if ps, ok := store.(*postgres.Store); ok {
		journal := ps.Journal()
		n, total, err := journal.Unsubmitted(ctx)
		switch {
		case err != nil:
			lg.Warn("Failed to read paid order journal", zap.Error(err))
		case n > 0:
			lg.Warn("Paid orders not accepted by the backend",
				zap.Int("count", n),
				zap.String("total", total.StringFixed(2)),
			)
		}
		checkoutOpts = append(checkoutOpts, checkout.WithJournal(journal))
	}
	checkoutSvc := checkout.NewService(gateway, client, checkoutOpts...)

	deps := storefront.Deps{
		Lookup:        client,
		Checkout:      checkoutSvc,
		TaxRate:       cfg.TaxRate(),
		Staleness:     cfg.Cart.Staleness,
		MaxAttempts:   cfg.Coupon.MaxAttempts,
		BlockDuration: cfg.Coupon.BlockDuration,
		CouponOptions: []coupon.Option{coupon.WithMeter(m.MeterProvider().Meter(serviceName))},
		Logger:        lg.Named("session"),
	}
	if cfg.Coupon.IndexFile != "" {
		idx, err := codeindex.Load(cfg.Coupon.IndexFile)
		if err != nil {
			return errors.Wrap(err, "load coupon index")
		}
		lg.Info("Loaded coupon index", zap.String("path", cfg.Coupon.IndexFile))
		deps.Prefilter = idx
	}

	registry := storefront.NewRegistry(store, storefront.NewFactory(deps),
		storefront.WithIdleTTL(cfg.Session.IdleTTL),
		storefront.WithRegistryLogger(lg.Named("registry")),
	)

	registerChecks(healthSvc, registry.Len, maxLiveSessions)
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.New(registry, handler.WithSecureCookie(cfg.Session.SecureCookie)).Routes(router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gctx)
	})
	if ms, ok := store.(*memory.Store); ok {
		g.Go(func() error {
			return ms.Run(gctx)
		})
	}

	// Replicas sharing Redis share request counters too.
	var limiter httpmiddleware.Limiter
	if rs, ok := store.(*redis.Store); ok {
		limiter = redis.NewLimiter(rs, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		sw := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error {
			return sw.Run(gctx)
		})
		limiter = sw
	}
	clientKey := httpmiddleware.RemoteIP
	if cfg.RateLimit.TrustForwarded {
		clientKey = httpmiddleware.ClientIP
	}

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Checkout waits for the gateway up to the checkout timeout.
		WriteTimeout:   cfg.Checkout.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.SessionHeader},
				ExposeHeaders:    []string{handler.SessionHeader, "Retry-After", httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: clientKey,
				Limiter: limiter,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// openStore connects the configured session storage and registers its
// readiness check. The returned close func releases the connection.
func openStore(ctx context.Context, cfg StorageConfig, h *health.Health) (kv.Store, func() error, error) {
	switch cfg.Backend {
	case StorageRedis:
		s, err := redis.New(ctx, redis.Config{URL: cfg.RedisURL, TTL: cfg.TTL})
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect redis")
		}
		h.AddReadinessCheck("redis", 5*time.Second, health.PingCheck(s))
		return s, s.Close, nil
	case StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
		return postgres.NewStore(pool), func() error { pool.Close(); return nil }, nil
	default:
		ttl := cfg.TTL
		if ttl <= 0 {
			ttl = memoryKeyTTL
		}
		return memory.New(memory.WithTTL(ttl)), func() error { return nil }, nil
	}
}

// registerChecks adds the process checks. Too many live sessions takes the
// instance out of rotation without failing liveness.
func registerChecks(h *health.Health, sessions func() int, maxSessions int) {
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	h.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second), health.WithSuccessThreshold(2))
	h.AddReadinessCheck("sessions", time.Second, health.GaugeCheck("live sessions", sessions, maxSessions))
}
