package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kasse/internal"
	"github.com/dukerupert/kasse/internal/checkout"
	"github.com/dukerupert/kasse/internal/crypto"
	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/handler/admin"
	"github.com/dukerupert/kasse/internal/handler/api"
	"github.com/dukerupert/kasse/internal/handler/webhook"
	"github.com/dukerupert/kasse/internal/idempotency"
	"github.com/dukerupert/kasse/internal/jobs"
	"github.com/dukerupert/kasse/internal/middleware"
	"github.com/dukerupert/kasse/internal/notify"
	"github.com/dukerupert/kasse/internal/postgres"
	"github.com/dukerupert/kasse/internal/promotion"
	"github.com/dukerupert/kasse/internal/reconcile"
	"github.com/dukerupert/kasse/internal/refund"
	"github.com/dukerupert/kasse/internal/router"
	"github.com/dukerupert/kasse/internal/routes"
	"github.com/dukerupert/kasse/internal/shipping"
	"github.com/dukerupert/kasse/internal/tax"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, "kasse-server")
	slog.SetDefault(logger)

	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	version, err := internal.RunMigrations(sqlDB, logger)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed", "version", version)

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics("kasse", reg)
	business := telemetry.NewBusinessMetrics("kasse", reg)

	// Payment settings: the encrypted table first, then the static file.
	var (
		sources       gateway.LayeredSettings
		settingsStore *postgres.SettingsStore
	)
	if cfg.EncryptionKey != "" {
		key, err := crypto.DecodeKeyBase64(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			return fmt.Errorf("failed to initialize encryptor: %w", err)
		}
		settingsStore = postgres.NewSettingsStore(pool, enc)
		sources = append(sources, settingsStore)
	} else {
		logger.Warn("ENCRYPTION_KEY not set, stored payment settings disabled")
	}
	if cfg.Gateway.SettingsFile != "" {
		fileSettings, err := gateway.NewFileSettings(cfg.Gateway.SettingsFile)
		if err != nil {
			return fmt.Errorf("failed to load payment settings: %w", err)
		}
		sources = append(sources, fileSettings)
		logger.Info("Payment settings file loaded", "path", cfg.Gateway.SettingsFile)
	}

	registry, err := gateway.NewRegistry(
		gateway.NewStripe(logger),
		gateway.NewWallet(&http.Client{Timeout: cfg.Gateway.Timeout}, logger),
		gateway.NewBankTransfer(),
	)
	if err != nil {
		return fmt.Errorf("failed to register payment gateways: %w", err)
	}
	payments := gateway.NewOrchestrator(registry, sources, gateway.Config{
		Timeout:         cfg.Gateway.Timeout,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerOpenFor:  cfg.Gateway.BreakerOpenFor,
	}, logger, business)
	logger.Info("Payment gateways registered", "providers", registry.Keys())

	shipper, err := newShippingProvider(cfg.Shipping, logger)
	if err != nil {
		return err
	}
	calc, err := newTaxCalculator(cfg.Tax)
	if err != nil {
		return err
	}

	// Notifications
	queue, closeQueue, err := newNotificationQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()
	notifier := notify.NewNotifier(queue, logger, business)

	// Core services
	promotions := promotion.NewEngine(store, logger)
	checkoutService := checkout.NewService(store, promotions, shipper, calc, payments, logger, checkout.WithMetrics(business))
	reconciler := reconcile.NewReconciler(store, payments, notifier, logger, business)
	refunds := refund.NewWorkflow(store, payments, notifier, logger, refund.WithMetrics(business))
	tenants := tenant.NewDBResolver(store)

	// Idempotency keys live in Redis.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	idempotencyStore := idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL, cfg.Redis.LockTTL)

	// ==========================================================================
	// Routes
	// ==========================================================================

	r := router.New(
		middleware.RequestID,
		telemetry.SentryMiddleware(),
		httpMetrics.Middleware,
		router.Logger(logger),
		router.Recovery(logger),
		middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()),
		router.CORS(cfg.CORSOrigins),
		middleware.MaxBodySize(),
		middleware.Timeout(),
		middleware.ResolveTenant(middleware.TenantConfig{
			BaseDomain: cfg.BaseDomain,
			Resolver:   tenants,
			Logger:     logger,
		}),
		middleware.WithRequestLogger(logger),
	)

	limiterCfg := middleware.DefaultRateLimiterConfig()
	limiterCfg.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	limiterCfg.BurstSize = int(cfg.RateLimit.Burst)
	limiter := middleware.NewRateLimiter(limiterCfg)
	defer limiter.Stop()

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		CheckoutHandler: api.NewCheckoutHandler(checkoutService, logger),
		RefundHandler:   api.NewRefundHandler(refunds, logger),
		CheckoutMiddleware: []router.Middleware{
			limiter.Middleware,
			middleware.Idempotency(idempotencyStore),
		},
	})

	adminDeps := routes.AdminDeps{
		RefundHandler: admin.NewRefundHandler(refunds, logger),
		Auth:          middleware.RequireAdminToken(cfg.AdminToken),
	}
	if settingsStore != nil {
		adminDeps.SettingsHandler = admin.NewSettingsHandler(settingsStore, registry.Keys(), logger)
	}
	routes.RegisterAdminRoutes(r, adminDeps)

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		Handler: webhook.NewHandler(reconciler, tenants, logger),
	})
	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": pool,
			"redis":    handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}),
		Metrics: httpMetrics.Handler(),
	})

	// ==========================================================================
	// Background jobs
	// ==========================================================================

	go jobs.Schedule(ctx, jobs.AbandonExpiredCarts(store, cfg.Cart.SweepInterval, logger), logger)

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// newShippingProvider quotes live EasyPost rates when a key is configured and
// falls back to a flat rate.
func newShippingProvider(cfg internal.ShippingConfig, logger *slog.Logger) (shipping.Provider, error) {
	if cfg.EasyPostAPIKey != "" {
		p, err := shipping.NewEasyPostProvider(shipping.EasyPostConfig{
			APIKey: cfg.EasyPostAPIKey,
			Origin: domain.Address{
				FullName:   cfg.OriginName,
				Line1:      cfg.OriginLine1,
				City:       cfg.OriginCity,
				Region:     cfg.OriginRegion,
				PostalCode: cfg.OriginPostal,
				Country:    cfg.OriginCountry,
			},
			Parcel: shipping.Parcel{LengthCm: 30, WidthCm: 20, HeightCm: 15, PackagingGrams: 150},
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize EasyPost: %w", err)
		}
		logger.Info("Shipping provider initialized", "provider", "easypost")
		return p, nil
	}

	amount, err := decimal.NewFromString(cfg.FlatRate)
	if err != nil {
		return nil, fmt.Errorf("invalid SHIPPING_FLAT_RATE: %w", err)
	}
	perItem, err := decimal.NewFromString(cfg.FlatRatePerItem)
	if err != nil {
		return nil, fmt.Errorf("invalid SHIPPING_FLAT_RATE_PER_ITEM: %w", err)
	}
	logger.Info("Shipping provider initialized", "provider", "flat_rate", "amount", amount)
	return shipping.NewFlatRateProvider([]shipping.FlatRate{{
		ServiceName: "Standard Shipping",
		ServiceCode: "standard",
		Amount:      amount,
		PerItem:     perItem,
	}}), nil
}

func newTaxCalculator(cfg internal.TaxConfig) (tax.Calculator, error) {
	rate, err := decimal.NewFromString(cfg.DefaultRate)
	if err != nil {
		return nil, fmt.Errorf("invalid TAX_DEFAULT_RATE: %w", err)
	}
	if rate.IsZero() {
		return tax.NewNoTaxCalculator(), nil
	}
	calc, err := tax.NewPercentageCalculator(rate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tax calculator: %w", err)
	}
	return calc, nil
}

// newNotificationQueue publishes to NATS for the notifier process and mirrors
// onto Kafka when brokers are configured. With neither, notifications are
// only logged.
func newNotificationQueue(cfg *internal.Config, logger *slog.Logger) (notify.Queue, func(), error) {
	var (
		fanout  notify.Fanout
		closers []func()
	)
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("kasse-server"))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connection failed: %w", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })
		fanout = append(fanout, notify.NewNATSQueue(nc, cfg.NATS.SubjectPrefix))
		logger.Info("Notifications publishing to NATS", "prefix", cfg.NATS.SubjectPrefix)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kq := notify.NewKafkaQueue(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		closers = append(closers, func() {
			if err := kq.Close(); err != nil {
				logger.Warn("kafka writer close failed", "error", err)
			}
		})
		fanout = append(fanout, kq)
		logger.Info("Notifications mirrored to Kafka", "topic", cfg.Kafka.Topic)
	}
	if len(fanout) == 0 {
		logger.Warn("No notification queue configured, notifications will only be logged")
		fanout = append(fanout, notify.QueueFunc(func(_ context.Context, n notify.Notification) error {
			logger.Info("notification", "kind", n.Kind, "order_number", n.OrderNumber)
			return nil
		}))
	}

	return fanout, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
