package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/billflow/backend/docs"
	billingapp "github.com/billflow/backend/internal/application/billing"
	eventapp "github.com/billflow/backend/internal/application/event"
	"github.com/billflow/backend/internal/application/maintenance"
	pricingapp "github.com/billflow/backend/internal/application/pricing"
	usageapp "github.com/billflow/backend/internal/application/usage"
	walletapp "github.com/billflow/backend/internal/application/wallet"
	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/billflow/backend/internal/infrastructure/cache"
	"github.com/billflow/backend/internal/infrastructure/config"
	"github.com/billflow/backend/internal/infrastructure/event"
	"github.com/billflow/backend/internal/infrastructure/lock"
	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/billflow/backend/internal/infrastructure/persistence"
	"github.com/billflow/backend/internal/infrastructure/scheduler"
	"github.com/billflow/backend/internal/infrastructure/storage"
	"github.com/billflow/backend/internal/infrastructure/telemetry"
	"github.com/billflow/backend/internal/interfaces/http/handler"
	"github.com/billflow/backend/internal/interfaces/http/middleware"
	"github.com/billflow/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//	@title			Billflow API
//	@version		1.0
//	@description	Usage metering, billing and wallet settlement API

//	@host		localhost:8080
//	@BasePath	/api/v1

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}

	// OTLP log export is teed into the zap logger when enabled
	logsCfg := telemetryCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	logProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg)
	if err != nil {
		panic("Failed to initialize log exporter: " + err.Error())
	}

	var extraCores []zapcore.Core
	if logsCfg.Enabled {
		level, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			level = zapcore.InfoLevel
		}
		extraCores = append(extraCores, logProvider.Core(level))
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, extraCores...)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting billing backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", cfg.App.Version),
	)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetryCfg, cfg.Telemetry.MetricsInterval, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Meter provider shutdown failed", zap.Error(err))
		}
		if err := logProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("Log provider shutdown failed", zap.Error(err))
		}
	}()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		ProfileTypes:      cfg.Profiling.ProfileTypes,
	}, log)
	if err != nil {
		log.Warn("Continuous profiling disabled", zap.Error(err))
	} else {
		if cfg.Profiling.SpanProfiles && profiler.IsRunning() {
			tracerProvider.EnableSpanProfiles()
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel, logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:           "postgresql",
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		LogQueryVariables:  cfg.Telemetry.DBLogFullSQL,
	}, log); err != nil {
		log.Warn("Database tracing disabled", zap.Error(err))
	}

	healthChecks := map[string]handler.HealthCheck{
		"database": db.Ping,
	}

	// Redis backs the price cache, the idempotency store and the settlement lock
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// Initialize event serializer and register all event types
	eventSerializer := event.NewEventSerializer()
	event.RegisterAllEvents(eventSerializer)

	// Events raised inside a transaction are written to the outbox in the same commit
	outboxPublisher := event.NewOutboxPublisher(eventSerializer).WithMaxRetries(cfg.Event.MaxRetries)
	txScope := persistence.NewGormTransactionScope(db.DB, outboxPublisher)

	// Initialize repositories
	usageRepo := persistence.NewGormUsageEventRepository(db.DB)
	billingRepo := persistence.NewGormBillingRecordRepository(db.DB)
	walletRepo := persistence.NewGormWalletRepository(db.DB)
	walletTxRepo := persistence.NewGormWalletTransactionRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	var productRepo pricing.ProductRepository = persistence.NewGormProductRepository(db.DB)
	if cfg.Pricing.CacheEnabled && redisClient != nil {
		productRepo = cache.NewCachedProductRepository(productRepo, redisClient, cfg.Pricing.CacheTTL, log)
		log.Info("Product cache enabled", zap.Duration("ttl", cfg.Pricing.CacheTTL))
	}

	// Metrics: OTel instruments for the pipeline, Prometheus for the scrape endpoint
	settlementMetrics := telemetry.NewSettlementMetrics(cfg.Telemetry.ServiceName)
	if err := settlementMetrics.Register(db.StatsCollector(cfg.Database.DBName)); err != nil {
		log.Fatal("Failed to register database pool metrics", zap.Error(err))
	}
	pipelineMetrics, err := telemetry.NewPipelineMetrics(meterProvider.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		log.Fatal("Failed to create pipeline metrics", zap.Error(err))
	}
	pipelineMetrics.MirrorSettlements(settlementMetrics)

	var lockClient redis.UniversalClient
	if redisClient != nil {
		lockClient = redisClient
	}
	locker, err := lock.New(lock.Options{
		Driver:   cfg.Wallet.LockDriver,
		TTL:      cfg.Wallet.LockTTL,
		Retries:  cfg.Wallet.LockRetries,
		Client:   lockClient,
		Recorder: settlementMetrics,
		Logger:   log,
	})
	if err != nil {
		log.Fatal("Failed to create settlement lock", zap.Error(err))
	}

	// Initialize application services
	pricingService := pricingapp.NewService(productRepo, subscriptionRepo)
	recorder := usageapp.NewRecorder(txScope, usageRepo, log, usageapp.WithMetrics(pipelineMetrics))
	calculator := billingapp.NewCalculator(txScope, billingRepo, pricingService, billingapp.CalculatorConfig{
		PricingTimeout:   cfg.Billing.PricingTimeout,
		DefaultTokenRate: cfg.Billing.DefaultTokenRate,
		MaxAttempts:      cfg.Billing.MaxAttempts,
	}, log, billingapp.WithMetrics(pipelineMetrics))
	settler := walletapp.NewSettler(txScope, walletapp.SettlementConfig{
		AccountingUnit: wallet.AccountingUnit(cfg.Wallet.AccountingUnit),
		DebitTimeout:   cfg.Wallet.DebitTimeout,
	}, log, walletapp.WithMetrics(pipelineMetrics), walletapp.WithLocker(locker))
	walletService := walletapp.NewService(txScope, walletRepo, walletTxRepo, billingRepo, settler, log)
	billingQueries := billingapp.NewQueryService(billingRepo)
	outboxService := eventapp.NewOutboxService(outboxRepo, log)

	// Event bus and consumers
	bus, err := newEventBus(ctx, cfg.Bus, eventSerializer, log, healthChecks)
	if err != nil {
		log.Fatal("Failed to create event bus", zap.String("driver", cfg.Bus.Driver), zap.Error(err))
	}

	var idemClient redis.Cmdable
	if redisClient != nil {
		idemClient = redisClient
	}
	idempotencyStore, err := cache.NewIdempotencyStore(cfg.Event.IdempotencyStore, idemClient, log)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	idempotencyCfg := event.WithIdempotencyConfig(shared.IdempotencyConfig{
		TTL:     cfg.Event.IdempotencyTTL,
		Enabled: true,
	})
	idempotencyMetrics := &event.IdempotencyMetrics{}
	for _, h := range []shared.EventHandler{calculator, settler} {
		bus.Subscribe(event.NewIdempotentHandler(h, idempotencyStore, log, idempotencyCfg, event.WithIdempotencyMetrics(idempotencyMetrics)))
	}

	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	var outboxProcessor *event.OutboxProcessor
	if cfg.Event.ProcessorEnabled {
		outboxProcessor = event.NewOutboxProcessor(outboxRepo, bus, eventSerializer, event.OutboxProcessorConfig{
			BatchSize:        cfg.Event.BatchSize,
			PollInterval:     cfg.Event.PollInterval,
			CleanupEnabled:   cfg.Event.CleanupEnabled,
			CleanupRetention: cfg.Event.CleanupRetention,
			CleanupInterval:  cfg.Event.CleanupInterval,
			ProcessingLease:  cfg.Event.ProcessingLease,
		}, log)
		if err := outboxProcessor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		log.Info("Outbox processor started",
			zap.Int("batch_size", cfg.Event.BatchSize),
			zap.Duration("poll_interval", cfg.Event.PollInterval),
		)
	}

	// Scheduled maintenance
	sched := scheduler.New(log)
	if err := sched.Register("@every 30s", maintenance.NewOutboxGauge(outboxRepo, settlementMetrics), 10*time.Second); err != nil {
		log.Fatal("Failed to register outbox gauge", zap.Error(err))
	}
	if cfg.Retention.Enabled {
		archiveStore, err := newArchiveStorage(ctx, cfg.Storage, log)
		if err != nil {
			log.Fatal("Failed to initialize archive storage", zap.Error(err))
		}
		archiver := maintenance.NewUsageArchiver(usageRepo, archiveStore, maintenance.ArchiverConfig{
			Retention: cfg.Retention.UsageRetention,
			BatchSize: cfg.Retention.ArchiveBatchSize,
		}, settlementMetrics, log)
		if err := sched.Register(cfg.Retention.ArchiveSchedule, archiver, 30*time.Minute); err != nil {
			log.Fatal("Failed to register usage archiver", zap.Error(err))
		}
		sweep := maintenance.NewPendingSweep(billingRepo, cfg.Retention.PendingThreshold, settlementMetrics, log)
		if err := sched.Register(cfg.Retention.SweepSchedule, sweep, time.Minute); err != nil {
			log.Fatal("Failed to register pending sweep", zap.Error(err))
		}
	}
	sched.Start(ctx)

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	systemHandler := handler.NewSystemHandler(cfg.App.Name, cfg.App.Version, healthChecks)
	engine, err := router.NewEngine(router.Options{
		ServiceName:    cfg.Telemetry.ServiceName,
		Logger:         log,
		TracingEnabled: cfg.Telemetry.Enabled,
		Meter:          meterProvider.Meter(cfg.Telemetry.ServiceName),
		CORSOrigins:    cfg.HTTP.CORSAllowOrigins,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Health:         systemHandler.Health,
		Metrics:        settlementMetrics.Handler(),
		Swagger: middleware.SwaggerConfig{
			Enabled:    cfg.HTTP.SwaggerEnabled,
			AllowedIPs: cfg.HTTP.SwaggerAllowedIPs,
		},
	})
	if err != nil {
		log.Fatal("Failed to create HTTP engine", zap.Error(err))
	}

	router.NewRouter(engine).
		Register(handler.NewUsageHandler(recorder)).
		Register(handler.NewPricingHandler(pricingService)).
		Register(handler.NewBillingHandler(billingQueries, walletService)).
		Register(handler.NewWalletHandler(walletService)).
		Register(handler.NewOutboxHandler(outboxService)).
		Register(systemHandler).
		Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if outboxProcessor != nil {
		if err := outboxProcessor.Stop(shutdownCtx); err != nil {
			log.Warn("Outbox processor did not stop cleanly", zap.Error(err))
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not stop cleanly", zap.Error(err))
	}

	stats := idempotencyMetrics.Stats()
	log.Info("Server exited gracefully",
		zap.Int64("events_processed", stats.EventsProcessed),
		zap.Int64("events_duplicate", stats.EventsDuplicate),
		zap.Int64("events_failed", stats.EventsFailed),
	)
}

// newEventBus builds the configured bus. The NATS bus adds itself to checks.
func newEventBus(
	ctx context.Context,
	cfg config.BusConfig,
	serializer *event.EventSerializer,
	log *zap.Logger,
	checks map[string]handler.HealthCheck,
) (shared.EventBus, error) {
	if cfg.Driver != "nats" {
		return event.NewInMemoryEventBus(log), nil
	}

	natsCfg := event.DefaultNATSBusConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Token = cfg.NATSToken
	if cfg.Stream != "" {
		natsCfg.Stream = cfg.Stream
	}
	if cfg.ConsumerPrefix != "" {
		natsCfg.ConsumerPrefix = cfg.ConsumerPrefix
	}
	if cfg.MaxDeliver > 0 {
		natsCfg.MaxDeliver = cfg.MaxDeliver
	}
	if cfg.AckWait > 0 {
		natsCfg.AckWait = cfg.AckWait
	}
	if cfg.DuplicateWindow > 0 {
		natsCfg.DuplicateWindow = cfg.DuplicateWindow
	}

	bus, err := event.NewNATSEventBus(ctx, natsCfg, serializer, log)
	if err != nil {
		return nil, err
	}
	checks["nats"] = bus.Ping
	return bus, nil
}

// newArchiveStorage returns S3 storage when configured, otherwise an in-process store
func newArchiveStorage(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (storage.ObjectStorage, error) {
	if !cfg.Enabled {
		log.Warn("Object storage disabled, usage archives are kept in memory only")
		return storage.NewMemoryObjectStorage(), nil
	}
	s3, err := storage.NewS3ObjectStorage(ctx, &cfg, storage.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	log.Info("Usage archives stored in S3", zap.String("bucket", s3.Bucket()))
	return s3, nil
}
