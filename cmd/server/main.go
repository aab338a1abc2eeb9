package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kevin07696/payout-service/internal/adapters/lock"
	"github.com/kevin07696/payout-service/internal/adapters/notify"
	"github.com/kevin07696/payout-service/internal/adapters/postgres"
	"github.com/kevin07696/payout-service/internal/adapters/secrets"
	"github.com/kevin07696/payout-service/internal/adapters/wise"
	"github.com/kevin07696/payout-service/internal/config"
	"github.com/kevin07696/payout-service/internal/db"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	cronHandler "github.com/kevin07696/payout-service/internal/handlers/cron"
	obligationHandler "github.com/kevin07696/payout-service/internal/handlers/obligation"
	webhookHandler "github.com/kevin07696/payout-service/internal/handlers/webhook"
	"github.com/kevin07696/payout-service/internal/services/notification"
	obligationService "github.com/kevin07696/payout-service/internal/services/obligation"
	"github.com/kevin07696/payout-service/internal/services/payout"
	"github.com/kevin07696/payout-service/internal/services/reconcile"
	"github.com/kevin07696/payout-service/internal/services/settlement"
	"github.com/kevin07696/payout-service/pkg/crypto"
	httpclient "github.com/kevin07696/payout-service/pkg/http"
	"github.com/kevin07696/payout-service/pkg/logging"
	"github.com/kevin07696/payout-service/pkg/middleware"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/kevin07696/payout-service/pkg/resilience"
	"github.com/kevin07696/payout-service/pkg/shutdown"
)

func main() {
	runMigrations := flag.Bool("migrate", false, "apply pending migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("invalid configuration: %v", err))
	}

	zapLogger, err := logging.New(cfg.Server.Environment, cfg.Logger.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := logging.NewZapLogger(zapLogger)

	logger.Info("starting payout service",
		ports.String("environment", cfg.Server.Environment),
		ports.Bool("reset_election_on_zero_units", cfg.Settlement.ResetElectionOnZeroUnits))

	ctx := context.Background()

	if *runMigrations {
		if err := db.Migrate(cfg.Database.ConnectionString(), db.DirectionUp); err != nil {
			zapLogger.Fatal("migration failed", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		zapLogger.Fatal("failed to initialize database", zap.Error(err))
	}
	logger.Info("database connection established", ports.String("database", cfg.Database.Database))

	shutdownMgr := shutdown.NewManager(logger, 30*time.Second)
	shutdownMgr.RegisterNoErr("database", pool.Close)

	deps, err := initDependencies(ctx, cfg, postgres.NewDBExecutor(pool), logger)
	if err != nil {
		zapLogger.Fatal("failed to initialize dependencies", zap.Error(err))
	}
	if deps.redis != nil {
		shutdownMgr.RegisterCloser("redis", deps.redis)
	}

	checks := map[string]observability.PingFunc{"database": deps.db.Ping}
	if deps.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.redis.Ping(ctx).Err() }
	}
	healthChecker := observability.NewHealthChecker(checks)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)
	shutdownMgr.Register("metrics_server", func(ctx context.Context) error {
		return observability.ShutdownMetricsServer(ctx, metricsServer)
	})

	grpcServer, healthServer := startHealthServer(cfg.Server.GRPCPort, zapLogger)
	shutdownMgr.RegisterNoErr("grpc_health", func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	worker := notification.NewWorker(deps.dispatcher, cfg.Notification.PollInterval, logger)
	go worker.Run(workerCtx)
	shutdownMgr.Register("notification_worker", func(ctx context.Context) error {
		stopWorker()
		select {
		case <-worker.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	shutdownMgr.RegisterNoErr("rate_limiter", rateLimiter.Shutdown)

	inFlight := shutdown.NewInFlightTracker("http", logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           newRouter(deps, rateLimiter, inFlight, cfg.IsProduction()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownMgr.Register("http_server", func(ctx context.Context) error {
		if err := httpServer.Shutdown(ctx); err != nil {
			return err
		}
		return inFlight.Shutdown(ctx)
	})

	go func() {
		logger.Info("HTTP server listening", ports.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("failed to serve HTTP", zap.Error(err))
		}
	}()

	shutdownMgr.WaitForShutdown()
}

// Dependencies holds the wired services and handlers
type Dependencies struct {
	db                *postgres.DBExecutor
	redis             *redis.Client
	dispatcher        *notification.Dispatcher
	transferHandler   *webhookHandler.TransferHandler
	settlementHandler *cronHandler.SettlementHandler
	obligationHandler *obligationHandler.Handler
}

func initDependencies(ctx context.Context, cfg *config.Config, dbExec *postgres.DBExecutor, logger ports.Logger) (*Dependencies, error) {
	deps := &Dependencies{db: dbExec}
	timeouts := resilience.DefaultTimeoutConfig()

	obligations := postgres.NewObligationRepository(dbExec)
	batches := postgres.NewBatchRepository(dbExec)
	payments := postgres.NewPaymentRepository(dbExec)
	outbox := postgres.NewNotificationOutbox(dbExec)
	directory := postgres.NewDirectoryRepository(dbExec)

	var locker ports.Locker
	retry := lock.RetryPolicy{
		Backoff:    resilience.LockRetryBackoff(cfg.Lock.RetryBase, cfg.Lock.RetryMax, cfg.Lock.RetryJitter),
		MaxRetries: cfg.Lock.MaxRetries,
	}
	if cfg.Lock.RedisAddr != "" {
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		locker = lock.NewRedisLocker(deps.redis, cfg.Lock.TTL, logger, lock.WithRetryPolicy(retry))
		logger.Info("using redis locker", ports.String("addr", cfg.Lock.RedisAddr))
	} else {
		locker = lock.NewMemoryLocker(retry)
		logger.Warn("REDIS_ADDR not set, using in-process locker; run a single instance")
	}

	creds, err := secrets.New(ctx, cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("init credential store: %w", err)
	}

	provider := wise.NewClient(wise.Config{
		BaseURL:   cfg.Provider.BaseURL,
		ProfileID: cfg.Provider.ProfileID,
		TokenPath: cfg.Provider.TokenPath,
		Timeout:   cfg.Provider.Timeout,
	}, httpclient.NewHTTPClient(httpclient.ProviderClientConfig(), cfg.Provider.Timeout), creds, logger)

	var notifier ports.Notifier
	if cfg.Notification.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(
			cfg.Notification.WebhookURL,
			cfg.Notification.SigningSecret,
			httpclient.NewHTTPClient(httpclient.NotificationClientConfig(), 10*time.Second),
			logger,
		)
	} else {
		logger.Warn("NOTIFICATION_WEBHOOK_URL not set, notifications are only logged")
		notifier = notify.NewLogNotifier(logger)
	}

	publicKey, err := loadWebhookKey(ctx, creds, cfg.Provider.WebhookPublicKeyPath, logger)
	if err != nil {
		return nil, err
	}

	aggregator := settlement.NewAggregator(dbExec, obligations, batches, directory, directory, locker, cfg.Lock.WaitTimeout, logger)
	executor := payout.NewExecutor(dbExec, obligations, batches, payments, outbox, directory, directory, provider, locker, payout.Config{
		SourceCurrency:     cfg.Provider.SourceCurrency,
		PayoutMinimumCents: cfg.Settlement.PayoutMinimumCents,
		LockTimeout:        cfg.Lock.WaitTimeout,
		SweepLimit:         cfg.Settlement.ExecuteSweepLimit,
	}, logger)
	reconciler := reconcile.NewReconciler(dbExec, payments, obligations, batches, outbox, provider, logger)
	deps.dispatcher = notification.NewDispatcher(dbExec, outbox, notifier, notification.Config{
		BatchSize:   cfg.Notification.BatchSize,
		MaxAttempts: cfg.Notification.MaxAttempts,
	}, logger)
	obligationSvc := obligationService.NewService(dbExec, obligations, payments, directory, directory, obligationService.Config{
		FeeSchedule:              cfg.Settlement.FeeSchedule(),
		ResetElectionOnZeroUnits: cfg.Settlement.ResetElectionOnZeroUnits,
	}, logger)

	deps.transferHandler = webhookHandler.NewTransferHandler(reconciler, publicKey, logger)
	deps.settlementHandler = cronHandler.NewSettlementHandler(aggregator, executor, deps.dispatcher, timeouts, logger, cfg.Cron.Secret)
	deps.obligationHandler = obligationHandler.NewHandler(obligationSvc, timeouts, logger, cfg.Server.InternalToken)

	return deps, nil
}

// loadWebhookKey reads the provider's PEM public key from the credential store.
// An empty path disables signature verification.
func loadWebhookKey(ctx context.Context, creds ports.CredentialStore, path string, logger ports.Logger) (*rsa.PublicKey, error) {
	if path == "" {
		logger.Warn("PROVIDER_WEBHOOK_PUBLIC_KEY_PATH not set, webhook signatures are not verified")
		return nil, nil
	}

	pemKey, err := creds.GetSecret(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load webhook public key: %w", err)
	}
	key, err := crypto.ParsePublicKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse webhook public key: %w", err)
	}
	fp, err := crypto.ComputeFingerprint(pemKey)
	if err != nil {
		return nil, fmt.Errorf("fingerprint webhook public key: %w", err)
	}
	logger.Info("webhook signature verification enabled", ports.String("key_fingerprint", fp))
	return key, nil
}

func newRouter(deps *Dependencies, rateLimiter *middleware.RateLimiter, inFlight *shutdown.InFlightTracker, production bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewSecurityHeaders(production).Middleware)
	r.Use(observability.HTTPMetrics)
	r.Use(inFlight.Middleware)

	r.With(rateLimiter.Middleware).Post("/webhooks/transfers", deps.transferHandler.HandleTransferEvent)

	r.Get("/cron/health", deps.settlementHandler.HealthCheck)
	r.Group(func(r chi.Router) {
		r.Use(deps.settlementHandler.Authenticate)
		r.Post("/cron/aggregate", deps.settlementHandler.Aggregate)
		r.Post("/cron/execute", deps.settlementHandler.Execute)
		r.Post("/cron/notifications", deps.settlementHandler.DrainNotifications)
	})

	r.Route("/api/v1/obligations", deps.obligationHandler.Routes)
	r.With(deps.obligationHandler.Authenticate).
		Get("/api/v1/companies/{companyID}/obligations", deps.obligationHandler.ListByCompany)

	return r
}

func startHealthServer(port int, logger *zap.Logger) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatal("failed to listen for gRPC health", zap.Error(err))
	}
	go func() {
		logger.Info("gRPC health server listening", zap.String("address", listener.Addr().String()))
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	return grpcServer, healthServer
}
