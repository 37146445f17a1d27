package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bizpulse/bizpulse/internal/activities"
	activitieshttp "github.com/bizpulse/bizpulse/internal/activities/http"
	"github.com/bizpulse/bizpulse/internal/app"
	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/kpi"
	kpihttp "github.com/bizpulse/bizpulse/internal/kpi/http"
	"github.com/bizpulse/bizpulse/internal/messaging"
	"github.com/bizpulse/bizpulse/internal/messaging/device"
	"github.com/bizpulse/bizpulse/internal/messaging/gateway"
	messaginghttp "github.com/bizpulse/bizpulse/internal/messaging/http"
	"github.com/bizpulse/bizpulse/internal/observability"
	"github.com/bizpulse/bizpulse/internal/platform/cache"
	"github.com/bizpulse/bizpulse/internal/platform/db"
	"github.com/bizpulse/bizpulse/internal/transactions"
	transactionshttp "github.com/bizpulse/bizpulse/internal/transactions/http"
	"github.com/bizpulse/bizpulse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := migrate(cfg.PGDSN); err != nil {
			logger.Error("migrate on start", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema migrations applied")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Redis is optional: without it caching is disabled and the dispatch lock
	// falls back to the in-process one.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	kpiCache := cache.NewVersioned(redisClient, "kpi", cfg.CacheTTL)
	txCache := cache.NewVersioned(redisClient, "transactions", cfg.CacheTTL)
	activityCache := cache.NewVersioned(redisClient, "activities", cfg.CacheTTL)
	for _, c := range []*cache.Versioned{kpiCache, txCache, activityCache} {
		if err := c.ListenForInvalidation(ctx); err != nil {
			logger.Warn("cache invalidation listener", slog.Any("error", err))
		}
	}

	metrics := observability.NewMetrics()
	renderer := export.NewRenderer(export.NewPDFExporter(cfg.GotenbergURL))

	kpiService := kpi.NewService(kpi.NewRepository(dbpool), kpiCache, logger)
	kpiHandler := kpihttp.NewHandler(logger, kpiService, renderer)

	txService := transactions.NewService(transactions.NewRepository(dbpool), txCache, logger)
	txHandler := transactionshttp.NewHandler(logger, txService, renderer)

	activityService := activities.NewService(activities.NewRepository(dbpool), activityCache, logger)
	activityHandler := activitieshttp.NewHandler(logger, activityService, renderer)

	chat, err := chatClient(ctx, cfg, dbpool, logger)
	if err != nil {
		logger.Error("init whatsapp client", slog.Any("error", err))
		os.Exit(1)
	}
	session := messaging.NewSession(chat, logger)
	dispatcher := messaging.NewDispatcher(session, messaging.Options{
		Delay:       cfg.WASendDelay,
		SendTimeout: cfg.WASendTimeout,
	}, logger, messaging.NewMetrics(metrics.Registerer()))
	lock := messaging.NewRedisLocker(redisClient, messaging.DispatchLockKey(cfg.WASession))
	manager := messaging.NewManager(dispatcher, lock, logger)
	messagingHandler := messaginghttp.NewHandler(logger, session, manager)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             metrics,
		Database:            dbpool,
		KPIHandler:          kpiHandler,
		TransactionsHandler: txHandler,
		ActivitiesHandler:   activityHandler,
		MessagingHandler:    messagingHandler,
		JobHandler:          jobHandler,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Synchronous send-bulk handlers only return once their run ends, so runs
	// are cancelled while the server drains.
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Shutdown(shutdownCtx) }()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("whatsapp runs still active at shutdown", slog.Any("error", err))
	}
	if err := <-serverDone; err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}

	if session.State() != messaging.StateDisconnected {
		disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelDisconnect()
		if err := session.Disconnect(disconnectCtx); err != nil {
			logger.Warn("whatsapp disconnect", slog.Any("error", err))
		}
	}
}

func chatClient(ctx context.Context, cfg *app.Config, pool *pgxpool.Pool, logger *slog.Logger) (messaging.ChatClient, error) {
	if cfg.WABackend == app.WABackendGateway {
		return gateway.New(gateway.Config{
			BaseURL: cfg.WAGatewayURL,
			APIKey:  cfg.WAGatewayAPIKey,
			Session: cfg.WASession,
		}), nil
	}
	return device.New(ctx, stdlib.OpenDBFromPool(pool), logger)
}

func migrate(dsn string) error {
	m, err := db.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
