package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/bizpulse/bizpulse/internal/activities"
	"github.com/bizpulse/bizpulse/internal/app"
	jobmetrics "github.com/bizpulse/bizpulse/internal/jobs"
	"github.com/bizpulse/bizpulse/internal/kpi"
	"github.com/bizpulse/bizpulse/internal/platform/cache"
	"github.com/bizpulse/bizpulse/internal/platform/db"
	"github.com/bizpulse/bizpulse/internal/transactions"
	"github.com/bizpulse/bizpulse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	kpiCache := cache.NewVersioned(redisClient, "kpi", cfg.CacheTTL)
	txCache := cache.NewVersioned(redisClient, "transactions", cfg.CacheTTL)
	activityCache := cache.NewVersioned(redisClient, "activities", cfg.CacheTTL)

	metrics := jobmetrics.NewMetrics(nil)

	warmup := jobs.NewDashboardWarmupJob(
		kpi.NewService(kpi.NewRepository(pool), kpiCache, logger),
		transactions.NewService(transactions.NewRepository(pool), txCache, logger),
		activities.NewService(activities.NewRepository(pool), activityCache, logger),
		logger,
		metrics,
	)
	bump := jobs.NewCacheBumpJob(map[string]jobs.Bumper{
		"kpi":          kpiCache,
		"transactions": txCache,
		"activities":   activityCache,
	}, logger, metrics)

	warmupTask, err := jobs.NewDashboardWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	nightlyBump, err := jobs.NewCacheBumpTask()
	if err != nil {
		logger.Error("build cache bump task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDashboardWarmup, Handler: warmup.Handle},
			{Type: jobs.TaskCacheBump, Handler: bump.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: nightlyBump, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
