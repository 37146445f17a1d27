package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v3"

	"github.com/bizpulse/bizpulse/cmd/bizctl/ops"
	"github.com/bizpulse/bizpulse/internal/app"
	"github.com/bizpulse/bizpulse/internal/kpi"
	"github.com/bizpulse/bizpulse/internal/platform/cache"
	"github.com/bizpulse/bizpulse/internal/platform/db"
	"github.com/bizpulse/bizpulse/jobs"
)

var cacheNamespaces = []string{"kpi", "transactions", "activities"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "bizctl",
		Usage: "BizPulse operations: schema migrations, KPI imports, cache and job control",
		Commands: []*cli.Command{
			migrateCommand(),
			valuesCommand(),
			cacheCommand(),
			jobsCommand(),
		},
	}

	if err := root.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "bizctl:", err)
		os.Exit(1)
	}
}

func loadConfig() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, app.NewLogger(cfg), nil
}

func withMigrator(fn func(*db.Migrator) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := db.NewMigrator(cfg.PGDSN)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return fn(m)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back the embedded schema migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withMigrator(func(m *db.Migrator) error {
						if err := m.Up(); err != nil {
							return err
						}
						fmt.Println("migrations applied")
						return nil
					})
				},
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withMigrator(func(m *db.Migrator) error {
						if err := m.Down(int(c.Int64("steps"))); err != nil {
							return err
						}
						fmt.Printf("rolled back %d migration(s)\n", c.Int64("steps"))
						return nil
					})
				},
			},
			{
				Name:  "version",
				Usage: "Print the applied schema version",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withMigrator(func(m *db.Migrator) error {
						v, dirty, err := m.Version()
						if err != nil {
							return err
						}
						fmt.Printf("version %d dirty=%t\n", v, dirty)
						return nil
					})
				},
			},
		},
	}
}

func valuesCommand() *cli.Command {
	return &cli.Command{
		Name:  "values",
		Usage: "KPI value maintenance",
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Upsert KPI values from a CSV or XLSX file (columns date,android,ios,net,data_source,note)",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "kpi-id", Required: true, Usage: "KPI the rows belong to"},
					&cli.StringFlag{Name: "file", Required: true, Usage: "path to the .csv or .xlsx file"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, logger, err := loadConfig()
					if err != nil {
						return err
					}
					pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
					if err != nil {
						return err
					}
					defer pool.Close()

					var versioned *cache.Versioned
					if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
						logger.Warn("redis unavailable, cached dashboards will expire by ttl", slog.Any("error", err))
					} else {
						defer func() { _ = client.Close() }()
						versioned = cache.NewVersioned(client, "kpi", cfg.CacheTTL)
					}

					svc := kpi.NewService(kpi.NewRepository(pool), versioned, logger)
					res, err := ops.ImportFile(ctx, svc, c.Int64("kpi-id"), c.String("file"))
					if err != nil {
						return err
					}
					ops.PrintResult(os.Stdout, res)
					if res.Failed > 0 {
						return cli.Exit("", 2)
					}
					return nil
				},
			},
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Cache control",
		Commands: []*cli.Command{
			{
				Name:  "bump",
				Usage: "Invalidate cache namespaces (kpi, transactions, activities); all when none given",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "namespace", Usage: "namespace to invalidate, repeatable"},
					&cli.BoolFlag{Name: "async", Usage: "enqueue the bump on the worker instead"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, logger, err := loadConfig()
					if err != nil {
						return err
					}
					names := c.StringSlice("namespace")
					if c.Bool("async") {
						client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
						defer func() { _ = client.Close() }()
						info, err := client.EnqueueCacheBump(ctx, names...)
						if err != nil {
							return err
						}
						fmt.Printf("enqueued %s (%s)\n", info.ID, info.Type)
						return nil
					}
					redisClient, err := cache.New(ctx, cfg.RedisAddr)
					if err != nil {
						return err
					}
					defer func() { _ = redisClient.Close() }()
					caches := make(map[string]jobs.Bumper, len(cacheNamespaces))
					for _, ns := range cacheNamespaces {
						caches[ns] = cache.NewVersioned(redisClient, ns, cfg.CacheTTL)
					}
					if err := jobs.NewCacheBumpJob(caches, logger, nil).Bump(ctx, names...); err != nil {
						return err
					}
					fmt.Println("cache invalidated")
					return nil
				},
			},
		},
	}
}

func jobsCommand() *cli.Command {
	withJobs := func(fn func(*ops.JobsCLI) error) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client := asynq.NewClient(opt)
		inspector := asynq.NewInspector(opt)
		defer func() {
			_ = inspector.Close()
			_ = client.Close()
		}()
		return fn(ops.NewJobsCLI(client, inspector))
	}
	return &cli.Command{
		Name:  "jobs",
		Usage: "Background job control",
		Commands: []*cli.Command{
			{
				Name:      "trigger",
				Usage:     "Enqueue a job now (dashboard:warmup, cache:bump)",
				ArgsUsage: "<task-type>",
				Action: func(ctx context.Context, c *cli.Command) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("task type required", 1)
					}
					return withJobs(func(j *ops.JobsCLI) error {
						info, err := j.Trigger(ctx, name)
						if err != nil {
							return err
						}
						fmt.Printf("enqueued %s (%s)\n", info.ID, info.Type)
						return nil
					})
				},
			},
			{
				Name:  "stats",
				Usage: "Show default queue depth",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withJobs(func(j *ops.JobsCLI) error {
						s, err := j.InspectQueue()
						if err != nil {
							return err
						}
						fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
							s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
						return nil
					})
				},
			},
		},
	}
}
