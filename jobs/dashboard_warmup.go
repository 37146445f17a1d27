package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bizpulse/bizpulse/internal/activities"
	jobmetrics "github.com/bizpulse/bizpulse/internal/jobs"
	"github.com/bizpulse/bizpulse/internal/kpi"
	"github.com/bizpulse/bizpulse/internal/transactions"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DefaultWarmupWindows are the trailing day windows the dashboard opens with.
var DefaultWarmupWindows = []int{7, 30, 90}

// KPIDashboard loads the KPI dashboard for a date range.
type KPIDashboard interface {
	Dashboard(ctx context.Context, from, to *time.Time) (kpi.Dashboard, error)
}

// TransactionStats loads the transaction statistics.
type TransactionStats interface {
	Stats(ctx context.Context, f transactions.Filters) (transactions.Stats, error)
}

// ActivityStats loads the activity statistics.
type ActivityStats interface {
	Stats(ctx context.Context, f activities.Filters) (activities.Stats, error)
}

// DashboardWarmupJob fills the versioned caches for the common date windows so
// the first dashboard load after an invalidation is served from redis.
type DashboardWarmupJob struct {
	KPIs         KPIDashboard
	Transactions TransactionStats
	Activities   ActivityStats
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewDashboardWarmupJob wires dependencies for the warmup handler.
func NewDashboardWarmupJob(kpis KPIDashboard, txs TransactionStats, acts ActivityStats, logger *slog.Logger, metrics *jobmetrics.Metrics) *DashboardWarmupJob {
	return &DashboardWarmupJob{
		KPIs:         kpis,
		Transactions: txs,
		Activities:   acts,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes dashboard warmup tasks.
func (j *DashboardWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("dashboard warmup: handler not configured")
	}
	var payload DashboardWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	windows := payload.WindowDays
	if len(windows) == 0 {
		windows = DefaultWarmupWindows
	}

	tracker := j.metrics().Track(TaskDashboardWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()
	today := j.now().Truncate(24 * time.Hour)

	if j.Transactions != nil {
		if _, err := j.Transactions.Stats(ctx, transactions.Filters{}); err != nil {
			resultErr = err
			logger.Error("warm transaction stats", slog.Any("error", err))
			return resultErr
		}
	}

	warmed := 0
	for _, days := range windows {
		if days <= 0 {
			continue
		}
		from := today.AddDate(0, 0, -(days - 1))
		to := today
		if err := j.warmWindow(ctx, &from, &to); err != nil {
			resultErr = err
			logger.Error("warm window", slog.Int("days", days), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed dashboard warmup", slog.Int("windows", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *DashboardWarmupJob) warmWindow(ctx context.Context, from, to *time.Time) error {
	windowCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if j.KPIs != nil {
		if _, err := j.KPIs.Dashboard(windowCtx, from, to); err != nil {
			return err
		}
	}
	if j.Activities != nil {
		if _, err := j.Activities.Stats(windowCtx, activities.Filters{StartDate: from, EndDate: to}); err != nil {
			return err
		}
	}
	return nil
}

func (j *DashboardWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDashboardWarmup))
	}
	return slog.Default().With(slog.String("job", TaskDashboardWarmup))
}

func (j *DashboardWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DashboardWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
