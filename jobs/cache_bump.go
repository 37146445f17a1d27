package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/bizpulse/bizpulse/internal/jobs"
)

// Bumper invalidates a cache namespace.
type Bumper interface {
	Bump(ctx context.Context) error
}

// CacheBumpJob invalidates cache namespaces after out-of-band data loads.
type CacheBumpJob struct {
	Caches  map[string]Bumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheBumpJob wires the namespaces the job may invalidate.
func NewCacheBumpJob(caches map[string]Bumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheBumpJob {
	return &CacheBumpJob{Caches: caches, Logger: logger, Metrics: metrics}
}

// Handle processes cache bump tasks.
func (j *CacheBumpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("cache bump: handler not configured")
	}
	var payload CacheBumpPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	names, err := j.resolve(payload.Namespaces)
	if err != nil {
		j.logger().Warn("cache bump rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	tracker := j.metrics().Track(TaskCacheBump)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if resultErr = j.Bump(ctx, names...); resultErr != nil {
		j.logger().Error("cache bump", slog.Any("error", resultErr))
		return resultErr
	}
	j.logger().Info("cache namespaces bumped", slog.Any("namespaces", names))
	return resultErr
}

// Bump invalidates the named namespaces, or every namespace when none are
// named. Unknown names are rejected before anything is bumped.
func (j *CacheBumpJob) Bump(ctx context.Context, namespaces ...string) error {
	names, err := j.resolve(namespaces)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		if err := j.Caches[name].Bump(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (j *CacheBumpJob) resolve(namespaces []string) ([]string, error) {
	if len(namespaces) == 0 {
		names := make([]string, 0, len(j.Caches))
		for name := range j.Caches {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}
	for _, name := range namespaces {
		if _, ok := j.Caches[name]; !ok {
			return nil, fmt.Errorf("unknown cache namespace %q", name)
		}
	}
	return namespaces, nil
}

func (j *CacheBumpJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheBump))
	}
	return slog.Default().With(slog.String("job", TaskCacheBump))
}

func (j *CacheBumpJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
