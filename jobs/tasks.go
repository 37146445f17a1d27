package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDashboardWarmup pre-computes cached dashboard and stats payloads.
	TaskDashboardWarmup = "dashboard:warmup"
	// TaskCacheBump invalidates one or more cache namespaces.
	TaskCacheBump = "cache:bump"
)

// DashboardWarmupPayload lists the trailing windows, in days, to warm. An
// empty list warms the default windows.
type DashboardWarmupPayload struct {
	WindowDays []int `json:"window_days,omitempty"`
}

// CacheBumpPayload names the namespaces to invalidate. Empty means all.
type CacheBumpPayload struct {
	Namespaces []string `json:"namespaces,omitempty"`
}

// NewDashboardWarmupTask builds a warmup task for the given windows.
func NewDashboardWarmupTask(windowDays ...int) (*asynq.Task, error) {
	data, err := json.Marshal(DashboardWarmupPayload{WindowDays: windowDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDashboardWarmup, data), nil
}

// NewCacheBumpTask builds a cache invalidation task.
func NewCacheBumpTask(namespaces ...string) (*asynq.Task, error) {
	data, err := json.Marshal(CacheBumpPayload{Namespaces: namespaces})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheBump, data), nil
}
