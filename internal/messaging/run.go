package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the progress state of a dispatch run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Run is the handle of one bulk send. Its cursor points at the next
// recipient to attempt, so a cancelled or failed run can be resumed.
type Run struct {
	ID         string
	Message    string
	Recipients []string

	mu         sync.Mutex
	cursor     int
	sent       int
	failed     int
	logs       []string
	status     RunStatus
	err        error
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// RunSnapshot is the externally visible state of a run.
type RunSnapshot struct {
	Result
	ID         string     `json:"runId"`
	Status     RunStatus  `json:"status"`
	Total      int        `json:"total"`
	Cursor     int        `json:"cursor"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newRun(message string, recipients []string) *Run {
	return &Run{
		ID:         uuid.NewString(),
		Message:    message,
		Recipients: recipients,
		logs:       []string{},
		startedAt:  time.Now(),
	}
}

func (r *Run) next() (int, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor >= len(r.Recipients) {
		return r.cursor, "", false
	}
	return r.cursor, r.Recipients[r.cursor], true
}

func (r *Run) record(i int, line string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.sent++
	} else {
		r.failed++
	}
	r.logs = append(r.logs, line)
	r.cursor = i + 1
}

// tryBegin marks the run running. It refuses a run that is already running,
// completed or has no recipients left.
func (r *Run) tryBegin(cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case "":
	case RunCancelled, RunFailed:
		if r.cursor >= len(r.Recipients) {
			return false
		}
	default:
		return false
	}
	r.status = RunRunning
	r.err = nil
	r.finishedAt = time.Time{}
	r.cancel = cancel
	r.done = make(chan struct{})
	return true
}

func (r *Run) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil:
		r.status = RunCompleted
	case errors.Is(err, context.Canceled):
		r.status = RunCancelled
	default:
		r.status = RunFailed
	}
	r.err = err
	r.finishedAt = time.Now()
	r.cancel = nil
	close(r.done)
}

func (r *Run) stop() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	return r.done
}

func (r *Run) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Snapshot copies the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RunSnapshot{
		Result: Result{
			Sent:   r.sent,
			Failed: r.failed,
			Logs:   append([]string{}, r.logs...),
		},
		ID:        r.ID,
		Status:    r.status,
		Total:     len(r.Recipients),
		Cursor:    r.cursor,
		StartedAt: r.startedAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	if !r.finishedAt.IsZero() {
		at := r.finishedAt
		s.FinishedAt = &at
	}
	return s
}
