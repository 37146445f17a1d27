package messaging

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

const maxFinishedRuns = 50

// SendInput is the bulk send request body.
type SendInput struct {
	Message      string   `json:"message" validate:"required"`
	PhoneNumbers []string `json:"phoneNumbers" validate:"required,min=1"`
	Async        bool     `json:"async"`
}

// Manager starts, tracks, cancels and resumes dispatch runs.
type Manager struct {
	dispatcher *Dispatcher
	lock       Locker
	logger     *slog.Logger
	metrics    *Metrics

	mu      sync.Mutex
	runs    map[string]*Run
	closing bool
}

// NewManager builds a run manager. A nil lock selects the in-process lock.
func NewManager(dispatcher *Dispatcher, lock Locker, logger *slog.Logger) *Manager {
	if lock == nil {
		lock = &LocalLocker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dispatcher: dispatcher,
		lock:       lock,
		logger:     logger,
		metrics:    dispatcher.metrics,
		runs:       make(map[string]*Run),
	}
}

// NormalizePhone keeps only the digits of raw.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Send validates in and starts a run. Unless in.Async is set it blocks until
// the run ends or ctx is done; the run itself is not bound to ctx.
func (m *Manager) Send(ctx context.Context, in SendInput) (RunSnapshot, error) {
	in.Message = strings.TrimSpace(in.Message)
	if err := httpx.Validate(in); err != nil {
		return RunSnapshot{}, err
	}
	recipients := make([]string, 0, len(in.PhoneNumbers))
	for i, raw := range in.PhoneNumbers {
		phone := NormalizePhone(raw)
		if phone == "" {
			return RunSnapshot{}, httpx.Invalid("phoneNumbers[%d] is not a valid phone number", i)
		}
		recipients = append(recipients, phone)
	}
	if m.dispatcher.session.State() != StateConnected {
		return RunSnapshot{}, ErrNotConnected
	}
	run := newRun(in.Message, recipients)
	return m.launch(ctx, run, !in.Async)
}

// Get reports the progress of run id.
func (m *Manager) Get(id string) (RunSnapshot, error) {
	run, err := m.find(id)
	if err != nil {
		return RunSnapshot{}, err
	}
	return run.Snapshot(), nil
}

// List returns known runs, newest first.
func (m *Manager) List() []RunSnapshot {
	m.mu.Lock()
	out := make([]RunSnapshot, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel stops a running dispatch after its current send and waits for it
// to settle.
func (m *Manager) Cancel(ctx context.Context, id string) (RunSnapshot, error) {
	run, err := m.find(id)
	if err != nil {
		return RunSnapshot{}, err
	}
	if run.Snapshot().Status != RunRunning {
		return RunSnapshot{}, httpx.Invalid("run %s is not running", id)
	}
	select {
	case <-run.stop():
	case <-ctx.Done():
		return run.Snapshot(), ctx.Err()
	}
	m.logger.Info("whatsapp run cancelled", "run_id", id)
	return run.Snapshot(), nil
}

// Resume continues a cancelled or failed run from its cursor.
func (m *Manager) Resume(ctx context.Context, id string, wait bool) (RunSnapshot, error) {
	run, err := m.find(id)
	if err != nil {
		return RunSnapshot{}, err
	}
	snap := run.Snapshot()
	if snap.Status != RunCancelled && snap.Status != RunFailed {
		return RunSnapshot{}, httpx.Invalid("run %s is %s and cannot be resumed", id, snap.Status)
	}
	if snap.Cursor >= snap.Total {
		return RunSnapshot{}, httpx.Invalid("run %s has no remaining recipients", id)
	}
	if m.dispatcher.session.State() != StateConnected {
		return RunSnapshot{}, ErrNotConnected
	}
	m.logger.Info("whatsapp run resumed", "run_id", id, "cursor", snap.Cursor)
	return m.launch(ctx, run, wait)
}

func (m *Manager) launch(ctx context.Context, run *Run, wait bool) (RunSnapshot, error) {
	if m.shuttingDown() {
		return RunSnapshot{}, httpx.Busy("whatsapp dispatch is shutting down")
	}
	remaining := len(run.Recipients) - run.Snapshot().Cursor
	ok, err := m.lock.TryLock(ctx, run.ID, m.dispatcher.Budget(remaining))
	if err != nil {
		return RunSnapshot{}, err
	}
	if !ok {
		return RunSnapshot{}, httpx.Busy("a bulk send is already running")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !run.tryBegin(cancel) {
		cancel()
		if uerr := m.lock.Unlock(ctx, run.ID); uerr != nil {
			m.logger.Warn("whatsapp lock release failed", "run_id", run.ID, "error", uerr)
		}
		return RunSnapshot{}, httpx.Invalid("run %s is %s and cannot be started", run.ID, run.Snapshot().Status)
	}
	done := run.done
	if !m.remember(run) {
		cancel()
	}

	go func() {
		err := m.dispatcher.process(runCtx, run)
		cancel()
		unlockCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if uerr := m.lock.Unlock(unlockCtx, run.ID); uerr != nil {
			m.logger.Warn("whatsapp lock release failed", "run_id", run.ID, "error", uerr)
		}
		stop()
		run.finish(err)
		snap := run.Snapshot()
		m.metrics.run(snap.Status)
		m.logger.Info("whatsapp run finished", "run_id", run.ID, "status", snap.Status,
			"sent", snap.Sent, "failed", snap.Failed, "total", snap.Total)
	}()

	if !wait {
		return run.Snapshot(), nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return run.Snapshot(), ctx.Err()
	}
	snap := run.Snapshot()
	if snap.Status == RunFailed {
		return snap, run.failure()
	}
	return snap, nil
}

func (m *Manager) find(id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, httpx.NotFound("run %s not found", id)
	}
	return run, nil
}

func (m *Manager) shuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

// remember registers run and reports whether it may proceed; runs started
// while shutting down are cancelled by the caller.
func (m *Manager) remember(run *Run) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	if len(m.runs) > maxFinishedRuns {
		m.evictOldest()
	}
	return !m.closing
}

func (m *Manager) evictOldest() {
	var oldest *Run
	var oldestAt time.Time
	for _, r := range m.runs {
		s := r.Snapshot()
		if s.Status == RunRunning || s.FinishedAt == nil {
			continue
		}
		if oldest == nil || s.FinishedAt.Before(oldestAt) {
			oldest, oldestAt = r, *s.FinishedAt
		}
	}
	if oldest != nil {
		delete(m.runs, oldest.ID)
	}
}

// Budget is the write deadline a synchronous send to n recipients needs.
func (m *Manager) Budget(n int) time.Duration {
	return m.dispatcher.Budget(n)
}

// Shutdown refuses new runs, cancels every running dispatch and waits for
// each to release its lock, or for ctx to end. Synchronous callers blocked in
// Send or Resume return once their run is cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	running := make([]*Run, 0)
	for _, run := range m.runs {
		if run.Snapshot().Status == RunRunning {
			running = append(running, run)
		}
	}
	m.mu.Unlock()
	for _, run := range running {
		select {
		case <-run.stop():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
