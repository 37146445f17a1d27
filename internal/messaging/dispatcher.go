package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultSendDelay   = 3 * time.Second
	DefaultSendTimeout = 30 * time.Second
)

var (
	// ErrNotConnected rejects a dispatch before any recipient is attempted.
	ErrNotConnected = errors.New("whatsapp client is not connected")
	// ErrSessionTerminated aborts a dispatch whose session left the
	// connected state; unattempted recipients are not accounted.
	ErrSessionTerminated = errors.New("whatsapp session ended during bulk send")
)

// Result summarises a dispatch. Logs holds one line per attempted recipient.
type Result struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Logs   []string `json:"logs"`
}

// Options tunes the dispatcher. Zero values select the defaults.
type Options struct {
	Delay       time.Duration
	SendTimeout time.Duration
}

// Dispatcher sends messages strictly in recipient order with a fixed pause
// between consecutive sends. Failed recipients are logged and never retried.
type Dispatcher struct {
	session     *Session
	delay       time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

// NewDispatcher builds a dispatcher over session. A negative delay disables
// the pause.
func NewDispatcher(session *Session, opts Options, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultSendDelay
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		session:     session,
		delay:       opts.Delay,
		sendTimeout: opts.SendTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch sends body to every recipient and returns the summary.
func (d *Dispatcher) Dispatch(ctx context.Context, body string, recipients []string) (Result, error) {
	run := newRun(body, recipients)
	err := d.process(ctx, run)
	return run.Snapshot().Result, err
}

// Budget estimates the longest time a dispatch to n recipients can take.
func (d *Dispatcher) Budget(n int) time.Duration {
	if n <= 0 {
		return d.sendTimeout
	}
	delay := d.delay
	if delay < 0 {
		delay = 0
	}
	return time.Duration(n)*(d.sendTimeout+delay) + time.Minute
}

// process continues run from its cursor until every recipient has been
// attempted, the context is cancelled or the session ends.
func (d *Dispatcher) process(ctx context.Context, run *Run) error {
	if d.session.State() != StateConnected {
		return ErrNotConnected
	}
	client := d.session.Client()
	for {
		i, recipient, ok := run.next()
		if !ok {
			return nil
		}
		if i > 0 {
			if err := d.pause(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.session.State() != StateConnected {
			return ErrSessionTerminated
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := client.SendOne(sendCtx, recipient, run.Message)
		cancel()
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("send timed out after %s", d.sendTimeout)
		}
		if err != nil {
			run.record(i, fmt.Sprintf("failed to send to %s: %v", recipient, err), false)
			d.logger.Warn("whatsapp send failed", "run_id", run.ID, "recipient", recipient, "error", err)
			d.metrics.message(false)
			continue
		}
		run.record(i, "sent to "+recipient, true)
		d.logger.Info("whatsapp message sent", "run_id", run.ID, "recipient", recipient)
		d.metrics.message(true)
	}
}

func (d *Dispatcher) pause(ctx context.Context) error {
	if d.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	changed := d.session.Changed()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-changed:
			if d.session.State() != StateConnected {
				return ErrSessionTerminated
			}
			changed = d.session.Changed()
		}
	}
}
