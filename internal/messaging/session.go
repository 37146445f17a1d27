package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the session snapshot returned to API callers.
type Status struct {
	State     State     `json:"state"`
	Connected bool      `json:"connected"`
	QRCode    string    `json:"qr_code,omitempty"`
	QRImage   string    `json:"qr_image,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session owns the process-wide chat connection and its lifecycle state.
type Session struct {
	client ChatClient
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	qr        string
	lastErr   string
	updatedAt time.Time
	stop      context.CancelFunc
	changed   chan struct{}
}

// NewSession wraps client in a disconnected session.
func NewSession(client ChatClient, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client:    client,
		logger:    logger,
		now:       time.Now,
		state:     StateDisconnected,
		updatedAt: time.Now(),
		changed:   make(chan struct{}),
	}
}

// Initialize starts pairing unless the session is already connecting or
// connected. The outcome arrives asynchronously; poll Status for the QR code.
func (s *Session) Initialize(ctx context.Context) (Status, error) {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return s.Status(), nil
	}
	if err := s.setLocked(StateConnecting, ""); err != nil {
		s.mu.Unlock()
		return s.Status(), err
	}
	watchCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = stop
	s.mu.Unlock()

	events, err := s.client.Connect(watchCtx)
	if err != nil {
		stop()
		s.set(StateError, err.Error())
		s.logger.Error("whatsapp initialize failed", "error", err)
		return s.Status(), err
	}
	s.logger.Info("whatsapp initializing")
	go s.watch(watchCtx, events)
	return s.Status(), nil
}

func (s *Session) watch(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.mu.Lock()
				if s.state == StateConnecting || s.state == StateConnected {
					_ = s.setLocked(StateDisconnected, "")
				}
				s.mu.Unlock()
				return
			}
			s.apply(ev)
		}
	}
}

func (s *Session) apply(ev Event) {
	switch ev.Kind {
	case EventQR:
		s.mu.Lock()
		if s.state == StateConnecting {
			s.qr = ev.QR
			s.touchLocked()
		}
		s.mu.Unlock()
		s.logger.Info("whatsapp qr code received")
	case EventReady:
		s.set(StateConnected, "")
		s.logger.Info("whatsapp client is ready")
	case EventFailed:
		msg := "authentication failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.set(StateError, msg)
		s.logger.Error("whatsapp session failed", "error", msg)
	case EventClosed:
		s.set(StateDisconnected, "")
		s.logger.Warn("whatsapp session closed by remote")
	}
}

// Disconnect logs out of the chat client and stops watching its events.
func (s *Session) Disconnect(ctx context.Context) error {
	err := s.client.Disconnect(ctx)
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	if s.state != StateDisconnected {
		_ = s.setLocked(StateDisconnected, "")
	}
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("whatsapp disconnect failed", "error", err)
		return err
	}
	s.logger.Info("whatsapp disconnected")
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Changed returns a channel closed on the next state change.
func (s *Session) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Client exposes the underlying chat client to the dispatcher.
func (s *Session) Client() ChatClient { return s.client }

// Status snapshots the session. A pending pairing code is rendered as PNG.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		State:     s.state,
		Connected: s.state == StateConnected,
		QRCode:    s.qr,
		Error:     s.lastErr,
		UpdatedAt: s.updatedAt,
	}
	s.mu.RUnlock()
	if st.QRCode != "" {
		img, err := QRDataURL(st.QRCode)
		if err != nil {
			s.logger.Warn("render qr code", "error", err)
		}
		st.QRImage = img
	}
	return st
}

func (s *Session) set(next State, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setLocked(next, errMsg); err != nil {
		s.logger.Warn("whatsapp state change refused", "error", err)
	}
}

func (s *Session) setLocked(next State, errMsg string) error {
	if s.state == next {
		return nil
	}
	if !s.state.CanTransition(next) {
		return &TransitionError{From: s.state, To: next}
	}
	s.state = next
	s.lastErr = errMsg
	if next != StateConnecting {
		s.qr = ""
	}
	s.touchLocked()
	close(s.changed)
	s.changed = make(chan struct{})
	return nil
}

func (s *Session) touchLocked() {
	s.updatedAt = s.now()
}
