package messaginghttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bizpulse/bizpulse/internal/messaging"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

// Session is the chat session used by the handler.
type Session interface {
	Initialize(ctx context.Context) (messaging.Status, error)
	Status() messaging.Status
	Disconnect(ctx context.Context) error
}

// Runs starts and controls bulk send runs.
type Runs interface {
	Send(ctx context.Context, in messaging.SendInput) (messaging.RunSnapshot, error)
	Get(id string) (messaging.RunSnapshot, error)
	List() []messaging.RunSnapshot
	Cancel(ctx context.Context, id string) (messaging.RunSnapshot, error)
	Resume(ctx context.Context, id string, wait bool) (messaging.RunSnapshot, error)
	Budget(n int) time.Duration
}

// Handler serves the WhatsApp endpoints.
type Handler struct {
	logger  *slog.Logger
	session Session
	runs    Runs
}

// NewHandler builds a WhatsApp handler.
func NewHandler(logger *slog.Logger, session Session, runs Runs) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, session: session, runs: runs}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(fallback, "error", err, "path", r.URL.Path)
	}
	httpx.RespondError(w, fallback, err)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	status, err := h.session.Initialize(r.Context())
	if err != nil {
		h.fail(w, r, "failed to initialize whatsapp", err)
		return
	}
	msg := "whatsapp initializing, scan the QR code when it appears"
	if status.Connected {
		msg = "whatsapp already connected"
	}
	httpx.Message(w, msg, status)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, h.session.Status())
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(r.Context()); err != nil {
		h.fail(w, r, "failed to disconnect whatsapp", err)
		return
	}
	httpx.Message(w, "whatsapp disconnected", h.session.Status())
}

func (h *Handler) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var in messaging.SendInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to send bulk messages", err)
		return
	}
	if !in.Async {
		h.extendDeadline(w, len(in.PhoneNumbers))
	}
	snap, err := h.runs.Send(r.Context(), in)
	if err != nil {
		h.fail(w, r, "failed to send bulk messages", err)
		return
	}
	h.respondRun(w, snap)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, h.runs.List())
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runs.Get(runID(r))
	if err != nil {
		h.fail(w, r, "failed to load run", err)
		return
	}
	httpx.OK(w, snap)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.runs.Cancel(r.Context(), runID(r))
	if err != nil {
		h.fail(w, r, "failed to cancel run", err)
		return
	}
	httpx.Message(w, "bulk send cancelled", snap)
}

func (h *Handler) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	async, err := httpx.QueryBool(r, "async")
	if err != nil {
		h.fail(w, r, "failed to resume run", err)
		return
	}
	wait := async == nil || !*async
	id := runID(r)
	if wait {
		if snap, err := h.runs.Get(id); err == nil {
			h.extendDeadline(w, snap.Total-snap.Cursor)
		}
	}
	snap, err := h.runs.Resume(r.Context(), id, wait)
	if err != nil {
		h.fail(w, r, "failed to resume run", err)
		return
	}
	h.respondRun(w, snap)
}

func (h *Handler) respondRun(w http.ResponseWriter, snap messaging.RunSnapshot) {
	switch snap.Status {
	case messaging.RunRunning:
		httpx.JSON(w, http.StatusAccepted, httpx.Envelope{Success: true, Message: "bulk send started", Data: snap})
	case messaging.RunCancelled:
		httpx.Message(w, "bulk send cancelled", snap)
	default:
		httpx.Message(w, "bulk send completed", snap)
	}
}

// extendDeadline lifts the server write timeout for a synchronous run.
func (h *Handler) extendDeadline(w http.ResponseWriter, recipients int) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.runs.Budget(recipients))); err != nil {
		h.logger.Debug("write deadline not extended", "error", err)
	}
}
