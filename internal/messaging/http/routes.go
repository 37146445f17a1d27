package messaginghttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the WhatsApp endpoints under /whatsapp.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/whatsapp", func(r chi.Router) {
		r.Post("/initialize", h.handleInitialize)
		r.Get("/status", h.handleStatus)
		r.Post("/send-bulk", h.handleSendBulk)
		r.Post("/disconnect", h.handleDisconnect)
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{id}", h.handleGetRun)
		r.Post("/runs/{id}/cancel", h.handleCancelRun)
		r.Post("/runs/{id}/resume", h.handleResumeRun)
	})
}

func runID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
