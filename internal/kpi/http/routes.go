package kpihttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

// MountRoutes registers the KPI endpoints under /kpis.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	exportLimiter := httprate.Limit(20, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "too many export requests", "")
		}),
	)

	r.Route("/kpis", func(r chi.Router) {
		r.Get("/dashboard", h.handleDashboard)
		r.Get("/comparison", h.handleComparison)
		r.Get("/data", h.handleListData)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.handleListCategories)
			r.Post("/", h.handleCreateCategory)
			r.Put("/{id}", h.handleUpdateCategory)
			r.Delete("/{id}", h.handleDeleteCategory)
		})

		r.Route("/values", func(r chi.Router) {
			r.Get("/", h.handleListValues)
			r.Post("/", h.handleCreateValue)
			r.Post("/bulk", h.handleBulkValues)
			r.Get("/template", h.handleTemplate)
			r.Post("/import", h.handleImport)
			r.Put("/{id}", h.handleUpdateValue)
			r.Delete("/{id}", h.handleDeleteValue)
		})

		r.Group(func(r chi.Router) {
			r.Use(exportLimiter)
			r.Get("/comparison/export", h.handleComparisonExport)
			r.Get("/data/export", h.handleExportData)
		})

		r.Get("/", h.handleListKPIs)
		r.Post("/", h.handleCreateKPI)
		r.Get("/{id}", h.handleGetKPI)
		r.Put("/{id}", h.handleUpdateKPI)
		r.Delete("/{id}", h.handleDeleteKPI)
	})
}
