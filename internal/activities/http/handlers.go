package activitieshttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bizpulse/bizpulse/internal/activities"
	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/shared"
)

// Service exposes the activity use cases required by the handler.
type Service interface {
	List(ctx context.Context, f activities.Filters) ([]activities.Activity, int, activities.Filters, error)
	Export(ctx context.Context, f activities.Filters) ([]activities.Activity, error)
	Get(ctx context.Context, id int64) (activities.Activity, error)
	Update(ctx context.Context, id int64, in activities.UpdateInput) (activities.Activity, error)
	Delete(ctx context.Context, id int64) error
	Types(ctx context.Context) ([]activities.Lookup, error)
	Categories(ctx context.Context) ([]activities.Lookup, error)
	DateRange(ctx context.Context) (activities.DateRange, error)
	Stats(ctx context.Context, f activities.Filters) (activities.Stats, error)
}

// Handler serves the activity REST endpoints.
type Handler struct {
	logger   *slog.Logger
	service  Service
	renderer *export.Renderer
}

// NewHandler builds an activity handler.
func NewHandler(logger *slog.Logger, service Service, renderer *export.Renderer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = export.NewRenderer(nil)
	}
	return &Handler{logger: logger, service: service, renderer: renderer}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(fallback, "error", err, "path", r.URL.Path)
	}
	httpx.RespondError(w, fallback, err)
}

func parseFilters(r *http.Request) (activities.Filters, error) {
	var f activities.Filters
	var err error
	if f.TypeID, err = httpx.QueryID(r, "type_id"); err != nil {
		return f, err
	}
	if f.CategoryID, err = httpx.QueryID(r, "category_id"); err != nil {
		return f, err
	}
	if f.IsActive, err = httpx.QueryBool(r, "is_active"); err != nil {
		return f, err
	}
	if f.StartDate, err = httpx.QueryDate(r, "startDate"); err != nil {
		return f, err
	}
	if f.EndDate, err = httpx.QueryDate(r, "endDate"); err != nil {
		return f, err
	}
	if f.MinPlays, err = httpx.QueryFloat(r, "minPlays"); err != nil {
		return f, err
	}
	if f.MaxPlays, err = httpx.QueryFloat(r, "maxPlays"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.QueryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.Limit, err = httpx.QueryInt(r, "limit", 20); err != nil {
		return f, err
	}
	f.Search = httpx.QueryString(r, "search")
	f.SortBy = httpx.QueryString(r, "sortBy")
	f.SortDir = httpx.QueryString(r, "sortOrder")
	return f, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, "failed to list activities", err)
		return
	}
	rows, total, applied, err := h.service.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to list activities", err)
		return
	}
	httpx.Page(w, rows, shared.NewPagination(applied.Page, applied.Limit, total))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, "failed to load activity stats", err)
		return
	}
	stats, err := h.service.Stats(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to load activity stats", err)
		return
	}
	httpx.OK(w, stats)
}

func (h *Handler) handleTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.Types(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list activity types", err)
		return
	}
	httpx.OK(w, types)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list activity categories", err)
		return
	}
	httpx.OK(w, categories)
}

func (h *Handler) handleDateRange(w http.ResponseWriter, r *http.Request) {
	dr, err := h.service.DateRange(r.Context())
	if err != nil {
		h.fail(w, r, "failed to load activity date range", err)
		return
	}
	httpx.OK(w, dr)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(httpx.QueryString(r, "format"))
	if !ok {
		h.fail(w, r, "failed to export activities", httpx.Invalid("format must be one of: csv, xlsx, pdf"))
		return
	}
	f, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, "failed to export activities", err)
		return
	}
	rows, err := h.service.Export(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to export activities", err)
		return
	}
	if err := h.renderer.Serve(w, r, format, "activities", activities.Table(rows)); err != nil {
		h.fail(w, r, "failed to export activities", err)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to load activity", err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to load activity", err)
		return
	}
	httpx.OK(w, a)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to update activity", err)
		return
	}
	var in activities.UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to update activity", err)
		return
	}
	a, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "failed to update activity", err)
		return
	}
	httpx.Message(w, "activity updated", a)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to delete activity", err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "failed to delete activity", err)
		return
	}
	httpx.Message(w, "activity deleted", nil)
}
