package transactionshttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/shared"
	"github.com/bizpulse/bizpulse/internal/transactions"
)

// Service exposes the transaction use cases required by the handler.
type Service interface {
	List(ctx context.Context, f transactions.Filters) ([]transactions.Transaction, int, transactions.Filters, error)
	Export(ctx context.Context, f transactions.Filters) ([]transactions.Transaction, error)
	Get(ctx context.Context, id int64) (transactions.Transaction, error)
	Update(ctx context.Context, id int64, in transactions.UpdateInput) (transactions.Transaction, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context, f transactions.Filters) (transactions.Stats, error)
}

// Handler serves the transaction REST endpoints.
type Handler struct {
	logger   *slog.Logger
	service  Service
	renderer *export.Renderer
}

// NewHandler builds a transaction handler.
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

func parseFilters(r *http.Request) (transactions.Filters, error) {
	var f transactions.Filters
	var err error
	if f.StartDate, err = httpx.QueryDate(r, "startDate"); err != nil {
		return f, err
	}
	if f.EndDate, err = httpx.QueryDate(r, "endDate"); err != nil {
		return f, err
	}
	if f.MinAmount, err = httpx.QueryFloat(r, "minAmount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = httpx.QueryFloat(r, "maxAmount"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.QueryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.Limit, err = httpx.QueryInt(r, "limit", 20); err != nil {
		return f, err
	}
	f.Search = httpx.QueryString(r, "search")
	f.Status = httpx.QueryString(r, "status")
	f.Currency = httpx.QueryString(r, "currency")
	f.Device = httpx.QueryString(r, "device")
	f.PlanType = httpx.QueryString(r, "plan_type")
	f.PaymentMethod = httpx.QueryString(r, "payment_method")
	f.SortBy = httpx.QueryString(r, "sortBy")
	f.SortDir = httpx.QueryString(r, "sortOrder")
	return f, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, "failed to list transactions", err)
		return
	}
	rows, total, applied, err := h.service.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to list transactions", err)
		return
	}
	httpx.Page(w, rows, shared.NewPagination(applied.Page, applied.Limit, total))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, "failed to load transaction stats", err)
		return
	}
	stats, err := h.service.Stats(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to load transaction stats", err)
		return
	}
	httpx.OK(w, stats)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(httpx.QueryString(r, "format"))
	if !ok {
		h.fail(w, r, "failed to export transactions", httpx.Invalid("format must be one of: csv, xlsx, pdf"))
		return
	}
	f, err := parseFilters(r)
	if err != nil {
		h.fail(w, r, "failed to export transactions", err)
		return
	}
	rows, err := h.service.Export(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to export transactions", err)
		return
	}
	if err := h.renderer.Serve(w, r, format, "transactions", transactions.Table(rows)); err != nil {
		h.fail(w, r, "failed to export transactions", err)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to load transaction", err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to load transaction", err)
		return
	}
	httpx.OK(w, t)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to update transaction", err)
		return
	}
	var in transactions.UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to update transaction", err)
		return
	}
	t, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "failed to update transaction", err)
		return
	}
	httpx.Message(w, "transaction updated", t)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to delete transaction", err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "failed to delete transaction", err)
		return
	}
	httpx.Message(w, "transaction deleted", nil)
}
