package kpihttp

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/kpi"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/shared"
)

const maxUploadBytes = 5 << 20

// Service exposes the KPI use cases required by the handler.
type Service interface {
	ListCategories(ctx context.Context) ([]kpi.Category, error)
	CreateCategory(ctx context.Context, in kpi.CategoryInput) (kpi.Category, error)
	UpdateCategory(ctx context.Context, id int64, in kpi.CategoryInput) (kpi.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	ListKPIs(ctx context.Context, filters kpi.KPIFilters) ([]kpi.KPI, error)
	GetKPI(ctx context.Context, id int64) (kpi.KPI, error)
	CreateKPI(ctx context.Context, in kpi.KPIInput) (kpi.KPI, error)
	UpdateKPI(ctx context.Context, id int64, in kpi.KPIInput) (kpi.KPI, error)
	DeleteKPI(ctx context.Context, id int64) (kpi.DeleteResult, error)

	ListValues(ctx context.Context, f kpi.ValueFilters) ([]kpi.DataRow, int, kpi.ValueFilters, error)
	ListData(ctx context.Context, f kpi.ValueFilters, limitGiven bool) ([]kpi.DataRow, int, kpi.ValueFilters, error)
	ExportData(ctx context.Context, f kpi.ValueFilters) ([]kpi.DataRow, error)
	CreateValue(ctx context.Context, in kpi.CreateValueInput) (kpi.Value, error)
	UpdateValue(ctx context.Context, id int64, in kpi.ValueInput) (kpi.Value, error)
	DeleteValue(ctx context.Context, id int64) error
	BulkUpsert(ctx context.Context, in kpi.BulkValuesInput) (kpi.BulkResult, error)
	ImportValues(ctx context.Context, kpiID int64, records []map[string]string) (kpi.BulkResult, error)

	Dashboard(ctx context.Context, from, to *time.Time) (kpi.Dashboard, error)
	Compare(ctx context.Context, f kpi.ComparisonFilters) (kpi.Comparison, error)
}

// Handler serves the KPI REST endpoints.
type Handler struct {
	logger   *slog.Logger
	service  Service
	renderer *export.Renderer
}

// NewHandler builds a KPI handler.
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

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	from, err := httpx.QueryDate(r, "startDate")
	if err != nil {
		h.fail(w, r, "failed to load dashboard", err)
		return
	}
	to, err := httpx.QueryDate(r, "endDate")
	if err != nil {
		h.fail(w, r, "failed to load dashboard", err)
		return
	}
	dashboard, err := h.service.Dashboard(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "failed to load dashboard", err)
		return
	}
	httpx.OK(w, dashboard)
}

func parseComparison(r *http.Request) (kpi.ComparisonFilters, error) {
	var f kpi.ComparisonFilters
	var err error
	if f.Start1, err = httpx.RequireDate(r, "startDate1"); err != nil {
		return f, err
	}
	if f.End1, err = httpx.RequireDate(r, "endDate1"); err != nil {
		return f, err
	}
	if f.Start2, err = httpx.RequireDate(r, "startDate2"); err != nil {
		return f, err
	}
	if f.End2, err = httpx.RequireDate(r, "endDate2"); err != nil {
		return f, err
	}
	if f.KPIID, err = httpx.QueryID(r, "kpiId"); err != nil {
		return f, err
	}
	f.CategoryID, err = httpx.QueryID(r, "categoryId")
	return f, err
}

func (h *Handler) handleComparison(w http.ResponseWriter, r *http.Request) {
	f, err := parseComparison(r)
	if err != nil {
		h.fail(w, r, "failed to compare KPIs", err)
		return
	}
	result, err := h.service.Compare(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to compare KPIs", err)
		return
	}
	httpx.OK(w, result)
}

func (h *Handler) handleComparisonExport(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(httpx.QueryString(r, "format"))
	if !ok {
		h.fail(w, r, "failed to export comparison", httpx.Invalid("format must be one of: csv, xlsx, pdf"))
		return
	}
	f, err := parseComparison(r)
	if err != nil {
		h.fail(w, r, "failed to export comparison", err)
		return
	}
	result, err := h.service.Compare(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to export comparison", err)
		return
	}
	if err := h.renderer.Serve(w, r, format, "kpi_comparison", kpi.ComparisonTable(result)); err != nil {
		h.fail(w, r, "failed to export comparison", err)
	}
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list categories", err)
		return
	}
	httpx.OK(w, categories)
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in kpi.CategoryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to create category", err)
		return
	}
	category, err := h.service.CreateCategory(r.Context(), in)
	if err != nil {
		h.fail(w, r, "failed to create category", err)
		return
	}
	httpx.Created(w, "category created", category)
}

func (h *Handler) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to update category", err)
		return
	}
	var in kpi.CategoryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to update category", err)
		return
	}
	category, err := h.service.UpdateCategory(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "failed to update category", err)
		return
	}
	httpx.Message(w, "category updated", category)
}

func (h *Handler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to delete category", err)
		return
	}
	if err := h.service.DeleteCategory(r.Context(), id); err != nil {
		h.fail(w, r, "failed to delete category", err)
		return
	}
	httpx.Message(w, "category deleted", nil)
}

func (h *Handler) handleListKPIs(w http.ResponseWriter, r *http.Request) {
	var f kpi.KPIFilters
	var err error
	if f.CategoryID, err = httpx.QueryID(r, "category_id"); err != nil {
		h.fail(w, r, "failed to list KPIs", err)
		return
	}
	if f.Active, err = httpx.QueryBool(r, "is_active"); err != nil {
		h.fail(w, r, "failed to list KPIs", err)
		return
	}
	f.Search = httpx.QueryString(r, "search")
	kpis, err := h.service.ListKPIs(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to list KPIs", err)
		return
	}
	httpx.OK(w, kpis)
}

func (h *Handler) handleGetKPI(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to load KPI", err)
		return
	}
	k, err := h.service.GetKPI(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to load KPI", err)
		return
	}
	httpx.OK(w, k)
}

func (h *Handler) handleCreateKPI(w http.ResponseWriter, r *http.Request) {
	var in kpi.KPIInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to create KPI", err)
		return
	}
	k, err := h.service.CreateKPI(r.Context(), in)
	if err != nil {
		h.fail(w, r, "failed to create KPI", err)
		return
	}
	httpx.Created(w, "KPI created", k)
}

func (h *Handler) handleUpdateKPI(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to update KPI", err)
		return
	}
	var in kpi.KPIInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to update KPI", err)
		return
	}
	k, err := h.service.UpdateKPI(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "failed to update KPI", err)
		return
	}
	httpx.Message(w, "KPI updated", k)
}

func (h *Handler) handleDeleteKPI(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to delete KPI", err)
		return
	}
	result, err := h.service.DeleteKPI(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to delete KPI", err)
		return
	}
	msg := "KPI deleted"
	if result.Mode == kpi.DeleteArchived {
		msg = "KPI archived because it has recorded values"
	}
	httpx.Message(w, msg, result)
}

func parseValueFilters(r *http.Request) (kpi.ValueFilters, error) {
	var f kpi.ValueFilters
	var err error
	if f.KPIID, err = httpx.QueryID(r, "kpi_id"); err != nil {
		return f, err
	}
	if f.CategoryID, err = httpx.QueryID(r, "category_id"); err != nil {
		return f, err
	}
	if f.StartDate, err = httpx.QueryDate(r, "startDate"); err != nil {
		return f, err
	}
	if f.EndDate, err = httpx.QueryDate(r, "endDate"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.QueryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.Limit, err = httpx.QueryInt(r, "limit", 0); err != nil {
		return f, err
	}
	f.Search = httpx.QueryString(r, "search")
	f.SortBy = httpx.QueryString(r, "sortBy")
	f.SortDir = httpx.QueryString(r, "sortOrder")
	return f, nil
}

func (h *Handler) handleListValues(w http.ResponseWriter, r *http.Request) {
	f, err := parseValueFilters(r)
	if err != nil {
		h.fail(w, r, "failed to list KPI values", err)
		return
	}
	rows, total, applied, err := h.service.ListValues(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to list KPI values", err)
		return
	}
	httpx.Page(w, rows, shared.NewPagination(applied.Page, applied.Limit, total))
}

func (h *Handler) handleListData(w http.ResponseWriter, r *http.Request) {
	f, err := parseValueFilters(r)
	if err != nil {
		h.fail(w, r, "failed to list KPI data", err)
		return
	}
	rows, total, applied, err := h.service.ListData(r.Context(), f, httpx.QueryString(r, "limit") != "")
	if err != nil {
		h.fail(w, r, "failed to list KPI data", err)
		return
	}
	httpx.Page(w, rows, shared.NewPagination(applied.Page, applied.Limit, total))
}

func (h *Handler) handleExportData(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(httpx.QueryString(r, "format"))
	if !ok {
		h.fail(w, r, "failed to export KPI data", httpx.Invalid("format must be one of: csv, xlsx, pdf"))
		return
	}
	f, err := parseValueFilters(r)
	if err != nil {
		h.fail(w, r, "failed to export KPI data", err)
		return
	}
	rows, err := h.service.ExportData(r.Context(), f)
	if err != nil {
		h.fail(w, r, "failed to export KPI data", err)
		return
	}
	if err := h.renderer.Serve(w, r, format, "kpi_data", kpi.DataTable(rows)); err != nil {
		h.fail(w, r, "failed to export KPI data", err)
	}
}

func (h *Handler) handleCreateValue(w http.ResponseWriter, r *http.Request) {
	var in kpi.CreateValueInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to create KPI value", err)
		return
	}
	v, err := h.service.CreateValue(r.Context(), in)
	if err != nil {
		h.fail(w, r, "failed to create KPI value", err)
		return
	}
	httpx.Created(w, "KPI value created", v)
}

func (h *Handler) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to update KPI value", err)
		return
	}
	var in kpi.ValueInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to update KPI value", err)
		return
	}
	v, err := h.service.UpdateValue(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "failed to update KPI value", err)
		return
	}
	httpx.Message(w, "KPI value updated", v)
}

func (h *Handler) handleDeleteValue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.fail(w, r, "failed to delete KPI value", err)
		return
	}
	if err := h.service.DeleteValue(r.Context(), id); err != nil {
		h.fail(w, r, "failed to delete KPI value", err)
		return
	}
	httpx.Message(w, "KPI value deleted", nil)
}

func (h *Handler) handleBulkValues(w http.ResponseWriter, r *http.Request) {
	var in kpi.BulkValuesInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, "failed to import KPI values", err)
		return
	}
	result, err := h.service.BulkUpsert(r.Context(), in)
	if err != nil {
		h.fail(w, r, "failed to import KPI values", err)
		return
	}
	httpx.Message(w, bulkMessage(result), result)
}

func (h *Handler) handleTemplate(w http.ResponseWriter, r *http.Request) {
	format, ok := export.ParseFormat(httpx.QueryString(r, "format"))
	if !ok || format == export.FormatPDF {
		h.fail(w, r, "failed to build template", httpx.Invalid("format must be one of: csv, xlsx"))
		return
	}
	if err := h.renderer.Serve(w, r, format, "kpi_values_template", kpi.ValueTemplate()); err != nil {
		h.fail(w, r, "failed to build template", err)
	}
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	kpiID, err := httpx.QueryID(r, "kpi_id")
	if err != nil {
		h.fail(w, r, "failed to import KPI values", err)
		return
	}
	if kpiID == nil {
		h.fail(w, r, "failed to import KPI values", httpx.Invalid("kpi_id is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, "failed to import KPI values", httpx.Invalid("file is required"))
		return
	}
	defer func() { _ = file.Close() }()

	records, err := export.ReadRecords(file, uploadFormat(header))
	if err != nil {
		h.fail(w, r, "failed to import KPI values", httpx.Invalid("%v", err))
		return
	}
	result, err := h.service.ImportValues(r.Context(), *kpiID, records)
	if err != nil {
		h.fail(w, r, "failed to import KPI values", err)
		return
	}
	httpx.Message(w, bulkMessage(result), result)
}

func uploadFormat(header *multipart.FileHeader) export.Format {
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".xlsx", ".xlsm":
		return export.FormatXLSX
	default:
		return export.FormatCSV
	}
}

func bulkMessage(res kpi.BulkResult) string {
	if res.Failed == 0 {
		return "all rows imported"
	}
	return "import finished with failed rows"
}
