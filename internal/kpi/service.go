package kpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

const (
	defaultDashboardDays = 30
	maxDataLimit         = 100
	defaultDataSource    = "manual"
)

// Cache is the versioned JSON cache used for read-heavy views.
type Cache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// Service implements KPI use cases.
type Service struct {
	repo   Repository
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// ListCategories returns all categories.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory validates and inserts a category.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := httpx.Validate(in); err != nil {
		return Category{}, err
	}
	c, err := s.repo.CreateCategory(ctx, in)
	if err != nil {
		return Category{}, err
	}
	s.invalidate(ctx)
	return c, nil
}

// UpdateCategory validates and updates a category.
func (s *Service) UpdateCategory(ctx context.Context, id int64, in CategoryInput) (Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := httpx.Validate(in); err != nil {
		return Category{}, err
	}
	c, err := s.repo.UpdateCategory(ctx, id, in)
	if err != nil {
		return Category{}, err
	}
	s.invalidate(ctx)
	return c, nil
}

// DeleteCategory removes a category that no KPI references.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	n, err := s.repo.CountCategoryKPIs(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return httpx.Conflict("cannot delete category: %d KPI(s) still reference it", n)
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListKPIs returns KPI definitions.
func (s *Service) ListKPIs(ctx context.Context, filters KPIFilters) ([]KPI, error) {
	return s.repo.ListKPIs(ctx, filters)
}

// GetKPI loads one KPI.
func (s *Service) GetKPI(ctx context.Context, id int64) (KPI, error) {
	return s.repo.GetKPI(ctx, id)
}

// CreateKPI validates and inserts a KPI. Codes are unique among active KPIs.
func (s *Service) CreateKPI(ctx context.Context, in KPIInput) (KPI, error) {
	in = normalizeKPI(in)
	if err := httpx.Validate(in); err != nil {
		return KPI{}, err
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return KPI{}, err
	}
	if in.IsActive == nil || *in.IsActive {
		if err := s.checkCode(ctx, in.Code, 0); err != nil {
			return KPI{}, err
		}
	}
	k, err := s.repo.CreateKPI(ctx, in)
	if err != nil {
		return KPI{}, err
	}
	s.invalidate(ctx)
	return k, nil
}

// UpdateKPI validates and rewrites a KPI.
func (s *Service) UpdateKPI(ctx context.Context, id int64, in KPIInput) (KPI, error) {
	in = normalizeKPI(in)
	if err := httpx.Validate(in); err != nil {
		return KPI{}, err
	}
	current, err := s.repo.GetKPI(ctx, id)
	if err != nil {
		return KPI{}, err
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return KPI{}, err
	}
	active := current.IsActive
	if in.IsActive != nil {
		active = *in.IsActive
	}
	if active {
		if err := s.checkCode(ctx, in.Code, id); err != nil {
			return KPI{}, err
		}
	}
	k, err := s.repo.UpdateKPI(ctx, id, in)
	if err != nil {
		return KPI{}, err
	}
	s.invalidate(ctx)
	return k, nil
}

// DeleteKPI archives a KPI that has values and removes one that has none.
func (s *Service) DeleteKPI(ctx context.Context, id int64) (DeleteResult, error) {
	if _, err := s.repo.GetKPI(ctx, id); err != nil {
		return DeleteResult{}, err
	}
	n, err := s.repo.CountKPIValues(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	result := DeleteResult{ID: id, ValueCount: n}
	if n > 0 {
		if err := s.repo.ArchiveKPI(ctx, id); err != nil {
			return DeleteResult{}, err
		}
		result.Mode = DeleteArchived
	} else {
		if err := s.repo.DeleteKPI(ctx, id); err != nil {
			return DeleteResult{}, err
		}
		result.Mode = DeleteRemoved
	}
	s.invalidate(ctx)
	return result, nil
}

// ListValues pages KPI values.
func (s *Service) ListValues(ctx context.Context, f ValueFilters) ([]DataRow, int, ValueFilters, error) {
	if err := checkRange(f.StartDate, f.EndDate, "startDate", "endDate"); err != nil {
		return nil, 0, f, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	rows, total, err := s.repo.ListValues(ctx, f)
	return rows, total, f, err
}

// ListData pages joined value rows with the page size clamped to [1, 100].
func (s *Service) ListData(ctx context.Context, f ValueFilters, limitGiven bool) ([]DataRow, int, ValueFilters, error) {
	switch {
	case !limitGiven:
		f.Limit = 20
	case f.Limit < 1:
		f.Limit = 1
	case f.Limit > maxDataLimit:
		f.Limit = maxDataLimit
	}
	return s.ListValues(ctx, f)
}

// ExportData returns every joined value row matching f.
func (s *Service) ExportData(ctx context.Context, f ValueFilters) ([]DataRow, error) {
	if err := checkRange(f.StartDate, f.EndDate, "startDate", "endDate"); err != nil {
		return nil, err
	}
	return s.repo.ExportValues(ctx, f)
}

// CreateValue inserts a single value. An existing (kpi, date) is a conflict.
func (s *Service) CreateValue(ctx context.Context, in CreateValueInput) (Value, error) {
	in.ValueInput = normalizeValue(in.ValueInput)
	if err := httpx.Validate(in); err != nil {
		return Value{}, err
	}
	if err := s.checkWritableKPI(ctx, in.KPIID); err != nil {
		return Value{}, err
	}
	v, err := s.repo.CreateValue(ctx, in.KPIID, in.ValueInput)
	if err != nil {
		return Value{}, err
	}
	s.invalidate(ctx)
	return v, nil
}

// UpdateValue rewrites a value row.
func (s *Service) UpdateValue(ctx context.Context, id int64, in ValueInput) (Value, error) {
	in = normalizeValue(in)
	if err := httpx.Validate(in); err != nil {
		return Value{}, err
	}
	v, err := s.repo.UpdateValue(ctx, id, in)
	if err != nil {
		return Value{}, err
	}
	s.invalidate(ctx)
	return v, nil
}

// DeleteValue removes a value row.
func (s *Service) DeleteValue(ctx context.Context, id int64) error {
	if err := s.repo.DeleteValue(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

type candidate struct {
	row   int
	input ValueInput
	err   error
}

// BulkUpsert validates every row and upserts the valid ones in one
// transaction. It fails only when no row is valid or the store errors.
func (s *Service) BulkUpsert(ctx context.Context, in BulkValuesInput) (BulkResult, error) {
	if err := httpx.Validate(in); err != nil {
		return BulkResult{}, err
	}
	cands := make([]candidate, len(in.Values))
	for i, v := range in.Values {
		cands[i] = candidate{row: i + 1, input: normalizeValue(v)}
	}
	return s.bulk(ctx, in.KPIID, cands)
}

// ImportValues converts uploaded sheet records and bulk upserts them.
func (s *Service) ImportValues(ctx context.Context, kpiID int64, records []map[string]string) (BulkResult, error) {
	if kpiID <= 0 {
		return BulkResult{}, httpx.Invalid("kpi_id is required")
	}
	if len(records) == 0 {
		return BulkResult{}, httpx.Invalid("upload contains no rows")
	}
	cands := make([]candidate, len(records))
	for i, rec := range records {
		in, err := ValueFromRecord(rec)
		cands[i] = candidate{row: i + 1, input: normalizeValue(in), err: err}
	}
	return s.bulk(ctx, kpiID, cands)
}

func (s *Service) bulk(ctx context.Context, kpiID int64, cands []candidate) (BulkResult, error) {
	if err := s.checkWritableKPI(ctx, kpiID); err != nil {
		return BulkResult{}, err
	}
	result := BulkResult{KPIID: kpiID, Total: len(cands), Rows: make([]RowResult, len(cands))}
	seen := make(map[string]int, len(cands))
	valid := 0
	var firstErr error
	for i := range cands {
		c := &cands[i]
		if c.err == nil {
			c.err = httpx.Validate(c.input)
		}
		if c.err == nil {
			if prev, dup := seen[c.input.Date]; dup {
				c.err = fmt.Errorf("duplicate date %s (also on row %d)", c.input.Date, prev)
			} else {
				seen[c.input.Date] = c.row
			}
		}
		result.Rows[i] = RowResult{Row: c.row, Date: c.input.Date}
		if c.err != nil {
			result.Rows[i].Action = ActionFailed
			result.Rows[i].Error = c.err.Error()
			result.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("row %d: %w", c.row, c.err)
			}
			continue
		}
		valid++
	}
	if valid == 0 {
		return result, httpx.Invalid("no valid rows to import: %v", firstErr)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, c := range cands {
			if c.err != nil {
				continue
			}
			_, inserted, err := tx.UpsertValue(ctx, kpiID, c.input)
			if err != nil {
				return fmt.Errorf("row %d: %w", c.row, err)
			}
			result.Rows[i].Success = true
			if inserted {
				result.Rows[i].Action = ActionInserted
				result.Inserted++
			} else {
				result.Rows[i].Action = ActionUpdated
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	s.logger.Info("kpi values imported", "kpi_id", kpiID, "inserted", result.Inserted, "updated", result.Updated, "failed", result.Failed)
	s.invalidate(ctx)
	return result, nil
}

// Dashboard averages active KPIs over [from, to], defaulting to the last
// 30 days ending today.
func (s *Service) Dashboard(ctx context.Context, from, to *time.Time) (Dashboard, error) {
	end := truncateDay(s.now())
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -(defaultDashboardDays - 1))
	if from != nil {
		start = *from
	}
	if end.Before(start) {
		return Dashboard{}, httpx.Invalid("endDate must not be before startDate")
	}
	startStr, endStr := start.Format(httpx.DateLayout), end.Format(httpx.DateLayout)

	return cached(ctx, s, func(ctx context.Context) (Dashboard, error) {
		rows, err := s.repo.DashboardRows(ctx, start, end)
		if err != nil {
			return Dashboard{}, err
		}
		return BuildDashboard(startStr, endStr, rows), nil
	}, "dashboard", startStr, endStr)
}

// Compare runs the period comparison.
func (s *Service) Compare(ctx context.Context, f ComparisonFilters) (Comparison, error) {
	if err := ValidateComparison(f); err != nil {
		return Comparison{}, err
	}
	return cached(ctx, s, func(ctx context.Context) (Comparison, error) {
		rows, err := s.repo.ComparisonRows(ctx, f)
		if err != nil {
			return Comparison{}, err
		}
		return BuildComparison(f, rows), nil
	}, "comparison",
		f.Start1.Format(httpx.DateLayout), f.End1.Format(httpx.DateLayout),
		f.Start2.Format(httpx.DateLayout), f.End2.Format(httpx.DateLayout),
		idToken(f.KPIID), idToken(f.CategoryID))
}

// BuildDashboard nests flat dashboard rows under their categories.
func BuildDashboard(start, end string, rows []DashboardRow) Dashboard {
	out := Dashboard{StartDate: start, EndDate: end, Categories: []DashboardCategory{}}
	index := make(map[int64]int)
	for _, row := range rows {
		pos, ok := index[row.CategoryID]
		if !ok {
			out.Categories = append(out.Categories, DashboardCategory{
				ID:           row.CategoryID,
				Name:         row.CategoryName,
				DisplayOrder: row.CategoryDisplayOrder,
				KPIs:         []DashboardKPI{},
			})
			pos = len(out.Categories) - 1
			index[row.CategoryID] = pos
		}
		out.Categories[pos].KPIs = append(out.Categories[pos].KPIs, row.KPI)
	}
	return out
}

func cached[T any](ctx context.Context, s *Service, load func(context.Context) (T, error), parts ...string) (T, error) {
	if s.cache == nil {
		return load(ctx)
	}
	key, err := s.cache.Key(ctx, append([]string{"kpi"}, parts...)...)
	if err != nil {
		s.logger.Warn("kpi cache key failed", "error", err)
		return load(ctx)
	}
	var out T
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return out, err
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("kpi cache bump failed", "error", err)
	}
}

func (s *Service) checkCategory(ctx context.Context, id int64) error {
	_, err := s.repo.GetCategory(ctx, id)
	if errors.Is(err, httpx.ErrNotFound) {
		return httpx.Invalid("category_id %d does not exist", id)
	}
	return err
}

func (s *Service) checkCode(ctx context.Context, code string, excludeID int64) error {
	exists, err := s.repo.ActiveCodeExists(ctx, code, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return httpx.Conflict("KPI code %q already exists", code)
	}
	return nil
}

func (s *Service) checkWritableKPI(ctx context.Context, id int64) error {
	k, err := s.repo.GetKPI(ctx, id)
	if err != nil {
		return err
	}
	if !k.IsActive {
		return httpx.Invalid("KPI %d is archived", id)
	}
	return nil
}

func normalizeKPI(in KPIInput) KPIInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Unit = Unit(strings.ToLower(strings.TrimSpace(string(in.Unit))))
	return in
}

func normalizeValue(in ValueInput) ValueInput {
	in.Date = strings.TrimSpace(in.Date)
	in.DataSource = strings.TrimSpace(in.DataSource)
	if in.DataSource == "" {
		in.DataSource = defaultDataSource
	}
	in.Note = strings.TrimSpace(in.Note)
	return in
}

func checkRange(from, to *time.Time, fromName, toName string) error {
	if from != nil && to != nil && to.Before(*from) {
		return httpx.Invalid("%s must not be before %s", toName, fromName)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func idToken(id *int64) string {
	if id == nil {
		return "all"
	}
	return fmt.Sprintf("%d", *id)
}
