package activities

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

// Cache is the versioned JSON cache used for statistics.
type Cache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// Service implements the activity use cases.
type Service struct {
	repo   Repository
	cache  Cache
	logger *slog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns one page of activities together with the effective paging.
func (s *Service) List(ctx context.Context, f Filters) ([]Activity, int, Filters, error) {
	if err := checkFilters(f); err != nil {
		return nil, 0, f, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	rows, total, err := s.repo.List(ctx, f)
	return rows, total, f, err
}

// Export returns every activity matching f.
func (s *Service) Export(ctx context.Context, f Filters) ([]Activity, error) {
	if err := checkFilters(f); err != nil {
		return nil, err
	}
	return s.repo.Export(ctx, f)
}

// Get loads one activity.
func (s *Service) Get(ctx context.Context, id int64) (Activity, error) {
	return s.repo.Get(ctx, id)
}

// Update validates in and applies it to activity id.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Activity, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Activity{}, httpx.Invalid("name must not be empty")
		}
		in.Name = &name
	}
	if err := httpx.Validate(in); err != nil {
		return Activity{}, err
	}
	a, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Activity{}, err
	}
	s.invalidate(ctx)
	s.logger.Info("activity updated", "id", id)
	return a, nil
}

// Delete removes activity id and its plays.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.logger.Info("activity deleted", "id", id)
	return nil
}

// Types lists activity types.
func (s *Service) Types(ctx context.Context) ([]Lookup, error) {
	return s.repo.Types(ctx)
}

// Categories lists activity categories.
func (s *Service) Categories(ctx context.Context) ([]Lookup, error) {
	return s.repo.Categories(ctx)
}

// DateRange returns the span of recorded plays.
func (s *Service) DateRange(ctx context.Context) (DateRange, error) {
	return s.repo.DateRange(ctx)
}

// Stats aggregates plays matching f.
func (s *Service) Stats(ctx context.Context, f Filters) (Stats, error) {
	if err := checkFilters(f); err != nil {
		return Stats{}, err
	}
	load := func(ctx context.Context) (Stats, error) { return s.loadStats(ctx, f) }
	if s.cache == nil {
		return load(ctx)
	}
	key, err := s.cache.Key(ctx, append([]string{"activities", "stats"}, filterTokens(f)...)...)
	if err != nil {
		s.logger.Warn("activity cache key failed", "error", err)
		return load(ctx)
	}
	var out Stats
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return out, err
}

func (s *Service) loadStats(ctx context.Context, f Filters) (Stats, error) {
	var (
		out Stats
		err error
	)
	if out.Totals, err = s.repo.Totals(ctx, f); err != nil {
		return Stats{}, err
	}
	out.RepeatRate = RepeatRate(out.RepeatUsers, out.UniqueUsers)
	if out.TopActivities, err = s.repo.Top(ctx, f, topActivities); err != nil {
		return Stats{}, err
	}
	if out.ByType, err = s.repo.ByType(ctx, f); err != nil {
		return Stats{}, err
	}
	if out.ByCategory, err = s.repo.ByCategory(ctx, f); err != nil {
		return Stats{}, err
	}
	if out.DailyPlays, err = s.repo.Daily(ctx, f); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// Table flattens activities for export.
func Table(rows []Activity) export.Table {
	table := export.Table{
		Title:   "Activities",
		Columns: []string{"ID", "Name", "Type", "Category", "Active", "Total Plays", "Unique Users", "Repeat Rate %", "Created At"},
	}
	for _, a := range rows {
		table.Append(a.ID, a.Name, a.TypeName, a.CategoryName, a.IsActive, a.TotalPlays, a.UniqueUsers, a.RepeatRate, a.CreatedAt)
	}
	return table
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("activity cache bump failed", "error", err)
	}
}

func checkFilters(f Filters) error {
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return httpx.Invalid("endDate must not be before startDate")
	}
	if f.MinPlays != nil && f.MaxPlays != nil && *f.MaxPlays < *f.MinPlays {
		return httpx.Invalid("maxPlays must not be less than minPlays")
	}
	return nil
}

func filterTokens(f Filters) []string {
	date := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format(httpx.DateLayout)
	}
	id := func(v *int64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%d", *v)
	}
	active := "-"
	if f.IsActive != nil {
		active = fmt.Sprintf("%t", *f.IsActive)
	}
	return []string{f.Search, id(f.TypeID), id(f.CategoryID), active, date(f.StartDate), date(f.EndDate)}
}
