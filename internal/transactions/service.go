package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/shared"
)

const growthWindowDays = 30

// Cache is the versioned JSON cache used for statistics.
type Cache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// Service implements the transaction use cases.
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

// List returns one page of transactions together with the effective paging.
func (s *Service) List(ctx context.Context, f Filters) ([]Transaction, int, Filters, error) {
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

// Export returns every transaction matching f.
func (s *Service) Export(ctx context.Context, f Filters) ([]Transaction, error) {
	if err := checkFilters(f); err != nil {
		return nil, err
	}
	return s.repo.Export(ctx, f)
}

// Get loads one transaction.
func (s *Service) Get(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Update validates in and applies it to transaction id.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Transaction, error) {
	in = normalizeUpdate(in)
	if err := httpx.Validate(in); err != nil {
		return Transaction{}, err
	}
	t, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Transaction{}, err
	}
	s.invalidate(ctx)
	s.logger.Info("transaction updated", "id", id)
	return t, nil
}

// Delete removes transaction id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.logger.Info("transaction deleted", "id", id)
	return nil
}

// Stats aggregates transactions matching f. The growth section always
// compares the last 30 days against the 30 days before them.
func (s *Service) Stats(ctx context.Context, f Filters) (Stats, error) {
	if err := checkFilters(f); err != nil {
		return Stats{}, err
	}
	load := func(ctx context.Context) (Stats, error) { return s.loadStats(ctx, f) }
	if s.cache == nil {
		return load(ctx)
	}
	key, err := s.cache.Key(ctx, append([]string{"transactions", "stats"}, filterTokens(f)...)...)
	if err != nil {
		s.logger.Warn("transaction cache key failed", "error", err)
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
	if out.TotalTransactions, out.SuccessfulTransactions, err = s.repo.Totals(ctx, f); err != nil {
		return Stats{}, err
	}
	if out.RevenueByCurrency, err = s.repo.RevenueByCurrency(ctx, f); err != nil {
		return Stats{}, err
	}
	for _, b := range []struct {
		dimension string
		dest      *[]Breakdown
	}{
		{"device", &out.Platforms},
		{"plan_type", &out.PlanTypes},
		{"payment_method", &out.PaymentMethods},
		{"status", &out.Statuses},
	} {
		if *b.dest, err = s.repo.Breakdown(ctx, b.dimension, f); err != nil {
			return Stats{}, err
		}
	}

	until := s.now().UTC()
	currentFrom := until.AddDate(0, 0, -growthWindowDays)
	previousFrom := currentFrom.AddDate(0, 0, -growthWindowDays)
	rows, err := s.repo.GrowthRows(ctx, previousFrom, currentFrom, until)
	if err != nil {
		return Stats{}, err
	}
	out.Growth = BuildGrowth(previousFrom, currentFrom, rows)

	if out.RepeatUsers, err = s.repo.RepeatUsers(ctx, f); err != nil {
		return Stats{}, err
	}
	if out.RepeatUsers.Buyers > 0 {
		rate := float64(out.RepeatUsers.RepeatUsers) / float64(out.RepeatUsers.Buyers) * 100
		out.RepeatUsers.RepeatRate = &rate
	}
	return out, nil
}

// BuildGrowth applies the period growth rule per currency and to the
// overall successful transaction count.
func BuildGrowth(previousFrom, currentFrom time.Time, rows []GrowthRow) Growth {
	g := Growth{
		CurrentFrom:  currentFrom.Format(httpx.DateLayout),
		PreviousFrom: previousFrom.Format(httpx.DateLayout),
		Currencies:   []CurrencyGrowth{},
	}
	for _, r := range rows {
		g.CurrentCount += r.CurrentCount
		g.PreviousCount += r.PreviousCount
		g.Currencies = append(g.Currencies, CurrencyGrowth{
			Currency: r.Currency,
			Current:  r.CurrentRevenue,
			Previous: r.PreviousRevenue,
			Growth:   shared.GrowthPercent(shared.Float(r.PreviousRevenue), shared.Float(r.CurrentRevenue)),
		})
	}
	g.CountGrowth = shared.GrowthPercent(shared.Float(float64(g.PreviousCount)), shared.Float(float64(g.CurrentCount)))
	return g
}

// Table flattens transactions for export.
func Table(rows []Transaction) export.Table {
	table := export.Table{
		Title: "Transactions",
		Columns: []string{"ID", "Transaction ID", "User ID", "Amount", "Currency", "Local Amount",
			"Plan", "Device", "Payment Method", "Status", "Ad Source", "Ad Campaign", "Created At"},
	}
	for _, t := range rows {
		table.Append(t.ID, t.TransactionID, t.UserID, t.Amount, t.Currency, t.LocalAmount,
			t.PlanType, t.Device, t.PaymentMethod, t.Status, t.AdSource, t.AdCampaign, t.CreatedAt)
	}
	return table
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("transaction cache bump failed", "error", err)
	}
}

func checkFilters(f Filters) error {
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return httpx.Invalid("endDate must not be before startDate")
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MaxAmount < *f.MinAmount {
		return httpx.Invalid("maxAmount must not be less than minAmount")
	}
	return nil
}

func normalizeUpdate(in UpdateInput) UpdateInput {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	in.Status = trim(in.Status)
	in.Currency = trim(in.Currency)
	if in.Currency != nil {
		upper := strings.ToUpper(*in.Currency)
		in.Currency = &upper
	}
	in.PlanType = trim(in.PlanType)
	in.Device = trim(in.Device)
	in.PaymentMethod = trim(in.PaymentMethod)
	in.AdSource = trim(in.AdSource)
	in.AdCampaign = trim(in.AdCampaign)
	return in
}

func filterTokens(f Filters) []string {
	date := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format(httpx.DateLayout)
	}
	amount := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%g", *v)
	}
	return []string{
		f.Search, f.Status, strings.ToUpper(f.Currency), f.Device, f.PlanType, f.PaymentMethod,
		date(f.StartDate), date(f.EndDate), amount(f.MinAmount), amount(f.MaxAmount),
	}
}
