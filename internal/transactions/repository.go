package transactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizpulse/bizpulse/internal/platform/db"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/platform/query"
)

// Repository persists transactions.
type Repository interface {
	List(ctx context.Context, f Filters) ([]Transaction, int, error)
	Export(ctx context.Context, f Filters) ([]Transaction, error)
	Get(ctx context.Context, id int64) (Transaction, error)
	Update(ctx context.Context, id int64, in UpdateInput) (Transaction, error)
	Delete(ctx context.Context, id int64) error

	Totals(ctx context.Context, f Filters) (total, success int, err error)
	RevenueByCurrency(ctx context.Context, f Filters) ([]CurrencyRevenue, error)
	Breakdown(ctx context.Context, dimension string, f Filters) ([]Breakdown, error)
	GrowthRows(ctx context.Context, previousFrom, currentFrom, until time.Time) ([]GrowthRow, error)
	RepeatUsers(ctx context.Context, f Filters) (RepeatUsers, error)
}

// GrowthRow holds per-currency counts and revenue for both 30-day windows.
type GrowthRow struct {
	Currency        string
	CurrentCount    int
	PreviousCount   int
	CurrentRevenue  float64
	PreviousRevenue float64
}

const columns = `t.id, t.transaction_id, t.user_id, t.amount::float8, t.currency, t.local_amount::float8, t.plan_type,
    t.device, t.payment_method, t.status, t.ad_source, t.ad_campaign, t.created_at`

var listSpec = &query.Spec{
	Select: columns,
	From:   "transactions t",
	Search: []string{"t.transaction_id", "t.user_id", "t.ad_campaign"},
	Sorts: map[string]string{
		"id":             "t.id",
		"created_at":     "t.created_at",
		"amount":         "t.amount",
		"local_amount":   "t.local_amount",
		"currency":       "t.currency",
		"status":         "t.status",
		"plan_type":      "t.plan_type",
		"device":         "t.device",
		"payment_method": "t.payment_method",
		"user_id":        "t.user_id",
		"transaction_id": "t.transaction_id",
	},
	DefaultSort:  "created_at",
	TieBreak:     "t.id",
	DefaultLimit: 20,
}

var totalsSpec = &query.Spec{
	Select: `COUNT(*), COUNT(*) FILTER (WHERE t.status = 'success')`,
	From:   "transactions t",
	Search: listSpec.Search,
}

var revenueSpec = &query.Spec{
	Select:      `t.currency, COUNT(*), COALESCE(SUM(t.amount), 0)::float8, COALESCE(SUM(t.local_amount), 0)::float8`,
	From:        "transactions t",
	GroupBy:     "t.currency",
	Search:      listSpec.Search,
	Sorts:       map[string]string{"revenue": "SUM(t.amount)"},
	DefaultSort: "revenue",
	TieBreak:    "t.currency",
}

// breakdownSpecs is keyed by the public dimension name.
var breakdownSpecs = map[string]*query.Spec{
	"device":         breakdownSpec("t.device"),
	"plan_type":      breakdownSpec("t.plan_type"),
	"payment_method": breakdownSpec("t.payment_method"),
	"status":         breakdownSpec("t.status"),
}

func breakdownSpec(col string) *query.Spec {
	key := fmt.Sprintf("COALESCE(NULLIF(%s, ''), 'unknown')", col)
	return &query.Spec{
		Select: key + `, COUNT(*), COUNT(*) FILTER (WHERE t.status = 'success'),
    COALESCE(SUM(t.local_amount) FILTER (WHERE t.status = 'success'), 0)::float8`,
		From:        "transactions t",
		GroupBy:     key,
		Search:      listSpec.Search,
		Sorts:       map[string]string{"count": "COUNT(*)"},
		DefaultSort: "count",
		TieBreak:    key,
	}
}

var buyersSpec = &query.Spec{
	Select: `t.user_id, COUNT(*) AS purchases, BOOL_OR(prior.returning IS NOT NULL) AS returning`,
	From: `transactions t
LEFT JOIN LATERAL (
    SELECT TRUE AS returning FROM transactions p
    WHERE p.user_id = t.user_id AND p.status = 'success' AND p.created_at < ?
    LIMIT 1
) prior ON TRUE`,
	GroupBy: "t.user_id",
	Search:  listSpec.Search,
}

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func applyFilters(q *query.Query, f Filters) *query.Query {
	return q.Search(f.Search).
		EqString("t.status", f.Status).
		EqString("t.currency", strings.ToUpper(f.Currency)).
		EqString("t.device", f.Device).
		EqString("t.plan_type", f.PlanType).
		EqString("t.payment_method", f.PaymentMethod).
		DateRange("t.created_at", f.StartDate, f.EndDate).
		Between("t.amount", f.MinAmount, f.MaxAmount)
}

func scan(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.TransactionID, &t.UserID, &t.Amount, &t.Currency, &t.LocalAmount, &t.PlanType,
		&t.Device, &t.PaymentMethod, &t.Status, &t.AdSource, &t.AdCampaign, &t.CreatedAt)
	return t, err
}

func (r *PGRepository) queryAll(ctx context.Context, sql string, args []any) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// List pages transactions matching f.
func (r *PGRepository) List(ctx context.Context, f Filters) ([]Transaction, int, error) {
	q := applyFilters(listSpec.New(), f).OrderBy(f.SortBy, f.SortDir).Paginate(f.Page, f.Limit)
	countSQL, countArgs := q.CountSQL()
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	listSQL, listArgs := q.ListSQL()
	out, err := r.queryAll(ctx, listSQL, listArgs)
	return out, total, err
}

// Export returns every transaction matching f.
func (r *PGRepository) Export(ctx context.Context, f Filters) ([]Transaction, error) {
	sql, args := applyFilters(listSpec.New(), f).OrderBy(f.SortBy, f.SortDir).AllSQL()
	return r.queryAll(ctx, sql, args)
}

// Get loads one transaction.
func (r *PGRepository) Get(ctx context.Context, id int64) (Transaction, error) {
	t, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM transactions t WHERE t.id = $1`, id))
	if db.IsNoRows(err) {
		return Transaction{}, httpx.NotFound("transaction %d not found", id)
	}
	return t, err
}

// Update writes the non-nil fields of in.
func (r *PGRepository) Update(ctx context.Context, id int64, in UpdateInput) (Transaction, error) {
	var (
		sets []string
		args = []any{id}
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if in.Status != nil {
		set("status", *in.Status)
	}
	if in.Amount != nil {
		set("amount", *in.Amount)
	}
	if in.Currency != nil {
		set("currency", *in.Currency)
	}
	if in.LocalAmount != nil {
		set("local_amount", *in.LocalAmount)
	}
	if in.PlanType != nil {
		set("plan_type", *in.PlanType)
	}
	if in.Device != nil {
		set("device", *in.Device)
	}
	if in.PaymentMethod != nil {
		set("payment_method", *in.PaymentMethod)
	}
	if in.AdSource != nil {
		set("ad_source", *in.AdSource)
	}
	if in.AdCampaign != nil {
		set("ad_campaign", *in.AdCampaign)
	}
	if len(sets) == 0 {
		return Transaction{}, httpx.Invalid("no fields to update")
	}
	sql := `UPDATE transactions t SET ` + strings.Join(sets, ", ") + ` WHERE t.id = $1 RETURNING ` + columns
	t, err := scan(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return Transaction{}, httpx.NotFound("transaction %d not found", id)
	}
	return t, err
}

// Delete removes one transaction.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFound("transaction %d not found", id)
	}
	return nil
}

// Totals counts all and successful transactions matching f.
func (r *PGRepository) Totals(ctx context.Context, f Filters) (int, int, error) {
	sql, args := applyFilters(totalsSpec.New(), f).AllSQL()
	var total, success int
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&total, &success)
	return total, success, err
}

// RevenueByCurrency sums successful transactions per currency.
func (r *PGRepository) RevenueByCurrency(ctx context.Context, f Filters) ([]CurrencyRevenue, error) {
	f.Status = StatusSuccess
	sql, args := applyFilters(revenueSpec.New(), f).AllSQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CurrencyRevenue{}
	for rows.Next() {
		var c CurrencyRevenue
		if err := rows.Scan(&c.Currency, &c.Count, &c.Revenue, &c.LocalRevenue); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Breakdown groups transactions matching f by dimension.
func (r *PGRepository) Breakdown(ctx context.Context, dimension string, f Filters) ([]Breakdown, error) {
	spec, ok := breakdownSpecs[dimension]
	if !ok {
		return nil, fmt.Errorf("transactions: unknown breakdown %q", dimension)
	}
	sql, args := applyFilters(spec.New(), f).AllSQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Breakdown{}
	for rows.Next() {
		var b Breakdown
		if err := rows.Scan(&b.Key, &b.Count, &b.SuccessCount, &b.LocalRevenue); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GrowthRows aggregates successful transactions in [previousFrom, currentFrom)
// and [currentFrom, until) per currency.
func (r *PGRepository) GrowthRows(ctx context.Context, previousFrom, currentFrom, until time.Time) ([]GrowthRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT t.currency,
    COUNT(*) FILTER (WHERE t.created_at >= $2),
    COUNT(*) FILTER (WHERE t.created_at < $2),
    COALESCE(SUM(t.amount) FILTER (WHERE t.created_at >= $2), 0)::float8,
    COALESCE(SUM(t.amount) FILTER (WHERE t.created_at < $2), 0)::float8
FROM transactions t
WHERE t.status = 'success' AND t.created_at >= $1 AND t.created_at < $3
GROUP BY t.currency
ORDER BY t.currency`, previousFrom, currentFrom, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []GrowthRow{}
	for rows.Next() {
		var g GrowthRow
		if err := rows.Scan(&g.Currency, &g.CurrentCount, &g.PreviousCount, &g.CurrentRevenue, &g.PreviousRevenue); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RepeatUsers counts successful buyers in the window, those who bought at
// least twice, and those who had bought before the window began.
func (r *PGRepository) RepeatUsers(ctx context.Context, f Filters) (RepeatUsers, error) {
	f.Status = StatusSuccess
	inner, args := applyFilters(buyersSpec.New(f.StartDate), f).AllSQL()
	sql := `SELECT COUNT(*), COUNT(*) FILTER (WHERE u.purchases >= 2), COUNT(*) FILTER (WHERE u.returning)
FROM (` + inner + `) u`
	var out RepeatUsers
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&out.Buyers, &out.RepeatUsers, &out.ReturningUsers)
	return out, err
}
