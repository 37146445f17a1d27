package activities

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

const topActivities = 10

// Repository persists activities and reads play aggregates.
type Repository interface {
	List(ctx context.Context, f Filters) ([]Activity, int, error)
	Export(ctx context.Context, f Filters) ([]Activity, error)
	Get(ctx context.Context, id int64) (Activity, error)
	Update(ctx context.Context, id int64, in UpdateInput) (Activity, error)
	Delete(ctx context.Context, id int64) error

	Types(ctx context.Context) ([]Lookup, error)
	Categories(ctx context.Context) ([]Lookup, error)
	DateRange(ctx context.Context) (DateRange, error)

	Totals(ctx context.Context, f Filters) (Totals, error)
	Top(ctx context.Context, f Filters, n int) ([]TopActivity, error)
	ByType(ctx context.Context, f Filters) ([]GroupStat, error)
	ByCategory(ctx context.Context, f Filters) ([]GroupStat, error)
	Daily(ctx context.Context, f Filters) ([]DailyPlays, error)
}

const (
	playsExpr  = "COALESCE(s.total_plays, 0)"
	usersExpr  = "COALESCE(s.unique_users, 0)"
	repeatExpr = "COALESCE(s.repeat_users::float8 / NULLIF(s.unique_users, 0), 0)"
)

// listSpec joins each activity with its per-window play aggregate. The four
// FROM placeholders bind the optional window bounds.
var listSpec = &query.Spec{
	Select: `a.id, a.name, a.type_id, ty.name, a.category_id, c.name, a.is_active, a.created_at,
    ` + playsExpr + `::int, ` + usersExpr + `::int, COALESCE(s.repeat_users, 0)::int`,
	From: `activities a
LEFT JOIN activity_types ty ON ty.id = a.type_id
LEFT JOIN activity_categories c ON c.id = a.category_id
LEFT JOIN (
    SELECT u.activity_id, SUM(u.plays) AS total_plays, COUNT(*) AS unique_users,
        COUNT(*) FILTER (WHERE u.plays > 1) AS repeat_users
    FROM (
        SELECT p.activity_id, p.user_id, COUNT(*) AS plays
        FROM activity_plays p
        WHERE (?::timestamptz IS NULL OR p.played_at >= ?::timestamptz)
          AND (?::timestamptz IS NULL OR p.played_at < ?::timestamptz)
        GROUP BY p.activity_id, p.user_id
    ) u
    GROUP BY u.activity_id
) s ON s.activity_id = a.id`,
	Search: []string{"a.name", "ty.name", "c.name"},
	Sorts: map[string]string{
		"id":           "a.id",
		"name":         "a.name",
		"created_at":   "a.created_at",
		"type":         "ty.name",
		"category":     "c.name",
		"total_plays":  playsExpr,
		"unique_users": usersExpr,
		"repeat_rate":  repeatExpr,
	},
	DefaultSort:  "total_plays",
	TieBreak:     "a.id",
	DefaultLimit: 20,
}

const playsFrom = `activity_plays p JOIN activities a ON a.id = p.activity_id`

var totalsSpec = &query.Spec{
	Select: `COUNT(*), COUNT(DISTINCT p.user_id)`,
	From:   playsFrom,
	Search: []string{"a.name"},
}

var activityCountSpec = &query.Spec{
	Select: "COUNT(*)",
	From:   "activities a",
	Search: []string{"a.name"},
}

var userPlaysSpec = &query.Spec{
	Select:  "p.user_id, COUNT(*) AS plays",
	From:    playsFrom,
	GroupBy: "p.user_id",
	Search:  []string{"a.name"},
}

var topSpec = &query.Spec{
	Select:      "a.id, a.name, COUNT(*), COUNT(DISTINCT p.user_id)",
	From:        playsFrom,
	GroupBy:     "a.id, a.name",
	Search:      []string{"a.name"},
	Sorts:       map[string]string{"plays": "COUNT(*)"},
	DefaultSort: "plays",
	TieBreak:    "a.id",
}

var byTypeSpec = groupSpec("ty", "activity_types", "a.type_id")

var byCategorySpec = groupSpec("c", "activity_categories", "a.category_id")

func groupSpec(alias, table, fk string) *query.Spec {
	return &query.Spec{
		Select: fmt.Sprintf(`%[1]s.id, COALESCE(%[1]s.name, 'Unassigned'), COUNT(DISTINCT a.id), COUNT(*), COUNT(DISTINCT p.user_id)`, alias),
		From: fmt.Sprintf(`%s
LEFT JOIN %s %s ON %s.id = %s`, playsFrom, table, alias, alias, fk),
		GroupBy:     fmt.Sprintf("%[1]s.id, %[1]s.name", alias),
		Search:      []string{"a.name"},
		Sorts:       map[string]string{"plays": "COUNT(*)"},
		DefaultSort: "plays",
		TieBreak:    alias + ".id",
	}
}

const dayExpr = "(p.played_at AT TIME ZONE 'UTC')::date"

var dailySpec = &query.Spec{
	Select:      "to_char(" + dayExpr + ", 'YYYY-MM-DD'), COUNT(*), COUNT(DISTINCT p.user_id)",
	From:        playsFrom,
	GroupBy:     dayExpr,
	Search:      []string{"a.name"},
	Sorts:       map[string]string{"day": dayExpr},
	DefaultSort: "day",
}

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func windowArgs(f Filters) []any {
	var to *time.Time
	if f.EndDate != nil {
		next := f.EndDate.AddDate(0, 0, 1)
		to = &next
	}
	return []any{f.StartDate, f.StartDate, to, to}
}

func listQuery(f Filters) *query.Query {
	q := listSpec.New(windowArgs(f)...).Search(f.Search)
	q = query.Eq(q, "a.type_id", f.TypeID)
	q = query.Eq(q, "a.category_id", f.CategoryID)
	q = query.Eq(q, "a.is_active", f.IsActive)
	return q.Between(playsExpr, f.MinPlays, f.MaxPlays)
}

// playFilters applies the window and classification filters to a query over
// playsFrom.
func playFilters(q *query.Query, f Filters) *query.Query {
	q = q.Search(f.Search).DateRange("p.played_at", f.StartDate, f.EndDate)
	q = query.Eq(q, "a.type_id", f.TypeID)
	q = query.Eq(q, "a.category_id", f.CategoryID)
	return query.Eq(q, "a.is_active", f.IsActive)
}

func scanActivity(row pgx.Row) (Activity, error) {
	var a Activity
	err := row.Scan(&a.ID, &a.Name, &a.TypeID, &a.TypeName, &a.CategoryID, &a.CategoryName, &a.IsActive, &a.CreatedAt,
		&a.TotalPlays, &a.UniqueUsers, &a.RepeatUsers)
	a.RepeatRate = RepeatRate(a.RepeatUsers, a.UniqueUsers)
	return a, err
}

func (r *PGRepository) queryActivities(ctx context.Context, sql string, args []any) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// List pages activities matching f.
func (r *PGRepository) List(ctx context.Context, f Filters) ([]Activity, int, error) {
	q := listQuery(f).OrderBy(f.SortBy, f.SortDir).Paginate(f.Page, f.Limit)
	countSQL, countArgs := q.CountSQL()
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	listSQL, listArgs := q.ListSQL()
	out, err := r.queryActivities(ctx, listSQL, listArgs)
	return out, total, err
}

// Export returns every activity matching f.
func (r *PGRepository) Export(ctx context.Context, f Filters) ([]Activity, error) {
	sql, args := listQuery(f).OrderBy(f.SortBy, f.SortDir).AllSQL()
	return r.queryActivities(ctx, sql, args)
}

// Get loads one activity with all-time statistics.
func (r *PGRepository) Get(ctx context.Context, id int64) (Activity, error) {
	sql, args := listSpec.New(nil, nil, nil, nil).Where("a.id = ?", id).AllSQL()
	a, err := scanActivity(r.pool.QueryRow(ctx, sql, args...))
	if db.IsNoRows(err) {
		return Activity{}, httpx.NotFound("activity %d not found", id)
	}
	return a, err
}

// Update writes the non-nil fields of in and returns the refreshed activity.
func (r *PGRepository) Update(ctx context.Context, id int64, in UpdateInput) (Activity, error) {
	var (
		sets []string
		args = []any{id}
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if in.Name != nil {
		set("name", *in.Name)
	}
	if in.TypeID != nil {
		set("type_id", *in.TypeID)
	}
	if in.CategoryID != nil {
		set("category_id", *in.CategoryID)
	}
	if in.IsActive != nil {
		set("is_active", *in.IsActive)
	}
	if len(sets) == 0 {
		return Activity{}, httpx.Invalid("no fields to update")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE activities SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return Activity{}, db.Translate(err, "activity already exists")
	}
	if tag.RowsAffected() == 0 {
		return Activity{}, httpx.NotFound("activity %d not found", id)
	}
	return r.Get(ctx, id)
}

// Delete removes one activity together with its plays.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFound("activity %d not found", id)
	}
	return nil
}

func (r *PGRepository) lookups(ctx context.Context, table, fk string) ([]Lookup, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT l.id, l.name, COUNT(a.id)
FROM %s l
LEFT JOIN activities a ON a.%s = l.id
GROUP BY l.id, l.name
ORDER BY l.name`, table, fk))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Lookup{}
	for rows.Next() {
		var l Lookup
		if err := rows.Scan(&l.ID, &l.Name, &l.ActivityCount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Types lists activity types with their activity counts.
func (r *PGRepository) Types(ctx context.Context) ([]Lookup, error) {
	return r.lookups(ctx, "activity_types", "type_id")
}

// Categories lists activity categories with their activity counts.
func (r *PGRepository) Categories(ctx context.Context) ([]Lookup, error) {
	return r.lookups(ctx, "activity_categories", "category_id")
}

// DateRange returns the first and last play dates; both are nil without plays.
func (r *PGRepository) DateRange(ctx context.Context) (DateRange, error) {
	var out DateRange
	err := r.pool.QueryRow(ctx, `SELECT
    to_char(MIN(played_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD'),
    to_char(MAX(played_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD')
FROM activity_plays`).Scan(&out.MinDate, &out.MaxDate)
	return out, err
}

// Totals counts activities, plays, unique and repeat users for f.
func (r *PGRepository) Totals(ctx context.Context, f Filters) (Totals, error) {
	var out Totals

	aq := activityCountSpec.New().Search(f.Search)
	aq = query.Eq(aq, "a.type_id", f.TypeID)
	aq = query.Eq(aq, "a.category_id", f.CategoryID)
	aq = query.Eq(aq, "a.is_active", f.IsActive)
	sql, args := aq.AllSQL()
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&out.Activities); err != nil {
		return Totals{}, err
	}

	sql, args = playFilters(totalsSpec.New(), f).AllSQL()
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&out.Plays, &out.UniqueUsers); err != nil {
		return Totals{}, err
	}

	inner, args := playFilters(userPlaysSpec.New(), f).AllSQL()
	sql = `SELECT COUNT(*) FILTER (WHERE u.plays > 1) FROM (` + inner + `) u`
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&out.RepeatUsers); err != nil {
		return Totals{}, err
	}
	return out, nil
}

// Top returns the n most played activities for f.
func (r *PGRepository) Top(ctx context.Context, f Filters, n int) ([]TopActivity, error) {
	if n <= 0 {
		n = topActivities
	}
	sql, args := playFilters(topSpec.New(), f).Paginate(1, n).ListSQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TopActivity{}
	for rows.Next() {
		var t TopActivity
		if err := rows.Scan(&t.ID, &t.Name, &t.Plays, &t.UniqueUsers); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ByType groups plays by activity type.
func (r *PGRepository) ByType(ctx context.Context, f Filters) ([]GroupStat, error) {
	return r.groups(ctx, byTypeSpec, f)
}

// ByCategory groups plays by activity category.
func (r *PGRepository) ByCategory(ctx context.Context, f Filters) ([]GroupStat, error) {
	return r.groups(ctx, byCategorySpec, f)
}

func (r *PGRepository) groups(ctx context.Context, spec *query.Spec, f Filters) ([]GroupStat, error) {
	sql, args := playFilters(spec.New(), f).AllSQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []GroupStat{}
	for rows.Next() {
		var g GroupStat
		if err := rows.Scan(&g.ID, &g.Name, &g.Activities, &g.Plays, &g.UniqueUsers); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Daily counts plays per UTC calendar day, oldest first.
func (r *PGRepository) Daily(ctx context.Context, f Filters) ([]DailyPlays, error) {
	sql, args := playFilters(dailySpec.New(), f).OrderBy("day", "asc").AllSQL()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DailyPlays{}
	for rows.Next() {
		var d DailyPlays
		if err := rows.Scan(&d.Date, &d.Plays, &d.UniqueUsers); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
