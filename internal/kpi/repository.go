package kpi

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

// Repository persists KPI data.
type Repository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	CreateCategory(ctx context.Context, in CategoryInput) (Category, error)
	UpdateCategory(ctx context.Context, id int64, in CategoryInput) (Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CountCategoryKPIs(ctx context.Context, id int64) (int, error)

	ListKPIs(ctx context.Context, filters KPIFilters) ([]KPI, error)
	GetKPI(ctx context.Context, id int64) (KPI, error)
	ActiveCodeExists(ctx context.Context, code string, excludeID int64) (bool, error)
	CreateKPI(ctx context.Context, in KPIInput) (KPI, error)
	UpdateKPI(ctx context.Context, id int64, in KPIInput) (KPI, error)
	CountKPIValues(ctx context.Context, id int64) (int, error)
	ArchiveKPI(ctx context.Context, id int64) error
	DeleteKPI(ctx context.Context, id int64) error

	ListValues(ctx context.Context, filters ValueFilters) ([]DataRow, int, error)
	ExportValues(ctx context.Context, filters ValueFilters) ([]DataRow, error)
	CreateValue(ctx context.Context, kpiID int64, in ValueInput) (Value, error)
	UpdateValue(ctx context.Context, id int64, in ValueInput) (Value, error)
	DeleteValue(ctx context.Context, id int64) error

	DashboardRows(ctx context.Context, from, to time.Time) ([]DashboardRow, error)
	ComparisonRows(ctx context.Context, f ComparisonFilters) ([]ComparisonRow, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the statements run inside a bulk import transaction.
type TxRepository interface {
	UpsertValue(ctx context.Context, kpiID int64, in ValueInput) (Value, bool, error)
}

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("kpi: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

type txRepo struct {
	q db.Querier
}

const valueColumns = `v.id, v.kpi_id, to_char(v.date, 'YYYY-MM-DD'), v.android, v.ios, v.net, v.data_source, v.note, v.created_at, v.updated_at`

func scanValue(row pgx.Row) (Value, error) {
	var v Value
	err := row.Scan(&v.ID, &v.KPIID, &v.Date, &v.Android, &v.IOS, &v.Net, &v.DataSource, &v.Note, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// UpsertValue inserts or updates the (kpi_id, date) row and reports whether
// it was newly inserted.
func (t *txRepo) UpsertValue(ctx context.Context, kpiID int64, in ValueInput) (Value, bool, error) {
	const sql = `INSERT INTO kpi_values AS v (kpi_id, date, android, ios, net, data_source, note)
VALUES ($1, $2::date, $3, $4, $5, $6, $7)
ON CONFLICT (kpi_id, date) DO UPDATE SET
    android = EXCLUDED.android,
    ios = EXCLUDED.ios,
    net = EXCLUDED.net,
    data_source = EXCLUDED.data_source,
    note = EXCLUDED.note,
    updated_at = NOW()
RETURNING ` + valueColumns + `, (xmax = 0)`
	var v Value
	var inserted bool
	err := t.q.QueryRow(ctx, sql, kpiID, in.Date, in.Android, in.IOS, in.Net, in.DataSource, in.Note).
		Scan(&v.ID, &v.KPIID, &v.Date, &v.Android, &v.IOS, &v.Net, &v.DataSource, &v.Note, &v.CreatedAt, &v.UpdatedAt, &inserted)
	if err != nil {
		return Value{}, false, db.Translate(err, "duplicate KPI value")
	}
	return v, inserted, nil
}

// ListCategories returns categories with their KPI counts.
func (r *PGRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.name, c.display_order,
    (SELECT COUNT(*) FROM kpis k WHERE k.category_id = c.id),
    c.created_at, c.updated_at
FROM kpi_categories c
ORDER BY c.display_order, c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayOrder, &c.KPICount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCategory loads one category.
func (r *PGRepository) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx, `SELECT c.id, c.name, c.display_order,
    (SELECT COUNT(*) FROM kpis k WHERE k.category_id = c.id),
    c.created_at, c.updated_at
FROM kpi_categories c WHERE c.id = $1`, id).
		Scan(&c.ID, &c.Name, &c.DisplayOrder, &c.KPICount, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return Category{}, httpx.NotFound("category %d not found", id)
	}
	return c, err
}

// CreateCategory inserts a category.
func (r *PGRepository) CreateCategory(ctx context.Context, in CategoryInput) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx, `INSERT INTO kpi_categories (name, display_order) VALUES ($1, $2)
RETURNING id, name, display_order, created_at, updated_at`, in.Name, in.DisplayOrder).
		Scan(&c.ID, &c.Name, &c.DisplayOrder, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Category{}, db.Translate(err, fmt.Sprintf("category name %q already exists", in.Name))
	}
	return c, nil
}

// UpdateCategory renames or reorders a category.
func (r *PGRepository) UpdateCategory(ctx context.Context, id int64, in CategoryInput) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx, `UPDATE kpi_categories SET name = $2, display_order = $3, updated_at = NOW()
WHERE id = $1
RETURNING id, name, display_order, created_at, updated_at`, id, in.Name, in.DisplayOrder).
		Scan(&c.ID, &c.Name, &c.DisplayOrder, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return Category{}, httpx.NotFound("category %d not found", id)
	}
	if err != nil {
		return Category{}, db.Translate(err, fmt.Sprintf("category name %q already exists", in.Name))
	}
	return c, nil
}

// DeleteCategory removes a category row.
func (r *PGRepository) DeleteCategory(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM kpi_categories WHERE id = $1`, id)
	if err != nil {
		return db.Translate(err, "category is in use")
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFound("category %d not found", id)
	}
	return nil
}

// CountCategoryKPIs counts KPIs referencing a category, archived included.
func (r *PGRepository) CountCategoryKPIs(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kpis WHERE category_id = $1`, id).Scan(&n)
	return n, err
}

const kpiColumns = `k.id, k.name, k.code, k.category_id, c.name, k.unit, k.benchmark, k.has_platform_split,
    k.display_order, k.is_active, (SELECT COUNT(*) FROM kpi_values v WHERE v.kpi_id = k.id), k.created_at, k.updated_at`

func scanKPI(row pgx.Row) (KPI, error) {
	var k KPI
	err := row.Scan(&k.ID, &k.Name, &k.Code, &k.CategoryID, &k.CategoryName, &k.Unit, &k.Benchmark,
		&k.HasPlatformSplit, &k.DisplayOrder, &k.IsActive, &k.ValueCount, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

// ListKPIs returns KPI definitions in dashboard order.
func (r *PGRepository) ListKPIs(ctx context.Context, filters KPIFilters) ([]KPI, error) {
	var (
		where []string
		args  []any
	)
	if filters.CategoryID != nil {
		args = append(args, *filters.CategoryID)
		where = append(where, fmt.Sprintf("k.category_id = $%d", len(args)))
	}
	if filters.Active != nil {
		args = append(args, *filters.Active)
		where = append(where, fmt.Sprintf("k.is_active = $%d", len(args)))
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		args = append(args, query.LikePattern(s))
		where = append(where, fmt.Sprintf(`(k.name ILIKE $%d ESCAPE '\' OR k.code ILIKE $%d ESCAPE '\')`, len(args), len(args)))
	}
	sql := `SELECT ` + kpiColumns + ` FROM kpis k JOIN kpi_categories c ON c.id = k.category_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY c.display_order, c.name, k.display_order, k.name, k.id"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []KPI{}
	for rows.Next() {
		k, err := scanKPI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetKPI loads one KPI.
func (r *PGRepository) GetKPI(ctx context.Context, id int64) (KPI, error) {
	k, err := scanKPI(r.pool.QueryRow(ctx, `SELECT `+kpiColumns+` FROM kpis k JOIN kpi_categories c ON c.id = k.category_id WHERE k.id = $1`, id))
	if db.IsNoRows(err) {
		return KPI{}, httpx.NotFound("KPI %d not found", id)
	}
	return k, err
}

// ActiveCodeExists reports whether another active KPI uses code.
func (r *PGRepository) ActiveCodeExists(ctx context.Context, code string, excludeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kpis WHERE code = $1 AND is_active AND id <> $2)`, code, excludeID).Scan(&exists)
	return exists, err
}

// CreateKPI inserts a KPI definition.
func (r *PGRepository) CreateKPI(ctx context.Context, in KPIInput) (KPI, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO kpis (name, code, category_id, unit, benchmark, has_platform_split, display_order, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		in.Name, in.Code, in.CategoryID, in.Unit, in.Benchmark, boolOr(in.HasPlatformSplit, true), in.DisplayOrder, boolOr(in.IsActive, true)).Scan(&id)
	if err != nil {
		return KPI{}, db.Translate(err, fmt.Sprintf("KPI code %q already exists", in.Code))
	}
	return r.GetKPI(ctx, id)
}

// UpdateKPI rewrites a KPI definition.
func (r *PGRepository) UpdateKPI(ctx context.Context, id int64, in KPIInput) (KPI, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE kpis SET name = $2, code = $3, category_id = $4, unit = $5, benchmark = $6,
    has_platform_split = COALESCE($7, has_platform_split), display_order = $8,
    is_active = COALESCE($9, is_active), updated_at = NOW()
WHERE id = $1`,
		id, in.Name, in.Code, in.CategoryID, in.Unit, in.Benchmark, in.HasPlatformSplit, in.DisplayOrder, in.IsActive)
	if err != nil {
		return KPI{}, db.Translate(err, fmt.Sprintf("KPI code %q already exists", in.Code))
	}
	if tag.RowsAffected() == 0 {
		return KPI{}, httpx.NotFound("KPI %d not found", id)
	}
	return r.GetKPI(ctx, id)
}

// CountKPIValues counts value rows of a KPI.
func (r *PGRepository) CountKPIValues(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kpi_values WHERE kpi_id = $1`, id).Scan(&n)
	return n, err
}

// ArchiveKPI marks a KPI inactive, keeping its row and values.
func (r *PGRepository) ArchiveKPI(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE kpis SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFound("KPI %d not found", id)
	}
	return nil
}

// DeleteKPI removes a KPI row.
func (r *PGRepository) DeleteKPI(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM kpis WHERE id = $1`, id)
	if err != nil {
		return db.Translate(err, "KPI is in use")
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFound("KPI %d not found", id)
	}
	return nil
}

var valueSpec = &query.Spec{
	Select: valueColumns + `, k.name, k.code, k.unit, k.category_id, c.name`,
	From:   `kpi_values v JOIN kpis k ON k.id = v.kpi_id JOIN kpi_categories c ON c.id = k.category_id`,
	Search: []string{"k.name", "k.code", "v.note", "v.data_source"},
	Sorts: map[string]string{
		"id":         "v.id",
		"date":       "v.date",
		"kpi":        "k.name",
		"category":   "c.name",
		"android":    "v.android",
		"ios":        "v.ios",
		"net":        "v.net",
		"created_at": "v.created_at",
		"updated_at": "v.updated_at",
	},
	DefaultSort:  "date",
	TieBreak:     "v.id",
	DefaultLimit: 20,
}

func valueQuery(f ValueFilters) *query.Query {
	q := valueSpec.New().Search(f.Search)
	query.Eq(q, "v.kpi_id", f.KPIID)
	query.Eq(q, "k.category_id", f.CategoryID)
	return q.DateRange("v.date", f.StartDate, f.EndDate).
		OrderBy(f.SortBy, f.SortDir).
		Paginate(f.Page, f.Limit)
}

// ListValues pages value rows joined with their KPI and category.
func (r *PGRepository) ListValues(ctx context.Context, f ValueFilters) ([]DataRow, int, error) {
	q := valueQuery(f)
	countSQL, countArgs := q.CountSQL()
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	listSQL, listArgs := q.ListSQL()
	out, err := r.queryDataRows(ctx, listSQL, listArgs)
	return out, total, err
}

// ExportValues returns every value row matching f, unpaged.
func (r *PGRepository) ExportValues(ctx context.Context, f ValueFilters) ([]DataRow, error) {
	sql, args := valueQuery(f).AllSQL()
	return r.queryDataRows(ctx, sql, args)
}

func (r *PGRepository) queryDataRows(ctx context.Context, sql string, args []any) ([]DataRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DataRow{}
	for rows.Next() {
		var d DataRow
		if err := rows.Scan(&d.ID, &d.KPIID, &d.Date, &d.Android, &d.IOS, &d.Net, &d.DataSource, &d.Note,
			&d.CreatedAt, &d.UpdatedAt, &d.KPIName, &d.KPICode, &d.Unit, &d.CategoryID, &d.CategoryName); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateValue inserts a value; an existing (kpi_id, date) is a conflict.
func (r *PGRepository) CreateValue(ctx context.Context, kpiID int64, in ValueInput) (Value, error) {
	v, err := scanValue(r.pool.QueryRow(ctx, `INSERT INTO kpi_values AS v (kpi_id, date, android, ios, net, data_source, note)
VALUES ($1, $2::date, $3, $4, $5, $6, $7)
RETURNING `+valueColumns, kpiID, in.Date, in.Android, in.IOS, in.Net, in.DataSource, in.Note))
	if err != nil {
		return Value{}, db.Translate(err, fmt.Sprintf("a value for KPI %d on %s already exists", kpiID, in.Date))
	}
	return v, nil
}

// UpdateValue rewrites one value row.
func (r *PGRepository) UpdateValue(ctx context.Context, id int64, in ValueInput) (Value, error) {
	v, err := scanValue(r.pool.QueryRow(ctx, `UPDATE kpi_values AS v SET date = $2::date, android = $3, ios = $4, net = $5,
    data_source = $6, note = $7, updated_at = NOW()
WHERE v.id = $1
RETURNING `+valueColumns, id, in.Date, in.Android, in.IOS, in.Net, in.DataSource, in.Note))
	if db.IsNoRows(err) {
		return Value{}, httpx.NotFound("KPI value %d not found", id)
	}
	if err != nil {
		return Value{}, db.Translate(err, fmt.Sprintf("a value on %s already exists for this KPI", in.Date))
	}
	return v, nil
}

// DeleteValue removes one value row.
func (r *PGRepository) DeleteValue(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM kpi_values WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.NotFound("KPI value %d not found", id)
	}
	return nil
}

// DashboardRows averages each active KPI's platform values over [from, to].
func (r *PGRepository) DashboardRows(ctx context.Context, from, to time.Time) ([]DashboardRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.name, c.display_order,
    k.id, k.name, k.code, k.unit, k.benchmark, k.has_platform_split,
    AVG(v.android)::float8, AVG(v.ios)::float8, AVG(v.net)::float8,
    COUNT(v.id), to_char(MAX(v.date), 'YYYY-MM-DD')
FROM kpi_categories c
JOIN kpis k ON k.category_id = c.id AND k.is_active
LEFT JOIN kpi_values v ON v.kpi_id = k.id AND v.date BETWEEN $1::date AND $2::date
GROUP BY c.id, k.id
ORDER BY c.display_order, c.name, k.display_order, k.name`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DashboardRow{}
	for rows.Next() {
		var d DashboardRow
		if err := rows.Scan(&d.CategoryID, &d.CategoryName, &d.CategoryDisplayOrder,
			&d.KPI.ID, &d.KPI.Name, &d.KPI.Code, &d.KPI.Unit, &d.KPI.Benchmark, &d.KPI.HasPlatformSplit,
			&d.KPI.Android, &d.KPI.IOS, &d.KPI.Net, &d.KPI.DataPoints, &d.KPI.LatestDate); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ComparisonRows computes per-platform means and counts for both periods in
// one pass over the values of each active KPI.
func (r *PGRepository) ComparisonRows(ctx context.Context, f ComparisonFilters) ([]ComparisonRow, error) {
	const p1 = `v.date BETWEEN $1::date AND $2::date`
	const p2 = `v.date BETWEEN $3::date AND $4::date`
	var cols []string
	for _, period := range []string{p1, p2} {
		for _, p := range Platforms {
			cols = append(cols,
				fmt.Sprintf("(AVG(v.%s) FILTER (WHERE %s))::float8", p, period),
				fmt.Sprintf("COUNT(v.%s) FILTER (WHERE %s)", p, period))
		}
	}
	sql := `SELECT c.id, c.name, k.id, k.name, k.code, k.unit, ` + strings.Join(cols, ", ") + `
FROM kpis k
JOIN kpi_categories c ON c.id = k.category_id
LEFT JOIN kpi_values v ON v.kpi_id = k.id AND ((` + p1 + `) OR (` + p2 + `))
WHERE k.is_active
  AND ($5::bigint IS NULL OR k.id = $5)
  AND ($6::bigint IS NULL OR k.category_id = $6)
GROUP BY c.id, k.id
ORDER BY c.display_order, c.name, k.display_order, k.name`

	rows, err := r.pool.Query(ctx, sql, f.Start1, f.End1, f.Start2, f.End2, f.KPIID, f.CategoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ComparisonRow{}
	for rows.Next() {
		var (
			row   ComparisonRow
			avgs  [6]*float64
			count [6]int
		)
		dest := []any{&row.CategoryID, &row.CategoryName, &row.KPIID, &row.KPIName, &row.KPICode, &row.Unit}
		for i := range avgs {
			dest = append(dest, &avgs[i], &count[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row.Period1 = make(map[Platform]PlatformStat, len(Platforms))
		row.Period2 = make(map[Platform]PlatformStat, len(Platforms))
		for i, p := range Platforms {
			row.Period1[p] = PlatformStat{Avg: avgs[i], Count: count[i]}
			row.Period2[p] = PlatformStat{Avg: avgs[i+len(Platforms)], Count: count[i+len(Platforms)]}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
