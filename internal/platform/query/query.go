// Package query compiles filtered, sorted and paginated listing queries.
//
// A Spec is declared once per entity. Every Query built from it renders its
// list and count statements from the same predicate set, so the two can never
// disagree about which rows match.
package query

import (
	"strconv"
	"strings"
	"time"
)

// Spec describes the static shape of a listing query.
type Spec struct {
	// Select is the projection placed between SELECT and FROM.
	Select string
	// From holds the FROM clause including joins. It may contain ? placeholders
	// bound by the arguments passed to New.
	From    string
	GroupBy string
	// Search lists the columns matched with ILIKE by Query.Search.
	Search []string
	// Sorts maps the public sort field to its SQL expression.
	Sorts       map[string]string
	DefaultSort string
	// TieBreak is appended to every ORDER BY to keep paging stable.
	TieBreak     string
	DefaultLimit int
	// MaxLimit clamps the page size to [1, MaxLimit] when positive.
	MaxLimit int
}

// Query accumulates predicates and paging for one request.
type Query struct {
	spec   *Spec
	from   string
	where  []string
	having []string
	args   []any
	order  string
	page   int
	limit  int
}

// New starts a query, binding any placeholders in the FROM clause.
func (s *Spec) New(fromArgs ...any) *Query {
	q := &Query{spec: s}
	q.from = q.bind(s.From, fromArgs)
	q.OrderBy("", "")
	q.Paginate(1, 0)
	return q
}

// Where adds a predicate; ? placeholders are bound to args in order.
func (q *Query) Where(expr string, args ...any) *Query {
	q.where = append(q.where, q.bind(expr, args))
	return q
}

// Having adds a predicate over aggregated columns.
func (q *Query) Having(expr string, args ...any) *Query {
	q.having = append(q.having, q.bind(expr, args))
	return q
}

// Search matches term against every search column. Empty terms are ignored.
func (q *Query) Search(term string) *Query {
	term = strings.TrimSpace(term)
	if term == "" || len(q.spec.Search) == 0 {
		return q
	}
	pattern := LikePattern(term)
	parts := make([]string, 0, len(q.spec.Search))
	for _, col := range q.spec.Search {
		parts = append(parts, col+" ILIKE "+q.placeholder(pattern)+` ESCAPE '\'`)
	}
	q.where = append(q.where, "("+strings.Join(parts, " OR ")+")")
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern wraps term for a substring match, escaping LIKE wildcards so
// they match literally. Pair it with ESCAPE '\'.
func LikePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// Eq adds an equality predicate when v is non-nil.
func Eq[T any](q *Query, col string, v *T) *Query {
	if v == nil {
		return q
	}
	return q.Where(col+" = ?", *v)
}

// EqString adds an equality predicate when v is not blank.
func (q *Query) EqString(col, v string) *Query {
	v = strings.TrimSpace(v)
	if v == "" {
		return q
	}
	return q.Where(col+" = ?", v)
}

// DateRange bounds col to the calendar days [from, to]; either side may be nil.
func (q *Query) DateRange(col string, from, to *time.Time) *Query {
	if from != nil {
		q.Where(col+" >= ?", *from)
	}
	if to != nil {
		q.Where(col+" < ?", to.AddDate(0, 0, 1))
	}
	return q
}

// Between bounds col to [min, max]; either side may be nil.
func (q *Query) Between(col string, min, max *float64) *Query {
	if min != nil {
		q.Where(col+" >= ?", *min)
	}
	if max != nil {
		q.Where(col+" <= ?", *max)
	}
	return q
}

// OrderBy restricts field to the spec allow-list and dir to ASC/DESC.
// Unknown fields fall back to the default sort, unknown directions to DESC.
func (q *Query) OrderBy(field, dir string) *Query {
	expr, ok := q.spec.Sorts[strings.TrimSpace(field)]
	if !ok {
		expr = q.spec.Sorts[q.spec.DefaultSort]
	}
	if expr == "" {
		q.order = ""
		return q
	}
	direction := "DESC"
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		direction = "ASC"
	}
	order := expr + " " + direction
	if q.spec.TieBreak != "" && q.spec.TieBreak != expr {
		order += ", " + q.spec.TieBreak + " " + direction
	}
	q.order = order
	return q
}

// Paginate sets the requested page and page size.
func (q *Query) Paginate(page, limit int) *Query {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = q.spec.DefaultLimit
		if limit <= 0 {
			limit = 20
		}
	}
	if q.spec.MaxLimit > 0 && limit > q.spec.MaxLimit {
		limit = q.spec.MaxLimit
	}
	q.page = page
	q.limit = limit
	return q
}

// Page returns the effective page number.
func (q *Query) Page() int { return q.page }

// Limit returns the effective page size.
func (q *Query) Limit() int { return q.limit }

// Offset returns (page-1)*limit.
func (q *Query) Offset() int { return (q.page - 1) * q.limit }

// ListSQL renders the paginated select statement.
func (q *Query) ListSQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.spec.Select)
	q.writeBody(&b)
	q.writeOrder(&b)
	args := append([]any{}, q.args...)
	args = append(args, q.limit, q.Offset())
	n := len(q.args)
	b.WriteString(" LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2))
	return b.String(), args
}

// AllSQL renders the select statement without paging, for exports and
// aggregate reports.
func (q *Query) AllSQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(q.spec.Select)
	q.writeBody(&b)
	q.writeOrder(&b)
	return b.String(), append([]any{}, q.args...)
}

// CountSQL renders the total-count statement over the same predicates.
func (q *Query) CountSQL() (string, []any) {
	var b strings.Builder
	if q.spec.GroupBy != "" || len(q.having) > 0 {
		b.WriteString("SELECT COUNT(*) FROM (SELECT 1")
		q.writeBody(&b)
		b.WriteString(") counted")
	} else {
		b.WriteString("SELECT COUNT(*)")
		q.writeBody(&b)
	}
	return b.String(), append([]any{}, q.args...)
}

func (q *Query) writeBody(b *strings.Builder) {
	b.WriteString(" FROM ")
	b.WriteString(q.from)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if q.spec.GroupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(q.spec.GroupBy)
	}
	if len(q.having) > 0 {
		b.WriteString(" HAVING ")
		b.WriteString(strings.Join(q.having, " AND "))
	}
}

func (q *Query) writeOrder(b *strings.Builder) {
	if q.order == "" {
		return
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(q.order)
}

func (q *Query) placeholder(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *Query) bind(expr string, args []any) string {
	if len(args) == 0 {
		return expr
	}
	var b strings.Builder
	i := 0
	for _, r := range expr {
		if r == '?' && i < len(args) {
			b.WriteString(q.placeholder(args[i]))
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
