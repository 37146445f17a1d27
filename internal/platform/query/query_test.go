package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txnSpec = &Spec{
	Select: "t.id, t.amount",
	From:   "transactions t",
	Search: []string{"t.transaction_id", "t.user_id"},
	Sorts: map[string]string{
		"created_at": "t.created_at",
		"amount":     "t.amount",
	},
	DefaultSort: "created_at",
	TieBreak:    "t.id",
}

func TestListAndCountSharePredicates(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	q := txnSpec.New().
		Search("abc").
		EqString("t.status", "success").
		DateRange("t.created_at", &from, &to).
		OrderBy("amount", "asc").
		Paginate(3, 10)

	list, listArgs := q.ListSQL()
	count, countArgs := q.CountSQL()

	where := ` WHERE (t.transaction_id ILIKE $1 ESCAPE '\' OR t.user_id ILIKE $2 ESCAPE '\') AND t.status = $3 AND t.created_at >= $4 AND t.created_at < $5`
	assert.Equal(t, "SELECT t.id, t.amount FROM transactions t"+where+" ORDER BY t.amount ASC, t.id ASC LIMIT $6 OFFSET $7", list)
	assert.Equal(t, "SELECT COUNT(*) FROM transactions t"+where, count)

	require.Len(t, listArgs, 7)
	assert.Equal(t, countArgs, listArgs[:5])
	assert.Equal(t, "%abc%", listArgs[0])
	assert.Equal(t, to.AddDate(0, 0, 1), listArgs[4])
	assert.Equal(t, 10, listArgs[5])
	assert.Equal(t, 20, listArgs[6])
}

func TestSearchEscapesWildcards(t *testing.T) {
	_, args := txnSpec.New().Search(`50%_off\`).ListSQL()
	assert.Equal(t, `%50\%\_off\\%`, args[0])
	assert.Equal(t, "%plain%", LikePattern("plain"))
}

func TestOrderByFallsBackToDefault(t *testing.T) {
	q := txnSpec.New().OrderBy("password; DROP TABLE", "sideways")
	sql, _ := q.ListSQL()
	assert.Contains(t, sql, "ORDER BY t.created_at DESC, t.id DESC")
}

func TestPaginateDefaultsAndClamp(t *testing.T) {
	q := txnSpec.New().Paginate(0, -5)
	assert.Equal(t, 1, q.Page())
	assert.Equal(t, 20, q.Limit())
	assert.Equal(t, 0, q.Offset())

	// no upper bound without MaxLimit
	q = txnSpec.New().Paginate(2, 5000)
	assert.Equal(t, 5000, q.Limit())
	assert.Equal(t, 5000, q.Offset())

	clamped := &Spec{Select: "1", From: "kpi_values v", Sorts: map[string]string{"id": "v.id"}, DefaultSort: "id", MaxLimit: 100}
	q = clamped.New().Paginate(1, 500)
	assert.Equal(t, 100, q.Limit())
}

func TestFromArgsAreNumberedFirst(t *testing.T) {
	spec := &Spec{
		Select:      "a.id, COUNT(p.id) AS plays",
		From:        "activities a LEFT JOIN activity_plays p ON p.activity_id = a.id AND p.played_at >= ?",
		GroupBy:     "a.id",
		Sorts:       map[string]string{"total_plays": "plays"},
		DefaultSort: "total_plays",
	}
	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	q := spec.New(since).EqString("a.name", "quiz").Having("COUNT(p.id) >= ?", 3)

	count, args := q.CountSQL()
	assert.Equal(t, "SELECT COUNT(*) FROM (SELECT 1 FROM activities a LEFT JOIN activity_plays p ON p.activity_id = a.id AND p.played_at >= $1 WHERE a.name = $2 GROUP BY a.id HAVING COUNT(p.id) >= $3) counted", count)
	assert.Equal(t, []any{since, "quiz", 3}, args)
}

func TestEqSkipsNil(t *testing.T) {
	var missing *int64
	id := int64(9)
	q := txnSpec.New()
	Eq(q, "t.id", missing)
	Eq(q, "t.id", &id)
	sql, args := q.CountSQL()
	assert.Equal(t, "SELECT COUNT(*) FROM transactions t WHERE t.id = $1", sql)
	assert.Equal(t, []any{int64(9)}, args)
}

func TestBetween(t *testing.T) {
	min := 10.0
	q := txnSpec.New().Between("t.amount", &min, nil)
	sql, args := q.CountSQL()
	assert.Equal(t, "SELECT COUNT(*) FROM transactions t WHERE t.amount >= $1", sql)
	assert.Equal(t, []any{10.0}, args)
}

func TestAllSQLWithoutSorts(t *testing.T) {
	spec := &Spec{Select: "COUNT(*)", From: "transactions t"}
	sql, args := spec.New().EqString("t.status", "success").AllSQL()
	assert.Equal(t, "SELECT COUNT(*) FROM transactions t WHERE t.status = $1", sql)
	assert.Equal(t, []any{"success"}, args)
}
