package transactions

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListAndCountSharePredicates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	min := 5.0
	q := applyFilters(listSpec.New(), Filters{
		Search: "abc", Status: "success", Currency: "usd", StartDate: &start, EndDate: &end, MinAmount: &min,
	}).OrderBy("amount", "asc").Paginate(2, 10)

	listSQL, listArgs := q.ListSQL()
	countSQL, countArgs := q.CountSQL()

	where := `WHERE (t.transaction_id ILIKE $1 ESCAPE '\' OR t.user_id ILIKE $2 ESCAPE '\' OR t.ad_campaign ILIKE $3 ESCAPE '\')` +
		" AND t.status = $4 AND t.currency = $5 AND t.created_at >= $6 AND t.created_at < $7 AND t.amount >= $8"
	assert.Contains(t, listSQL, where)
	assert.Contains(t, countSQL, where)
	assert.True(t, strings.HasSuffix(listSQL, "ORDER BY t.amount ASC, t.id ASC LIMIT $9 OFFSET $10"))
	assert.Equal(t, countArgs, listArgs[:len(countArgs)])
	assert.Equal(t, "USD", countArgs[4])
	assert.Equal(t, end.AddDate(0, 0, 1), countArgs[6])
	assert.Equal(t, []any{10, 10}, listArgs[len(countArgs):])
}

func TestUnknownSortFallsBackToCreatedAt(t *testing.T) {
	sql, _ := listSpec.New().OrderBy("password", "sideways").ListSQL()
	assert.Contains(t, sql, "ORDER BY t.created_at DESC, t.id DESC")
}

func TestBreakdownSpecsGroupWithoutOrderingByUnknownFields(t *testing.T) {
	for name, spec := range breakdownSpecs {
		sql, args := applyFilters(spec.New(), Filters{Status: "failed"}).AllSQL()
		require.Len(t, args, 1, name)
		assert.Contains(t, sql, "GROUP BY COALESCE(NULLIF(", name)
		assert.Contains(t, sql, "ORDER BY COUNT(*) DESC", name)
	}
}

func TestRepeatUsersBindsWindowStartBeforeFilters(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Filters{StartDate: &start, Status: StatusSuccess}
	sql, args := applyFilters(buyersSpec.New(f.StartDate), f).AllSQL()

	assert.Contains(t, sql, "p.created_at < $1")
	assert.Contains(t, sql, "t.status = $2")
	assert.Contains(t, sql, "t.created_at >= $3")
	assert.Equal(t, &start, args[0])
	assert.NotContains(t, sql, "ORDER BY")
}
