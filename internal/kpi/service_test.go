package kpi

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizpulse/bizpulse/internal/platform/cache"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

func f64(v float64) *float64 { return &v }

func seedKPI(t *testing.T, svc *Service) (Category, KPI) {
	t.Helper()
	ctx := context.Background()
	cat, err := svc.CreateCategory(ctx, CategoryInput{Name: "Revenue"})
	require.NoError(t, err)
	k, err := svc.CreateKPI(ctx, KPIInput{Name: "ARPU", Code: "arpu", CategoryID: cat.ID, Unit: UnitCurrency})
	require.NoError(t, err)
	return cat, k
}

func TestDeleteCategoryBlockedWhileReferenced(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	cat, _ := seedKPI(t, svc)

	err := svc.DeleteCategory(context.Background(), cat.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
	assert.Contains(t, err.Error(), "1 KPI(s)")
	assert.Contains(t, repo.categories, cat.ID)

	empty, err := svc.CreateCategory(context.Background(), CategoryInput{Name: "Empty"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCategory(context.Background(), empty.ID))
	assert.NotContains(t, repo.categories, empty.ID)
}

func TestDeleteKPIArchivesWhenValuesExist(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)
	ctx := context.Background()

	_, err := svc.CreateValue(ctx, CreateValueInput{KPIID: k.ID, ValueInput: ValueInput{Date: "2024-01-02", Net: f64(5)}})
	require.NoError(t, err)

	res, err := svc.DeleteKPI(ctx, k.ID)
	require.NoError(t, err)
	assert.Equal(t, DeleteArchived, res.Mode)
	assert.Equal(t, 1, res.ValueCount)
	require.Contains(t, repo.kpis, k.ID)
	assert.False(t, repo.kpis[k.ID].IsActive)
}

func TestDeleteKPIHardDeletesWithoutValues(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)

	res, err := svc.DeleteKPI(context.Background(), k.ID)
	require.NoError(t, err)
	assert.Equal(t, DeleteRemoved, res.Mode)
	assert.NotContains(t, repo.kpis, k.ID)

	_, err = svc.DeleteKPI(context.Background(), k.ID)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCreateKPIRejectsDuplicateActiveCode(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	cat, k := seedKPI(t, svc)
	assert.Equal(t, "ARPU", k.Code)

	_, err := svc.CreateKPI(context.Background(), KPIInput{Name: "Dup", Code: "ARPU", CategoryID: cat.ID, Unit: UnitCount})
	require.ErrorIs(t, err, httpx.ErrConflict)

	// an archived KPI frees its code
	_, err = svc.CreateValue(context.Background(), CreateValueInput{KPIID: k.ID, ValueInput: ValueInput{Date: "2024-01-01", IOS: f64(1)}})
	require.NoError(t, err)
	_, err = svc.DeleteKPI(context.Background(), k.ID)
	require.NoError(t, err)
	_, err = svc.CreateKPI(context.Background(), KPIInput{Name: "ARPU v2", Code: "ARPU", CategoryID: cat.ID, Unit: UnitCurrency})
	require.NoError(t, err)
}

func TestCreateKPIUnknownCategory(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	_, err := svc.CreateKPI(context.Background(), KPIInput{Name: "x", Code: "x", CategoryID: 99, Unit: UnitCount})
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "category_id")
}

func TestCreateKPIValidation(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	_, err := svc.CreateKPI(context.Background(), KPIInput{Name: "x", Code: "x", CategoryID: 1, Unit: "furlongs"})
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "unit must be one of")
}

func TestCreateValueRequiresPlatformValue(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	_, k := seedKPI(t, svc)
	_, err := svc.CreateValue(context.Background(), CreateValueInput{KPIID: k.ID, ValueInput: ValueInput{Date: "2024-01-02"}})
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Contains(t, err.Error(), "at least one of")
}

func TestCreateValueDuplicateDateConflicts(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	_, k := seedKPI(t, svc)
	in := CreateValueInput{KPIID: k.ID, ValueInput: ValueInput{Date: "2024-01-02", Android: f64(1)}}
	v, err := svc.CreateValue(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "manual", v.DataSource)

	_, err = svc.CreateValue(context.Background(), in)
	assert.ErrorIs(t, err, httpx.ErrConflict)
}

func TestBulkUpsertUpdatesInPlace(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)
	ctx := context.Background()
	in := BulkValuesInput{KPIID: k.ID, Values: []ValueInput{
		{Date: "2024-01-01", Android: f64(1)},
		{Date: "2024-01-02", IOS: f64(2)},
	}}

	first, err := svc.BulkUpsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Len(t, repo.values, 2)
	before := map[int64]time.Time{}
	for id, v := range repo.values {
		before[id] = v.UpdatedAt
	}

	second, err := svc.BulkUpsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Updated)
	assert.Len(t, repo.values, 2)
	for id, v := range repo.values {
		assert.True(t, v.UpdatedAt.After(before[id]), "updated_at should advance for %d", id)
	}
}

func TestBulkUpsertReportsRowFailures(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)

	res, err := svc.BulkUpsert(context.Background(), BulkValuesInput{KPIID: k.ID, Values: []ValueInput{
		{Date: "2024-01-01", Net: f64(1)},
		{Date: "not-a-date", Net: f64(1)},
		{Date: "2024-01-03"},
		{Date: "2024-01-01", Net: f64(9)},
	}})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 3, res.Failed)
	assert.True(t, res.Rows[0].Success)
	assert.Contains(t, res.Rows[1].Error, "date")
	assert.Contains(t, res.Rows[2].Error, "at least one of")
	assert.Contains(t, res.Rows[3].Error, "duplicate date")
	assert.Len(t, repo.values, 1)
}

func TestBulkUpsertAllInvalid(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)

	res, err := svc.BulkUpsert(context.Background(), BulkValuesInput{KPIID: k.ID, Values: []ValueInput{{Date: "2024-01-03"}}})
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, repo.upsertCalls)
}

func TestBulkUpsertRollsBackOnStoreError(t *testing.T) {
	repo := newMemRepo()
	repo.upsertErr = errStore
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)

	_, err := svc.BulkUpsert(context.Background(), BulkValuesInput{KPIID: k.ID, Values: []ValueInput{
		{Date: "2024-01-01", Net: f64(1)},
		{Date: "2024-01-02", Net: f64(2)},
	}})
	require.ErrorIs(t, err, errStore)
	assert.Empty(t, repo.values)
}

func TestImportValuesParsesRecords(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)

	res, err := svc.ImportValues(context.Background(), k.ID, []map[string]string{
		{"date": "2024-02-01", "android": "1.5", "ios": "", "net": "3"},
		{"date": "2024-02-02", "android": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "android must be a number", res.Rows[1].Error)
}

func TestBulkUpsertRejectsArchivedKPI(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	_, k := seedKPI(t, svc)
	require.NoError(t, repo.ArchiveKPI(context.Background(), k.ID))

	_, err := svc.BulkUpsert(context.Background(), BulkValuesInput{KPIID: k.ID, Values: []ValueInput{{Date: "2024-01-01", Net: f64(1)}}})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestListDataClampsLimit(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	ctx := context.Background()

	_, _, f, err := svc.ListData(ctx, ValueFilters{Limit: 500}, true)
	require.NoError(t, err)
	assert.Equal(t, 100, f.Limit)

	_, _, f, err = svc.ListData(ctx, ValueFilters{Limit: -3}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Limit)

	_, _, f, err = svc.ListData(ctx, ValueFilters{}, false)
	require.NoError(t, err)
	assert.Equal(t, 20, f.Limit)

	_, _, f, err = svc.ListValues(ctx, ValueFilters{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 500, f.Limit)
}

func TestCompareValidatesBeforeQuerying(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, nil)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.Compare(context.Background(), ComparisonFilters{Start1: day, End1: day, Start2: day})
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Equal(t, "endDate2 is required", err.Error())
	assert.Zero(t, repo.compareHits)
}

func TestCompareIsCachedUntilMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemRepo()
	repo.compareRows = []ComparisonRow{{
		CategoryID: 1, CategoryName: "Revenue", KPIID: 2, KPIName: "ARPU",
		Period1: map[Platform]PlatformStat{PlatformNet: {Avg: f64(50), Count: 3}},
		Period2: map[Platform]PlatformStat{PlatformNet: {Avg: f64(75), Count: 2}},
	}}
	svc := NewService(repo, cache.NewVersioned(client, "bizpulse", time.Minute), nil)
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := ComparisonFilters{Start1: day, End1: day.AddDate(0, 0, 6), Start2: day.AddDate(0, 0, 7), End2: day.AddDate(0, 0, 13)}

	first, err := svc.Compare(ctx, f)
	require.NoError(t, err)
	second, err := svc.Compare(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.compareHits)
	assert.Equal(t, first, second)
	require.Len(t, second.Categories, 1)
	assert.InDelta(t, 50.0, *second.Categories[0].KPIs[0].Platforms[0].Growth, 1e-9)

	_, err = svc.CreateCategory(ctx, CategoryInput{Name: "Growth"})
	require.NoError(t, err)
	_, err = svc.Compare(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.compareHits)
}

func TestDashboardDefaultsToLast30Days(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC) }

	d, err := svc.Dashboard(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", d.StartDate)
	assert.Equal(t, "2024-03-31", d.EndDate)
	assert.NotNil(t, d.Categories)
}

func TestDashboardRejectsInvertedRange(t *testing.T) {
	svc := NewService(newMemRepo(), nil, nil)
	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)
	_, err := svc.Dashboard(context.Background(), &from, &to)
	assert.True(t, errors.Is(err, httpx.ErrValidation))
}

func TestBuildDashboardGroupsByCategory(t *testing.T) {
	d := BuildDashboard("a", "b", []DashboardRow{
		{CategoryID: 1, CategoryName: "Revenue", KPI: DashboardKPI{ID: 10}},
		{CategoryID: 2, CategoryName: "Engagement", KPI: DashboardKPI{ID: 20}},
		{CategoryID: 1, CategoryName: "Revenue", KPI: DashboardKPI{ID: 11}},
	})
	require.Len(t, d.Categories, 2)
	assert.Len(t, d.Categories[0].KPIs, 2)
	assert.Equal(t, int64(20), d.Categories[1].KPIs[0].ID)
}
