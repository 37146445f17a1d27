package kpi

import (
	"context"
	"errors"
	"time"

	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

// memRepo is an in-memory Repository used by the service tests.
type memRepo struct {
	categories map[int64]Category
	kpis       map[int64]KPI
	values     map[int64]Value
	nextID     int64
	clock      time.Time

	upsertErr   error
	upsertCalls int
	compareRows []ComparisonRow
	compareHits int
}

func newMemRepo() *memRepo {
	return &memRepo{
		categories: map[int64]Category{},
		kpis:       map[int64]KPI{},
		values:     map[int64]Value{},
		clock:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memRepo) ListCategories(ctx context.Context) ([]Category, error) {
	out := []Category{}
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *memRepo) GetCategory(ctx context.Context, id int64) (Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return Category{}, httpx.NotFound("category %d not found", id)
	}
	return c, nil
}

func (m *memRepo) CreateCategory(ctx context.Context, in CategoryInput) (Category, error) {
	for _, c := range m.categories {
		if c.Name == in.Name {
			return Category{}, httpx.Conflict("category name %q already exists", in.Name)
		}
	}
	c := Category{ID: m.id(), Name: in.Name, DisplayOrder: in.DisplayOrder, CreatedAt: m.tick()}
	m.categories[c.ID] = c
	return c, nil
}

func (m *memRepo) UpdateCategory(ctx context.Context, id int64, in CategoryInput) (Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return Category{}, httpx.NotFound("category %d not found", id)
	}
	c.Name, c.DisplayOrder, c.UpdatedAt = in.Name, in.DisplayOrder, m.tick()
	m.categories[id] = c
	return c, nil
}

func (m *memRepo) DeleteCategory(ctx context.Context, id int64) error {
	if _, ok := m.categories[id]; !ok {
		return httpx.NotFound("category %d not found", id)
	}
	delete(m.categories, id)
	return nil
}

func (m *memRepo) CountCategoryKPIs(ctx context.Context, id int64) (int, error) {
	n := 0
	for _, k := range m.kpis {
		if k.CategoryID == id {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ListKPIs(ctx context.Context, filters KPIFilters) ([]KPI, error) {
	out := []KPI{}
	for _, k := range m.kpis {
		out = append(out, k)
	}
	return out, nil
}

func (m *memRepo) GetKPI(ctx context.Context, id int64) (KPI, error) {
	k, ok := m.kpis[id]
	if !ok {
		return KPI{}, httpx.NotFound("KPI %d not found", id)
	}
	return k, nil
}

func (m *memRepo) ActiveCodeExists(ctx context.Context, code string, excludeID int64) (bool, error) {
	for _, k := range m.kpis {
		if k.Code == code && k.IsActive && k.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CreateKPI(ctx context.Context, in KPIInput) (KPI, error) {
	k := KPI{
		ID:               m.id(),
		Name:             in.Name,
		Code:             in.Code,
		CategoryID:       in.CategoryID,
		Unit:             in.Unit,
		Benchmark:        in.Benchmark,
		HasPlatformSplit: boolOr(in.HasPlatformSplit, true),
		DisplayOrder:     in.DisplayOrder,
		IsActive:         boolOr(in.IsActive, true),
		CreatedAt:        m.tick(),
	}
	m.kpis[k.ID] = k
	return k, nil
}

func (m *memRepo) UpdateKPI(ctx context.Context, id int64, in KPIInput) (KPI, error) {
	k, ok := m.kpis[id]
	if !ok {
		return KPI{}, httpx.NotFound("KPI %d not found", id)
	}
	k.Name, k.Code, k.CategoryID, k.Unit = in.Name, in.Code, in.CategoryID, in.Unit
	k.IsActive = boolOr(in.IsActive, k.IsActive)
	m.kpis[id] = k
	return k, nil
}

func (m *memRepo) CountKPIValues(ctx context.Context, id int64) (int, error) {
	n := 0
	for _, v := range m.values {
		if v.KPIID == id {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ArchiveKPI(ctx context.Context, id int64) error {
	k, ok := m.kpis[id]
	if !ok {
		return httpx.NotFound("KPI %d not found", id)
	}
	k.IsActive = false
	m.kpis[id] = k
	return nil
}

func (m *memRepo) DeleteKPI(ctx context.Context, id int64) error {
	if _, ok := m.kpis[id]; !ok {
		return httpx.NotFound("KPI %d not found", id)
	}
	delete(m.kpis, id)
	return nil
}

func (m *memRepo) ListValues(ctx context.Context, f ValueFilters) ([]DataRow, int, error) {
	rows, _ := m.ExportValues(ctx, f)
	return rows, len(rows), nil
}

func (m *memRepo) ExportValues(ctx context.Context, f ValueFilters) ([]DataRow, error) {
	out := []DataRow{}
	for _, v := range m.values {
		if f.KPIID != nil && v.KPIID != *f.KPIID {
			continue
		}
		out = append(out, DataRow{Value: v})
	}
	return out, nil
}

func (m *memRepo) findValue(kpiID int64, date string) (Value, bool) {
	for _, v := range m.values {
		if v.KPIID == kpiID && v.Date == date {
			return v, true
		}
	}
	return Value{}, false
}

func (m *memRepo) CreateValue(ctx context.Context, kpiID int64, in ValueInput) (Value, error) {
	if _, dup := m.findValue(kpiID, in.Date); dup {
		return Value{}, httpx.Conflict("a value for KPI %d on %s already exists", kpiID, in.Date)
	}
	now := m.tick()
	v := Value{ID: m.id(), KPIID: kpiID, Date: in.Date, Android: in.Android, IOS: in.IOS, Net: in.Net,
		DataSource: in.DataSource, Note: in.Note, CreatedAt: now, UpdatedAt: now}
	m.values[v.ID] = v
	return v, nil
}

func (m *memRepo) UpdateValue(ctx context.Context, id int64, in ValueInput) (Value, error) {
	v, ok := m.values[id]
	if !ok {
		return Value{}, httpx.NotFound("KPI value %d not found", id)
	}
	v.Date, v.Android, v.IOS, v.Net, v.UpdatedAt = in.Date, in.Android, in.IOS, in.Net, m.tick()
	m.values[id] = v
	return v, nil
}

func (m *memRepo) DeleteValue(ctx context.Context, id int64) error {
	if _, ok := m.values[id]; !ok {
		return httpx.NotFound("KPI value %d not found", id)
	}
	delete(m.values, id)
	return nil
}

func (m *memRepo) DashboardRows(ctx context.Context, from, to time.Time) ([]DashboardRow, error) {
	return nil, nil
}

func (m *memRepo) ComparisonRows(ctx context.Context, f ComparisonFilters) ([]ComparisonRow, error) {
	m.compareHits++
	return m.compareRows, nil
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Value, len(m.values))
	for k, v := range m.values {
		snapshot[k] = v
	}
	if err := fn(ctx, memTx{m}); err != nil {
		m.values = snapshot
		return err
	}
	return nil
}

type memTx struct{ m *memRepo }

func (t memTx) UpsertValue(ctx context.Context, kpiID int64, in ValueInput) (Value, bool, error) {
	t.m.upsertCalls++
	if t.m.upsertErr != nil && t.m.upsertCalls > 1 {
		return Value{}, false, t.m.upsertErr
	}
	if v, ok := t.m.findValue(kpiID, in.Date); ok {
		v.Android, v.IOS, v.Net, v.Note, v.UpdatedAt = in.Android, in.IOS, in.Net, in.Note, t.m.tick()
		t.m.values[v.ID] = v
		return v, false, nil
	}
	v, err := t.m.CreateValue(ctx, kpiID, in)
	return v, true, err
}

var errStore = errors.New("store unavailable")
