package kpi

import (
	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	"github.com/bizpulse/bizpulse/internal/shared"
)

// PlatformStat is the mean and contributing row count of one platform in
// one period.
type PlatformStat struct {
	Avg   *float64
	Count int
}

// ComparisonRow is the per-KPI aggregate returned by the repository.
type ComparisonRow struct {
	CategoryID   int64
	CategoryName string
	KPIID        int64
	KPIName      string
	KPICode      string
	Unit         Unit
	Period1      map[Platform]PlatformStat
	Period2      map[Platform]PlatformStat
}

// Period is an inclusive calendar range.
type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// PlatformComparison is one platform row of a compared KPI.
type PlatformComparison struct {
	Platform     Platform `json:"platform"`
	Period1Avg   *float64 `json:"period1_avg"`
	Period1Count int      `json:"period1_count"`
	Period2Avg   *float64 `json:"period2_avg"`
	Period2Count int      `json:"period2_count"`
	Growth       *float64 `json:"growth"`
}

// ComparisonKPI holds the platform rows of one KPI.
type ComparisonKPI struct {
	ID        int64                `json:"id"`
	Name      string               `json:"name"`
	Code      string               `json:"code"`
	Unit      Unit                 `json:"unit"`
	Platforms []PlatformComparison `json:"platforms"`
}

// ComparisonCategory groups compared KPIs.
type ComparisonCategory struct {
	ID   int64           `json:"id"`
	Name string          `json:"name"`
	KPIs []ComparisonKPI `json:"kpis"`
}

// Comparison is the full period-over-period result.
type Comparison struct {
	Period1    Period               `json:"period1"`
	Period2    Period               `json:"period2"`
	Categories []ComparisonCategory `json:"categories"`
}

// ValidateComparison checks the four period boundaries before any query runs.
func ValidateComparison(f ComparisonFilters) error {
	bounds := []struct {
		name  string
		empty bool
	}{
		{"startDate1", f.Start1.IsZero()},
		{"endDate1", f.End1.IsZero()},
		{"startDate2", f.Start2.IsZero()},
		{"endDate2", f.End2.IsZero()},
	}
	for _, b := range bounds {
		if b.empty {
			return httpx.Invalid("%s is required", b.name)
		}
	}
	if f.End1.Before(f.Start1) {
		return httpx.Invalid("endDate1 must not be before startDate1")
	}
	if f.End2.Before(f.Start2) {
		return httpx.Invalid("endDate2 must not be before startDate2")
	}
	return nil
}

// BuildComparison groups repository rows by category and computes growth per
// platform. Platforms without a contributing row in either period are
// omitted, as are KPIs left with no platforms. Row order is preserved.
func BuildComparison(f ComparisonFilters, rows []ComparisonRow) Comparison {
	out := Comparison{
		Period1:    Period{StartDate: f.Start1.Format(httpx.DateLayout), EndDate: f.End1.Format(httpx.DateLayout)},
		Period2:    Period{StartDate: f.Start2.Format(httpx.DateLayout), EndDate: f.End2.Format(httpx.DateLayout)},
		Categories: []ComparisonCategory{},
	}
	index := make(map[int64]int)
	for _, row := range rows {
		kpi := ComparisonKPI{ID: row.KPIID, Name: row.KPIName, Code: row.KPICode, Unit: row.Unit}
		for _, p := range Platforms {
			p1, p2 := row.Period1[p], row.Period2[p]
			if p1.Count == 0 && p2.Count == 0 {
				continue
			}
			kpi.Platforms = append(kpi.Platforms, PlatformComparison{
				Platform:     p,
				Period1Avg:   p1.Avg,
				Period1Count: p1.Count,
				Period2Avg:   p2.Avg,
				Period2Count: p2.Count,
				Growth:       shared.GrowthPercent(p1.Avg, p2.Avg),
			})
		}
		if len(kpi.Platforms) == 0 {
			continue
		}
		pos, ok := index[row.CategoryID]
		if !ok {
			out.Categories = append(out.Categories, ComparisonCategory{ID: row.CategoryID, Name: row.CategoryName})
			pos = len(out.Categories) - 1
			index[row.CategoryID] = pos
		}
		out.Categories[pos].KPIs = append(out.Categories[pos].KPIs, kpi)
	}
	return out
}

// ComparisonTable flattens a comparison for export.
func ComparisonTable(c Comparison) export.Table {
	table := export.Table{
		Title: "KPI Comparison " + c.Period1.StartDate + " to " + c.Period1.EndDate + " vs " + c.Period2.StartDate + " to " + c.Period2.EndDate,
		Columns: []string{
			"Category", "KPI", "Code", "Unit", "Platform",
			"Period 1 Avg", "Period 1 Rows", "Period 2 Avg", "Period 2 Rows", "Growth %",
		},
	}
	for _, cat := range c.Categories {
		for _, k := range cat.KPIs {
			for _, p := range k.Platforms {
				table.Append(cat.Name, k.Name, k.Code, string(k.Unit), string(p.Platform),
					p.Period1Avg, p.Period1Count, p.Period2Avg, p.Period2Count, p.Growth)
			}
		}
	}
	return table
}
