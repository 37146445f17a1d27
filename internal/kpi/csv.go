package kpi

import (
	"math"
	"strconv"
	"strings"

	"github.com/bizpulse/bizpulse/internal/export"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
)

// TemplateColumns is the header row of the value import sheet.
var TemplateColumns = []string{"date", "android", "ios", "net", "data_source", "note"}

// ValueTemplate returns an empty import sheet.
func ValueTemplate() export.Table {
	return export.Table{Title: "KPI Values", Columns: TemplateColumns}
}

// ValueFromRecord converts one uploaded sheet record into a ValueInput.
// Blank platform cells stay nil.
func ValueFromRecord(rec map[string]string) (ValueInput, error) {
	in := ValueInput{
		Date:       rec["date"],
		DataSource: rec["data_source"],
		Note:       rec["note"],
	}
	var err error
	if in.Android, err = parseCell(rec, "android"); err != nil {
		return in, err
	}
	if in.IOS, err = parseCell(rec, "ios"); err != nil {
		return in, err
	}
	if in.Net, err = parseCell(rec, "net"); err != nil {
		return in, err
	}
	return in, nil
}

func parseCell(rec map[string]string, key string) (*float64, error) {
	raw := strings.TrimSpace(rec[key])
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, httpx.Invalid("%s must be a number", key)
	}
	return &v, nil
}

// DataTable flattens value rows for export.
func DataTable(rows []DataRow) export.Table {
	table := export.Table{
		Title:   "KPI Data",
		Columns: []string{"Date", "Category", "KPI", "Code", "Unit", "Android", "iOS", "Net", "Source", "Note"},
	}
	for _, r := range rows {
		table.Append(r.Date, r.CategoryName, r.KPIName, r.KPICode, string(r.Unit), r.Android, r.IOS, r.Net, r.DataSource, r.Note)
	}
	return table
}
