// Package kpi manages KPI categories, definitions and daily platform values,
// and computes the dashboard and period comparison views over them.
package kpi

import "time"

// Unit enumerates how a KPI value is expressed.
type Unit string

const (
	UnitCurrency   Unit = "currency"
	UnitPercentage Unit = "percentage"
	UnitCount      Unit = "count"
	UnitRatio      Unit = "ratio"
)

// Platform names a value column.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformNet     Platform = "net"
)

// Platforms lists the value columns in display order.
var Platforms = []Platform{PlatformAndroid, PlatformIOS, PlatformNet}

// Category groups KPIs on the dashboard.
type Category struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"display_order"`
	KPICount     int       `json:"kpi_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// KPI is a tracked metric definition.
type KPI struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Code             string    `json:"code"`
	CategoryID       int64     `json:"category_id"`
	CategoryName     string    `json:"category_name"`
	Unit             Unit      `json:"unit"`
	Benchmark        *float64  `json:"benchmark"`
	HasPlatformSplit bool      `json:"has_platform_split"`
	DisplayOrder     int       `json:"display_order"`
	IsActive         bool      `json:"is_active"`
	ValueCount       int       `json:"value_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Value is one day of a KPI, split by platform.
type Value struct {
	ID         int64     `json:"id"`
	KPIID      int64     `json:"kpi_id"`
	Date       string    `json:"date"`
	Android    *float64  `json:"android"`
	IOS        *float64  `json:"ios"`
	Net        *float64  `json:"net"`
	DataSource string    `json:"data_source"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DataRow is a value joined with its KPI and category.
type DataRow struct {
	Value
	KPIName      string `json:"kpi_name"`
	KPICode      string `json:"kpi_code"`
	Unit         Unit   `json:"unit"`
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
}

// DeleteMode reports how a KPI delete was carried out.
type DeleteMode string

const (
	DeleteArchived DeleteMode = "archived"
	DeleteRemoved  DeleteMode = "deleted"
)

// DeleteResult describes a KPI delete.
type DeleteResult struct {
	ID         int64      `json:"id"`
	Mode       DeleteMode `json:"mode"`
	ValueCount int        `json:"value_count"`
}

// BulkAction reports what happened to an imported row.
type BulkAction string

const (
	ActionInserted BulkAction = "inserted"
	ActionUpdated  BulkAction = "updated"
	ActionFailed   BulkAction = "failed"
)

// RowResult is the outcome of one row of a bulk import.
type RowResult struct {
	Row     int        `json:"row"`
	Date    string     `json:"date"`
	Success bool       `json:"success"`
	Action  BulkAction `json:"action"`
	Error   string     `json:"error,omitempty"`
}

// BulkResult summarises a bulk import.
type BulkResult struct {
	KPIID    int64       `json:"kpi_id"`
	Total    int         `json:"total"`
	Inserted int         `json:"inserted"`
	Updated  int         `json:"updated"`
	Failed   int         `json:"failed"`
	Rows     []RowResult `json:"rows"`
}

// DashboardKPI carries the averaged platform values of a KPI over a range.
type DashboardKPI struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Code             string   `json:"code"`
	Unit             Unit     `json:"unit"`
	Benchmark        *float64 `json:"benchmark"`
	HasPlatformSplit bool     `json:"has_platform_split"`
	Android          *float64 `json:"android"`
	IOS              *float64 `json:"ios"`
	Net              *float64 `json:"net"`
	DataPoints       int      `json:"data_points"`
	LatestDate       *string  `json:"latest_date"`
}

// DashboardCategory nests KPIs under their category.
type DashboardCategory struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	DisplayOrder int            `json:"display_order"`
	KPIs         []DashboardKPI `json:"kpis"`
}

// Dashboard is the dashboard view for a date range.
type Dashboard struct {
	StartDate  string              `json:"start_date"`
	EndDate    string              `json:"end_date"`
	Categories []DashboardCategory `json:"categories"`
}

// DashboardRow is the flat repository result behind a Dashboard.
type DashboardRow struct {
	CategoryID           int64
	CategoryName         string
	CategoryDisplayOrder int
	KPI                  DashboardKPI
}
