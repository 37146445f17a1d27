package kpi

import "time"

// CategoryInput creates or renames a category.
type CategoryInput struct {
	Name         string `json:"name" validate:"required,max=120"`
	DisplayOrder int    `json:"display_order" validate:"gte=0"`
}

// KPIInput creates or updates a KPI definition.
type KPIInput struct {
	Name             string   `json:"name" validate:"required,max=160"`
	Code             string   `json:"code" validate:"required,max=64"`
	CategoryID       int64    `json:"category_id" validate:"required,gt=0"`
	Unit             Unit     `json:"unit" validate:"required,oneof=currency percentage count ratio"`
	Benchmark        *float64 `json:"benchmark"`
	HasPlatformSplit *bool    `json:"has_platform_split"`
	DisplayOrder     int      `json:"display_order" validate:"gte=0"`
	IsActive         *bool    `json:"is_active"`
}

// ValueInput is one dated platform value row.
type ValueInput struct {
	Date       string   `json:"date" validate:"required,datetime=2006-01-02"`
	Android    *float64 `json:"android" validate:"required_without_all=IOS Net"`
	IOS        *float64 `json:"ios" validate:"required_without_all=Android Net"`
	Net        *float64 `json:"net" validate:"required_without_all=Android IOS"`
	DataSource string   `json:"data_source" validate:"max=64"`
	Note       string   `json:"note" validate:"max=1000"`
}

// CreateValueInput adds a single value to a KPI.
type CreateValueInput struct {
	KPIID int64 `json:"kpi_id" validate:"required,gt=0"`
	ValueInput
}

// BulkValuesInput upserts many dated values for one KPI.
type BulkValuesInput struct {
	KPIID  int64        `json:"kpi_id" validate:"required,gt=0"`
	Values []ValueInput `json:"values" validate:"required,min=1"`
}

// KPIFilters narrows the KPI list.
type KPIFilters struct {
	CategoryID *int64
	Active     *bool
	Search     string
}

// ValueFilters narrows value and data listings.
type ValueFilters struct {
	KPIID      *int64
	CategoryID *int64
	Search     string
	StartDate  *time.Time
	EndDate    *time.Time
	SortBy     string
	SortDir    string
	Page       int
	Limit      int
}

// ComparisonFilters selects the two periods and optional scope of a comparison.
type ComparisonFilters struct {
	Start1     time.Time
	End1       time.Time
	Start2     time.Time
	End2       time.Time
	KPIID      *int64
	CategoryID *int64
}
