// Package activities reports on in-app activities. Play counts, unique users
// and repeat rates are derived from activity_plays on every read.
package activities

import "time"

// Activity is an in-app activity with statistics for the requested window.
type Activity struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	TypeID       *int64    `json:"type_id"`
	TypeName     *string   `json:"type_name"`
	CategoryID   *int64    `json:"category_id"`
	CategoryName *string   `json:"category_name"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	TotalPlays   int       `json:"total_plays"`
	UniqueUsers  int       `json:"unique_users"`
	RepeatUsers  int       `json:"repeat_users"`
	RepeatRate   *float64  `json:"repeat_rate"`
}

// Lookup is an activity type or category.
type Lookup struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	ActivityCount int    `json:"activity_count"`
}

// Filters narrows activity listings and statistics. StartDate and EndDate
// bound the plays that are counted, not the activities themselves.
type Filters struct {
	Search     string
	TypeID     *int64
	CategoryID *int64
	IsActive   *bool
	StartDate  *time.Time
	EndDate    *time.Time
	MinPlays   *float64
	MaxPlays   *float64
	SortBy     string
	SortDir    string
	Page       int
	Limit      int
}

// UpdateInput lists the editable fields; nil fields are left unchanged.
type UpdateInput struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=200"`
	TypeID     *int64  `json:"type_id" validate:"omitempty,gt=0"`
	CategoryID *int64  `json:"category_id" validate:"omitempty,gt=0"`
	IsActive   *bool   `json:"is_active"`
}

// GroupStat aggregates plays for one type or category.
type GroupStat struct {
	ID          *int64 `json:"id"`
	Name        string `json:"name"`
	Activities  int    `json:"activities"`
	Plays       int    `json:"plays"`
	UniqueUsers int    `json:"unique_users"`
}

// TopActivity is one entry of the most played list.
type TopActivity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Plays       int    `json:"plays"`
	UniqueUsers int    `json:"unique_users"`
}

// DailyPlays counts plays on one calendar day.
type DailyPlays struct {
	Date        string `json:"date"`
	Plays       int    `json:"plays"`
	UniqueUsers int    `json:"unique_users"`
}

// Totals summarises plays within the window.
type Totals struct {
	Activities  int `json:"total_activities"`
	Plays       int `json:"total_plays"`
	UniqueUsers int `json:"unique_users"`
	RepeatUsers int `json:"repeat_users"`
}

// Stats is the activity dashboard payload.
type Stats struct {
	Totals
	RepeatRate    *float64      `json:"repeat_rate"`
	TopActivities []TopActivity `json:"top_activities"`
	ByType        []GroupStat   `json:"by_type"`
	ByCategory    []GroupStat   `json:"by_category"`
	DailyPlays    []DailyPlays  `json:"daily_plays"`
}

// DateRange reports the first and last recorded play dates.
type DateRange struct {
	MinDate *string `json:"min_date"`
	MaxDate *string `json:"max_date"`
}

// RepeatRate returns repeat/unique as a percentage, or nil without users.
func RepeatRate(repeat, unique int) *float64 {
	if unique <= 0 {
		return nil
	}
	rate := float64(repeat) / float64(unique) * 100
	return &rate
}
