// Package transactions exposes purchase records with filtering, per-record
// maintenance and revenue statistics.
package transactions

import "time"

// StatusSuccess marks a completed purchase; only these count as revenue.
const StatusSuccess = "success"

// Transaction is one purchase attempt.
type Transaction struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	LocalAmount   *float64  `json:"local_amount"`
	PlanType      string    `json:"plan_type"`
	Device        string    `json:"device"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"status"`
	AdSource      *string   `json:"ad_source"`
	AdCampaign    *string   `json:"ad_campaign"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filters narrows the transaction list, exports and statistics.
type Filters struct {
	Search        string
	Status        string
	Currency      string
	Device        string
	PlanType      string
	PaymentMethod string
	StartDate     *time.Time
	EndDate       *time.Time
	MinAmount     *float64
	MaxAmount     *float64
	SortBy        string
	SortDir       string
	Page          int
	Limit         int
}

// UpdateInput lists the editable fields; nil fields are left unchanged.
type UpdateInput struct {
	Status        *string  `json:"status" validate:"omitempty,min=1,max=32"`
	Amount        *float64 `json:"amount" validate:"omitempty,gte=0"`
	Currency      *string  `json:"currency" validate:"omitempty,len=3"`
	LocalAmount   *float64 `json:"local_amount" validate:"omitempty,gte=0"`
	PlanType      *string  `json:"plan_type" validate:"omitempty,max=64"`
	Device        *string  `json:"device" validate:"omitempty,max=32"`
	PaymentMethod *string  `json:"payment_method" validate:"omitempty,max=64"`
	AdSource      *string  `json:"ad_source" validate:"omitempty,max=128"`
	AdCampaign    *string  `json:"ad_campaign" validate:"omitempty,max=128"`
}

// CurrencyRevenue sums successful transactions of one currency.
type CurrencyRevenue struct {
	Currency     string  `json:"currency"`
	Count        int     `json:"count"`
	Revenue      float64 `json:"revenue"`
	LocalRevenue float64 `json:"local_revenue"`
}

// Breakdown counts transactions sharing one attribute value.
type Breakdown struct {
	Key          string  `json:"key"`
	Count        int     `json:"count"`
	SuccessCount int     `json:"success_count"`
	LocalRevenue float64 `json:"local_revenue"`
}

// CurrencyGrowth compares successful revenue of one currency over the last
// 30 days against the 30 days before.
type CurrencyGrowth struct {
	Currency string   `json:"currency"`
	Current  float64  `json:"current"`
	Previous float64  `json:"previous"`
	Growth   *float64 `json:"growth"`
}

// Growth is the 30-day period-over-period summary.
type Growth struct {
	CurrentFrom   string           `json:"current_from"`
	PreviousFrom  string           `json:"previous_from"`
	CurrentCount  int              `json:"current_count"`
	PreviousCount int              `json:"previous_count"`
	CountGrowth   *float64         `json:"count_growth"`
	Currencies    []CurrencyGrowth `json:"currencies"`
}

// RepeatUsers describes purchasers within the filtered window. Repeat users
// bought at least twice inside the window; returning users also bought
// before the window started.
type RepeatUsers struct {
	Buyers         int      `json:"buyers"`
	RepeatUsers    int      `json:"repeat_users"`
	RepeatRate     *float64 `json:"repeat_rate"`
	ReturningUsers int      `json:"returning_users"`
}

// Stats aggregates the filtered transactions.
type Stats struct {
	TotalTransactions      int               `json:"total_transactions"`
	SuccessfulTransactions int               `json:"successful_transactions"`
	RevenueByCurrency      []CurrencyRevenue `json:"revenue_by_currency"`
	Platforms              []Breakdown       `json:"platforms"`
	PlanTypes              []Breakdown       `json:"plan_types"`
	PaymentMethods         []Breakdown       `json:"payment_methods"`
	Statuses               []Breakdown       `json:"statuses"`
	Growth                 Growth            `json:"growth"`
	RepeatUsers            RepeatUsers       `json:"repeat_users"`
}
