package model

import "time"

// Window identifies one of the fixed aggregation windows.
type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "7d"
	WindowMonth Window = "30d"
)

// SessionCost is one session's share of a window.
type SessionCost struct {
	Session string  `json:"session"`
	CostUSD float64 `json:"cost_usd"`
	Events  int     `json:"events"`
	Percent float64 `json:"percent"`
}

// ModelCost is one model's share of a window.
type ModelCost struct {
	Model   string      `json:"model"`
	CostUSD float64     `json:"cost_usd"`
	Events  int         `json:"events"`
	Tokens  TokenCounts `json:"tokens"`
	Percent float64     `json:"percent"`
}

// WindowStats holds the rollup for a single time window.
// CacheHitRatio is nil when no input or cache-read tokens exist in
// the window; it is never coerced to zero.
type WindowStats struct {
	Window        Window        `json:"window"`
	Start         int64         `json:"start"`
	End           int64         `json:"end"`
	TotalCostUSD  float64       `json:"total_cost_usd"`
	EventCount    int           `json:"event_count"`
	Sessions      []SessionCost `json:"sessions"`
	Models        []ModelCost   `json:"models"`
	Tokens        TokenCounts   `json:"tokens"`
	CacheHitRatio *float64      `json:"cache_hit_ratio"`
	Recurring     []string      `json:"recurring_tasks,omitempty"`
}

// DailyTotal is one calendar day's spend, used for charts and the
// forecaster input.
type DailyTotal struct {
	Date    string  `json:"date"` // YYYY-MM-DD in the configured timezone
	CostUSD float64 `json:"cost_usd"`
	Events  int     `json:"events"`
}

// Forecast is the OLS projection over recent daily totals.
// A nil *Forecast means the projection is undefined (<2 distinct days).
type Forecast struct {
	Slope              float64 `json:"slope"`
	Intercept          float64 `json:"intercept"`
	Days               int     `json:"days"`
	ProjectedRemainder float64 `json:"projected_remainder_usd"`
	ProjectedMonth     float64 `json:"projected_month_usd"`
}

// AggregateSnapshot is the derived analytics state. It is rebuildable
// from the event log plus the evaluation instant and is never
// authoritative.
type AggregateSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Fingerprint string       `json:"fingerprint"`
	Today       WindowStats  `json:"today"`
	Week        WindowStats  `json:"week"`
	Month       WindowStats  `json:"month"`
	Daily       []DailyTotal `json:"daily"`
	BusiestDay  string       `json:"busiest_day,omitempty"`
	Anomalies   []Anomaly    `json:"anomalies"`
	Advisories  []Advisory   `json:"advisories"`
	Forecast    *Forecast    `json:"forecast"`
}
