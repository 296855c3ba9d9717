package model

// Severity ranks an advisory.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText makes Severity render as its name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name; unknown names become low.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "high":
		*s = SeverityHigh
	case "medium":
		*s = SeverityMedium
	default:
		*s = SeverityLow
	}
	return nil
}

// Advisory is a rule-triggered recommendation. Advisories are
// recomputed on every evaluation and never persisted.
type Advisory struct {
	RuleID           string   `json:"rule_id"`
	Severity         Severity `json:"severity"`
	Message          string   `json:"message"`
	EstimatedSavings float64  `json:"estimated_savings"`
}

// Anomaly flags a task whose cost spiked against its own history.
type Anomaly struct {
	EventID   string  `json:"event_id"`
	TaskLabel string  `json:"task_label"`
	CostUSD   float64 `json:"cost_usd"`
	AvgUSD    float64 `json:"avg_usd"`
}
