package source

import "errors"

// ErrMalformedRecord marks a raw record that cannot be normalized.
// Callers skip and count it; it is never fatal to a batch.
var ErrMalformedRecord = errors.New("source: malformed record")

// OpenclawRecord is one line of a per-session openclaw JSONL file.
// SessionKey is attached by the reader, not parsed from the line
// itself.
type OpenclawRecord struct {
	Timestamp string           `json:"timestamp"`
	Message   *OpenclawMessage `json:"message"`

	SessionKey string `json:"-"`
}

// OpenclawMessage is the assistant message envelope inside a record.
type OpenclawMessage struct {
	Model string         `json:"model"`
	Usage *OpenclawUsage `json:"usage"`
}

// OpenclawUsage holds token counts and the provider-reported cost.
type OpenclawUsage struct {
	Input      int64         `json:"input"`
	Output     int64         `json:"output"`
	CacheRead  int64         `json:"cacheRead"`
	CacheWrite int64         `json:"cacheWrite"`
	Cost       *OpenclawCost `json:"cost"`
}

// OpenclawCost is the nested cost object; Total is USD.
type OpenclawCost struct {
	Total float64 `json:"total"`
}

// CSVRow is one data row of a cost export file. Fields are kept as
// raw strings; normalization parses and validates them.
type CSVRow struct {
	Date             string
	InputTokens      string
	OutputTokens     string
	CacheWriteTokens string
	CacheReadTokens  string
	Cost             string

	// Line is the 1-based line number in the file, for diagnostics.
	Line int
	// Hash identifies the row content for re-import tolerance.
	Hash string
}

// ProviderBucket is one per-model daily usage bucket returned by the
// provider usage API.
type ProviderBucket struct {
	Model            string   `json:"model"`
	InputTokens      int64    `json:"input_tokens"`
	OutputTokens     int64    `json:"output_tokens"`
	CacheReadTokens  int64    `json:"cache_read_input_tokens"`
	CacheWriteTokens int64    `json:"cache_creation_input_tokens"`
	CostUSD          *float64 `json:"cost_usd,omitempty"`
}

// SessionFile is a per-session JSONL file found during directory
// scanning.
type SessionFile struct {
	Path       string
	SessionKey string
}

// NormalizeStats counts the non-fatal outcomes of a normalization run.
type NormalizeStats struct {
	Skipped      int // non-billable or zero-token records
	Malformed    int // records that failed normalization
	UnknownModel int // events priced via the fallback rate
}

// Add accumulates other into s.
func (s *NormalizeStats) Add(other NormalizeStats) {
	s.Skipped += other.Skipped
	s.Malformed += other.Malformed
	s.UnknownModel += other.UnknownModel
}
