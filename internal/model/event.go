// Package model defines domain types for costpilot events and analytics.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// SourceMode records which ingestion path produced an event.
// Retained for debugging, never re-derived.
type SourceMode string

const (
	SourceOpenclaw    SourceMode = "openclaw"
	SourceCSV         SourceMode = "csv"
	SourceProviderAPI SourceMode = "provider-usage-api"
)

// TokenCounts holds the token breakdown of a single API call.
type TokenCounts struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
}

// Add accumulates other into t.
func (t *TokenCounts) Add(other TokenCounts) {
	t.Input += other.Input
	t.Output += other.Output
	t.CacheRead += other.CacheRead
	t.CacheWrite += other.CacheWrite
}

// CostEvent is one billable AI API call, canonical and immutable once
// written to the event log. Timestamp is unix seconds, UTC.
type CostEvent struct {
	ID         string      `json:"id"`
	Timestamp  int64       `json:"timestamp"`
	SessionKey string      `json:"session_key"`
	Model      string      `json:"model"`
	Tokens     TokenCounts `json:"tokens"`
	CostUSD    float64     `json:"cost_usd"`
	TaskLabel  string      `json:"task_label,omitempty"`
	Status     string      `json:"status,omitempty"`
	SourceMode SourceMode  `json:"source_mode"`
}

// Time returns the event instant in UTC.
func (e *CostEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0).UTC()
}

// HashID computes the stable content hash used as the dedup key.
// Only the identity fields participate: timestamp, session key, model, cost.
func HashID(ts int64, sessionKey, model string, costUSD float64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s|%.6f", ts, sessionKey, model, costUSD))
	return hex.EncodeToString(sum[:6])
}

// SetID fills in the content hash. Safe to call on an event that
// already has one; the hash is deterministic.
func (e *CostEvent) SetID() {
	e.ID = HashID(e.Timestamp, e.SessionKey, e.Model, e.CostUSD)
}

var tagPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// Tags extracts [tag] markers embedded in the task label.
func (e *CostEvent) Tags() []string {
	matches := tagPattern.FindAllStringSubmatch(e.TaskLabel, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}
