// Package source reads raw usage records from the three supported
// ingestion sources and normalizes them into canonical cost events.
package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
)

// Session keys assigned to events that carry no session of their own.
const (
	csvSessionKey      = "csv-import"
	providerSessionKey = "provider"
)

// Normalizer converts raw source records into CostEvents, pricing them
// from the configured table when the source reports no cost.
type Normalizer struct {
	pricer *config.Pricer
	log    *zap.SugaredLogger
	stats  NormalizeStats
}

// NewNormalizer builds a Normalizer around a pricing table.
func NewNormalizer(pricer *config.Pricer, log *zap.SugaredLogger) *Normalizer {
	return &Normalizer{pricer: pricer, log: log}
}

// Stats returns the skip/malformed/unknown-model counters accumulated
// so far.
func (n *Normalizer) Stats() NormalizeStats {
	return n.stats
}

// Openclaw normalizes one openclaw session record. A nil event with a
// nil error means the record is non-billable and was skipped.
func (n *Normalizer) Openclaw(rec OpenclawRecord) (*model.CostEvent, error) {
	if rec.Message == nil || rec.Message.Usage == nil || rec.Message.Usage.Cost == nil {
		// Internal messages carry no cost object. Not billable, not an error.
		n.stats.Skipped++
		return nil, nil
	}
	u := rec.Message.Usage
	tokens := model.TokenCounts{
		Input:      u.Input,
		Output:     u.Output,
		CacheRead:  u.CacheRead,
		CacheWrite: u.CacheWrite,
	}
	if tokens.Input+tokens.Output+tokens.CacheRead+tokens.CacheWrite == 0 {
		n.stats.Skipped++
		return nil, nil
	}
	if rec.Message.Model == "" {
		n.stats.Malformed++
		n.log.Warnw("openclaw record missing model, skipped", "session", rec.SessionKey)
		return nil, fmt.Errorf("%w: missing model", ErrMalformedRecord)
	}

	ts, err := parseFlexibleTime(rec.Timestamp)
	if err != nil {
		n.stats.Malformed++
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRecord, rec.Timestamp)
	}

	ev := model.CostEvent{
		Timestamp:  ts.Unix(),
		SessionKey: rec.SessionKey,
		Model:      config.NormalizeModelName(rec.Message.Model),
		Tokens:     tokens,
		SourceMode: model.SourceOpenclaw,
	}
	if u.Cost.Total > 0 {
		ev.CostUSD = u.Cost.Total
	} else {
		ev.CostUSD = n.price(ev.Model, tokens)
	}
	ev.SetID()
	return &ev, nil
}

// CSV normalizes one export row into an event at midnight UTC of the
// row's date. Missing numeric columns default to zero.
func (n *Normalizer) CSV(row CSVRow) (*model.CostEvent, error) {
	day, err := parseDay(row.Date)
	if err != nil {
		n.stats.Malformed++
		return nil, fmt.Errorf("%w: line %d: bad date %q", ErrMalformedRecord, row.Line, row.Date)
	}

	tokens := model.TokenCounts{
		Input:      parseCount(row.InputTokens),
		Output:     parseCount(row.OutputTokens),
		CacheRead:  parseCount(row.CacheReadTokens),
		CacheWrite: parseCount(row.CacheWriteTokens),
	}

	ev := model.CostEvent{
		Timestamp:  day.Unix(),
		SessionKey: csvSessionKey,
		Model:      "unknown",
		Tokens:     tokens,
		SourceMode: model.SourceCSV,
	}

	costStr := strings.TrimSpace(row.Cost)
	if costStr == "" {
		ev.CostUSD = n.price(ev.Model, tokens)
	} else {
		cost, err := strconv.ParseFloat(costStr, 64)
		if err != nil {
			n.stats.Malformed++
			return nil, fmt.Errorf("%w: line %d: non-numeric cost %q", ErrMalformedRecord, row.Line, row.Cost)
		}
		ev.CostUSD = cost
	}
	ev.SetID()
	return &ev, nil
}

// Provider normalizes one usage-API bucket into an event at midnight
// UTC of the requested date.
func (n *Normalizer) Provider(b ProviderBucket, date time.Time) (*model.CostEvent, error) {
	if b.Model == "" {
		n.stats.Malformed++
		return nil, fmt.Errorf("%w: provider bucket missing model", ErrMalformedRecord)
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	tokens := model.TokenCounts{
		Input:      b.InputTokens,
		Output:     b.OutputTokens,
		CacheRead:  b.CacheReadTokens,
		CacheWrite: b.CacheWriteTokens,
	}

	ev := model.CostEvent{
		Timestamp:  day.Unix(),
		SessionKey: providerSessionKey,
		Model:      config.NormalizeModelName(b.Model),
		Tokens:     tokens,
		TaskLabel:  "API usage " + day.Format("2006-01-02"),
		SourceMode: model.SourceProviderAPI,
	}
	if b.CostUSD != nil {
		ev.CostUSD = *b.CostUSD
	} else {
		ev.CostUSD = n.price(ev.Model, tokens)
	}
	ev.SetID()
	return &ev, nil
}

// price estimates cost from the pricing table, counting and warning
// when the model is unknown and the fallback rate applied.
func (n *Normalizer) price(modelName string, tokens model.TokenCounts) float64 {
	cost, known := n.pricer.Cost(modelName, tokens.Input, tokens.Output, tokens.CacheRead, tokens.CacheWrite)
	if !known {
		n.stats.UnknownModel++
		n.log.Warnw("unknown model, using fallback pricing", "model", modelName)
	}
	return cost
}

// parseFlexibleTime accepts RFC3339 timestamps with or without
// sub-second precision, and unix seconds as a bare integer.
func parseFlexibleTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// parseDay parses a calendar date, tolerating full timestamps by
// truncating them to their UTC day.
func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// parseCount parses a token count column, defaulting blanks and junk
// to zero.
func parseCount(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
