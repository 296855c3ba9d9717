package source

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(config.NewPricer(config.DefaultConfig()), zap.NewNop().Sugar())
}

func usageRecord(ts, modelName string, input, output int64, cost float64) OpenclawRecord {
	return OpenclawRecord{
		Timestamp:  ts,
		SessionKey: "main",
		Message: &OpenclawMessage{
			Model: modelName,
			Usage: &OpenclawUsage{
				Input:  input,
				Output: output,
				Cost:   &OpenclawCost{Total: cost},
			},
		},
	}
}

func TestOpenclawNormalizesBillableRecord(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Openclaw(usageRecord("2026-02-27T04:00:00Z", "claude-sonnet-4-5-20250929", 1000, 200, 0.05))
	if err != nil {
		t.Fatalf("Openclaw: %v", err)
	}
	if ev == nil {
		t.Fatal("billable record skipped")
	}
	if ev.Model != "claude-sonnet-4-5" {
		t.Fatalf("Model = %q, want date suffix stripped", ev.Model)
	}
	if ev.CostUSD != 0.05 {
		t.Fatalf("CostUSD = %v, want reported cost kept verbatim", ev.CostUSD)
	}
	if ev.ID == "" {
		t.Fatal("id not set")
	}
	if ev.SourceMode != model.SourceOpenclaw {
		t.Fatalf("SourceMode = %q", ev.SourceMode)
	}
	if ev.Timestamp != time.Date(2026, 2, 27, 4, 0, 0, 0, time.UTC).Unix() {
		t.Fatalf("Timestamp = %d", ev.Timestamp)
	}
}

func TestOpenclawSkipsNonBillable(t *testing.T) {
	n := newTestNormalizer()

	// No usage at all.
	ev, err := n.Openclaw(OpenclawRecord{Timestamp: "2026-02-27T04:00:00Z"})
	if err != nil || ev != nil {
		t.Fatalf("record without usage: ev=%v err=%v, want nil/nil", ev, err)
	}

	// Usage present but every token count zero.
	ev, err = n.Openclaw(usageRecord("2026-02-27T04:00:00Z", "sonnet", 0, 0, 0))
	if err != nil || ev != nil {
		t.Fatalf("zero-token record: ev=%v err=%v, want nil/nil", ev, err)
	}

	if got := n.Stats().Skipped; got != 2 {
		t.Fatalf("Skipped = %d, want 2", got)
	}
}

func TestOpenclawMalformed(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Openclaw(usageRecord("2026-02-27T04:00:00Z", "", 1000, 200, 0.05))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("missing model err = %v, want ErrMalformedRecord", err)
	}

	_, err = n.Openclaw(usageRecord("yesterday-ish", "sonnet", 1000, 200, 0.05))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("bad timestamp err = %v, want ErrMalformedRecord", err)
	}

	if got := n.Stats().Malformed; got != 2 {
		t.Fatalf("Malformed = %d, want 2", got)
	}
}

func TestOpenclawPricesZeroReportedCost(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.Openclaw(usageRecord("2026-02-27T04:00:00Z", "claude-sonnet-4-5", 1_000_000, 0, 0))
	if err != nil || ev == nil {
		t.Fatalf("Openclaw: ev=%v err=%v", ev, err)
	}
	if math.Abs(ev.CostUSD-3.0) > 1e-9 {
		t.Fatalf("CostUSD = %v, want 3.0 from pricing table", ev.CostUSD)
	}
}

func TestCSVNormalizesRow(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.CSV(CSVRow{
		Date:        "2026-02-15",
		InputTokens: "1200",
		Cost:        "0.42",
		Line:        2,
	})
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if ev.SessionKey != "csv-import" {
		t.Fatalf("SessionKey = %q", ev.SessionKey)
	}
	if ev.Model != "unknown" {
		t.Fatalf("Model = %q", ev.Model)
	}
	if ev.CostUSD != 0.42 {
		t.Fatalf("CostUSD = %v", ev.CostUSD)
	}
	if ev.Timestamp != time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC).Unix() {
		t.Fatalf("Timestamp = %d, want midnight UTC of the row date", ev.Timestamp)
	}
	if ev.SourceMode != model.SourceCSV {
		t.Fatalf("SourceMode = %q", ev.SourceMode)
	}
}

func TestCSVRejectsBadRows(t *testing.T) {
	n := newTestNormalizer()

	if _, err := n.CSV(CSVRow{Date: "not-a-date", Line: 3}); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("bad date err = %v, want ErrMalformedRecord", err)
	}
	if _, err := n.CSV(CSVRow{Date: "2026-02-15", Cost: "free", Line: 4}); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("non-numeric cost err = %v, want ErrMalformedRecord", err)
	}
}

func TestCSVJunkTokenCountsDefaultToZero(t *testing.T) {
	n := newTestNormalizer()

	ev, err := n.CSV(CSVRow{Date: "2026-02-15", InputTokens: "lots", OutputTokens: "-5", Cost: "0.10", Line: 2})
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if ev.Tokens.Input != 0 || ev.Tokens.Output != 0 {
		t.Fatalf("tokens = %+v, want zeros", ev.Tokens)
	}
}

func TestProviderNormalizesBucket(t *testing.T) {
	n := newTestNormalizer()
	date := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)

	reported := 1.23
	ev, err := n.Provider(ProviderBucket{Model: "claude-opus-4-5", InputTokens: 500, CostUSD: &reported}, date)
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if ev.CostUSD != 1.23 {
		t.Fatalf("CostUSD = %v, want reported cost", ev.CostUSD)
	}
	if ev.SessionKey != "provider" {
		t.Fatalf("SessionKey = %q", ev.SessionKey)
	}
	if ev.TaskLabel != "API usage 2026-03-01" {
		t.Fatalf("TaskLabel = %q", ev.TaskLabel)
	}
	if ev.Timestamp != time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Unix() {
		t.Fatalf("Timestamp = %d, want midnight of fetch date", ev.Timestamp)
	}

	// No reported cost: priced from the table.
	ev, err = n.Provider(ProviderBucket{Model: "claude-opus-4-5", InputTokens: 1_000_000}, date)
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if math.Abs(ev.CostUSD-5.0) > 1e-9 {
		t.Fatalf("CostUSD = %v, want 5.0 from pricing table", ev.CostUSD)
	}

	if _, err := n.Provider(ProviderBucket{}, date); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("empty bucket err = %v, want ErrMalformedRecord", err)
	}
}

func TestParseFlexibleTime(t *testing.T) {
	ts, err := parseFlexibleTime("1756500000")
	if err != nil {
		t.Fatalf("unix seconds: %v", err)
	}
	if ts.Unix() != 1756500000 {
		t.Fatalf("unix = %d", ts.Unix())
	}

	ts, err = parseFlexibleTime("2026-02-27T04:00:00.123Z")
	if err != nil {
		t.Fatalf("sub-second RFC3339: %v", err)
	}
	if ts.Hour() != 4 {
		t.Fatalf("hour = %d", ts.Hour())
	}

	if _, err := parseFlexibleTime(""); err == nil {
		t.Fatal("empty timestamp accepted")
	}
}
