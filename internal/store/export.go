package store

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/RobinvBerg/costpilot/internal/model"
)

var exportHeader = []string{
	"timestamp", "session_key", "model", "task_label", "status",
	"input_tokens", "output_tokens", "cache_read_tokens", "cache_write_tokens",
	"cost_usd", "source_mode",
}

// ExportCSV writes events as CSV rows, one per event, for spreadsheet
// analysis.
func ExportCSV(w io.Writer, events []model.CostEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for i := range events {
		ev := &events[i]
		row := []string{
			time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339),
			ev.SessionKey,
			ev.Model,
			ev.TaskLabel,
			ev.Status,
			strconv.FormatInt(ev.Tokens.Input, 10),
			strconv.FormatInt(ev.Tokens.Output, 10),
			strconv.FormatInt(ev.Tokens.CacheRead, 10),
			strconv.FormatInt(ev.Tokens.CacheWrite, 10),
			strconv.FormatFloat(ev.CostUSD, 'f', 6, 64),
			string(ev.SourceMode),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
