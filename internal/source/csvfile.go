package source

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column names recognized in export files. Matching is
// case-insensitive and order-independent.
const (
	colDate       = "date"
	colInput      = "input_tokens"
	colOutput     = "output_tokens"
	colCacheWrite = "cache_creation_input_tokens"
	colCacheRead  = "cache_read_input_tokens"
	colCost       = "cost"
)

// ReadCSVRows reads a cost export file into raw rows. Each row carries
// a content hash so overlapping re-imports can be detected by the
// ingestion cursor. Rows with the wrong field count are returned with
// only their hash and line number; normalization rejects them.
func ReadCSVRows(path string) ([]CSVRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := idx[colDate]; !ok {
		return nil, fmt.Errorf("csv missing %q column", colDate)
	}

	field := func(record []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []CSVRow
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			// Keep a placeholder so the caller can count it as malformed.
			rows = append(rows, CSVRow{Line: line, Hash: rowHash([]string{fmt.Sprintf("unparsable:%d", line)})})
			continue
		}
		rows = append(rows, CSVRow{
			Date:             field(record, colDate),
			InputTokens:      field(record, colInput),
			OutputTokens:     field(record, colOutput),
			CacheWriteTokens: field(record, colCacheWrite),
			CacheReadTokens:  field(record, colCacheRead),
			Cost:             field(record, colCost),
			Line:             line,
			Hash:             rowHash(record),
		})
	}

	return rows, nil
}

// rowHash fingerprints the raw row content.
func rowHash(record []string) string {
	sum := sha256.Sum256([]byte(strings.Join(record, "\x1f")))
	return hex.EncodeToString(sum[:8])
}
