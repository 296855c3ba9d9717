package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Byte patterns for cheap field extraction before a full parse.
var (
	patUsage      = []byte(`"usage"`)
	patTimestamp1 = []byte(`"timestamp":"`)
	patTimestamp2 = []byte(`"timestamp": "`)
)

// ScanSessions walks the openclaw sessions directory and discovers all
// per-session JSONL files. The session key is the filename stem.
func ScanSessions(sessionsDir string) ([]SessionFile, error) {
	info, err := os.Stat(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []SessionFile

	err = filepath.WalkDir(sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		files = append(files, SessionFile{
			Path:       path,
			SessionKey: strings.TrimSuffix(d.Name(), ".jsonl"),
		})
		return nil
	})

	return files, err
}

// ReadResult holds the output of reading a single session file.
type ReadResult struct {
	Records     []OpenclawRecord
	ParseErrors int
	// LastTimestamp is the newest record instant seen in the file,
	// billable or not, used to advance the ingestion cursor.
	LastTimestamp int64
}

// ReadSessionFile reads one session JSONL file and returns records
// newer than sinceUnix. Lines that fail to parse are counted, never
// fatal. A cheap byte scan filters out old lines before the full
// JSON parse.
func ReadSessionFile(sf SessionFile, sinceUnix int64) (ReadResult, error) {
	f, err := os.Open(sf.Path)
	if err != nil {
		return ReadResult{}, err
	}
	defer func() { _ = f.Close() }()

	var res ReadResult

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 2*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if ts, ok := extractTimestampBytes(line); ok {
			unix := ts.Unix()
			if unix > res.LastTimestamp {
				res.LastTimestamp = unix
			}
			if unix <= sinceUnix {
				continue
			}
		}
		if !bytes.Contains(line, patUsage) {
			continue
		}

		var rec OpenclawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			res.ParseErrors++
			continue
		}
		rec.SessionKey = sf.SessionKey
		res.Records = append(res.Records, rec)
	}

	if err := scanner.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// extractTimestampBytes extracts the timestamp field via byte scanning.
func extractTimestampBytes(line []byte) (time.Time, bool) {
	for _, pat := range [][]byte{patTimestamp1, patTimestamp2} {
		idx := bytes.Index(line, pat)
		if idx < 0 {
			continue
		}
		start := idx + len(pat)
		end := bytes.IndexByte(line[start:], '"')
		if end < 0 || end > 40 {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, string(line[start:start+end]))
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}

// modelFamilies maps a model-name fragment to its display name, used
// for session labeling.
var modelFamilies = []struct{ fragment, display string }{
	{"opus", "Opus"},
	{"sonnet", "Sonnet"},
	{"haiku", "Haiku"},
}

// SmartSessionKey replaces an anonymous machine-generated session key
// with a readable label derived from the session's first billable
// record, e.g. "Sonnet · Feb 27 04:00". Named keys pass through.
func SmartSessionKey(raw, modelName string, ts time.Time) string {
	if !looksAnonymous(raw) {
		return raw
	}
	family := "Session"
	lower := strings.ToLower(modelName)
	for _, mf := range modelFamilies {
		if strings.Contains(lower, mf.fragment) {
			family = mf.display
			break
		}
	}
	return family + " · " + ts.UTC().Format("Jan 2 15:04")
}

// looksAnonymous reports whether a session key is a machine-generated
// identifier rather than a human-chosen name: long, and entirely hex
// digits, dashes, and digits.
func looksAnonymous(key string) bool {
	if len(key) < 16 {
		return false
	}
	for _, c := range key {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
