package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

// ErrSourceBusy indicates another process is already ingesting the
// same source.
var ErrSourceBusy = errors.New("store: source ingestion already running")

// Cursors is the SQLite-backed per-source ingestion state: per-file
// timestamps for session logs, row hashes for csv imports, fetched
// dates for the provider API, and per-source run markers.
type Cursors struct {
	db *sql.DB
}

// OpenCursors opens or creates the cursor database at the given path.
func OpenCursors(dbPath string) (*Cursors, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cursor dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening cursor db: %w", err)
	}

	if _, err := db.Exec(cursorSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cursor schema: %w", err)
	}

	return &Cursors{db: db}, nil
}

// Close closes the cursor database.
func (c *Cursors) Close() error {
	return c.db.Close()
}

// FileCursor holds the incremental-read state for one session file.
type FileCursor struct {
	SessionKey    string
	LastTimestamp int64
	MtimeNs       int64
	SizeBytes     int64
}

// FileCursors returns a map of file_path to cursor for all tracked
// session files. A read error means the caller falls back to a full
// scan; dedup in the event store absorbs the re-reads.
func (c *Cursors) FileCursors() (map[string]FileCursor, error) {
	rows, err := c.db.Query("SELECT file_path, session_key, last_timestamp, mtime_ns, size_bytes FROM file_cursors")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]FileCursor)
	for rows.Next() {
		var path string
		var fc FileCursor
		if err := rows.Scan(&path, &fc.SessionKey, &fc.LastTimestamp, &fc.MtimeNs, &fc.SizeBytes); err != nil {
			return nil, err
		}
		result[path] = fc
	}
	return result, rows.Err()
}

// SaveFileCursor records the newest processed timestamp and file
// fingerprint for one session file.
func (c *Cursors) SaveFileCursor(path string, fc FileCursor) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := c.db.Exec(`INSERT OR REPLACE INTO file_cursors
		(file_path, session_key, last_timestamp, mtime_ns, size_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		path, fc.SessionKey, fc.LastTimestamp, fc.MtimeNs, fc.SizeBytes, now,
	)
	return err
}

// SeenCSVRows returns the subset of hashes already imported.
func (c *Cursors) SeenCSVRows(hashes []string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	stmt, err := c.db.Prepare("SELECT 1 FROM csv_rows WHERE row_hash = ?")
	if err != nil {
		return nil, err
	}
	defer func() { _ = stmt.Close() }()

	for _, h := range hashes {
		var one int
		err := stmt.QueryRow(h).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		seen[h] = struct{}{}
	}
	return seen, nil
}

// MarkCSVRows records row hashes as imported.
func (c *Cursors) MarkCSVRows(filePath string, hashes []string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, h := range hashes {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO csv_rows (row_hash, file_path, imported_at)
			VALUES (?, ?, ?)`, h, filePath, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ProviderFetched reports whether the given date was already fetched
// from the usage API.
func (c *Cursors) ProviderFetched(date string) (bool, error) {
	var one int
	err := c.db.QueryRow("SELECT 1 FROM provider_fetches WHERE fetch_date = ?", date).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkProviderFetched records a successfully fetched date.
func (c *Cursors) MarkProviderFetched(date string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := c.db.Exec(`INSERT OR REPLACE INTO provider_fetches (fetch_date, fetched_at)
		VALUES (?, ?)`, date, now)
	return err
}

// AcquireRun takes the per-source run marker so two processes cannot
// ingest the same source concurrently. Markers older than staleAfter
// belong to crashed runs and are reclaimed.
func (c *Cursors) AcquireRun(source string, staleAfter time.Duration) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var pid int
	var startedAt int64
	err = tx.QueryRow("SELECT pid, started_at FROM run_markers WHERE source = ?", source).Scan(&pid, &startedAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if time.Since(time.Unix(startedAt, 0)) < staleAfter {
			return fmt.Errorf("%w: %s (pid %d)", ErrSourceBusy, source, pid)
		}
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO run_markers (source, pid, started_at)
		VALUES (?, ?, ?)`, source, os.Getpid(), time.Now().Unix())
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseRun drops the per-source run marker.
func (c *Cursors) ReleaseRun(source string) error {
	_, err := c.db.Exec("DELETE FROM run_markers WHERE source = ?", source)
	return err
}

// Reset clears all incremental state for one source, forcing the next
// ingestion run to process everything. Dedup keeps that safe.
func (c *Cursors) Reset(source string) error {
	var stmt string
	switch source {
	case "openclaw":
		stmt = "DELETE FROM file_cursors"
	case "csv":
		stmt = "DELETE FROM csv_rows"
	case "provider":
		stmt = "DELETE FROM provider_fetches"
	default:
		return fmt.Errorf("store: unknown source %q", source)
	}
	_, err := c.db.Exec(stmt)
	return err
}
