// Package store persists canonical cost events in an append-only JSONL
// log with content-hash dedup, and keeps per-source ingestion cursors
// in a SQLite database.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
)

// Store is the append-only event log. Writes are serialized by an
// exclusive scoped lock; reads never block on it and observe either
// the pre- or post-write state.
type Store struct {
	path        string
	archivePath string
	lockPath    string

	lockTimeout    time.Duration
	lockStaleAfter time.Duration

	log *zap.SugaredLogger
	mu  sync.Mutex // serializes writers within this process
}

// AppendResult reports the outcome of one append batch.
type AppendResult struct {
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Malformed int `json:"malformed"`
}

// LoadResult holds loaded events plus the count of corrupt lines
// skipped during the scan.
type LoadResult struct {
	Events  []model.CostEvent
	Corrupt int
}

// Filter restricts a load to a time range, session, or task tag.
// Zero values match everything.
type Filter struct {
	From    int64 // inclusive, unix seconds
	To      int64 // exclusive, unix seconds
	Session string
	Tag     string
}

func (f Filter) matches(ev *model.CostEvent) bool {
	if f.From != 0 && ev.Timestamp < f.From {
		return false
	}
	if f.To != 0 && ev.Timestamp >= f.To {
		return false
	}
	if f.Session != "" && ev.SessionKey != f.Session {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range ev.Tags() {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// New creates a Store over the configured event log paths.
func New(cfg config.Config, log *zap.SugaredLogger) *Store {
	return &Store{
		path:           cfg.General.EventsFile,
		archivePath:    cfg.General.ArchiveFile,
		lockPath:       cfg.General.EventsFile + ".lock",
		lockTimeout:    cfg.Store.LockTimeout,
		lockStaleAfter: cfg.Store.LockStaleAfter,
		log:            log,
	}
}

// Path returns the primary log path.
func (s *Store) Path() string { return s.path }

// lock takes both the in-process mutex and the cross-process file
// lock. The returned func releases both.
func (s *Store) lock() (func(), error) {
	s.mu.Lock()
	release, err := acquireLock(s.lockPath, s.lockTimeout, s.lockStaleAfter)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

// Append writes new events to the log. Events whose id already exists
// are counted as duplicates and not re-written, making overlapping
// re-ingestion idempotent. Invalid events are counted as malformed.
// The whole batch is flushed as one write so a reader never observes
// a partial record.
func (s *Store) Append(events []model.CostEvent) (AppendResult, error) {
	var res AppendResult
	if len(events) == 0 {
		return res, nil
	}

	unlock, err := s.lock()
	if err != nil {
		return res, err
	}
	defer unlock()

	return s.appendLocked(events)
}

// appendLocked is Append's body. The caller must hold the lock.
func (s *Store) appendLocked(events []model.CostEvent) (AppendResult, error) {
	var res AppendResult

	seen, err := s.existingIDs()
	if err != nil {
		return res, err
	}

	var buf bytes.Buffer
	for i := range events {
		ev := &events[i]
		if ev.ID == "" || ev.Timestamp <= 0 || ev.CostUSD < 0 {
			res.Malformed++
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			res.Duplicate++
			continue
		}
		line, err := json.Marshal(ev)
		if err != nil {
			res.Malformed++
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
		seen[ev.ID] = struct{}{}
		res.Accepted++
	}

	if buf.Len() == 0 {
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return res, fmt.Errorf("store: creating data dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return res, fmt.Errorf("store: opening log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return res, fmt.Errorf("store: appending events: %w", err)
	}
	if err := f.Sync(); err != nil {
		return res, fmt.Errorf("store: syncing log: %w", err)
	}
	return res, nil
}

// Load reads the log, applies the filter, and returns events sorted by
// timestamp ascending. Corrupt lines are skipped and counted, never
// fatal; a missing log is an empty result.
func (s *Store) Load(f Filter) (LoadResult, error) {
	return loadFile(s.path, f, s.log)
}

// LoadArchive reads the archive log with the same semantics as Load.
func (s *Store) LoadArchive(f Filter) (LoadResult, error) {
	return loadFile(s.archivePath, f, s.log)
}

func loadFile(path string, f Filter, log *zap.SugaredLogger) (LoadResult, error) {
	var res LoadResult

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("store: opening log: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev model.CostEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.ID == "" {
			res.Corrupt++
			continue
		}
		if f.matches(&ev) {
			res.Events = append(res.Events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("store: scanning log: %w", err)
	}

	if res.Corrupt > 0 && log != nil {
		log.Warnw("skipped corrupt log lines", "path", path, "count", res.Corrupt)
	}

	sort.Slice(res.Events, func(i, j int) bool {
		return res.Events[i].Timestamp < res.Events[j].Timestamp
	})
	return res, nil
}

// Archive moves events older than the cutoff to the archive log and
// rewrites the primary log without them. Returns the number moved.
func (s *Store) Archive(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()

	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	all, err := loadFile(s.path, Filter{}, s.log)
	if err != nil {
		return 0, err
	}

	var keep, move []model.CostEvent
	for _, ev := range all.Events {
		if ev.Timestamp < cutoff {
			move = append(move, ev)
		} else {
			keep = append(keep, ev)
		}
	}
	if len(move) == 0 {
		return 0, nil
	}

	if err := appendTo(s.archivePath, move); err != nil {
		return 0, err
	}
	if err := rewriteLog(s.path, keep); err != nil {
		return 0, err
	}
	return len(move), nil
}

// Clear moves every event to the archive log and truncates the primary
// log. Returns the number moved. Cleared events stay restorable.
func (s *Store) Clear() (int, error) {
	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	all, err := loadFile(s.path, Filter{}, s.log)
	if err != nil {
		return 0, err
	}
	if len(all.Events) == 0 {
		return 0, nil
	}

	if err := appendTo(s.archivePath, all.Events); err != nil {
		return 0, err
	}
	if err := rewriteLog(s.path, nil); err != nil {
		return 0, err
	}
	return len(all.Events), nil
}

// Restore appends archived events back into the primary log, deduped
// against current contents, and truncates the archive. The lock is
// held across the whole operation so a concurrent Archive or Clear
// cannot move events into the archive between the re-append and the
// truncate.
func (s *Store) Restore() (AppendResult, error) {
	var res AppendResult

	unlock, err := s.lock()
	if err != nil {
		return res, err
	}
	defer unlock()

	archived, err := loadFile(s.archivePath, Filter{}, s.log)
	if err != nil {
		return res, err
	}
	if len(archived.Events) == 0 {
		return res, nil
	}

	res, err = s.appendLocked(archived.Events)
	if err != nil {
		return res, err
	}
	if err := rewriteLog(s.archivePath, nil); err != nil {
		return res, err
	}
	return res, nil
}

// Fingerprint identifies the current log contents as "size:mtimeNs".
// It changes on every append or structural operation and keys the
// aggregation cache. A missing log yields "0:0".
func (s *Store) Fingerprint() string {
	info, err := os.Stat(s.path)
	if err != nil {
		return "0:0"
	}
	return strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
}

// existingIDs scans the log for the set of stored event ids.
func (s *Store) existingIDs() (map[string]struct{}, error) {
	res, err := loadFile(s.path, Filter{}, nil)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(res.Events))
	for _, ev := range res.Events {
		ids[ev.ID] = struct{}{}
	}
	return ids, nil
}

// appendTo appends events to a JSONL file as one buffered write.
func appendTo(path string, events []model.CostEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("store: creating data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("store: opening %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("store: writing %s: %w", filepath.Base(path), err)
	}
	return f.Sync()
}

// rewriteLog atomically replaces a log's contents via temp file and
// rename, so a concurrent reader sees either the old or new file.
func rewriteLog(path string, events []model.CostEvent) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("store: creating data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: creating temp log: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			continue
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: writing temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: syncing temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: closing temp log: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: replacing log: %w", err)
	}
	return nil
}
