// Package pipeline orchestrates ingestion runs: reading raw source
// data incrementally, normalizing it, and appending to the event store.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
	"github.com/RobinvBerg/costpilot/internal/source"
	"github.com/RobinvBerg/costpilot/internal/store"
)

// runStaleAfter bounds how long a crashed run can hold a source's
// run marker before another process reclaims it.
const runStaleAfter = 30 * time.Minute

// RunResult summarizes one ingestion run.
type RunResult struct {
	store.AppendResult
	RecordsRead int
	ParseErrors int
	Norm        source.NormalizeStats
	DryRun      bool
}

// Ingestor drives ingestion for all three sources against one store
// and cursor database.
type Ingestor struct {
	store   *store.Store
	cursors *store.Cursors
	cfg     config.Config
	log     *zap.SugaredLogger
}

// NewIngestor builds an Ingestor.
func NewIngestor(st *store.Store, cur *store.Cursors, cfg config.Config, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{store: st, cursors: cur, cfg: cfg, log: log}
}

// fileRead is the per-file output of the parallel session scan.
type fileRead struct {
	file source.SessionFile
	res  source.ReadResult
	info os.FileInfo
	err  error
}

// IngestOpenclaw scans the sessions directory and ingests records
// newer than each file's cursor. Unchanged files (same size and
// mtime) are skipped without opening them. With dryRun set, nothing
// is appended and no cursor advances.
func (in *Ingestor) IngestOpenclaw(dryRun bool) (RunResult, error) {
	res := RunResult{DryRun: dryRun}

	if err := in.cursors.AcquireRun("openclaw", runStaleAfter); err != nil {
		return res, err
	}
	defer func() { _ = in.cursors.ReleaseRun("openclaw") }()

	files, err := source.ScanSessions(in.cfg.General.SessionsDir)
	if err != nil {
		return res, fmt.Errorf("scanning %s: %w", in.cfg.General.SessionsDir, err)
	}
	if len(files) == 0 {
		return res, nil
	}

	tracked, err := in.cursors.FileCursors()
	if err != nil {
		// Unreadable cursors mean a full rescan; dedup absorbs it.
		in.log.Warnw("cursor db unreadable, processing everything", "error", err)
		tracked = nil
	}

	// Partition into unchanged (skip) and files to read.
	var toRead []source.SessionFile
	since := make(map[string]int64, len(files))
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			continue
		}
		if fc, ok := tracked[f.Path]; ok {
			if fc.MtimeNs == info.ModTime().UnixNano() && fc.SizeBytes == info.Size() {
				continue
			}
			since[f.Path] = fc.LastTimestamp
		}
		toRead = append(toRead, f)
	}
	if len(toRead) == 0 {
		return res, nil
	}

	// Bounded worker pool over the changed files.
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers < 1 {
		numWorkers = 4
	}
	if numWorkers > len(toRead) {
		numWorkers = len(toRead)
	}

	work := make(chan int, len(toRead))
	reads := make([]fileRead, len(toRead))
	var wg sync.WaitGroup

	for i := range toRead {
		work <- i
	}
	close(work)

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				f := toRead[idx]
				rr, err := source.ReadSessionFile(f, since[f.Path])
				info, statErr := os.Stat(f.Path)
				if err == nil {
					err = statErr
				}
				reads[idx] = fileRead{file: f, res: rr, info: info, err: err}
			}
		}()
	}
	wg.Wait()

	norm := source.NewNormalizer(config.NewPricer(in.cfg), in.log)
	var batch []model.CostEvent
	advanced := make(map[string]store.FileCursor)

	for _, fr := range reads {
		if fr.err != nil {
			in.log.Warnw("session file unreadable, skipped", "path", fr.file.Path, "error", fr.err)
			continue
		}
		res.RecordsRead += len(fr.res.Records)
		res.ParseErrors += fr.res.ParseErrors

		sessionKey := fr.file.SessionKey
		for _, rec := range fr.res.Records {
			ev, err := norm.Openclaw(rec)
			if err != nil || ev == nil {
				continue
			}
			// First billable event of an anonymous session names it.
			if sessionKey == fr.file.SessionKey {
				sessionKey = source.SmartSessionKey(fr.file.SessionKey, ev.Model, ev.Time())
			}
			if ev.SessionKey != sessionKey {
				ev.SessionKey = sessionKey
				ev.SetID()
			}
			// The session label doubles as the task label; anomaly and
			// recurring-task detection group on it.
			ev.TaskLabel = sessionKey
			batch = append(batch, *ev)
		}

		last := fr.res.LastTimestamp
		if prev, ok := tracked[fr.file.Path]; ok && prev.LastTimestamp > last {
			last = prev.LastTimestamp
		}
		advanced[fr.file.Path] = store.FileCursor{
			SessionKey:    fr.file.SessionKey,
			LastTimestamp: last,
			MtimeNs:       fr.info.ModTime().UnixNano(),
			SizeBytes:     fr.info.Size(),
		}
	}

	res.Norm = norm.Stats()
	if dryRun {
		res.Accepted = len(batch)
		return res, nil
	}

	appended, err := in.store.Append(batch)
	if err != nil {
		return res, err
	}
	res.AppendResult = appended

	for path, fc := range advanced {
		if err := in.cursors.SaveFileCursor(path, fc); err != nil {
			in.log.Warnw("saving file cursor failed", "path", path, "error", err)
		}
	}
	return res, nil
}

// IngestCSV imports one export file, skipping rows whose content hash
// was already imported.
func (in *Ingestor) IngestCSV(path string, dryRun bool) (RunResult, error) {
	res := RunResult{DryRun: dryRun}

	if err := in.cursors.AcquireRun("csv", runStaleAfter); err != nil {
		return res, err
	}
	defer func() { _ = in.cursors.ReleaseRun("csv") }()

	rows, err := source.ReadCSVRows(path)
	if err != nil {
		return res, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return res, nil
	}
	res.RecordsRead = len(rows)

	hashes := make([]string, len(rows))
	for i, r := range rows {
		hashes[i] = r.Hash
	}
	seen, err := in.cursors.SeenCSVRows(hashes)
	if err != nil {
		in.log.Warnw("csv cursor unreadable, processing everything", "error", err)
		seen = nil
	}

	norm := source.NewNormalizer(config.NewPricer(in.cfg), in.log)
	var batch []model.CostEvent
	var imported []string

	for _, row := range rows {
		if _, ok := seen[row.Hash]; ok {
			continue
		}
		ev, err := norm.CSV(row)
		if err != nil {
			in.log.Warnw("malformed csv row, skipped", "line", row.Line, "error", err)
			continue
		}
		batch = append(batch, *ev)
		imported = append(imported, row.Hash)
	}

	res.Norm = norm.Stats()
	if dryRun {
		res.Accepted = len(batch)
		return res, nil
	}

	appended, err := in.store.Append(batch)
	if err != nil {
		return res, err
	}
	res.AppendResult = appended

	if err := in.cursors.MarkCSVRows(path, imported); err != nil {
		in.log.Warnw("saving csv cursor failed", "error", err)
	}
	return res, nil
}

// IngestProvider fetches usage buckets for one date from the usage
// API. Already-fetched dates are skipped unless force is set; a forced
// refetch replaces nothing, dedup makes it a no-op for known events.
func (in *Ingestor) IngestProvider(ctx context.Context, client *source.ProviderClient, date time.Time, force, dryRun bool) (RunResult, error) {
	res := RunResult{DryRun: dryRun}

	if client == nil {
		return res, fmt.Errorf("provider: no API key configured")
	}
	if err := in.cursors.AcquireRun("provider", runStaleAfter); err != nil {
		return res, err
	}
	defer func() { _ = in.cursors.ReleaseRun("provider") }()

	dateStr := date.UTC().Format("2006-01-02")
	if !force {
		fetched, err := in.cursors.ProviderFetched(dateStr)
		if err != nil {
			in.log.Warnw("provider cursor unreadable, refetching", "error", err)
		} else if fetched {
			in.log.Infow("date already fetched, skipping", "date", dateStr)
			return res, nil
		}
	}

	buckets, err := client.FetchDay(ctx, date)
	if err != nil {
		return res, err
	}
	res.RecordsRead = len(buckets)

	norm := source.NewNormalizer(config.NewPricer(in.cfg), in.log)
	var batch []model.CostEvent
	for _, b := range buckets {
		ev, err := norm.Provider(b, date)
		if err != nil {
			in.log.Warnw("malformed provider bucket, skipped", "error", err)
			continue
		}
		batch = append(batch, *ev)
	}

	res.Norm = norm.Stats()
	if dryRun {
		res.Accepted = len(batch)
		return res, nil
	}

	appended, err := in.store.Append(batch)
	if err != nil {
		return res, err
	}
	res.AppendResult = appended

	if err := in.cursors.MarkProviderFetched(dateStr); err != nil {
		in.log.Warnw("saving provider cursor failed", "error", err)
	}
	return res, nil
}
