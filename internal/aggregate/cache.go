package aggregate

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
	"github.com/RobinvBerg/costpilot/internal/rules"
	"github.com/RobinvBerg/costpilot/internal/store"
)

// Service wraps the Aggregator with a short-TTL cache keyed by the
// store fingerprint, and attaches rule advisories to each snapshot.
// Two racing readers may recompute redundantly after invalidation;
// the recomputation is pure, so last writer wins with no correctness
// impact.
type Service struct {
	agg *Aggregator
	st  *store.Store
	cfg config.Config
	log *zap.SugaredLogger

	mu       sync.RWMutex
	cached   *model.AggregateSnapshot
	cachedAt time.Time
}

// NewService builds the cached aggregation service.
func NewService(st *store.Store, cfg config.Config, log *zap.SugaredLogger) *Service {
	return &Service{
		agg: New(st, cfg, log),
		st:  st,
		cfg: cfg,
		log: log,
	}
}

// Snapshot returns the current snapshot. The store fingerprint is
// checked on every call, before the TTL, so an append by another
// process invalidates the cache immediately; the TTL bounds how long
// an unchanged store is served without recomputing window boundaries.
func (s *Service) Snapshot(now time.Time) (*model.AggregateSnapshot, error) {
	s.mu.RLock()
	cached, cachedAt := s.cached, s.cachedAt
	s.mu.RUnlock()

	fp := s.st.Fingerprint()
	if cached != nil && cached.Fingerprint == fp && now.Sub(cachedAt) < s.cfg.Store.SnapshotTTL {
		return cached, nil
	}

	started := time.Now()
	snap, events, err := s.agg.Compute(now)
	if err != nil {
		return nil, err
	}
	snap.Advisories = rules.Evaluate(snap, events, s.cfg, now)

	if elapsed := time.Since(started); elapsed > time.Second {
		s.log.Warnw("slow snapshot computation", "elapsed", elapsed, "events", len(events))
	}

	s.mu.Lock()
	s.cached = snap
	s.cachedAt = now
	s.mu.Unlock()
	return snap, nil
}

// Fingerprint exposes the store fingerprint for change detection by
// the live feed.
func (s *Service) Fingerprint() string {
	return s.st.Fingerprint()
}

// Invalidate drops the cached snapshot, forcing the next read to
// recompute. Called after structural store operations.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}
