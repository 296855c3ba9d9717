package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/model"
	"github.com/RobinvBerg/costpilot/internal/store"
)

func TestSnapshotCachedWithinTTL(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop().Sugar()
	st := store.New(cfg, log)
	svc := NewService(st, cfg, log)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	_, err := st.Append([]model.CostEvent{
		event(now.Add(-time.Hour), "main", 1.0, model.TokenCounts{Input: 100}),
	})
	require.NoError(t, err)

	first, err := svc.Snapshot(now)
	require.NoError(t, err)

	// Unchanged store within the TTL: the cached pointer comes back.
	second, err := svc.Snapshot(now.Add(500 * time.Millisecond))
	require.NoError(t, err)
	require.Same(t, first, second)

	// Past the TTL the snapshot recomputes even without store changes,
	// keeping window boundaries current.
	third, err := svc.Snapshot(now.Add(2 * time.Second))
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.InDelta(t, first.Today.TotalCostUSD, third.Today.TotalCostUSD, 1e-9)
}

func TestSnapshotRecomputesOnExternalAppend(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop().Sugar()
	st := store.New(cfg, log)
	svc := NewService(st, cfg, log)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	_, err := st.Append([]model.CostEvent{
		event(now.Add(-time.Hour), "main", 1.0, model.TokenCounts{Input: 100}),
	})
	require.NoError(t, err)

	first, err := svc.Snapshot(now)
	require.NoError(t, err)

	// An append by another writer moves the fingerprint; the very next
	// read sees the new data even though the TTL has not lapsed.
	_, err = st.Append([]model.CostEvent{
		event(now.Add(-30*time.Minute), "main", 2.0, model.TokenCounts{Input: 100}),
	})
	require.NoError(t, err)

	second, err := svc.Snapshot(now.Add(100 * time.Millisecond))
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.InDelta(t, 3.0, second.Today.TotalCostUSD, 1e-9)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	cfg := testConfig(t)
	log := zap.NewNop().Sugar()
	st := store.New(cfg, log)
	svc := NewService(st, cfg, log)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	first, err := svc.Snapshot(now)
	require.NoError(t, err)

	svc.Invalidate()

	second, err := svc.Snapshot(now)
	require.NoError(t, err)
	require.NotSame(t, first, second)
}
