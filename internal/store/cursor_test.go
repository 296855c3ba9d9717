package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCursors(t *testing.T) *Cursors {
	t.Helper()
	c, err := OpenCursors(filepath.Join(t.TempDir(), "cursors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFileCursorRoundTrip(t *testing.T) {
	c := newTestCursors(t)

	fc := FileCursor{SessionKey: "main", LastTimestamp: 1756500000, MtimeNs: 42, SizeBytes: 1024}
	require.NoError(t, c.SaveFileCursor("/tmp/main.jsonl", fc))

	all, err := c.FileCursors()
	require.NoError(t, err)
	require.Equal(t, fc, all["/tmp/main.jsonl"])

	// Re-save replaces the row.
	fc.LastTimestamp = 1756503600
	require.NoError(t, c.SaveFileCursor("/tmp/main.jsonl", fc))
	all, err = c.FileCursors()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int64(1756503600), all["/tmp/main.jsonl"].LastTimestamp)
}

func TestCSVRowTracking(t *testing.T) {
	c := newTestCursors(t)

	require.NoError(t, c.MarkCSVRows("usage.csv", []string{"aaa", "bbb"}))

	seen, err := c.SeenCSVRows([]string{"aaa", "bbb", "ccc"})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.Contains(t, seen, "aaa")
	require.NotContains(t, seen, "ccc")
}

func TestProviderFetchTracking(t *testing.T) {
	c := newTestCursors(t)

	fetched, err := c.ProviderFetched("2026-03-01")
	require.NoError(t, err)
	require.False(t, fetched)

	require.NoError(t, c.MarkProviderFetched("2026-03-01"))
	fetched, err = c.ProviderFetched("2026-03-01")
	require.NoError(t, err)
	require.True(t, fetched)
}

func TestAcquireRunBlocksConcurrent(t *testing.T) {
	c := newTestCursors(t)

	require.NoError(t, c.AcquireRun("openclaw", time.Hour))
	err := c.AcquireRun("openclaw", time.Hour)
	require.ErrorIs(t, err, ErrSourceBusy)

	// A different source is unaffected.
	require.NoError(t, c.AcquireRun("csv", time.Hour))

	require.NoError(t, c.ReleaseRun("openclaw"))
	require.NoError(t, c.AcquireRun("openclaw", time.Hour))
}

func TestAcquireRunReclaimsStaleMarker(t *testing.T) {
	c := newTestCursors(t)

	require.NoError(t, c.AcquireRun("openclaw", time.Hour))
	// A zero staleAfter means every existing marker counts as crashed.
	require.NoError(t, c.AcquireRun("openclaw", 0))
}

func TestReset(t *testing.T) {
	c := newTestCursors(t)

	require.NoError(t, c.SaveFileCursor("/tmp/main.jsonl", FileCursor{SessionKey: "main"}))
	require.NoError(t, c.Reset("openclaw"))
	all, err := c.FileCursors()
	require.NoError(t, err)
	require.Empty(t, all)

	require.NoError(t, c.MarkCSVRows("usage.csv", []string{"aaa"}))
	require.NoError(t, c.Reset("csv"))
	seen, err := c.SeenCSVRows([]string{"aaa"})
	require.NoError(t, err)
	require.Empty(t, seen)

	require.NoError(t, c.MarkProviderFetched("2026-03-01"))
	require.NoError(t, c.Reset("provider"))
	fetched, err := c.ProviderFetched("2026-03-01")
	require.NoError(t, err)
	require.False(t, fetched)

	if err := c.Reset("bogus"); err == nil {
		t.Fatal("unknown source accepted")
	}
}
