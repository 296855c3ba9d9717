package feed

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/aggregate"
	"github.com/RobinvBerg/costpilot/internal/config"
	"github.com/RobinvBerg/costpilot/internal/model"
	"github.com/RobinvBerg/costpilot/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.General.EventsFile = filepath.Join(dir, "events.jsonl")
	cfg.General.ArchiveFile = filepath.Join(dir, "archive.jsonl")
	cfg.Store.LockTimeout = time.Second
	cfg.Store.LockStaleAfter = time.Minute
	cfg.Store.SnapshotTTL = time.Second

	log := zap.NewNop().Sugar()
	st := store.New(cfg, log)
	svc := aggregate.NewService(st, cfg, log)
	return NewHub(svc, log), st
}

func feedEvent(ts int64, cost float64) model.CostEvent {
	ev := model.CostEvent{
		Timestamp:  ts,
		SessionKey: "main",
		Model:      "claude-sonnet-4-5",
		CostUSD:    cost,
		SourceMode: model.SourceOpenclaw,
	}
	ev.SetID()
	return ev
}

func TestSubscribeHandshake(t *testing.T) {
	hub, st := newTestHub(t)

	_, err := st.Append([]model.CostEvent{feedEvent(time.Now().Unix()-60, 1.5)})
	require.NoError(t, err)

	id, ch, initial, err := hub.Subscribe()
	require.NoError(t, err)
	defer hub.Unsubscribe(id)

	// The handshake always carries a full snapshot.
	require.NotNil(t, initial)
	require.NotEmpty(t, initial.Fingerprint)
	require.NotNil(t, ch)
	require.Equal(t, 1, hub.SubscriberCount())
}

func TestUnsubscribe(t *testing.T) {
	hub, _ := newTestHub(t)

	id, _, _, err := hub.Subscribe()
	require.NoError(t, err)
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Unsubscribe(id)
	require.Zero(t, hub.SubscriberCount())
}

func TestPublishReplacesStaleSnapshot(t *testing.T) {
	hub, _ := newTestHub(t)

	id, ch, _, err := hub.Subscribe()
	require.NoError(t, err)
	defer hub.Unsubscribe(id)

	older := &model.AggregateSnapshot{Fingerprint: "1:1"}
	newer := &model.AggregateSnapshot{Fingerprint: "2:2"}

	// Two publishes without a read in between: the slot holds only the
	// latest snapshot.
	hub.publish(older)
	hub.publish(newer)

	select {
	case got := <-ch:
		require.Same(t, newer, got)
	default:
		t.Fatal("no snapshot pending")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected second snapshot %v", got.Fingerprint)
	default:
	}
}

func TestCurrentMatchesSubscribePayload(t *testing.T) {
	hub, st := newTestHub(t)

	_, err := st.Append([]model.CostEvent{feedEvent(time.Now().Unix()-60, 2.0)})
	require.NoError(t, err)

	id, _, initial, err := hub.Subscribe()
	require.NoError(t, err)
	defer hub.Unsubscribe(id)

	current, err := hub.Current(time.Now())
	require.NoError(t, err)
	require.Equal(t, initial.Fingerprint, current.Fingerprint)
}
