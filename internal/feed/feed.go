// Package feed pushes aggregation snapshots to subscribers whenever
// the event store changes.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RobinvBerg/costpilot/internal/aggregate"
	"github.com/RobinvBerg/costpilot/internal/model"
)

// checkInterval is how often the hub checks the store fingerprint for
// changes. A push happens only when the fingerprint moved, never on a
// fixed timer.
const checkInterval = 500 * time.Millisecond

// Hub fans the current snapshot out to subscribers. Each subscriber
// holds a one-slot channel carrying the full latest snapshot; stale
// intermediate snapshots are replaced, never queued, since only the
// latest state is ever needed.
type Hub struct {
	svc *aggregate.Service
	log *zap.SugaredLogger

	mu        sync.Mutex
	lastFp    string
	nextSubID int
	subs      map[int]chan *model.AggregateSnapshot
}

// NewHub builds a Hub over the aggregation service.
func NewHub(svc *aggregate.Service, log *zap.SugaredLogger) *Hub {
	return &Hub{
		svc:  svc,
		log:  log,
		subs: make(map[int]chan *model.AggregateSnapshot),
	}
}

// Run watches the store fingerprint and publishes a fresh snapshot on
// every change until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fp := h.svc.Fingerprint()
			h.mu.Lock()
			changed := fp != h.lastFp
			hasSubs := len(h.subs) > 0
			h.mu.Unlock()
			if !changed || !hasSubs {
				continue
			}

			snap, err := h.svc.Snapshot(time.Now())
			if err != nil {
				h.log.Warnw("snapshot for live push failed", "error", err)
				continue
			}
			h.publish(snap)
		}
	}
}

// Subscribe registers a subscriber and returns its id, channel, and
// the full current snapshot for the connect handshake. A reconnecting
// subscriber always gets a full snapshot, never a diff; no per-
// subscriber history is kept.
func (h *Hub) Subscribe() (int, <-chan *model.AggregateSnapshot, *model.AggregateSnapshot, error) {
	snap, err := h.svc.Snapshot(time.Now())
	if err != nil {
		return 0, nil, nil, err
	}

	ch := make(chan *model.AggregateSnapshot, 1)
	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.subs[id] = ch
	h.lastFp = snap.Fingerprint
	h.mu.Unlock()
	return id, ch, snap, nil
}

// Unsubscribe releases a subscriber slot. Nothing else persists for
// the connection.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Current serves the polling path; its payload is identical to what a
// simultaneous live push would deliver.
func (h *Hub) Current(now time.Time) (*model.AggregateSnapshot, error) {
	return h.svc.Snapshot(now)
}

// publish replaces each subscriber's pending snapshot with the latest.
func (h *Hub) publish(snap *model.AggregateSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastFp = snap.Fingerprint
	for _, ch := range h.subs {
		select {
		case ch <- snap:
		default:
			// Slot full: drop the stale snapshot, push the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
