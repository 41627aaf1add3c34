package sync

import (
	"sync"
	"time"

	"github.com/horao-fabric/fabric/internal/clock"
)

// PeerQueue tracks one outbound peer's backpressure state — spec.md §4.6's
// "per-peer pending queue with two thresholds: SYNC_DELTA seconds (time
// since last flush) and SYNC_MAX operations (queue size). A flush fires
// when (now − last_flush) > SYNC_DELTA OR queue_size > SYNC_MAX." Grounded
// on the teacher's BatchProcessor (apps/mcp-server/internal/api/websocket/
// batch.go) flush-on-size-or-timer structure, adapted from buffering raw
// message bytes to counting pending local mutations: since CRDT ops are
// idempotent to redeliver, the queue only needs a count and a high-water
// mark — the actual payload is recomputed from Model.Delta at flush time
// rather than buffered op-by-op.
type PeerQueue struct {
	mu            sync.Mutex
	pendingOps    int
	maxOps        int
	flushInterval time.Duration
	lastFlush     time.Time
	lastSentHWM   clock.Timestamp
}

// NewPeerQueue creates a queue with the given SYNC_MAX/SYNC_DELTA
// thresholds, flushed for the first time immediately.
func NewPeerQueue(maxOps int, flushInterval time.Duration) *PeerQueue {
	return &PeerQueue{maxOps: maxOps, flushInterval: flushInterval}
}

// Notify records that n local mutations have occurred since the last
// flush.
func (q *PeerQueue) Notify(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pendingOps += n
}

// ShouldFlush reports whether either threshold has been crossed.
func (q *PeerQueue) ShouldFlush(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return now.Sub(q.lastFlush) > q.flushInterval || q.pendingOps > q.maxOps
}

// MarkFlushed resets both counters after a flush and advances the
// high-water mark of what has been sent, so the next flush's Model.Delta
// call starts from where this one left off.
func (q *PeerQueue) MarkFlushed(now time.Time, sentHWM clock.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pendingOps = 0
	q.lastFlush = now
	if sentHWM.After(q.lastSentHWM) {
		q.lastSentHWM = sentHWM
	}
}

// LastSentHWM returns the high-water mark of ops already sent to this
// peer — the `since` argument for the next Model.Delta call.
func (q *PeerQueue) LastSentHWM() clock.Timestamp {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSentHWM
}

// SetLastSentHWM seeds the queue's high-water mark, e.g. from a HELLO's
// last_seen_ts_per_peer on (re)connect.
func (q *PeerQueue) SetLastSentHWM(hwm clock.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastSentHWM = hwm
}
