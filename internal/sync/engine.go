package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/errors"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/observability"
	"github.com/horao-fabric/fabric/internal/store"
)

// Outbound is one envelope the Engine wants sent to a specific peer — the
// pure decision produced by HandleEnvelope/Flush, left for the transport
// layer (Peer's write pump) to actually put on the wire.
type Outbound struct {
	To  string
	Env Envelope
}

// Engine implements spec.md §4.6's protocol logic against a shared Model,
// independent of any particular transport — HandleEnvelope and Flush never
// touch a socket, so they can be exercised directly in tests the way the
// teacher's own handlers.go dispatch logic is tested apart from
// connection.go's read/write pumps.
type Engine struct {
	peerID      string
	hostID      string
	model       *model.Model
	clock       *clock.HLC
	auth        *Authenticator
	dedup       *DedupCache
	snapshotter *store.Snapshotter

	mu        sync.RWMutex
	queues    map[string]*PeerQueue
	connected map[string]bool

	syncMax   int
	syncDelta time.Duration

	snapshotIntervalOps  int
	snapshotIntervalTime time.Duration
	opsSinceSnapshot     int
	lastSnapshotAt       time.Time

	metrics *observability.Metrics
}

// WithMetrics attaches a Metrics sink; internal/fabric.Peer calls this once
// at construction. An Engine built without it (as every unit test does)
// simply records nothing.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// Config bundles the tunables spec.md §6 exposes as peer_secret/
// clock_offset/sync_delta/sync_max/peer_strict/snapshot_interval_ops/
// snapshot_interval_seconds.
type Config struct {
	PeerID               string
	HostID               string
	SyncMax              int
	SyncDelta            time.Duration
	DedupSize            int
	SnapshotIntervalOps  int
	SnapshotIntervalTime time.Duration
}

// New creates an Engine. snapshotter may be nil for tests that don't
// exercise SNAPSHOT_REQ/SNAPSHOT.
func New(cfg Config, m *model.Model, hlc *clock.HLC, auth *Authenticator, snapshotter *store.Snapshotter) *Engine {
	dedupSize := cfg.DedupSize
	if dedupSize <= 0 {
		dedupSize = 4096
	}
	return &Engine{
		peerID:               cfg.PeerID,
		hostID:               cfg.HostID,
		model:                m,
		clock:                hlc,
		auth:                 auth,
		dedup:                NewDedupCache(dedupSize),
		snapshotter:          snapshotter,
		queues:               make(map[string]*PeerQueue),
		connected:            make(map[string]bool),
		syncMax:              cfg.SyncMax,
		syncDelta:            cfg.SyncDelta,
		snapshotIntervalOps:  cfg.SnapshotIntervalOps,
		snapshotIntervalTime: cfg.SnapshotIntervalTime,
	}
}

// PeerConnected registers peerID as reachable and ensures it has a batching
// queue, seeded from lastSeenHWM if this is the first time this peer has
// been seen.
func (e *Engine) PeerConnected(peerID string, lastSeenHWM clock.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasConnected := e.connected[peerID]
	e.connected[peerID] = true
	if _, ok := e.queues[peerID]; !ok {
		q := NewPeerQueue(e.syncMax, e.syncDelta)
		q.SetLastSentHWM(lastSeenHWM)
		e.queues[peerID] = q
	}
	if !wasConnected && e.metrics != nil {
		e.metrics.PeersConnected.Inc()
	}
}

// PeerRemoved discards peerID's queue entirely — spec.md §4.6's
// "A peer removed from configuration causes its queue to be discarded."
func (e *Engine) PeerRemoved(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasConnected := e.connected[peerID]
	delete(e.connected, peerID)
	delete(e.queues, peerID)
	if wasConnected && e.metrics != nil {
		e.metrics.PeersConnected.Dec()
	}
}

// PeerDisconnected marks peerID unreachable without discarding its queue —
// unsent ops remain pending and are resent on reconnect.
func (e *Engine) PeerDisconnected(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasConnected := e.connected[peerID]
	delete(e.connected, peerID)
	if wasConnected && e.metrics != nil {
		e.metrics.PeersConnected.Dec()
	}
}

// NotifyLocalMutation tells every known peer's queue that n local
// mutations have happened, so their SYNC_MAX threshold can trip.
func (e *Engine) NotifyLocalMutation(n int) {
	e.mu.Lock()
	e.opsSinceSnapshot += n
	e.mu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, q := range e.queues {
		q.Notify(n)
	}
}

// MaybeSnapshot persists the model's state through the configured
// Snapshotter if either snapshot_interval_ops or snapshot_interval_seconds
// has elapsed since the last one — spec.md §4.4's bounded snapshot cadence.
// A nil Snapshotter (as used by tests that only exercise protocol logic)
// makes this a no-op.
func (e *Engine) MaybeSnapshot(ctx context.Context, now time.Time) error {
	if e.snapshotter == nil {
		return nil
	}
	e.mu.Lock()
	due := (e.snapshotIntervalOps > 0 && e.opsSinceSnapshot >= e.snapshotIntervalOps) ||
		(e.snapshotIntervalTime > 0 && now.Sub(e.lastSnapshotAt) >= e.snapshotIntervalTime) ||
		e.lastSnapshotAt.IsZero()
	if !due {
		e.mu.Unlock()
		return nil
	}
	e.opsSinceSnapshot = 0
	e.lastSnapshotAt = now
	e.mu.Unlock()

	if err := e.snapshotter.Save(ctx, e.model); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SnapshotsSavedTotal.Inc()
	}
	return nil
}

// HandleEnvelope verifies and dispatches one inbound envelope, returning
// the envelopes to send in response (a direct reply, and/or fan-out copies
// to other connected peers for anti-entropy).
func (e *Engine) HandleEnvelope(env Envelope) ([]Outbound, error) {
	if err := e.auth.Verify(env); err != nil {
		if e.metrics != nil {
			e.metrics.SyncAuthFailuresTotal.Inc()
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.SyncMessagesReceivedTotal.WithLabelValues(string(env.Kind)).Inc()
	}

	switch env.Kind {
	case KindHello:
		return e.handleHello(env)
	case KindDelta:
		return e.handleDelta(env)
	case KindSnapshotReq:
		return e.handleSnapshotReq(env)
	case KindSnapshot:
		return e.handleSnapshot(env)
	default:
		return nil, errors.SyncTransport("unknown message kind " + string(env.Kind))
	}
}

func (e *Engine) handleHello(env Envelope) ([]Outbound, error) {
	var body HelloBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, errors.SyncTransport("malformed HELLO body: " + err.Error())
	}
	e.PeerConnected(body.PeerID, body.LastSeenTsPeers[e.peerID])

	since := body.LastSeenTsPeers[e.peerID]
	delta := e.model.Delta(since)
	if delta.Empty() {
		return nil, nil
	}
	payload, err := json.Marshal(DeltaBody{OriginPeerID: e.peerID, Ops: delta})
	if err != nil {
		return nil, errors.SyncTransport("marshal DELTA reply: " + err.Error())
	}
	reply := e.auth.Seal(KindDelta, e.peerID, payload)
	e.recordSent(KindDelta)
	return []Outbound{{To: body.PeerID, Env: reply}}, nil
}

func (e *Engine) handleDelta(env Envelope) ([]Outbound, error) {
	var body DeltaBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, errors.SyncTransport("malformed DELTA body: " + err.Error())
	}
	if e.dedup.SeenOrMark(body.OriginPeerID, body.Ops.HighWaterMark) {
		return nil, nil
	}

	_, span := observability.StartSpan(context.Background(), "sync.handleDelta")
	e.model.Restore(body.Ops)
	span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Outbound
	for peerID := range e.connected {
		if peerID == env.SenderID || peerID == body.OriginPeerID {
			continue
		}
		out = append(out, Outbound{To: peerID, Env: env})
	}
	return out, nil
}

func (e *Engine) handleSnapshotReq(env Envelope) ([]Outbound, error) {
	var body SnapshotReqBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, errors.SyncTransport("malformed SNAPSHOT_REQ body: " + err.Error())
	}
	snap := e.model.Snapshot()
	payload, err := json.Marshal(SnapshotBody{State: snap})
	if err != nil {
		return nil, errors.SyncTransport("marshal SNAPSHOT reply: " + err.Error())
	}
	reply := e.auth.Seal(KindSnapshot, e.peerID, payload)
	e.recordSent(KindSnapshot)
	return []Outbound{{To: body.PeerID, Env: reply}}, nil
}

func (e *Engine) recordSent(kind Kind) {
	if e.metrics != nil {
		e.metrics.SyncMessagesSentTotal.WithLabelValues(string(kind)).Inc()
	}
}

func (e *Engine) handleSnapshot(env Envelope) ([]Outbound, error) {
	var body SnapshotBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, errors.SyncTransport("malformed SNAPSHOT body: " + err.Error())
	}
	e.model.Restore(body.State)
	return nil, nil
}

// Flush builds the outbound envelope for peerID if either backpressure
// threshold has tripped, resetting its queue on success. Returns ok=false
// if nothing is due to be sent.
func (e *Engine) Flush(now time.Time, peerID string) (out Outbound, ok bool) {
	e.mu.RLock()
	q, exists := e.queues[peerID]
	e.mu.RUnlock()
	if !exists || !q.ShouldFlush(now) {
		return Outbound{}, false
	}

	since := q.LastSentHWM()
	delta := e.model.Delta(since)
	if delta.Empty() {
		q.MarkFlushed(now, since)
		return Outbound{}, false
	}

	payload, err := json.Marshal(DeltaBody{OriginPeerID: e.peerID, Ops: delta})
	if err != nil {
		return Outbound{}, false
	}
	env := e.auth.Seal(KindDelta, e.peerID, payload)
	q.MarkFlushed(now, delta.HighWaterMark)
	e.recordSent(KindDelta)
	return Outbound{To: peerID, Env: env}, true
}

// Hello builds this peer's HELLO envelope naming the high-water mark
// already received from each known peer.
func (e *Engine) Hello(lastSeenTsPeers map[string]clock.Timestamp) (Envelope, error) {
	body := HelloBody{PeerID: e.peerID, HostID: e.hostID, LastSeenTsPeers: lastSeenTsPeers}
	payload, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, errors.SyncTransport("marshal HELLO: " + err.Error())
	}
	env := e.auth.Seal(KindHello, e.peerID, payload)
	e.recordSent(KindHello)
	return env, nil
}
