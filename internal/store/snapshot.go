package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/errors"
	"github.com/horao-fabric/fabric/internal/model"
)

// Snapshotter persists a Model's state through a Sink per spec.md §4.4/§6's
// key layout: snapshot/<schema_ver>/<ts>, delta/<origin_peer>/<ts>, and
// meta/self, and provides the load-then-replay sequence used on warm
// restart. The cadence policy (every N ops or M seconds) is decided by the
// sync Engine's MaybeSnapshot, which calls Save.
type Snapshotter struct {
	sink   Sink
	peerID string
}

// NewSnapshotter creates a Snapshotter writing under peerID's own keys.
func NewSnapshotter(sink Sink, peerID string) *Snapshotter {
	return &Snapshotter{sink: sink, peerID: peerID}
}

// selfMeta is the `meta/self` record: `{peer_id, schema_ver,
// last_snapshot_ts}` per spec.md §6.
type selfMeta struct {
	PeerID         string          `json:"peer_id"`
	SchemaVersion  int             `json:"schema_ver"`
	LastSnapshotTs clock.Timestamp `json:"last_snapshot_ts"`
}

// tsKey renders a timestamp as a lexicographically-sortable key component,
// so a Scan of a prefix returns entries in timestamp order without a
// separate index.
func tsKey(ts clock.Timestamp) string {
	return fmt.Sprintf("%020d.%020d.%s", ts.WallMS, ts.Counter, ts.PeerID)
}

func snapshotKey(schemaVersion int, ts clock.Timestamp) string {
	return fmt.Sprintf("snapshot/%d/%s", schemaVersion, tsKey(ts))
}

func deltaKey(originPeer string, ts clock.Timestamp) string {
	return fmt.Sprintf("delta/%s/%s", originPeer, tsKey(ts))
}

const metaSelfKey = "meta/self"

// Save serializes m's full state and writes it as a new snapshot, then
// updates meta/self to point at it — spec.md §4.4's "full snapshot of the
// merged state at bounded cadence."
func (s *Snapshotter) Save(ctx context.Context, m *model.Model) error {
	snap := m.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Store(fmt.Sprintf("snapshot: marshal failed: %v", err))
	}

	key := snapshotKey(snap.SchemaVersion, snap.HighWaterMark)
	if err := s.sink.Put(ctx, key, payload); err != nil {
		return errors.Store(fmt.Sprintf("snapshot: put %q failed: %v", key, err))
	}

	meta := selfMeta{PeerID: s.peerID, SchemaVersion: snap.SchemaVersion, LastSnapshotTs: snap.HighWaterMark}
	metaPayload, err := json.Marshal(meta)
	if err != nil {
		return errors.Store(fmt.Sprintf("snapshot: marshal meta failed: %v", err))
	}
	if err := s.sink.Put(ctx, metaSelfKey, metaPayload); err != nil {
		return errors.Store(fmt.Sprintf("snapshot: put meta failed: %v", err))
	}
	return nil
}

// AppendDelta records one stamped op to the per-origin delta log, for
// warm-restart replay between snapshots.
func (s *Snapshotter) AppendDelta(ctx context.Context, originPeer string, ts clock.Timestamp, payload []byte) error {
	key := deltaKey(originPeer, ts)
	if err := s.sink.Put(ctx, key, payload); err != nil {
		return errors.Store(fmt.Sprintf("delta: put %q failed: %v", key, err))
	}
	return nil
}

// LoadLatest implements spec.md §4.4's restart sequence: load the latest
// snapshot written under schemaVersion (an empty snapshot if there is
// none), then return the still-encoded delta-log tail for the caller to
// replay. It does not decode or apply the deltas itself — the wire-level op
// shape is defined by internal/sync, which already knows how to Apply them
// against the right CRDT.
func (s *Snapshotter) LoadLatest(ctx context.Context, schemaVersion int) (model.ModelSnapshot, []KV, error) {
	var snap model.ModelSnapshot

	entries, err := s.sink.Scan(ctx, fmt.Sprintf("snapshot/%d/", schemaVersion))
	if err != nil {
		return snap, nil, errors.Store(fmt.Sprintf("load: scan snapshots failed: %v", err))
	}
	if len(entries) == 0 {
		deltas, derr := s.sink.Scan(ctx, "delta/")
		if derr != nil {
			return snap, nil, errors.Store(fmt.Sprintf("load: scan deltas failed: %v", derr))
		}
		return snap, deltas, nil
	}

	latest := entries[len(entries)-1]
	if err := json.Unmarshal(latest.Value, &snap); err != nil {
		return snap, nil, errors.Store(fmt.Sprintf("load: unmarshal snapshot %q failed: %v", latest.Key, err))
	}

	deltas, err := s.sink.Scan(ctx, "delta/")
	if err != nil {
		return snap, nil, errors.Store(fmt.Sprintf("load: scan deltas failed: %v", err))
	}
	tail := make([]KV, 0, len(deltas))
	for _, d := range deltas {
		ts, ok := parseDeltaKeyTs(d.Key)
		if !ok || ts.After(snap.HighWaterMark) {
			tail = append(tail, d)
		}
	}
	return snap, tail, nil
}

// parseDeltaKeyTs extracts the timestamp component from a "delta/<origin>/
// <wall>.<counter>.<peer>" key, for filtering the tail against a
// snapshot's high-water mark. Replaying an op already covered by the
// snapshot is harmless — CRDT Apply is idempotent — so a parse failure
// conservatively includes the entry rather than dropping it.
func parseDeltaKeyTs(key string) (clock.Timestamp, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return clock.Timestamp{}, false
	}
	fields := strings.SplitN(parts[2], ".", 3)
	if len(fields) != 3 {
		return clock.Timestamp{}, false
	}
	wall, err1 := strconv.ParseInt(fields[0], 10, 64)
	counter, err2 := strconv.ParseUint(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return clock.Timestamp{}, false
	}
	return clock.Timestamp{WallMS: wall, Counter: counter, PeerID: fields[2]}, true
}
