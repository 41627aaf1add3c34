package crdt

import (
	"sort"
	"sync"

	"github.com/horao-fabric/fabric/internal/clock"
)

// lwwMapEntry is a key's current register state: either a live value or a
// tombstone, whichever carries the greater timestamp.
type lwwMapEntry[V any] struct {
	value     V
	ts        clock.Timestamp
	tombstone bool
}

// LWWMap is a Last-Writer-Wins Map CRDT: a mapping from K to LWW-Register(V)
// plus a tombstone register per removed key, merged per spec.md §4.2 — keys
// are unioned, values resolved by per-key LWW, tombstones respected so a
// concurrent put-after-remove with a lesser timestamp stays removed.
type LWWMap[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]lwwMapEntry[V]
}

// NewLWWMap creates an empty map.
func NewLWWMap[K comparable, V any]() *LWWMap[K, V] {
	return &LWWMap[K, V]{entries: make(map[K]lwwMapEntry[V])}
}

// Put applies a local write to key k. Returns true if it took effect.
func (m *LWWMap[K, V]) Put(k K, value V, ts clock.Timestamp) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(k, lwwMapEntry[V]{value: value, ts: ts, tombstone: false})
}

// Delete tombstones key k.
func (m *LWWMap[K, V]) Delete(k K, ts clock.Timestamp) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero V
	return m.applyLocked(k, lwwMapEntry[V]{value: zero, ts: ts, tombstone: true})
}

func (m *LWWMap[K, V]) applyLocked(k K, next lwwMapEntry[V]) bool {
	cur, exists := m.entries[k]
	if exists && !next.ts.After(cur.ts) {
		return false
	}
	m.entries[k] = next
	return true
}

// Get returns the live value for k, or false if absent/tombstoned.
func (m *LWWMap[K, V]) Get(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[k]
	if !ok || e.tombstone {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Keys returns every live (non-tombstoned) key, sorted by a caller-supplied
// less function for deterministic iteration.
func (m *LWWMap[K, V]) Keys(less func(a, b K) bool) []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.tombstone {
			keys = append(keys, k)
		}
	}
	if less != nil {
		sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	}
	return keys
}

// Len returns the number of live keys.
func (m *LWWMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !e.tombstone {
			n++
		}
	}
	return n
}

// Merge folds another map's state into this one, key by key.
func (m *LWWMap[K, V]) Merge(other *LWWMap[K, V]) {
	other.mu.RLock()
	snapshot := make(map[K]lwwMapEntry[V], len(other.entries))
	for k, e := range other.entries {
		snapshot[k] = e
	}
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range snapshot {
		m.applyLocked(k, e)
	}
}

// MapOp is one stamped operation against a LWWMap, as exchanged in a DELTA
// batch (spec.md §6's body.DELTA.ops).
type MapOp[K comparable, V any] struct {
	Key       K
	Value     V
	Tombstone bool
	Ts        clock.Timestamp
}

// Delta returns every entry whose timestamp exceeds since, for gossip.
func (m *LWWMap[K, V]) Delta(since clock.Timestamp) []MapOp[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ops []MapOp[K, V]
	for k, e := range m.entries {
		if e.ts.After(since) {
			ops = append(ops, MapOp[K, V]{Key: k, Value: e.value, Tombstone: e.tombstone, Ts: e.ts})
		}
	}
	return ops
}

// Apply replays a batch of ops produced by Delta (or received over the
// wire) against this map.
func (m *LWWMap[K, V]) Apply(ops []MapOp[K, V]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.applyLocked(op.Key, lwwMapEntry[V]{value: op.Value, ts: op.Ts, tombstone: op.Tombstone})
	}
}
