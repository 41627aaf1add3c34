package crdt

import (
	"sync"

	"github.com/google/uuid"

	"github.com/horao-fabric/fabric/internal/clock"
)

type mvSibling[V any] struct {
	value V
	ts    clock.Timestamp
	tag   uuid.UUID
}

// MultiValueMap is a Multi-Value Map CRDT: a map whose values are sets of
// (value, timestamp) siblings with removal tombstones. Concurrent writes to
// the same key surface as multiple siblings until one write's timestamp
// dominates every existing sibling, per spec.md §4.2's subsumption rule.
type MultiValueMap[K comparable, V any] struct {
	mu         sync.RWMutex
	siblings   map[K][]mvSibling[V]
	tombstones map[uuid.UUID]clock.Timestamp
}

// NewMultiValueMap creates an empty map.
func NewMultiValueMap[K comparable, V any]() *MultiValueMap[K, V] {
	return &MultiValueMap[K, V]{
		siblings:   make(map[K][]mvSibling[V]),
		tombstones: make(map[uuid.UUID]clock.Timestamp),
	}
}

// mvDominates reports whether a is strictly later than b on wall time and
// counter. Two writes equal on both, differing only by peer id, are
// concurrent: neither dominates the other, so both stay siblings.
func mvDominates(a, b clock.Timestamp) bool {
	return a.WallMS > b.WallMS || (a.WallMS == b.WallMS && a.Counter > b.Counter)
}

// Put applies a local write to key k, returning the new sibling's tag. If
// ts dominates (see mvDominates) every existing live sibling for k, those
// siblings are pruned — spec.md §4.2's MV-Map sibling pruning policy, read
// as strict domination on wall time and counter.
func (m *MultiValueMap[K, V]) Put(k K, value V, ts clock.Timestamp) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	tag := uuid.New()
	live := m.liveSiblingsLocked(k)

	dominatesAll := true
	for _, s := range live {
		if !mvDominates(ts, s.ts) {
			dominatesAll = false
			break
		}
	}
	if dominatesAll {
		for _, s := range live {
			m.tombstones[s.tag] = ts
		}
	}

	m.siblings[k] = append(m.siblings[k], mvSibling[V]{value: value, ts: ts, tag: tag})
	return tag
}

// Remove tombstones a specific sibling by tag (OR-Set-style removal, used
// when a caller wants to retract one concurrent write without asserting
// dominance over the others).
func (m *MultiValueMap[K, V]) Remove(tag uuid.UUID, ts clock.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tombstones[tag]; !ok || ts.After(existing) {
		m.tombstones[tag] = ts
	}
}

func (m *MultiValueMap[K, V]) liveSiblingsLocked(k K) []mvSibling[V] {
	var live []mvSibling[V]
	for _, s := range m.siblings[k] {
		if _, removed := m.tombstones[s.tag]; !removed {
			live = append(live, s)
		}
	}
	return live
}

// Values returns every live sibling value for k. Len()>1 means concurrent
// writes are still unresolved siblings.
func (m *MultiValueMap[K, V]) Values(k K) []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	live := m.liveSiblingsLocked(k)
	out := make([]V, 0, len(live))
	for _, s := range live {
		out = append(out, s.value)
	}
	return out
}

// Keys returns every key with at least one live sibling.
func (m *MultiValueMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []K
	for k := range m.siblings {
		if len(m.liveSiblingsLocked(k)) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// Merge folds another map's siblings and tombstones into this one, then
// re-runs subsumption per key so a dominating write observed via merge
// prunes siblings exactly as a local Put would.
func (m *MultiValueMap[K, V]) Merge(other *MultiValueMap[K, V]) {
	other.mu.RLock()
	siblingsCopy := make(map[K][]mvSibling[V], len(other.siblings))
	for k, ss := range other.siblings {
		siblingsCopy[k] = append([]mvSibling[V]{}, ss...)
	}
	tombstonesCopy := make(map[uuid.UUID]clock.Timestamp, len(other.tombstones))
	for tag, ts := range other.tombstones {
		tombstonesCopy[tag] = ts
	}
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for tag, ts := range tombstonesCopy {
		if existing, ok := m.tombstones[tag]; !ok || ts.After(existing) {
			m.tombstones[tag] = ts
		}
	}

	seen := make(map[uuid.UUID]bool)
	for _, s := range m.siblings {
		for _, sib := range s {
			seen[sib.tag] = true
		}
	}
	for k, ss := range siblingsCopy {
		for _, sib := range ss {
			if !seen[sib.tag] {
				m.siblings[k] = append(m.siblings[k], sib)
				seen[sib.tag] = true
			}
		}
		m.resubsumeLocked(k)
	}
}

// resubsumeLocked re-applies the domination rule for key k's current
// sibling set, pruning any sibling dominated by another live sibling.
func (m *MultiValueMap[K, V]) resubsumeLocked(k K) {
	live := m.liveSiblingsLocked(k)
	for _, candidate := range live {
		dominatesAll := true
		for _, other := range live {
			if other.tag == candidate.tag {
				continue
			}
			if !mvDominates(candidate.ts, other.ts) {
				dominatesAll = false
				break
			}
		}
		if dominatesAll && len(live) > 1 {
			for _, other := range live {
				if other.tag != candidate.tag {
					m.tombstones[other.tag] = candidate.ts
				}
			}
			return
		}
	}
}

// MultiOp is one stamped write or removal, as exchanged over the wire.
type MultiOp[K comparable, V any] struct {
	Key     K
	Value   V
	Tag     uuid.UUID
	Removed bool
	Ts      clock.Timestamp
}

// Delta returns every sibling write or removal whose timestamp exceeds
// since.
func (m *MultiValueMap[K, V]) Delta(since clock.Timestamp) []MultiOp[K, V] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ops []MultiOp[K, V]
	for k, ss := range m.siblings {
		for _, s := range ss {
			if s.ts.After(since) {
				ops = append(ops, MultiOp[K, V]{Key: k, Value: s.value, Tag: s.tag, Ts: s.ts})
			}
		}
	}
	for tag, ts := range m.tombstones {
		if ts.After(since) {
			ops = append(ops, MultiOp[K, V]{Tag: tag, Removed: true, Ts: ts})
		}
	}
	return ops
}

// Apply replays a batch of ops produced by Delta.
func (m *MultiValueMap[K, V]) Apply(ops []MultiOp[K, V]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := map[K]bool{}
	for _, op := range ops {
		if op.Removed {
			if existing, ok := m.tombstones[op.Tag]; !ok || op.Ts.After(existing) {
				m.tombstones[op.Tag] = op.Ts
			}
			continue
		}
		m.siblings[op.Key] = append(m.siblings[op.Key], mvSibling[V]{value: op.Value, ts: op.Ts, tag: op.Tag})
		touched[op.Key] = true
	}
	for k := range touched {
		m.resubsumeLocked(k)
	}
}
