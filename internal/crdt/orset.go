package crdt

import (
	"sync"

	"github.com/google/uuid"

	"github.com/horao-fabric/fabric/internal/clock"
)

// orSetTag is one observed addition of an element: a unique tag and the
// timestamp it was added at, per spec.md §3's {value, unique-tag,
// addition-timestamp} element shape.
type orSetTag struct {
	addedAt clock.Timestamp
}

// ORSet is an Observed-Removed Set CRDT, generalized from the teacher's
// pkg/collaboration/crdt.ORSet (string elements, no timestamps) to any
// comparable element type with per-tag addition timestamps, so a delta
// extraction and re-add-after-remove both work per spec.md §4.2.
type ORSet[T comparable] struct {
	mu         sync.RWMutex
	tags       map[T]map[uuid.UUID]orSetTag
	tombstones map[uuid.UUID]clock.Timestamp // observed tags that have been removed
}

// NewORSet creates an empty OR-Set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		tags:       make(map[T]map[uuid.UUID]orSetTag),
		tombstones: make(map[uuid.UUID]clock.Timestamp),
	}
}

// Add adds an element, returning the fresh unique tag for this addition. A
// re-add after a Remove produces a new tag and is visible again immediately
// — concurrent add-then-remove only resolves to "removed" for tags the
// remover actually observed.
func (s *ORSet[T]) Add(value T, ts clock.Timestamp) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag := uuid.New()
	if s.tags[value] == nil {
		s.tags[value] = make(map[uuid.UUID]orSetTag)
	}
	s.tags[value][tag] = orSetTag{addedAt: ts}
	return tag
}

// Remove tombstones every tag currently observed for value. Tags added
// concurrently elsewhere, not yet observed here, survive the remove and
// will still show the element as present once merged in — the ORSet
// contract for concurrent add/remove.
func (s *ORSet[T]) Remove(value T, ts clock.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag := range s.tags[value] {
		s.tombstones[tag] = ts
	}
}

// Contains reports whether value has at least one live (non-tombstoned)
// tag.
func (s *ORSet[T]) Contains(value T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveCountLocked(value) > 0
}

func (s *ORSet[T]) liveCountLocked(value T) int {
	n := 0
	for tag := range s.tags[value] {
		if _, removed := s.tombstones[tag]; !removed {
			n++
		}
	}
	return n
}

// Elements returns every element with at least one live tag.
func (s *ORSet[T]) Elements() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []T
	for value := range s.tags {
		if s.liveCountLocked(value) > 0 {
			out = append(out, value)
		}
	}
	return out
}

// Merge folds another OR-Set's tags and tombstones into this one: the
// union of both, which is exactly how ORSet convergence works (P1/P2).
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	other.mu.RLock()
	tagsCopy := make(map[T]map[uuid.UUID]orSetTag, len(other.tags))
	for v, tags := range other.tags {
		cp := make(map[uuid.UUID]orSetTag, len(tags))
		for tag, info := range tags {
			cp[tag] = info
		}
		tagsCopy[v] = cp
	}
	tombstonesCopy := make(map[uuid.UUID]clock.Timestamp, len(other.tombstones))
	for tag, ts := range other.tombstones {
		tombstonesCopy[tag] = ts
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for value, tags := range tagsCopy {
		if s.tags[value] == nil {
			s.tags[value] = make(map[uuid.UUID]orSetTag)
		}
		for tag, info := range tags {
			s.tags[value][tag] = info
		}
	}
	for tag, ts := range tombstonesCopy {
		if existing, ok := s.tombstones[tag]; !ok || ts.After(existing) {
			s.tombstones[tag] = ts
		}
	}
}

// SetOp is one stamped addition or removal, as exchanged over the wire.
type SetOp[T any] struct {
	Value   T
	Tag     uuid.UUID
	Removed bool
	Ts      clock.Timestamp
}

// Delta returns every add/remove operation whose timestamp exceeds since.
func (s *ORSet[T]) Delta(since clock.Timestamp) []SetOp[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ops []SetOp[T]
	for value, tags := range s.tags {
		for tag, info := range tags {
			if info.addedAt.After(since) {
				ops = append(ops, SetOp[T]{Value: value, Tag: tag, Ts: info.addedAt})
			}
			if removedAt, ok := s.tombstones[tag]; ok && removedAt.After(since) {
				ops = append(ops, SetOp[T]{Value: value, Tag: tag, Removed: true, Ts: removedAt})
			}
		}
	}
	return ops
}

// Apply replays a batch of add/remove ops produced by Delta.
func (s *ORSet[T]) Apply(ops []SetOp[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Removed {
			if existing, ok := s.tombstones[op.Tag]; !ok || op.Ts.After(existing) {
				s.tombstones[op.Tag] = op.Ts
			}
			continue
		}
		if s.tags[op.Value] == nil {
			s.tags[op.Value] = make(map[uuid.UUID]orSetTag)
		}
		s.tags[op.Value][op.Tag] = orSetTag{addedAt: op.Ts}
	}
}

// Size returns the number of elements with at least one live tag.
func (s *ORSet[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for value := range s.tags {
		if s.liveCountLocked(value) > 0 {
			n++
		}
	}
	return n
}
