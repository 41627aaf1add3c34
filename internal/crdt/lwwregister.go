package crdt

import (
	"sync"

	"github.com/horao-fabric/fabric/internal/clock"
)

// LWWRegister is a Last-Writer-Wins Register CRDT holding a single value of
// type V plus the timestamp of the write that produced it. Concurrent
// writes resolve to the one with the greater clock.Timestamp; ties are
// impossible in practice (the peer_id component of the timestamp breaks
// them), per spec.md §4.2's LWW tie-breaking policy.
type LWWRegister[V any] struct {
	mu    sync.RWMutex
	value V
	ts    clock.Timestamp
	isSet bool
}

// NewLWWRegister creates an empty register.
func NewLWWRegister[V any]() *LWWRegister[V] {
	return &LWWRegister[V]{}
}

// Set applies a local write. It returns true if the write took effect (ts
// was newer than whatever the register already held).
func (r *LWWRegister[V]) Set(value V, ts clock.Timestamp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(value, ts)
}

func (r *LWWRegister[V]) setLocked(value V, ts clock.Timestamp) bool {
	if !r.isSet || ts.After(r.ts) {
		r.value = value
		r.ts = ts
		r.isSet = true
		return true
	}
	return false
}

// Value returns the materialized value and whether the register has ever
// been set.
func (r *LWWRegister[V]) Value() (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.isSet
}

// Timestamp returns the timestamp of the winning write.
func (r *LWWRegister[V]) Timestamp() clock.Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ts
}

// Merge folds another register's state into this one. Idempotent (P2) and
// commutative: calling Merge with the same source any number of times, in
// any order relative to other merges, converges to the value with the
// greatest timestamp across all inputs.
func (r *LWWRegister[V]) Merge(other *LWWRegister[V]) {
	value, ts, ok := other.snapshot()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(value, ts)
}

func (r *LWWRegister[V]) snapshot() (V, clock.Timestamp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.ts, r.isSet
}

// Delta returns a register carrying this one's value if its write happened
// strictly after since, or nil if nothing has changed since that point.
func (r *LWWRegister[V]) Delta(since clock.Timestamp) *LWWRegister[V] {
	value, ts, ok := r.snapshot()
	if !ok || !ts.After(since) {
		return nil
	}
	out := NewLWWRegister[V]()
	out.value, out.ts, out.isSet = value, ts, true
	return out
}

// Clone returns an independent copy of the register's current state.
func (r *LWWRegister[V]) Clone() *LWWRegister[V] {
	value, ts, ok := r.snapshot()
	out := NewLWWRegister[V]()
	out.value, out.ts, out.isSet = value, ts, ok
	return out
}
