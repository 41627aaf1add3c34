// Package crdt implements the conflict-free replicated data types the
// logical infrastructure model is built on: a Last-Writer-Wins Register, a
// Last-Writer-Wins Map, an Observed-Removed Set, a Fractional-Index Array,
// and a Multi-Value Map. Every primitive is ordered by clock.Timestamp
// rather than wall-clock time, and every merge is commutative, associative
// and idempotent by construction (P1/P2).
//
// The teacher's collaboration/crdt package gives each primitive a single
// Go interface (Merge(other CRDT) error, Clone() CRDT, GetType() string)
// dispatched with a type switch. Go's generics make that awkward here:
// LWWRegister[V] and LWWRegister[W] are different concrete types, so a
// shared non-generic interface would force value to interface{} and lose
// the type safety generics buy. Each primitive below instead exposes the
// same four-verb shape spec.md §4.2 names — Apply (a type-specific mutator
// such as Set/Put/Add/Insert), Merge, Delta, Value — as methods with
// concrete, type-checked signatures, and there is no shared marker
// interface. This is a deliberate deviation from the teacher's dispatch
// style, recorded in DESIGN.md.
package crdt
