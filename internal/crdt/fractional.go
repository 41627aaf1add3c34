package crdt

import (
	"math/big"
	"sort"
	"sync"

	"github.com/horao-fabric/fabric/internal/clock"
)

// Frac is a dense rational position in a Fractional-Index Array, stored as
// an unreduced numerator/denominator pair. Positions are never reduced to
// lowest terms; the Stern-Brocot mediant of two ordered positions falls
// strictly between them whether or not they are reduced, and Less/Equal
// compare by cross-multiplication, so two representations of the same
// rational compare equal.
//
// spec.md §9 flags unbounded fractional-index depth under pathological
// insertion patterns as an open question with "no policy asserted in the
// source." This implementation resolves that question conservatively by
// backing Num/Den with math/big.Int, so repeated insertion at the same spot
// grows the fraction's bit length instead of overflowing — documented in
// DESIGN.md.
type Frac struct {
	Num *big.Int
	Den *big.Int
}

// NewFrac builds a Frac from small integers, for tests and sentinels.
func NewFrac(num, den int64) Frac {
	return Frac{Num: big.NewInt(num), Den: big.NewInt(den)}
}

// LeftSentinel and RightSentinel bound the array when a neighbor is absent,
// per spec.md §4.2's "if either neighbor is absent use a fixed sentinel."
var (
	LeftSentinel  = NewFrac(0, 1)
	RightSentinel = NewFrac(1, 1)
)

// Less reports whether a sorts strictly before b, via cross-multiplication
// (a.Num/a.Den < b.Num/b.Den ⇔ a.Num*b.Den < b.Num*a.Den for positive
// denominators, which every Frac here has).
func (a Frac) Less(b Frac) bool {
	left := new(big.Int).Mul(a.Num, b.Den)
	right := new(big.Int).Mul(b.Num, a.Den)
	return left.Cmp(right) < 0
}

// Equal reports whether a and b denote the same rational position.
func (a Frac) Equal(b Frac) bool {
	left := new(big.Int).Mul(a.Num, b.Den)
	right := new(big.Int).Mul(b.Num, a.Den)
	return left.Cmp(right) == 0
}

// Mediant returns the Stern-Brocot mediant (a.Num+b.Num)/(a.Den+b.Den),
// which always lies strictly between a and b when a < b.
func Mediant(a, b Frac) Frac {
	return Frac{
		Num: new(big.Int).Add(a.Num, b.Num),
		Den: new(big.Int).Add(a.Den, b.Den),
	}
}

// PositionBetween computes the position to use when inserting between left
// and right, per spec.md §4.2: the mediant of the two neighbors, or a fixed
// sentinel when a neighbor is absent.
func PositionBetween(left, right *Frac) Frac {
	l := LeftSentinel
	if left != nil {
		l = *left
	}
	r := RightSentinel
	if right != nil {
		r = *right
	}
	return Mediant(l, r)
}

type fracEntry[T any] struct {
	value     T
	pos       Frac
	ts        clock.Timestamp
	tombstone bool
}

// FractionalArray is a totally ordered sequence CRDT keyed by an opaque
// element id (so moves and concurrent inserts at the same logical slot
// don't collide), positioned with dense rational Fracs. Deletion leaves a
// tombstone keyed by position, per spec.md §3.
type FractionalArray[ID comparable, T any] struct {
	mu      sync.RWMutex
	entries map[ID]fracEntry[T]
}

// NewFractionalArray creates an empty array.
func NewFractionalArray[ID comparable, T any]() *FractionalArray[ID, T] {
	return &FractionalArray[ID, T]{entries: make(map[ID]fracEntry[T])}
}

// Insert places value at id's position, last-writer-wins on id so a
// concurrent re-insert or move resolves deterministically by timestamp.
func (a *FractionalArray[ID, T]) Insert(id ID, value T, pos Frac, ts clock.Timestamp) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applyLocked(id, fracEntry[T]{value: value, pos: pos, ts: ts})
}

// Delete tombstones id.
func (a *FractionalArray[ID, T]) Delete(id ID, ts clock.Timestamp) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	return a.applyLocked(id, fracEntry[T]{value: zero, ts: ts, tombstone: true})
}

func (a *FractionalArray[ID, T]) applyLocked(id ID, next fracEntry[T]) bool {
	cur, exists := a.entries[id]
	if exists && !next.ts.After(cur.ts) {
		return false
	}
	a.entries[id] = next
	return true
}

// Element pairs an id with its live value and position, for ordered reads.
type Element[ID comparable, T any] struct {
	ID    ID
	Value T
	Pos   Frac
}

// Ordered returns every live element, sorted by position. Elements on equal
// positions (e.g. two concurrent inserts with the identical mediant — see
// spec.md S2) are ordered by the timestamp each entry was stamped with
// (wall time, counter, then peer id); idLess breaks any remaining tie.
func (a *FractionalArray[ID, T]) Ordered(idLess func(x, y ID) bool) []Element[ID, T] {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Element[ID, T], 0, len(a.entries))
	stamps := make(map[ID]clock.Timestamp, len(a.entries))
	for id, e := range a.entries {
		if !e.tombstone {
			out = append(out, Element[ID, T]{ID: id, Value: e.value, Pos: e.pos})
			stamps[id] = e.ts
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Pos.Equal(out[j].Pos) {
			return out[i].Pos.Less(out[j].Pos)
		}
		if ti, tj := stamps[out[i].ID], stamps[out[j].ID]; !ti.Equal(tj) {
			return ti.Less(tj)
		}
		return idLess(out[i].ID, out[j].ID)
	})
	return out
}

// Merge folds another array's entries into this one.
func (a *FractionalArray[ID, T]) Merge(other *FractionalArray[ID, T]) {
	other.mu.RLock()
	snapshot := make(map[ID]fracEntry[T], len(other.entries))
	for id, e := range other.entries {
		snapshot[id] = e
	}
	other.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, e := range snapshot {
		a.applyLocked(id, e)
	}
}

// ArrayOp is one stamped insert/delete, as exchanged over the wire.
type ArrayOp[ID comparable, T any] struct {
	ID        ID
	Value     T
	Pos       Frac
	Tombstone bool
	Ts        clock.Timestamp
}

// Delta returns every op whose timestamp exceeds since.
func (a *FractionalArray[ID, T]) Delta(since clock.Timestamp) []ArrayOp[ID, T] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var ops []ArrayOp[ID, T]
	for id, e := range a.entries {
		if e.ts.After(since) {
			ops = append(ops, ArrayOp[ID, T]{ID: id, Value: e.value, Pos: e.pos, Tombstone: e.tombstone, Ts: e.ts})
		}
	}
	return ops
}

// Apply replays a batch of ops produced by Delta.
func (a *FractionalArray[ID, T]) Apply(ops []ArrayOp[ID, T]) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, op := range ops {
		a.applyLocked(op.ID, fracEntry[T]{value: op.Value, pos: op.Pos, ts: op.Ts, tombstone: op.Tombstone})
	}
}
