// Package clock implements the hybrid logical clock that orders every
// mutation in the cluster: a wall-clock reading fused with a Lamport-style
// counter, tagged with the originating peer's stable id.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is the triple (wall_ms, logical_counter, peer_id). Ordering is
// lexicographic on the triple, which is exactly field order here.
type Timestamp struct {
	WallMS  int64  `json:"wall_ms"`
	Counter uint64 `json:"logical_counter"`
	PeerID  string `json:"peer_id"`
}

// Less reports whether t sorts strictly before other.
func (t Timestamp) Less(other Timestamp) bool {
	if t.WallMS != other.WallMS {
		return t.WallMS < other.WallMS
	}
	if t.Counter != other.Counter {
		return t.Counter < other.Counter
	}
	return t.PeerID < other.PeerID
}

// After reports whether t sorts strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	return other.Less(t)
}

// Equal reports whether t and other denote the same instant.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.WallMS == other.WallMS && t.Counter == other.Counter && t.PeerID == other.PeerID
}

// IsZero reports whether t is the unset timestamp.
func (t Timestamp) IsZero() bool {
	return t.WallMS == 0 && t.Counter == 0 && t.PeerID == ""
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.WallMS, t.Counter, t.PeerID)
}

// Compare returns -1, 0 or 1 as t is less than, equal to, or greater than
// other, matching the conventional comparator contract.
func Compare(a, b Timestamp) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// WallClock reads the current wall-clock time in milliseconds. It exists so
// tests can substitute a deterministic source.
type WallClock func() int64

func systemWallClock() int64 {
	return time.Now().UnixMilli()
}

// HLC is a hybrid logical clock, safe for concurrent use. One HLC exists per
// peer process and is shared by every worker that stamps a mutation.
type HLC struct {
	mu         sync.Mutex
	peerID     string
	wall       WallClock
	lastWall   int64
	lastCtr    uint64
	skewBound  time.Duration
}

// New creates an HLC for the given stable peer id. skewBound is the
// CLOCK_OFFSET from §4.1/§4.6: remote timestamps further from the local wall
// clock than this are rejected by Observe as suspicious.
func New(peerID string, skewBound time.Duration) *HLC {
	return &HLC{
		peerID:    peerID,
		wall:      systemWallClock,
		skewBound: skewBound,
	}
}

// WithWallClock overrides the wall-clock source, for deterministic tests.
func (c *HLC) WithWallClock(w WallClock) *HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = w
	return c
}

// Now stamps a local mutation: reads the wall clock, advances the logical
// counter per §4.1, and returns the new timestamp. Successive calls from the
// same HLC strictly increase (P3).
func (c *HLC) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.wall()
	if w > c.lastWall {
		c.lastWall = w
		c.lastCtr = 0
	} else {
		c.lastCtr++
	}

	return Timestamp{WallMS: c.lastWall, Counter: c.lastCtr, PeerID: c.peerID}
}

// ErrSkewExceeded is returned by Observe when a remote timestamp's wall
// reading lies further than the configured CLOCK_OFFSET from the local
// clock's current wall reading.
type ErrSkewExceeded struct {
	Local  int64
	Remote int64
	Bound  time.Duration
}

func (e *ErrSkewExceeded) Error() string {
	return fmt.Sprintf("clock: remote wall %dms exceeds skew bound %s of local wall %dms", e.Remote, e.Bound, e.Local)
}

// Observe advances the clock on receipt of a remote timestamp, per §4.1's
// rule: last_wall := max(last_wall, w, rw); if last_wall == rw, last_counter
// := max(last_counter, rc) + 1; otherwise last_counter is bumped by 1. It
// returns ErrSkewExceeded without advancing the clock if the remote wall
// reading is further than skewBound from the local wall clock; callers
// should treat that as a SyncAuthError per §7/S4.
func (c *HLC) Observe(remote Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.wall()
	if c.skewBound > 0 {
		delta := w - remote.WallMS
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Millisecond > c.skewBound {
			return &ErrSkewExceeded{Local: w, Remote: remote.WallMS, Bound: c.skewBound}
		}
	}

	newWall := c.lastWall
	if w > newWall {
		newWall = w
	}
	if remote.WallMS > newWall {
		newWall = remote.WallMS
	}

	if newWall == remote.WallMS {
		ctr := c.lastCtr
		if remote.Counter > ctr {
			ctr = remote.Counter
		}
		c.lastCtr = ctr + 1
	} else {
		c.lastCtr++
	}
	c.lastWall = newWall

	return nil
}

// PeerID returns the clock's stable peer identifier.
func (c *HLC) PeerID() string { return c.peerID }
