package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/horao-fabric/fabric/internal/clock"
)

func ts(wall int64, ctr uint64, peer string) clock.Timestamp {
	return clock.Timestamp{WallMS: wall, Counter: ctr, PeerID: peer}
}

func TestDedupCache_FirstSeenIsNotADuplicate(t *testing.T) {
	d := NewDedupCache(16)
	assert.False(t, d.SeenOrMark("p1", ts(100, 0, "p1")))
}

func TestDedupCache_RepeatIsADuplicate(t *testing.T) {
	d := NewDedupCache(16)
	require := assert.New(t)
	require.False(d.SeenOrMark("p1", ts(100, 0, "p1")))
	require.True(d.SeenOrMark("p1", ts(100, 0, "p1")))
}

func TestDedupCache_DistinguishesByOriginAndTimestamp(t *testing.T) {
	d := NewDedupCache(16)
	assert.False(t, d.SeenOrMark("p1", ts(100, 0, "p1")))
	assert.False(t, d.SeenOrMark("p2", ts(100, 0, "p1")))
	assert.False(t, d.SeenOrMark("p1", ts(101, 0, "p1")))
}

func TestDedupCache_EvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	d := NewDedupCache(2)
	d.SeenOrMark("p1", ts(1, 0, "p1"))
	d.SeenOrMark("p2", ts(1, 0, "p2"))
	d.SeenOrMark("p3", ts(1, 0, "p3"))

	assert.False(t, d.SeenOrMark("p1", ts(1, 0, "p1")))
}
