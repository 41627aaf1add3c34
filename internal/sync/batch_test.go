package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/horao-fabric/fabric/internal/clock"
)

var clock0 = clock.Timestamp{}

func TestPeerQueue_FlushesImmediatelyWhenFresh(t *testing.T) {
	q := NewPeerQueue(100, time.Hour)
	assert.True(t, q.ShouldFlush(time.Now()))
}

func TestPeerQueue_SyncMaxTripsOnOpCount(t *testing.T) {
	q := NewPeerQueue(5, time.Hour)
	now := time.Now()
	q.MarkFlushed(now, clock0)
	q.Notify(6)
	assert.True(t, q.ShouldFlush(now.Add(time.Second)))
}

func TestPeerQueue_SyncDeltaTripsOnElapsedTime(t *testing.T) {
	q := NewPeerQueue(1000, time.Second)
	now := time.Now()
	q.MarkFlushed(now, clock0)
	assert.False(t, q.ShouldFlush(now))
	assert.True(t, q.ShouldFlush(now.Add(2*time.Second)))
}

func TestPeerQueue_MarkFlushedResetsBothCounters(t *testing.T) {
	q := NewPeerQueue(5, time.Hour)
	now := time.Now()
	q.Notify(10)
	q.MarkFlushed(now, clock0)
	assert.False(t, q.ShouldFlush(now.Add(time.Minute)))
}

func TestPeerQueue_LastSentHWMOnlyAdvances(t *testing.T) {
	q := NewPeerQueue(5, time.Hour)
	q.SetLastSentHWM(ts(200, 0, "p1"))
	q.MarkFlushed(time.Now(), ts(100, 0, "p1"))
	assert.Equal(t, int64(200), q.LastSentHWM().WallMS)

	q.MarkFlushed(time.Now(), ts(300, 0, "p1"))
	assert.Equal(t, int64(300), q.LastSentHWM().WallMS)
}
