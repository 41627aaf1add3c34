package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horao-fabric/fabric/internal/clock"
)

func ts(wall int64, counter uint64, peer string) clock.Timestamp {
	return clock.Timestamp{WallMS: wall, Counter: counter, PeerID: peer}
}

func TestLWWRegister(t *testing.T) {
	t.Run("new register has no value", func(t *testing.T) {
		reg := NewLWWRegister[string]()
		_, ok := reg.Value()
		assert.False(t, ok)
	})

	t.Run("later timestamp wins, earlier is ignored", func(t *testing.T) {
		reg := NewLWWRegister[string]()

		reg.Set("first", ts(100, 0, "node1"))
		reg.Set("second", ts(200, 0, "node2"))
		v, ok := reg.Value()
		require.True(t, ok)
		assert.Equal(t, "second", v)

		reg.Set("third", ts(50, 0, "node3"))
		v, _ = reg.Value()
		assert.Equal(t, "second", v)
	})

	t.Run("tie-breaking by peer id", func(t *testing.T) {
		reg := NewLWWRegister[string]()
		reg.Set("from node1", ts(100, 0, "node1"))
		reg.Set("from node2", ts(100, 0, "node2"))
		v, _ := reg.Value()
		assert.Equal(t, "from node2", v, "node2 > node1 lexicographically")
	})

	t.Run("merge keeps the later write", func(t *testing.T) {
		r1 := NewLWWRegister[string]()
		r2 := NewLWWRegister[string]()
		r1.Set("value1", ts(100, 0, "node1"))
		r2.Set("value2", ts(200, 0, "node2"))

		r1.Merge(r2)
		v, _ := r1.Value()
		assert.Equal(t, "value2", v)
	})

	t.Run("merge is idempotent", func(t *testing.T) {
		r1 := NewLWWRegister[string]()
		r1.Set("value1", ts(100, 0, "node1"))
		clone := r1.Clone()

		r1.Merge(clone)
		r1.Merge(clone)
		v, _ := r1.Value()
		assert.Equal(t, "value1", v)
	})

	t.Run("delta omits unchanged state", func(t *testing.T) {
		r := NewLWWRegister[string]()
		r.Set("value1", ts(100, 0, "node1"))
		assert.Nil(t, r.Delta(ts(200, 0, "node1")))
		assert.NotNil(t, r.Delta(ts(50, 0, "node1")))
	})
}
