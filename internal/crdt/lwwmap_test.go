package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLWWMap(t *testing.T) {
	t.Run("put then get", func(t *testing.T) {
		m := NewLWWMap[string, int]()
		m.Put("a", 1, ts(100, 0, "n1"))
		v, ok := m.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("delete tombstones the key", func(t *testing.T) {
		m := NewLWWMap[string, int]()
		m.Put("a", 1, ts(100, 0, "n1"))
		m.Delete("a", ts(200, 0, "n1"))
		_, ok := m.Get("a")
		assert.False(t, ok)
	})

	t.Run("concurrent put respects tombstone by timestamp", func(t *testing.T) {
		m := NewLWWMap[string, int]()
		m.Delete("a", ts(200, 0, "n1"))
		m.Put("a", 1, ts(100, 0, "n2")) // earlier than the tombstone: stays removed
		_, ok := m.Get("a")
		assert.False(t, ok)

		m.Put("a", 2, ts(300, 0, "n2")) // later than the tombstone: resurrects
		v, ok := m.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, v)
	})

	t.Run("merge unions keys and resolves by timestamp", func(t *testing.T) {
		m1 := NewLWWMap[string, int]()
		m2 := NewLWWMap[string, int]()
		m1.Put("a", 1, ts(100, 0, "n1"))
		m2.Put("b", 2, ts(100, 0, "n2"))
		m2.Put("a", 99, ts(200, 0, "n2"))

		m1.Merge(m2)

		va, _ := m1.Get("a")
		vb, _ := m1.Get("b")
		assert.Equal(t, 99, va)
		assert.Equal(t, 2, vb)
	})

	t.Run("delta and apply round-trip", func(t *testing.T) {
		m1 := NewLWWMap[string, int]()
		m1.Put("a", 1, ts(100, 0, "n1"))
		m1.Put("b", 2, ts(200, 0, "n1"))

		delta := m1.Delta(ts(150, 0, "n1"))
		assert.Len(t, delta, 1)

		m2 := NewLWWMap[string, int]()
		m2.Apply(m1.Delta(ts(0, 0, "")))
		va, _ := m2.Get("a")
		vb, _ := m2.Get("b")
		assert.Equal(t, 1, va)
		assert.Equal(t, 2, vb)
	})
}
