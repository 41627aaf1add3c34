package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horao-fabric/fabric/internal/clock"
)

func TestModel_SnapshotRoundTrip(t *testing.T) {
	m := newTestModel("p1", 100)
	_, err := m.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, map[string]string{"zone": "a"})
	require.NoError(t, err)

	snap := m.Snapshot()
	restored := newTestModel("p2", 100)
	restored.Restore(snap)

	r, ok := restored.Resource("r1")
	require.True(t, ok)
	cpu, ok := r.CapacityValue("cpu")
	require.True(t, ok)
	assert.Equal(t, float64(8), cpu)
}

func TestModel_Delta(t *testing.T) {
	m := newTestModel("p1", 100)

	t.Run("delta since zero equals a full snapshot's contents", func(t *testing.T) {
		_, err := m.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
		require.NoError(t, err)

		d := m.Delta(clock.Timestamp{})
		assert.False(t, d.Empty())
		require.Len(t, d.Resources, 1)
		assert.Equal(t, "r1", d.Resources[0].ID)
	})

	t.Run("delta since the last write is empty", func(t *testing.T) {
		hwm := m.Snapshot().HighWaterMark
		d := m.Delta(hwm)
		assert.True(t, d.Empty())
	})

	t.Run("delta since the last write captures only the new mutation", func(t *testing.T) {
		hwm := m.Snapshot().HighWaterMark
		_, err := m.UpsertResource("r2", KindCompute, map[string]float64{"cpu": 4, "memory": 16}, nil)
		require.NoError(t, err)

		d := m.Delta(hwm)
		require.Len(t, d.Resources, 1)
		assert.Equal(t, "r2", d.Resources[0].ID)
	})

	t.Run("restoring a delta onto a fresh model converges with the source", func(t *testing.T) {
		src := newTestModel("p1", 100)
		_, err := src.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
		require.NoError(t, err)

		dst := newTestModel("p2", 100)
		dst.Restore(src.Delta(clock.Timestamp{}))

		r, ok := dst.Resource("r1")
		require.True(t, ok)
		cpu, ok := r.CapacityValue("cpu")
		require.True(t, ok)
		assert.Equal(t, float64(8), cpu)
	})
}
