package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horao-fabric/fabric/internal/clock"
)

func newTestModel(peerID string, wall int64) *Model {
	hlc := clock.New(peerID, 0).WithWallClock(func() int64 { return wall })
	return New(hlc)
}

func TestUpsertResource(t *testing.T) {
	t.Run("valid compute resource is created", func(t *testing.T) {
		m := newTestModel("n1", 100)
		r, err := m.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, map[string]string{"zone": "a"})
		require.NoError(t, err)
		cpu, ok := r.CapacityValue("cpu")
		assert.True(t, ok)
		assert.Equal(t, float64(8), cpu)
	})

	t.Run("invalid kind is rejected", func(t *testing.T) {
		m := newTestModel("n1", 100)
		_, err := m.UpsertResource("r1", "quantum", map[string]float64{}, nil)
		assert.Error(t, err)
	})

	t.Run("capacity shape mismatch is rejected", func(t *testing.T) {
		m := newTestModel("n1", 100)
		_, err := m.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8}, nil)
		assert.Error(t, err)
	})

	t.Run("set_resource_state fails for unknown resource", func(t *testing.T) {
		m := newTestModel("n1", 100)
		err := m.SetResourceState("ghost", StateActive)
		assert.Error(t, err)
	})

	t.Run("set_resource_state succeeds after create", func(t *testing.T) {
		m := newTestModel("n1", 100)
		_, err := m.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
		require.NoError(t, err)
		require.NoError(t, m.SetResourceState("r1", StateDraining))
		r, _ := m.Resource("r1")
		assert.Equal(t, StateDraining, r.CurrentState())
	})
}

func TestModelMerge_S1Convergence(t *testing.T) {
	// S1: P1 creates r1 at t=100, P2 creates r2 at t=101. After merge both
	// peers hold {r1, r2}.
	p1 := newTestModel("p1", 100)
	p2 := newTestModel("p2", 101)

	_, err := p1.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)
	_, err = p2.UpsertResource("r2", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)

	p1.Merge(p2)
	p2.Merge(p1)

	_, ok1 := p1.Resource("r1")
	_, ok2 := p1.Resource("r2")
	assert.True(t, ok1)
	assert.True(t, ok2)

	_, ok3 := p2.Resource("r1")
	_, ok4 := p2.Resource("r2")
	assert.True(t, ok3)
	assert.True(t, ok4)
}

func TestModelMerge_IsIdempotent(t *testing.T) {
	p1 := newTestModel("p1", 100)
	_, err := p1.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)
	require.NoError(t, p1.SetResourceState("r1", StateActive))

	p2 := newTestModel("p2", 100)
	p2.Merge(p1)
	p2.Merge(p1)

	assert.Equal(t, map[string]float64{"cpu": 8, "memory": 32}, p2.TotalCompute())
}

func TestDatacenterHierarchy(t *testing.T) {
	t.Run("attach_to_rack orders resources and rejects unknown ids", func(t *testing.T) {
		m := newTestModel("n1", 100)
		_, err := m.CreateDatacenter("dc1", "west", map[string]string{"region": "us-west"})
		require.NoError(t, err)
		_, err = m.CreateRow("dc1", "row1")
		require.NoError(t, err)
		_, err = m.CreateRack("dc1", "row1", "rack1")
		require.NoError(t, err)

		_, err = m.UpsertResource("r1", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
		require.NoError(t, err)
		_, err = m.UpsertResource("r2", KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
		require.NoError(t, err)

		require.NoError(t, m.AttachToRack("r1", "dc1", 0, 0, nil))
		require.NoError(t, m.AttachToRack("r2", "dc1", 0, 0, nil))

		err = m.AttachToRack("ghost", "dc1", 0, 0, nil)
		assert.Error(t, err)

		err = m.AttachToRack("r1", "dc1", 5, 0, nil)
		assert.Error(t, err)
	})

	t.Run("merge converges datacenter hierarchy across peers", func(t *testing.T) {
		p1 := newTestModel("p1", 100)
		_, err := p1.CreateDatacenter("dc1", "west", nil)
		require.NoError(t, err)
		_, err = p1.CreateRow("dc1", "row1")
		require.NoError(t, err)
		_, err = p1.CreateRack("dc1", "row1", "rackA")
		require.NoError(t, err)

		p2 := newTestModel("p2", 101)
		_, err = p2.CreateDatacenter("dc1", "west", nil)
		require.NoError(t, err)
		_, err = p2.CreateRow("dc1", "row1")
		require.NoError(t, err)
		_, err = p2.CreateRack("dc1", "row1", "rackB")
		require.NoError(t, err)

		p1.Merge(p2)
		dc, ok := p1.Datacenter("dc1")
		require.True(t, ok)
		row, ok := dc.lookupRow("row1")
		require.True(t, ok)
		racks := row.orderedRacks()
		require.Len(t, racks, 2)
	})
}

func TestClaimLifecycle(t *testing.T) {
	t.Run("submit_claim creates a pending claim with its profiles", func(t *testing.T) {
		m := newTestModel("n1", 100)
		profile := NewResourceProfile("p1", KindCompute, 4, map[string]string{"zone": "a"}, nil, int64(time.Hour/time.Millisecond))
		claim, err := m.SubmitClaim("c1", "tenant-a", 0, 3600_000, 1, false, []ResourceProfile{profile})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, claim.CurrentStatus())
		assert.True(t, claim.Profiles.Contains(profile))
	})

	t.Run("submit_claim rejects an inverted window", func(t *testing.T) {
		m := newTestModel("n1", 100)
		profile := NewResourceProfile("p1", KindCompute, 4, nil, nil, 0)
		_, err := m.SubmitClaim("c1", "tenant-a", 100, 50, 1, false, []ResourceProfile{profile})
		assert.Error(t, err)
	})

	t.Run("withdraw_claim moves a pending claim to rejected", func(t *testing.T) {
		m := newTestModel("n1", 100)
		profile := NewResourceProfile("p1", KindCompute, 4, nil, nil, 0)
		_, err := m.SubmitClaim("c1", "tenant-a", 0, 1000, 1, false, []ResourceProfile{profile})
		require.NoError(t, err)
		require.NoError(t, m.WithdrawClaim("c1"))
		claim, _ := m.Claim("c1")
		assert.Equal(t, StatusRejected, claim.CurrentStatus())
	})

	t.Run("withdraw_claim rejects an already-placed claim", func(t *testing.T) {
		m := newTestModel("n1", 100)
		profile := NewResourceProfile("p1", KindCompute, 4, nil, nil, 0)
		claim, err := m.SubmitClaim("c1", "tenant-a", 0, 1000, 1, false, []ResourceProfile{profile})
		require.NoError(t, err)
		claim.Status.Set(StatusPlaced, m.clock.Now())

		err = m.WithdrawClaim("c1")
		assert.Error(t, err)
	})
}
