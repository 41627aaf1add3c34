package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/model"
)

func newTestEngine(peerID string, wall int64, m *model.Model) *Engine {
	hlc := clock.New(peerID, time.Minute).WithWallClock(func() int64 { return wall })
	auth := NewAuthenticator([]byte("shared-secret"), hlc, false, nil)
	return New(Config{PeerID: peerID, HostID: peerID, SyncMax: 50, SyncDelta: time.Minute}, m, hlc, auth, nil)
}

func TestEngine_HelloRepliesWithDeltaSinceLastSeen(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	_, err := m.UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)

	e := newTestEngine("p1", 100, m)
	auth := NewAuthenticator([]byte("shared-secret"), clock.New("p2", time.Minute).WithWallClock(func() int64 { return 100 }), false, nil)
	hello := auth.Seal(KindHello, "p2", mustJSON(t, HelloBody{PeerID: "p2", LastSeenTsPeers: map[string]clock.Timestamp{}}))

	out, err := e.HandleEnvelope(hello)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "p2", out[0].To)
	assert.Equal(t, KindDelta, out[0].Env.Kind)
}

func TestEngine_HelloWithCurrentHWMGetsNoReply(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	_, err := m.UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)
	hwm := m.Snapshot().HighWaterMark

	e := newTestEngine("p1", 100, m)
	auth := NewAuthenticator([]byte("shared-secret"), clock.New("p2", time.Minute).WithWallClock(func() int64 { return 100 }), false, nil)
	hello := auth.Seal(KindHello, "p2", mustJSON(t, HelloBody{PeerID: "p2", LastSeenTsPeers: map[string]clock.Timestamp{"p1": hwm}}))

	out, err := e.HandleEnvelope(hello)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEngine_DeltaIsAppliedAndFannedOutExcludingSenderAndOrigin(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	e := newTestEngine("p1", 100, m)
	e.PeerConnected("sender", clock.Timestamp{})
	e.PeerConnected("origin", clock.Timestamp{})
	e.PeerConnected("p3", clock.Timestamp{})

	src := model.New(clock.New("origin", 0).WithWallClock(func() int64 { return 50 }))
	_, err := src.UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)
	delta := src.Delta(clock.Timestamp{})

	senderAuth := NewAuthenticator([]byte("shared-secret"), clock.New("sender", time.Minute).WithWallClock(func() int64 { return 100 }), false, nil)
	env := senderAuth.Seal(KindDelta, "sender", mustJSON(t, DeltaBody{OriginPeerID: "origin", Ops: delta}))

	out, err := e.HandleEnvelope(env)
	require.NoError(t, err)

	var targets []string
	for _, ob := range out {
		targets = append(targets, ob.To)
	}
	assert.ElementsMatch(t, []string{"p3"}, targets)

	r, ok := m.Resource("r1")
	require.True(t, ok)
	cpu, ok := r.CapacityValue("cpu")
	require.True(t, ok)
	assert.Equal(t, float64(8), cpu)
}

func TestEngine_DuplicateDeltaIsDropped(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	e := newTestEngine("p1", 100, m)

	src := model.New(clock.New("origin", 0).WithWallClock(func() int64 { return 50 }))
	_, err := src.UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)
	delta := src.Delta(clock.Timestamp{})

	senderAuth := NewAuthenticator([]byte("shared-secret"), clock.New("sender", time.Minute).WithWallClock(func() int64 { return 100 }), false, nil)
	env := senderAuth.Seal(KindDelta, "sender", mustJSON(t, DeltaBody{OriginPeerID: "origin", Ops: delta}))

	_, err = e.HandleEnvelope(env)
	require.NoError(t, err)

	out, err := e.HandleEnvelope(env)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEngine_SnapshotRequestIsAnswered(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	_, err := m.UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)

	e := newTestEngine("p1", 100, m)
	auth := NewAuthenticator([]byte("shared-secret"), clock.New("p2", time.Minute).WithWallClock(func() int64 { return 100 }), false, nil)
	req := auth.Seal(KindSnapshotReq, "p2", mustJSON(t, SnapshotReqBody{PeerID: "p2", SchemaVersion: model.SchemaVersion}))

	out, err := e.HandleEnvelope(req)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindSnapshot, out[0].Env.Kind)
}

func TestEngine_RejectsInvalidSignature(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	e := newTestEngine("p1", 100, m)

	badAuth := NewAuthenticator([]byte("wrong-secret"), clock.New("p2", time.Minute).WithWallClock(func() int64 { return 100 }), false, nil)
	env := badAuth.Seal(KindHello, "p2", mustJSON(t, HelloBody{PeerID: "p2"}))

	_, err := e.HandleEnvelope(env)
	assert.Error(t, err)
}

func TestEngine_FlushRespectsBackpressureThresholds(t *testing.T) {
	m := model.New(clock.New("p1", 0).WithWallClock(func() int64 { return 100 }))
	e := newTestEngine("p1", 100, m)
	e.PeerConnected("p2", clock.Timestamp{})

	now := time.Now()
	_, ok := e.Flush(now, "p2")
	assert.False(t, ok, "no ops pending yet, nothing to flush")

	_, err := m.UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8, "memory": 32}, nil)
	require.NoError(t, err)
	e.NotifyLocalMutation(1)

	out, ok := e.Flush(now.Add(2*time.Minute), "p2")
	require.True(t, ok)
	assert.Equal(t, "p2", out.To)
	assert.Equal(t, KindDelta, out.Env.Kind)

	_, ok = e.Flush(now, "p2")
	assert.False(t, ok, "queue was reset by the previous flush")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
