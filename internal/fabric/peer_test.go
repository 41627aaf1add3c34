package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horao-fabric/fabric/internal/config"
	"github.com/horao-fabric/fabric/internal/controller"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/observability"
	"github.com/horao-fabric/fabric/internal/store"
	psync "github.com/horao-fabric/fabric/internal/sync"
)

func testConfig() *config.Config {
	return &config.Config{
		PeerID:         "p1",
		HostID:         "host-1",
		PeerSecret:     "shared-secret",
		ClockOffset:    time.Minute,
		SyncMax:        1000,
		SyncDelta:      time.Minute,
		GraceInterval:  3,
		CoolOffTimeout: time.Minute,
		Inbound:        config.InboundConfig{RatePerSecond: 50, Burst: 100},
	}
}

func TestNew_WiresEveryComponent(t *testing.T) {
	p := New(testConfig(), store.NewMemorySink(), nil, observability.NewMetrics(nil))
	require.NotNil(t, p.Model())
	require.NotNil(t, p.Scheduler())
	require.NotNil(t, p.Controller())
	require.NotNil(t, p.Clock())
}

func TestPeer_StartAndStopWithNoRemotes(t *testing.T) {
	p := New(testConfig(), store.NewMemorySink(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	_, err := p.Model().UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8}, nil)
	require.NoError(t, err)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))
}

func TestPeer_RestoreFromEmptySinkIsNoop(t *testing.T) {
	p := New(testConfig(), store.NewMemorySink(), nil, nil)
	require.NoError(t, p.Restore(context.Background()))
	assert.Empty(t, p.Model().Claims())
}

func TestPeer_RestoreReplaysSavedSnapshot(t *testing.T) {
	sink := store.NewMemorySink()
	cfg := testConfig()
	p := New(cfg, sink, nil, nil)

	_, err := p.Model().UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 8}, nil)
	require.NoError(t, err)
	require.NoError(t, p.snapshot.Save(context.Background(), p.Model()))

	restored := New(cfg, sink, nil, nil)
	require.NoError(t, restored.Restore(context.Background()))

	r, ok := restored.Model().Resource("r1")
	require.True(t, ok)
	cpu, ok := r.CapacityValue("cpu")
	require.True(t, ok)
	assert.Equal(t, float64(8), cpu)
}

func TestPeer_RouteToUnknownPeerIsNoop(t *testing.T) {
	p := New(testConfig(), store.NewMemorySink(), nil, nil)
	assert.NotPanics(t, func() { p.Route("unknown-peer", psync.Envelope{Kind: psync.KindHello}) })
}

func TestPeer_RouteDeliversToRegisteredRemote(t *testing.T) {
	p := New(testConfig(), store.NewMemorySink(), nil, nil)
	rp := psync.NewPeer("remote", "ws://remote", nil, nil, nil, nil, 50, 100)
	p.mu.Lock()
	p.remotes["remote"] = rp
	p.mu.Unlock()

	assert.NotPanics(t, func() { p.Route("remote", psync.Envelope{Kind: psync.KindHello}) })
}

func TestPeer_WithRegisteredAdapterPulledOnStart(t *testing.T) {
	p := New(testConfig(), store.NewMemorySink(), nil, nil)
	fake := controller.NewFakeAdapter("fake-provider", 10*time.Millisecond, nil)
	fake.SetResources([]controller.InventoryResource{{ID: "res-1", Kind: model.KindCompute, Capacity: map[string]float64{"cpu": 4}}})
	p.Controller().Register(fake)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.Eventually(t, func() bool {
		_, ok := p.Model().Resource("res-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))
}
