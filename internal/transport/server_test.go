package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horao-fabric/fabric/internal/config"
	"github.com/horao-fabric/fabric/internal/fabric"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/store"
)

func testPeer(t *testing.T) *fabric.Peer {
	t.Helper()
	cfg := &config.Config{
		PeerID:         "p1",
		HostID:         "host-1",
		PeerSecret:     "shared-secret",
		GraceInterval:  3,
		Inbound:        config.InboundConfig{RatePerSecond: 50, Burst: 100},
		SyncMax:        1000,
	}
	return fabric.New(cfg, store.NewMemorySink(), nil, nil)
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(testPeer(t), Config{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleSnapshot(t *testing.T) {
	p := testPeer(t)
	_, err := p.Model().UpsertResource("r1", model.KindCompute, map[string]float64{"cpu": 4}, nil)
	require.NoError(t, err)

	s := NewServer(p, Config{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/snapshot", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleWebsocket_MissingPeerIDRejected(t *testing.T) {
	s := NewServer(testPeer(t), Config{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
