package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fabric"

// Metrics holds every Prometheus collector this module exports — grounded
// on apps/edge-mcp/internal/metrics.Metrics, generalized from HTTP/session
// counters to the scheduler/sync/controller concerns of this domain.
type Metrics struct {
	AdmissionsTotal       *prometheus.CounterVec // result=admitted|rejected
	PlacementsTotal       *prometheus.CounterVec // result=placed|rejected
	ClaimsExpiredTotal    prometheus.Counter
	ClaimsReconciledTotal prometheus.Counter

	SyncMessagesSentTotal     *prometheus.CounterVec // kind=hello|delta|snapshot_req|snapshot
	SyncMessagesReceivedTotal *prometheus.CounterVec
	SyncAuthFailuresTotal     prometheus.Counter
	PeersConnected            prometheus.Gauge

	SnapshotsSavedTotal prometheus.Counter

	ControllerPullsTotal           *prometheus.CounterVec // adapter_id, result=ok|error
	ControllerPlacementErrorsTotal *prometheus.CounterVec // adapter_id
	ResourcesDecommissionedTotal   prometheus.Counter
}

// NewMetrics registers every collector against reg, or the default
// Prometheus registry if reg is nil. Pass a fresh prometheus.NewRegistry()
// from tests so repeated construction doesn't panic on duplicate
// registration against the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "admissions_total", Help: "Claim admission decisions by result.",
		}, []string{"result"}),
		PlacementsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "placements_total", Help: "Claim placement decisions by result.",
		}, []string{"result"}),
		ClaimsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "claims_expired_total", Help: "Claims transitioned placed -> expired.",
		}),
		ClaimsReconciledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "claims_reconciled_total", Help: "Claims reverted to pending by merge-conflict reconciliation.",
		}),
		SyncMessagesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_messages_sent_total", Help: "Peer sync envelopes sent, by kind.",
		}, []string{"kind"}),
		SyncMessagesReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_messages_received_total", Help: "Peer sync envelopes received, by kind.",
		}, []string{"kind"}),
		SyncAuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_auth_failures_total", Help: "Envelopes rejected by Authenticator.Verify.",
		}),
		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers_connected", Help: "Currently connected peers.",
		}),
		SnapshotsSavedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_saved_total", Help: "Full model snapshots persisted.",
		}),
		ControllerPullsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "controller_pulls_total", Help: "Adapter inventory pulls, by adapter and result.",
		}, []string{"adapter_id", "result"}),
		ControllerPlacementErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "controller_placement_errors_total", Help: "placement_hook errors, by adapter.",
		}, []string{"adapter_id"}),
		ResourcesDecommissionedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "resources_decommissioned_total", Help: "Resources tombstoned after exhausting grace_interval.",
		}),
	}
}
