// Package sync implements the Peer Sync Engine (C6): websocket transport
// between peers, HMAC-authenticated HELLO/DELTA/SNAPSHOT_REQ/SNAPSHOT
// exchange, anti-entropy fan-out with dedup, and backpressure-driven
// batching, per spec.md §4.6.
package sync

import (
	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/model"
)

// Kind identifies an Envelope's body shape: HELLO, DELTA, SNAPSHOT_REQ or
// SNAPSHOT, per spec.md §4.6's message kinds.
type Kind string

const (
	KindHello       Kind = "HELLO"
	KindDelta       Kind = "DELTA"
	KindSnapshotReq Kind = "SNAPSHOT_REQ"
	KindSnapshot    Kind = "SNAPSHOT"
)

// Envelope is the signed, on-wire frame every message travels in: the HMAC
// covers Kind, Body, SenderID and SentAt, so a forged or altered frame fails
// verification even if the attacker can read the wire; a replayed frame is
// rejected only once its SentAt lies outside the clock-offset window. Mirrors the
// teacher's AuthenticatedMessage{Message, Signature, Timestamp} shape in
// apps/mcp-server/internal/api/websocket/auth.go, generalized from a JWT
// session key to the cluster-wide peer_secret.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	SenderID  string          `json:"sender_id"`
	SentAt    clock.Timestamp `json:"sent_at"`
	Body      []byte          `json:"body"`
	Signature string          `json:"signature"`
}

// HelloBody is exchanged on connect; the receiver responds with any deltas
// whose timestamps exceed last_seen_ts_per_peer[receiver].
type HelloBody struct {
	PeerID          string                     `json:"peer_id"`
	HostID          string                     `json:"host_id"`
	LastSeenTsPeers map[string]clock.Timestamp `json:"last_seen_ts_per_peer"`
}

// DeltaBody carries one batch of CRDT operations, materialized as a partial
// model.ModelSnapshot (see model.Model.Delta) rather than a bespoke op
// union — every CRDT primitive's op types are already JSON-serializable,
// so a second wire format would just duplicate the one Snapshot/Delta
// already define.
type DeltaBody struct {
	OriginPeerID string              `json:"origin_peer_id"`
	Ops          model.ModelSnapshot `json:"ops"`
}

// SnapshotReqBody requests a full state transfer, e.g. after a peer's delta
// window was pruned past what the sender retains.
type SnapshotReqBody struct {
	PeerID        string `json:"peer_id"`
	SchemaVersion int    `json:"schema_version"`
}

// SnapshotBody carries a full model snapshot in reply to SNAPSHOT_REQ.
type SnapshotBody struct {
	State model.ModelSnapshot `json:"state"`
}
