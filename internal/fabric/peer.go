// Package fabric assembles the process-wide container SPEC_FULL.md §9
// names: a single "initialized-once, torn-down-at-shutdown" Peer holding
// every other component by reference, constructed once in cmd/peerd/main.go
// and passed explicitly to its worker goroutines — there is no
// package-level singleton, matching the teacher's own dependency-injection
// style in cmd/server/main.go (engine, db, cache, server all built once in
// main and threaded through by parameter).
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/horao-fabric/fabric/internal/clock"
	"github.com/horao-fabric/fabric/internal/config"
	"github.com/horao-fabric/fabric/internal/controller"
	"github.com/horao-fabric/fabric/internal/model"
	"github.com/horao-fabric/fabric/internal/observability"
	"github.com/horao-fabric/fabric/internal/scheduler"
	"github.com/horao-fabric/fabric/internal/store"
	psync "github.com/horao-fabric/fabric/internal/sync"
)

const schemaVersion = 1

// Peer wires every component this module builds into one running process:
// the CRDT-backed Model, the HLC, the fair-share Scheduler, the sync Engine
// and its per-remote-peer connections, the Controller, and the
// Snapshotter — all built once from Config and held for the process
// lifetime.
type Peer struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	clock      *clock.HLC
	model      *model.Model
	shares     *scheduler.Shares
	scheduler  *scheduler.Scheduler
	auth       *psync.Authenticator
	sink       store.Sink
	snapshot   *store.Snapshotter
	engine     *psync.Engine
	controller *controller.Controller

	mu        sync.RWMutex
	remotes   map[string]*psync.Peer
	wg        sync.WaitGroup
	cancelled chan struct{}
}

// New builds a Peer from cfg against sink. sink is passed in rather than
// constructed here so the caller chooses MemorySink vs RedisSink (D7) per
// cfg.Store.Driver without this package importing a specific deployment's
// choice.
func New(cfg *config.Config, sink store.Sink, logger *zap.Logger, metrics *observability.Metrics) *Peer {
	hlc := clock.New(cfg.PeerID, cfg.ClockOffset)
	m := model.New(hlc)
	shares := scheduler.NewShares(1)
	for tenant, share := range cfg.Shares {
		shares.Set(tenant, share)
	}

	known := make([]string, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		known = append(known, p.PeerID)
	}
	auth := psync.NewAuthenticator([]byte(cfg.PeerSecret), hlc, cfg.PeerStrict, known)
	snapshotter := store.NewSnapshotter(sink, cfg.PeerID)

	engine := psync.New(psync.Config{
		PeerID:               cfg.PeerID,
		HostID:               cfg.HostID,
		SyncMax:              cfg.SyncMax,
		SyncDelta:            cfg.SyncDelta,
		SnapshotIntervalOps:  cfg.SnapshotIntervalOps,
		SnapshotIntervalTime: cfg.SnapshotIntervalSeconds,
	}, m, hlc, auth, snapshotter).WithMetrics(metrics)

	ctrl := controller.New(m, hlc, logger, controller.Config{
		GraceInterval:  cfg.GraceInterval,
		CoolOffTimeout: cfg.CoolOffTimeout,
	}).WithMetrics(metrics)

	return &Peer{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		clock:      hlc,
		model:      m,
		shares:     shares,
		scheduler:  scheduler.New(m, hlc, shares, 0).WithMetrics(metrics),
		auth:       auth,
		sink:       sink,
		snapshot:   snapshotter,
		engine:     engine,
		controller: ctrl,
		remotes:    make(map[string]*psync.Peer),
		cancelled:  make(chan struct{}),
	}
}

// Model, Scheduler, Controller, Clock expose the wired components for
// callers that drive them directly — an admin HTTP handler admitting a
// claim, or a test harness registering a fake adapter.
func (p *Peer) Model() *model.Model                { return p.model }
func (p *Peer) Scheduler() *scheduler.Scheduler    { return p.scheduler }
func (p *Peer) Controller() *controller.Controller { return p.controller }
func (p *Peer) Clock() *clock.HLC                  { return p.clock }

// Route implements internal/sync's Router: it delivers env to the named remote peer's
// outbox, satisfying the cross-peer anti-entropy fan-out Engine.HandleEnvelope
// produces for DELTA messages addressed to peers other than the one that
// sent them.
func (p *Peer) Route(peerID string, env psync.Envelope) {
	p.mu.RLock()
	rp, ok := p.remotes[peerID]
	p.mu.RUnlock()
	if ok {
		rp.Enqueue(env)
	}
}

// AcceptInbound attaches conn, a websocket connection accepted by
// internal/transport's upgrade handler, to peerID's remote peer — creating
// one if this is the first connection seen from peerID. Blocks until conn
// closes or ctx is done, matching a websocket handler's usual lifetime. If
// peerID is also a configured outbound peer, both connections pump the same
// Peer concurrently until one of them errors out; the mesh is expected to
// settle on whichever direction dialed successfully.
func (p *Peer) AcceptInbound(ctx context.Context, peerID string, conn *websocket.Conn) {
	p.mu.Lock()
	rp, ok := p.remotes[peerID]
	if !ok {
		rp = psync.NewPeer(peerID, "", nil, p.engine, p, p.logger, p.cfg.Inbound.RatePerSecond, p.cfg.Inbound.Burst)
		p.remotes[peerID] = rp
		p.engine.PeerConnected(peerID, clock.Timestamp{})
	}
	p.mu.Unlock()
	rp.AcceptConn(ctx, conn)
}

// TriggerSnapshot forces an immediate snapshot save, bypassing the
// interval-based cadence snapshotLoop otherwise follows — the admin
// endpoint internal/transport mounts uses this.
func (p *Peer) TriggerSnapshot(ctx context.Context) error {
	return p.snapshot.Save(ctx, p.model)
}

// Restore replays the last snapshot and any delta-log tail written since,
// per spec.md §4.4's warm-restart sequence. Call this once before Start.
func (p *Peer) Restore(ctx context.Context) error {
	snap, tail, err := p.snapshot.LoadLatest(ctx, schemaVersion)
	if err != nil {
		return err
	}
	if !snap.Empty() {
		p.model.Restore(snap)
	}
	for _, kv := range tail {
		var frag model.ModelSnapshot
		if err := json.Unmarshal(kv.Value, &frag); err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping malformed delta-log entry", zap.String("key", kv.Key), zap.Error(err))
			}
			continue
		}
		p.model.Restore(frag)
	}
	return nil
}

// Start dials every configured remote peer, then launches the background
// workers (periodic flush, periodic snapshot, scheduler tick, controller
// pulls) until ctx is cancelled or Stop is called — one goroutine per
// concern, matching SPEC_FULL.md §5's "plain goroutines reading from
// buffered channels" concurrency model.
func (p *Peer) Start(ctx context.Context) {
	for _, ep := range p.cfg.Peers {
		p.connectRemote(ctx, ep)
	}

	p.wg.Add(1)
	go p.flushLoop(ctx)

	p.wg.Add(1)
	go p.snapshotLoop(ctx)

	p.wg.Add(1)
	go p.tickLoop(ctx)

	for _, a := range p.controller.Adapters() {
		p.wg.Add(1)
		go func(a controller.Adapter) {
			defer p.wg.Done()
			p.controller.RunPullLoop(ctx, a)
		}(a)
	}
}

func (p *Peer) connectRemote(ctx context.Context, ep config.PeerEndpoint) {
	rp := psync.NewPeer(ep.PeerID, ep.Address, nil, p.engine, p, p.logger, p.cfg.Inbound.RatePerSecond, p.cfg.Inbound.Burst)
	p.mu.Lock()
	p.remotes[ep.PeerID] = rp
	p.mu.Unlock()

	p.engine.PeerConnected(ep.PeerID, clock.Timestamp{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		rp.Run(ctx)
	}()
}

func (p *Peer) flushLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.cancelled:
			return
		case now := <-ticker.C:
			p.mu.RLock()
			remotes := make([]*psync.Peer, 0, len(p.remotes))
			ids := make([]string, 0, len(p.remotes))
			for id, rp := range p.remotes {
				ids = append(ids, id)
				remotes = append(remotes, rp)
			}
			p.mu.RUnlock()
			for i, id := range ids {
				if out, ok := p.engine.Flush(now, id); ok {
					remotes[i].Enqueue(out.Env)
				}
			}
		}
	}
}

func (p *Peer) snapshotLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.cancelled:
			return
		case now := <-ticker.C:
			if err := p.engine.MaybeSnapshot(ctx, now); err != nil && p.logger != nil {
				p.logger.Warn("snapshot save failed", zap.Error(err))
			}
		}
	}
}

func (p *Peer) tickLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.cancelled:
			return
		case now := <-ticker.C:
			nowMS := now.UnixMilli()
			scheduled, expired := p.scheduler.Tick(nowMS)
			if reverted := p.scheduler.Reconcile(); len(reverted) > 0 && p.logger != nil {
				p.logger.Info("reconciled conflicting placements", zap.Strings("claim_ids", reverted))
			}
			if (len(scheduled) > 0 || len(expired) > 0) && p.logger != nil {
				p.logger.Debug("scheduler tick", zap.Int("scheduled", len(scheduled)), zap.Int("expired", len(expired)))
			}
			p.engine.NotifyLocalMutation(len(scheduled) + len(expired))
		}
	}
}

// Stop signals every background worker to exit and waits for them, then
// closes the underlying sink if it supports it.
func (p *Peer) Stop(ctx context.Context) error {
	close(p.cancelled)
	p.mu.RLock()
	for _, rp := range p.remotes {
		rp.Stop()
	}
	p.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("fabric: shutdown timed out waiting for workers: %w", ctx.Err())
	}

	if closer, ok := p.sink.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
