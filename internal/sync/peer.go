package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Router delivers an envelope to a peer other than the one that received
// it — used for the DELTA anti-entropy fan-out HandleEnvelope requests,
// which a single Peer's own outbox cannot satisfy since it only talks to
// one remote. The owning Hub (internal/fabric) implements this by looking
// up the addressed Peer and calling Enqueue.
type Router interface {
	Route(peerID string, env Envelope)
}

// wireConn is the subset of *websocket.Conn a Peer depends on, kept narrow
// so tests can substitute an in-memory fake rather than opening a real
// socket — grounded on the teacher's Connection wrapping *websocket.Conn in
// connection.go, trimmed to what the read/write pumps actually call.
type wireConn interface {
	Read(ctx context.Context, v any) error
	Write(ctx context.Context, v any) error
	Close() error
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) Read(ctx context.Context, v any) error  { return wsjson.Read(ctx, w.c, v) }
func (w wsConn) Write(ctx context.Context, v any) error { return wsjson.Write(ctx, w.c, v) }
func (w wsConn) Close() error                           { return w.c.Close(websocket.StatusNormalClosure, "") }

// DialFunc opens a new transport connection to a peer's address — a seam
// for tests, and the thing Peer.Run retries with exponential backoff on
// disconnect.
type DialFunc func(ctx context.Context, addr string) (wireConn, error)

// DialWebsocket is the production DialFunc, grounded on the teacher's
// websocket dependency (coder/websocket).
func DialWebsocket(ctx context.Context, addr string) (wireConn, error) {
	c, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	return wsConn{c}, nil
}

// Peer owns one outbound connection to a remote peer, pumping envelopes in
// both directions and reconnecting with backoff on failure — grounded on
// the teacher's Connection readPump/writePump split in connection.go, with
// RateLimiter's token-bucket replaced by golang.org/x/time/rate (already
// used elsewhere in the teacher's stack for client-side throttling) and
// reconnect backoff added via cenkalti/backoff/v4 (also already a teacher
// dependency, used there for upstream retry).
type Peer struct {
	id      string
	addr    string
	dial    DialFunc
	engine  *Engine
	router  Router
	logger  *zap.Logger
	limiter *rate.Limiter

	outbox chan Envelope
	done   chan struct{}
}

// NewPeer creates a Peer that will dial addr and exchange envelopes through
// engine, routing any fan-out envelopes addressed to other peers through
// router. inboundRate/inboundBurst bound how fast a remote peer may push
// envelopes of any kind before they are dropped.
func NewPeer(id, addr string, dial DialFunc, engine *Engine, router Router, logger *zap.Logger, inboundRate float64, inboundBurst int) *Peer {
	if dial == nil {
		dial = DialWebsocket
	}
	return &Peer{
		id:      id,
		addr:    addr,
		dial:    dial,
		engine:  engine,
		router:  router,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		outbox:  make(chan Envelope, 256),
		done:    make(chan struct{}),
	}
}

// Enqueue schedules env to be sent on this peer's connection.
func (p *Peer) Enqueue(env Envelope) {
	select {
	case p.outbox <- env:
	case <-p.done:
	}
}

// Stop closes the peer's done channel, terminating its run loop and
// unblocking any pending Enqueue.
func (p *Peer) Stop() { close(p.done) }

// AcceptConn pumps envelopes over c, an already-established inbound
// connection accepted by internal/transport's websocket upgrade handler,
// instead of dialing out. Used when a remote peer connects to us rather
// than the reverse; blocks until the connection closes or ctx is done.
func (p *Peer) AcceptConn(ctx context.Context, c *websocket.Conn) {
	p.pump(ctx, wsConn{c})
}

// Run dials addr and pumps envelopes until ctx is cancelled or Stop is
// called, reconnecting with exponential backoff between attempts.
func (p *Peer) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
		}

		conn, err := p.dial(ctx, p.addr)
		if err != nil {
			wait := bo.NextBackOff()
			if p.logger != nil {
				p.logger.Warn("peer dial failed", zap.String("peer_id", p.id), zap.Error(err), zap.Duration("retry_in", wait))
			}
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			case <-p.done:
				return
			}
		}
		bo.Reset()
		p.pump(ctx, conn)
	}
}

func (p *Peer) pump(ctx context.Context, conn wireConn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	readErr := make(chan error, 1)
	go p.readPump(connCtx, conn, readErr)

	for {
		select {
		case env := <-p.outbox:
			if err := conn.Write(connCtx, env); err != nil {
				if p.logger != nil {
					p.logger.Warn("peer write failed", zap.String("peer_id", p.id), zap.Error(err))
				}
				return
			}
		case err := <-readErr:
			if err != nil && p.logger != nil {
				p.logger.Warn("peer read failed", zap.String("peer_id", p.id), zap.Error(err))
			}
			return
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Peer) readPump(ctx context.Context, conn wireConn, errc chan<- error) {
	for {
		var env Envelope
		if err := conn.Read(ctx, &env); err != nil {
			errc <- err
			return
		}
		if !p.limiter.Allow() {
			if p.logger != nil {
				p.logger.Warn("dropping envelope over inbound rate limit", zap.String("peer_id", p.id))
			}
			continue
		}

		out, err := p.engine.HandleEnvelope(env)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("rejected envelope", zap.String("peer_id", p.id), zap.Error(err))
			}
			continue
		}
		for _, ob := range out {
			if ob.To == p.id {
				p.Enqueue(ob.Env)
			} else if p.router != nil {
				p.router.Route(ob.To, ob.Env)
			}
		}
	}
}
