// Package transport mounts the minimal HTTP surface the core needs: the
// websocket upgrade endpoint remote peers dial into, and a small admin
// surface (health, snapshot trigger) — grounded on the teacher's
// pkg/api/server.go Server{router, server *http.Server} shape and
// Start/Shutdown lifecycle, narrowed from gin to gorilla/mux directly since
// the full HTTP/API framework the teacher reaches for is out of scope here.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/horao-fabric/fabric/internal/fabric"
)

// Config holds the listen address and timeouts for the HTTP server,
// mirroring the teacher's api.Config fields this package actually uses.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// Server is the process's one HTTP listener, mounting the websocket
// upgrade endpoint plus the admin surface over the shared fabric.Peer.
type Server struct {
	peer   *fabric.Peer
	logger *zap.Logger
	router *mux.Router
	server *http.Server
}

// NewServer builds a Server that serves requests against peer. Call Start
// to begin listening.
func NewServer(peer *fabric.Peer, cfg Config, logger *zap.Logger) *Server {
	s := &Server{peer: peer, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start listens and serves until the server is shut down. It always
// returns a non-nil error, matching net/http.Server.ListenAndServe.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight requests
// (including open websocket upgrades) to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.peer.TriggerSnapshot(r.Context()); err != nil {
		if s.logger != nil {
			s.logger.Warn("admin-triggered snapshot failed", zap.Error(err))
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		http.Error(w, "missing peer_id query parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", zap.String("peer_id", peerID), zap.Error(err))
		}
		return
	}

	if s.logger != nil {
		s.logger.Info("accepted inbound peer connection", zap.String("peer_id", peerID))
	}
	s.peer.AcceptInbound(r.Context(), peerID, conn)
}
