// Command peerd is the process entrypoint: it loads configuration, wires
// every component through internal/fabric.New, replays the last snapshot,
// starts the background workers, and blocks until SIGINT/SIGTERM triggers a
// graceful shutdown — grounded on the teacher's own cmd/server/main.go
// sequence (load config, build storage, build the engine on top of it,
// start in a goroutine, wait on a signal channel, shut down with a bounded
// context).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/horao-fabric/fabric/internal/config"
	fabricerrors "github.com/horao-fabric/fabric/internal/errors"
	"github.com/horao-fabric/fabric/internal/fabric"
	"github.com/horao-fabric/fabric/internal/observability"
	"github.com/horao-fabric/fabric/internal/store"
	"github.com/horao-fabric/fabric/internal/transport"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file (optional; falls back to FABRIC_CONFIG_FILE or configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.PeerID == "" {
		log.Fatalf("peer_id is required")
	}

	observability.Init(observability.LogConfig{Env: cfg.Observability.Env, Level: cfg.Observability.Level})
	logger := observability.L().With(observability.PeerField(cfg.PeerID))
	metrics := observability.NewMetrics(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := newSink(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}

	p := fabric.New(cfg, sink, logger, metrics)

	if err := p.Restore(ctx); err != nil {
		logger.Fatal("failed to restore from snapshot", zap.Error(err))
	}

	logger.Info("starting peer", zap.String("host_id", cfg.HostID), zap.Int("known_peers", len(cfg.Peers)))
	p.Start(ctx)

	httpServer := transport.NewServer(p, transport.Config{
		ListenAddress: cfg.HTTP.ListenAddress,
		ReadTimeout:   cfg.HTTP.ReadTimeout,
		WriteTimeout:  cfg.HTTP.WriteTimeout,
		IdleTimeout:   cfg.HTTP.IdleTimeout,
	}, logger)
	go func() {
		logger.Info("starting HTTP listener", zap.String("address", cfg.HTTP.ListenAddress))
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
		return
	}
	logger.Info("peer stopped gracefully")
}

func newSink(ctx context.Context, cfg config.StoreConfig) (store.Sink, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemorySink(), nil
	case "redis":
		return store.NewRedisSink(ctx, store.RedisConfig{Address: cfg.DSN})
	default:
		return nil, fabricerrors.Validation("unknown store driver: " + cfg.Driver)
	}
}
