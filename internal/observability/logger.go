// Package observability implements the ambient logging (A1) and metrics
// (A2) stack every other package in this module writes through rather than
// the standard library's log package, per spec.md §7's "structured fields,
// matching counter incremented" design note.
package observability

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures the process logger — grounded on
// dropDatabas3-hellojohn's internal/observability/logger.Config.
type LogConfig struct {
	// Env selects the encoder: "dev" (colored console) or "prod" (JSON).
	// Default: "dev".
	Env string
	// Level is the minimum level logged: debug/info/warn/error. Default:
	// "info".
	Level string
	// PeerID and HostID are attached to every log line so multi-peer
	// deployments can be filtered by origin.
	PeerID string
	HostID string
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a *zap.Logger per cfg, falling back to zap's own
// production default if the configured encoder fails to build.
func NewLogger(cfg LogConfig) *zap.Logger {
	level := parseLevel(cfg.Level)

	var l *zap.Logger
	var err error
	if strings.ToLower(cfg.Env) == "prod" {
		l, err = buildProd(level)
	} else {
		l, err = buildDev(level)
	}
	if err != nil {
		l, _ = zap.NewProduction()
	}

	if cfg.PeerID != "" {
		l = l.With(zap.String("peer_id", cfg.PeerID))
	}
	if cfg.HostID != "" {
		l = l.With(zap.String("host_id", cfg.HostID))
	}
	return l
}

func buildDev(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.DisableStacktrace = true
	return zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
}

func buildProd(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

var (
	once     sync.Once
	instance *zap.Logger
)

// Init sets the process-wide logger singleton once; later calls are no-ops.
// cmd/peerd calls this once its configuration is loaded, before
// constructing internal/fabric.Peer.
func Init(cfg LogConfig) {
	once.Do(func() { instance = NewLogger(cfg) })
}

// L returns the process logger, building a default dev logger if Init was
// never called (e.g. in tests).
func L() *zap.Logger {
	if instance == nil {
		Init(LogConfig{Env: "dev", Level: "info"})
	}
	return instance
}

// PeerField, ClaimField, ResourceField, and AdapterField are the recurring
// structured fields this domain's components log, mirroring the teacher's
// logger/fields.go helpers for its own HTTP/session domain.
func PeerField(id string) zap.Field     { return zap.String("peer_id", id) }
func ClaimField(id string) zap.Field    { return zap.String("claim_id", id) }
func ResourceField(id string) zap.Field { return zap.String("resource_id", id) }
func AdapterField(id string) zap.Field  { return zap.String("adapter_id", id) }
