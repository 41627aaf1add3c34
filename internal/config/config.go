// Package config loads the configuration surface spec.md §6 names — peer
// identity, peer topology, sync tunables, scheduler shares, and snapshot
// cadence — grounded on the teacher's own internal/config.Load: a viper
// instance seeded with defaults, then layered with a config file and
// FABRIC_-prefixed environment variables, unmarshaled into a typed struct.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PeerEndpoint is one entry in the `peers` list spec.md §6 names: another
// peer's stable id and the websocket address to dial it at.
type PeerEndpoint struct {
	PeerID  string `mapstructure:"peer_id"`
	Address string `mapstructure:"address"`
}

// Config is the complete process configuration, matching the component
// layout of SPEC_FULL.md §6.
type Config struct {
	PeerID     string         `mapstructure:"peer_id"`
	HostID     string         `mapstructure:"host_id"`
	PeerSecret string         `mapstructure:"peer_secret"`
	Peers      []PeerEndpoint `mapstructure:"peers"`
	PeerStrict bool           `mapstructure:"peer_strict"`

	ClockOffset time.Duration `mapstructure:"clock_offset"`
	SyncDelta   time.Duration `mapstructure:"sync_delta"`
	SyncMax     int           `mapstructure:"sync_max"`

	Shares map[string]int `mapstructure:"shares"`

	SnapshotIntervalOps     int           `mapstructure:"snapshot_interval_ops"`
	SnapshotIntervalSeconds time.Duration `mapstructure:"snapshot_interval_seconds"`

	GraceInterval  int           `mapstructure:"grace_interval"`
	CoolOffTimeout time.Duration `mapstructure:"cool_off_timeout"`

	Inbound InboundConfig `mapstructure:"inbound"`

	Observability ObservabilityConfig `mapstructure:"observability"`

	Store StoreConfig `mapstructure:"store"`

	HTTP HTTPConfig `mapstructure:"http"`
}

// HTTPConfig configures internal/transport's listener: the websocket
// upgrade endpoint remote peers dial into, plus the admin surface.
type HTTPConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// InboundConfig bounds how fast a remote peer may push sync messages before
// they are dropped — threaded into sync.NewPeer's rate limiter.
type InboundConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// ObservabilityConfig feeds internal/observability.LogConfig.
type ObservabilityConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

// StoreConfig names the opaque key-value sink's connection details — the
// sink implementation itself is an external collaborator per spec.md §1.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Load builds a Config from (in increasing precedence) built-in defaults, a
// config file, and FABRIC_-prefixed environment variables — grounded on the
// teacher's config.Load/setDefaults split, generalized from its MCP_ prefix
// and api/cache/database/engine/metrics sections to this module's own
// config surface.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile == "" {
		configFile = os.Getenv("FABRIC_CONFIG_FILE")
	}
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FABRIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("peer_strict", false)
	v.SetDefault("clock_offset", 5*time.Second)
	v.SetDefault("sync_delta", 180*time.Second)
	v.SetDefault("sync_max", 1000)
	v.SetDefault("snapshot_interval_ops", 0)
	v.SetDefault("snapshot_interval_seconds", 5*time.Minute)
	v.SetDefault("grace_interval", 3)
	v.SetDefault("cool_off_timeout", 5*time.Minute)

	v.SetDefault("inbound.rate_per_second", 50.0)
	v.SetDefault("inbound.burst", 100)

	v.SetDefault("observability.env", "dev")
	v.SetDefault("observability.level", "info")

	v.SetDefault("store.driver", "memory")

	v.SetDefault("http.listen_address", ":8090")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
}

// ShareFor returns the configured per-tenant share, falling back to
// spec.md §6's default of 1 when tenant has no explicit entry.
func (c *Config) ShareFor(tenant string) int {
	if c.Shares != nil {
		if s, ok := c.Shares[tenant]; ok {
			return s
		}
	}
	return 1
}
