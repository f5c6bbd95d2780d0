// Package config loads and validates the coordinator configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"cosmossdk.io/math"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/gridmesh/gridmesh/core/types"
)

// Config is the complete configuration for a coordinator node.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
	Archive ArchiveConfig `yaml:"archive"`
	Policy  PolicyConfig  `yaml:"policy"`
}

// NodeConfig identifies this coordinator on the transport layer.
type NodeConfig struct {
	Address  string `yaml:"address"`
	LogLevel string `yaml:"log_level"`
}

// APIConfig holds the HTTP API server configuration.
type APIConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	RateLimit   int           `yaml:"rate_limit"`
	CORSOrigins []string      `yaml:"cors_origins"`
	Timeout     time.Duration `yaml:"timeout"`
	JWTSecret   string        `yaml:"jwt_secret"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ArchiveConfig holds the PostgreSQL archive configuration. The archive is
// optional; with Enabled false, settled state lives only in memory until the
// retention window prunes it.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// TierConfig is one row of the stake tier table.
type TierConfig struct {
	Tier      int   `yaml:"tier"`
	MinLocked int64 `yaml:"min_locked"`
}

// PolicyConfig mirrors the runtime parameter set with file-friendly types.
// Amounts are plain integers here and converted on load.
type PolicyConfig struct {
	SlashBps        uint32        `yaml:"slash_bps"`
	ProtocolFeeBps  uint32        `yaml:"protocol_fee_bps"`
	GraceFee        int64         `yaml:"grace_fee"`
	DisputeWindow   time.Duration `yaml:"dispute_window"`
	DisputeFallback string        `yaml:"dispute_fallback"`
	ReputationStep  int           `yaml:"reputation_step"`

	UnbondingPeriod time.Duration `yaml:"unbonding_period"`
	Tiers           []TierConfig  `yaml:"tiers"`

	HeartbeatFreshness time.Duration `yaml:"heartbeat_freshness"`
	AbsenceWindow      time.Duration `yaml:"absence_window"`

	AssignmentTimeout time.Duration `yaml:"assignment_timeout"`
	MaxReassignments  int           `yaml:"max_reassignments"`
	MatchBackoffBase  time.Duration `yaml:"match_backoff_base"`
	MatchBackoffMax   time.Duration `yaml:"match_backoff_max"`

	RetentionWindow time.Duration `yaml:"retention_window"`
}

// DefaultConfig returns a configuration with every field at its default.
func DefaultConfig() *Config {
	p := types.DefaultParams()
	tiers := make([]TierConfig, len(p.TierThresholds))
	for i, t := range p.TierThresholds {
		tiers[i] = TierConfig{Tier: t.Tier, MinLocked: t.MinLocked.Int64()}
	}
	return &Config{
		Node: NodeConfig{
			Address:  "coordinator",
			LogLevel: "info",
		},
		API: APIConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			RateLimit: 100,
			Timeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Archive: ArchiveConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Policy: PolicyConfig{
			SlashBps:           p.SlashBps,
			ProtocolFeeBps:     p.ProtocolFeeBps,
			GraceFee:           p.GraceFee.Int64(),
			DisputeWindow:      p.DisputeWindow,
			DisputeFallback:    string(p.DisputeFallback),
			ReputationStep:     p.ReputationStep,
			UnbondingPeriod:    p.UnbondingPeriod,
			Tiers:              tiers,
			HeartbeatFreshness: p.HeartbeatFreshness,
			AbsenceWindow:      p.AbsenceWindow,
			AssignmentTimeout:  p.AssignmentTimeout,
			MaxReassignments:   p.MaxReassignments,
			MatchBackoffBase:   p.MatchBackoffBase,
			MatchBackoffMax:    p.MatchBackoffMax,
			RetentionWindow:    p.RetentionWindow,
		},
	}
}

// Load reads a YAML config file over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("GRIDMESH_DB_HOST"); host != "" {
		c.Archive.Host = host
	}
	if port := os.Getenv("GRIDMESH_DB_PORT"); port != "" {
		c.Archive.Port = cast.ToInt(port)
	}
	if user := os.Getenv("GRIDMESH_DB_USER"); user != "" {
		c.Archive.User = user
	}
	if pass := os.Getenv("GRIDMESH_DB_PASSWORD"); pass != "" {
		c.Archive.Password = pass
	}
	if name := os.Getenv("GRIDMESH_DB_NAME"); name != "" {
		c.Archive.Database = name
	}
	if secret := os.Getenv("GRIDMESH_JWT_SECRET"); secret != "" {
		c.API.JWTSecret = secret
	}
	if level := os.Getenv("GRIDMESH_LOG_LEVEL"); level != "" {
		c.Node.LogLevel = level
	}
}

// Validate checks the configuration, including the embedded policy set.
func (c *Config) Validate() error {
	if c.Node.Address == "" {
		return fmt.Errorf("node address is required")
	}
	if c.API.Port == 0 {
		return fmt.Errorf("API port is required")
	}
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = 100
	}
	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return fmt.Errorf("metrics port is required when metrics are enabled")
	}
	if c.Archive.Enabled {
		if c.Archive.Host == "" {
			return fmt.Errorf("archive host is required when the archive is enabled")
		}
		if c.Archive.User == "" {
			return fmt.Errorf("archive user is required when the archive is enabled")
		}
		if c.Archive.Database == "" {
			return fmt.Errorf("archive database is required when the archive is enabled")
		}
	}
	return c.Params().Validate()
}

// Params converts the file policy section into the runtime parameter set.
func (c *Config) Params() types.Params {
	tiers := make([]types.TierThreshold, len(c.Policy.Tiers))
	for i, t := range c.Policy.Tiers {
		tiers[i] = types.TierThreshold{Tier: t.Tier, MinLocked: math.NewInt(t.MinLocked)}
	}
	return types.Params{
		SlashBps:           c.Policy.SlashBps,
		ProtocolFeeBps:     c.Policy.ProtocolFeeBps,
		GraceFee:           math.NewInt(c.Policy.GraceFee),
		DisputeWindow:      c.Policy.DisputeWindow,
		DisputeFallback:    types.DisputeFallback(c.Policy.DisputeFallback),
		ReputationStep:     c.Policy.ReputationStep,
		UnbondingPeriod:    c.Policy.UnbondingPeriod,
		TierThresholds:     tiers,
		HeartbeatFreshness: c.Policy.HeartbeatFreshness,
		AbsenceWindow:      c.Policy.AbsenceWindow,
		AssignmentTimeout:  c.Policy.AssignmentTimeout,
		MaxReassignments:   c.Policy.MaxReassignments,
		MatchBackoffBase:   c.Policy.MatchBackoffBase,
		MatchBackoffMax:    c.Policy.MatchBackoffMax,
		RetentionWindow:    c.Policy.RetentionWindow,
	}
}

// ConnString returns the PostgreSQL connection string for the archive.
func (a ArchiveConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		a.Host, a.Port, a.User, a.Password, a.Database, a.SSLMode)
}
