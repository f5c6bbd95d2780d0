package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/core/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Params().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.API.Port)
	require.Equal(t, "coordinator", cfg.Node.Address)
	require.True(t, cfg.Metrics.Enabled)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9999
  rate_limit: 5
policy:
  protocol_fee_bps: 500
  dispute_fallback: pay-worker
  tiers:
    - tier: 1
      min_locked: 2000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9999, cfg.API.Port)
	require.Equal(t, 5, cfg.API.RateLimit)
	// Untouched sections keep their defaults.
	require.Equal(t, "0.0.0.0", cfg.API.Host)
	require.Equal(t, 30*time.Minute, cfg.Policy.DisputeWindow)

	p := cfg.Params()
	require.Equal(t, uint32(500), p.ProtocolFeeBps)
	require.Equal(t, types.FallbackPayWorker, p.DisputeFallback)
	require.Len(t, p.TierThresholds, 1)
	require.True(t, p.TierThresholds[0].MinLocked.Equal(math.NewInt(2000)))
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := writeConfig(t, `
policy:
  slash_bps: 20000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRIDMESH_DB_HOST", "db.internal")
	t.Setenv("GRIDMESH_DB_PORT", "6432")
	t.Setenv("GRIDMESH_DB_USER", "gridmesh")
	t.Setenv("GRIDMESH_DB_PASSWORD", "hunter2")
	t.Setenv("GRIDMESH_DB_NAME", "coordinator")
	t.Setenv("GRIDMESH_JWT_SECRET", "sekrit")
	t.Setenv("GRIDMESH_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Archive.Host)
	require.Equal(t, 6432, cfg.Archive.Port)
	require.Equal(t, "gridmesh", cfg.Archive.User)
	require.Equal(t, "hunter2", cfg.Archive.Password)
	require.Equal(t, "coordinator", cfg.Archive.Database)
	require.Equal(t, "sekrit", cfg.API.JWTSecret)
	require.Equal(t, "debug", cfg.Node.LogLevel)
}

func TestArchiveValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Enabled = true
	require.Error(t, cfg.Validate(), "enabled archive needs host, user, database")

	cfg.Archive.Host = "localhost"
	cfg.Archive.User = "gridmesh"
	cfg.Archive.Database = "gridmesh"
	require.NoError(t, cfg.Validate())

	require.Equal(t,
		"host=localhost port=5432 user=gridmesh password= dbname=gridmesh sslmode=disable",
		cfg.Archive.ConnString())
}

func TestParamsRoundTrip(t *testing.T) {
	def := types.DefaultParams()
	got := DefaultConfig().Params()

	require.Equal(t, def.SlashBps, got.SlashBps)
	require.Equal(t, def.ProtocolFeeBps, got.ProtocolFeeBps)
	require.True(t, got.GraceFee.Equal(def.GraceFee))
	require.Equal(t, def.DisputeWindow, got.DisputeWindow)
	require.Equal(t, def.DisputeFallback, got.DisputeFallback)
	require.Equal(t, def.UnbondingPeriod, got.UnbondingPeriod)
	require.Equal(t, len(def.TierThresholds), len(got.TierThresholds))
	for i := range def.TierThresholds {
		require.Equal(t, def.TierThresholds[i].Tier, got.TierThresholds[i].Tier)
		require.True(t, got.TierThresholds[i].MinLocked.Equal(def.TierThresholds[i].MinLocked))
	}
	require.Equal(t, def.RetentionWindow, got.RetentionWindow)
}
