package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
arbitrage:
  min_profit_percentage: 1.5
  max_position_size_usd: 50
  scan_interval_ms: 500
risk:
  max_daily_loss_usd: 200
  cooldown_after_loss_minutes: 30
api:
  clob_base: "http://localhost:8080"
storage:
  dsn: ":memory:"
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1.5, cfg.Arbitrage.MinProfitPercentage)
	assert.Equal(t, 50.0, cfg.Arbitrage.MaxPositionSizeUSD)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanInterval())
	assert.Equal(t, 200.0, cfg.Risk.MaxDailyLossUSD)
	assert.Equal(t, 30*time.Minute, cfg.CooldownAfterLoss())
	assert.Equal(t, "http://localhost:8080", cfg.API.CLOBBase)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Arbitrage.MinProfitPercentage)
	assert.Equal(t, 100.0, cfg.Arbitrage.MaxPositionSizeUSD)
	assert.Equal(t, 3, cfg.Arbitrage.MaxConcurrentTrades)
	assert.Equal(t, time.Second, cfg.ScanInterval())
	assert.Equal(t, 100.0, cfg.Risk.MaxDailyLossUSD)
	assert.Equal(t, 10*time.Minute, cfg.CooldownAfterLoss())
	assert.Equal(t, "https://clob.polymarket.com", cfg.API.CLOBBase)
	assert.Equal(t, "https://gamma-api.polymarket.com", cfg.API.GammaBase)
	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("POLYGON_RPC_URL", "https://rpc.example.com")
	t.Setenv("POLYGON_PRIVATE_KEY", "deadbeef")

	cfg, err := Load(writeConfig(t, `
log:
  level: info
`))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "https://rpc.example.com", cfg.Chain.RPCURL)
	assert.Equal(t, "deadbeef", cfg.Chain.PrivateKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "arbitrage: [not a map"))
	assert.Error(t, err)
}

func TestPrivateKeyNeverFromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
chain:
  private_key: "should-be-ignored"
  rpc_url: "https://rpc.example.com"
`))
	require.NoError(t, err)

	assert.Empty(t, cfg.Chain.PrivateKey)
	assert.Equal(t, "https://rpc.example.com", cfg.Chain.RPCURL)
}
