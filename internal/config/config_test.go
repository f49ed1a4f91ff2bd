package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const baseYAML = `
broker:
  api_key: ${TEST_APCA_KEY}
  api_secret: secret
scanner:
  high: [AAPL]
  standard: [MSFT, aapl, BTC/USD]
`

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("TEST_APCA_KEY", "key-from-env")
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "config.yaml", baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "key-from-env", cfg.Broker.APIKey)
	assert.Equal(t, "alpaca", cfg.Broker.Name)
	assert.Equal(t, []string{"AAPL", "MSFT", "BTC/USD"}, cfg.Scanner.Watchlist())
	assert.Equal(t, 3*time.Second, cfg.Scanner.HighInterval)
	assert.Equal(t, 180*time.Second, cfg.Scanner.LowInterval)
	assert.Equal(t, 85.0, cfg.Gate.AutoApprove)
	assert.Equal(t, 40.0, cfg.Gate.AutoReject)
	assert.Equal(t, "rule", cfg.Gate.Evaluator)
	assert.False(t, cfg.Gate.CacheEnabled)
	assert.Equal(t, 0.02, cfg.Sizing.RiskPerTradePct)
	assert.Equal(t, 0.10, cfg.Risk.TripDrawdown)
	assert.True(t, cfg.Risk.WatchSectors)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, "wait", cfg.Monitor.PartialFillAction)
	assert.Equal(t, "15Min", cfg.Bot.Timeframe)
	assert.Equal(t, "binance", cfg.Market.Crypto)
}

func TestLoad_IncludeOverridesAndExplicitFalse(t *testing.T) {
	t.Setenv("TEST_APCA_KEY", "k")
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", baseYAML)
	path := writeFile(t, dir, "config.yaml", `
include: [base.yaml]
bot:
  cycle_interval: 30s
  bracket: true
risk:
  watch_sectors: false
store:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Bot.CycleInterval)
	assert.True(t, cfg.Bot.Bracket)
	assert.False(t, cfg.Risk.WatchSectors)
	assert.False(t, cfg.Store.Enabled)
	assert.Equal(t, "secret", cfg.Broker.APISecret)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoad_ValidationFailures(t *testing.T) {
	t.Setenv("TEST_APCA_KEY", "k")
	cases := map[string]string{
		"reset above trip":    "risk:\n  trip_drawdown: 0.1\n  reset_drawdown: 0.2\n",
		"reject above accept": "gate:\n  auto_approve: 50\n  auto_reject: 60\n",
		"pct out of range":    "sizing:\n  max_position_pct: 1.5\n",
		"advisory no model":   "advisory:\n  enabled: true\n",
		"telegram no token":   "notify:\n  telegram:\n    enabled: true\n",
		"bad partial action":  "monitor:\n  partial_fill_action: explode\n",
		"bad timeframe":       "bot:\n  timeframe: 15x\n",
		"evaluator disabled":  "gate:\n  evaluator: advisory\n",
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, t.TempDir(), "config.yaml", baseYAML+extra))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	_, err := Load(writeFile(t, t.TempDir(), "config.yaml", "scanner:\n  high: [AAPL]\n"))
	assert.ErrorContains(t, err, "api_key")
}

func TestLoad_SectorsPathRelativeToConfig(t *testing.T) {
	t.Setenv("TEST_APCA_KEY", "k")
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "config.yaml", baseYAML))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sectors.yaml"), cfg.Risk.SectorsPath)

	cfg, err = Load(writeFile(t, dir, "nested.yaml", baseYAML+"risk:\n  sectors_path: data/sectors.yaml\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "sectors.yaml"), cfg.Risk.SectorsPath)

	cfg, err = Load(writeFile(t, dir, "abs.yaml", baseYAML+"risk:\n  sectors_path: /srv/sectors.yaml\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/sectors.yaml", cfg.Risk.SectorsPath)
}

func TestLoad_EmptyPathUsesEnv(t *testing.T) {
	t.Setenv("TEST_APCA_KEY", "k")
	dir := t.TempDir()
	t.Setenv(EnvConfigPath, writeFile(t, dir, "env.yaml", baseYAML))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sectors.yaml"), cfg.Risk.SectorsPath)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	t.Setenv(EnvConfigPath, "/etc/autotrade.yaml")
	assert.Equal(t, "/etc/autotrade.yaml", ResolvePath(""))
	assert.Equal(t, "x.yaml", ResolvePath("x.yaml"))
}

func TestIsValidTimeframe(t *testing.T) {
	for _, tf := range []string{"1Min", "15Min", "1Hour", "1Day", "1Week"} {
		assert.True(t, IsValidTimeframe(tf), tf)
	}
	for _, tf := range []string{"", "15", "Min", "0Min", "15m"} {
		assert.False(t, IsValidTimeframe(tf), tf)
	}
}
