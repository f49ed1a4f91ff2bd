package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade/internal/bot"
	brcfg "autotrade/internal/config"
	"autotrade/internal/gate"
	"autotrade/internal/scanner"
)

func testConfig(t *testing.T, extra string) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	sectors := filepath.Join(dir, "sectors.yaml")
	require.NoError(t, os.WriteFile(sectors, []byte(`
sectors:
  tech: [AAPL, MSFT]
  crypto: [BTC/USD]
correlations:
  - {a: tech, b: crypto, value: 0.3}
`), 0o644))
	body := `
app:
  http_addr: "127.0.0.1:0"
broker:
  api_key: k
  api_secret: s
market:
  crypto: none
scanner:
  high: [AAPL]
  standard: [MSFT, BTC/USD]
  low: [aapl]
risk:
  sectors_path: ` + sectors + `
  watch_sectors: false
store:
  path: ` + filepath.Join(dir, "db", "autotrade.db") + `
  journal_path: ` + filepath.Join(dir, "db", "journal.db") + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := brcfg.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuild_WiresComponents(t *testing.T) {
	cfg := testConfig(t, "")
	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.stores.Close() })

	require.NotNil(t, a.Controller())
	assert.Equal(t, bot.StateStopped, a.Controller().State())
	require.NotNil(t, a.stores)
	require.NotNil(t, a.liveHTTP)
	assert.Equal(t, "127.0.0.1:0", a.liveHTTP.Addr())

	st := a.Controller().Status()
	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "BTC/USD"}, st.ActiveSymbols)
	assert.Equal(t, scanner.TierHigh, st.Tiers["AAPL"])
	assert.Equal(t, scanner.TierStandard, st.Tiers["BTC/USD"])

	var buf bytes.Buffer
	a.Summary.Render(&buf)
	assert.Contains(t, buf.String(), "rule_based")
	assert.Contains(t, buf.String(), "AAPL")
}

func TestBuild_StoreDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Store.Enabled = false
	cfg.App.HTTPAddr = ""
	a, err := NewAppBuilder(cfg).Build(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a.stores)
	assert.Nil(t, a.liveHTTP)
	assert.NoError(t, a.stores.Close())
}

func TestBuild_PropagatesBuilderErrors(t *testing.T) {
	cfg := testConfig(t, "")
	_, err := NewAppBuilder(cfg, func(b *AppBuilder) {
		b.evaluatorFn = func(brcfg.GateConfig, brcfg.AdvisoryConfig) (gate.Evaluator, error) {
			return nil, assert.AnError
		}
		b.storesFn = func(brcfg.StoreConfig) (*storeSet, error) { return nil, nil }
	}).Build(context.Background())
	assert.ErrorIs(t, err, assert.AnError)

	_, err = NewAppBuilder(nil).Build(context.Background())
	assert.Error(t, err)
}

func TestBuildEvaluator(t *testing.T) {
	cfg := testConfig(t, "")
	ev, err := buildEvaluator(cfg.Gate, cfg.Advisory)
	require.NoError(t, err)
	assert.Equal(t, "rule_based", ev.Name())

	gc := cfg.Gate
	gc.Evaluator = "advisory"
	_, err = buildEvaluator(gc, brcfg.AdvisoryConfig{})
	assert.Error(t, err)

	ev, err = buildEvaluator(gc, brcfg.AdvisoryConfig{
		Enabled: true, APIURL: "http://127.0.0.1:1/v1", APIKey: "x", Model: "deepseek-chat",
		BreakerThreshold: 3, BreakerCooldown: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "delegated", ev.Name())
}

func TestRegisterWatchlist_HigherTierWins(t *testing.T) {
	sc := scanner.New(scanner.Config{})
	registerWatchlist(sc, brcfg.ScannerConfig{High: []string{"AAPL"}, Low: []string{"AAPL", "XOM"}})
	p, ok := sc.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, scanner.TierHigh, p.Tier)
	p, ok = sc.Get("XOM")
	require.True(t, ok)
	assert.Equal(t, scanner.TierLow, p.Tier)
}
