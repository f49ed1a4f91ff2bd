package risk

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade/internal/types"
)

func TestGovernor_DrawdownHysteresis(t *testing.T) {
	g := NewGovernor(Config{TripDrawdown: 0.10, ResetDrawdown: 0.05}, nil)
	var flips []bool
	g.OnCircuitChange(func(tripped bool, _ RiskState) { flips = append(flips, tripped) })

	st := g.RecordEquitySnapshot(100000)
	assert.False(t, st.CircuitBroken)
	st = g.RecordEquitySnapshot(95000)
	assert.False(t, st.CircuitBroken)
	assert.InDelta(t, 0.05, st.Drawdown, 1e-12)

	st = g.RecordEquitySnapshot(90000)
	assert.True(t, st.CircuitBroken)
	assert.InDelta(t, 0.10, st.Drawdown, 1e-12)

	st = g.RecordEquitySnapshot(85000)
	assert.True(t, st.CircuitBroken)
	assert.Equal(t, 100000.0, st.PeakEquity)

	st = g.RecordEquitySnapshot(95000)
	assert.True(t, st.CircuitBroken, "equal to reset threshold must not reset")

	st = g.RecordEquitySnapshot(96000)
	assert.False(t, st.CircuitBroken)
	assert.False(t, g.IsCircuitBroken())
	assert.Equal(t, []bool{true, false}, flips)
}

func TestGovernor_ResetThresholdMustBeLower(t *testing.T) {
	g := NewGovernor(Config{TripDrawdown: 0.10, ResetDrawdown: 0.10}, nil)
	assert.InDelta(t, 0.05, g.Config().ResetDrawdown, 1e-12)
}

func TestDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, Drawdown(0, 100))
	assert.Equal(t, 0.0, Drawdown(100, 120))
	assert.InDelta(t, 0.25, Drawdown(100, 75), 1e-12)
	assert.InDelta(t, 1.5, Drawdown(100, -50), 1e-12)
}

func series(n int, fn func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = fn(i)
	}
	return out
}

func TestGovernor_CorrelationSources(t *testing.T) {
	table, err := NewSectorTable(SectorFile{
		Sectors: map[string][]string{
			"technology":    {"AAPL", "MSFT", "ORCL"},
			"semiconductor": {"NVDA", "AMD"},
			"energy":        {"XOM"},
		},
		Correlations: []SectorPair{{A: "Technology", B: "semiconductor", Value: 0.8}},
	})
	require.NoError(t, err)
	g := NewGovernor(Config{}, table)

	wave := func(i int) float64 { return 100 + 5*math.Sin(float64(i)/2) + float64(i%3) }
	g.ObservePrices("AAPL", series(30, wave))
	g.ObservePrices("MSFT", series(30, func(i int) float64 { return 2 * wave(i) }))

	v, src := g.Correlation("AAPL", "MSFT")
	assert.Equal(t, SourceReturns, src)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, src = g.Correlation("AAPL", "NVDA")
	assert.Equal(t, SourceSectorTable, src)
	assert.Equal(t, 0.8, v)

	v, src = g.Correlation("AAPL", "ORCL")
	assert.Equal(t, SourceSectorEstimate, src)
	assert.Equal(t, 0.75, v)

	v, src = g.Correlation("XOM", "AMD")
	assert.Equal(t, SourceSectorEstimate, src)
	assert.Equal(t, 0.25, v)

	v, src = g.Correlation("XOM", "ZZZZ")
	assert.Equal(t, SourceNone, src)
	assert.Equal(t, 0.0, v)

	v, _ = g.Correlation("BTC/USD", "ETH/USD")
	assert.Equal(t, 0.75, v)
}

func TestGovernor_CorrelationCacheTTL(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	table, _ := NewSectorTable(SectorFile{Sectors: map[string][]string{"tech": {"AAPL", "MSFT"}}})
	g := NewGovernor(Config{CorrelationTTL: time.Minute}, table)
	g.SetClock(func() time.Time { return now })

	v, _ := g.Correlation("AAPL", "MSFT")
	assert.Equal(t, 0.75, v)
	assert.Equal(t, 1, g.State().CachedPairs)

	g.ObservePrices("AAPL", series(20, func(i int) float64 { return 100 + float64(i%4) }))
	assert.Equal(t, 0, g.State().CachedPairs)

	now = now.Add(2 * time.Minute)
	v, src := g.Correlation("MSFT", "AAPL")
	assert.Equal(t, SourceSectorEstimate, src)
	assert.Equal(t, 0.75, v)
}

func TestGovernor_CanAddPosition(t *testing.T) {
	table, _ := NewSectorTable(SectorFile{Sectors: map[string][]string{
		"tech":   {"AAPL", "MSFT", "GOOGL", "META", "NVDA"},
		"energy": {"XOM"},
	}})
	g := NewGovernor(Config{}, table)
	held := []types.PositionSnapshot{
		{Symbol: "AAPL", Quantity: 10, MarketValue: 1800},
		{Symbol: "MSFT", Quantity: 5, MarketValue: 2000},
		{Symbol: "XOM", Quantity: 20, MarketValue: 2200},
	}

	d := g.CanAddPosition("NVDA", held)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"AAPL", "MSFT"}, d.Conflicting)

	held = append(held, types.PositionSnapshot{Symbol: "GOOGL", Quantity: 3, MarketValue: 500})
	d = g.CanAddPosition("NVDA", held)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT"}, d.Conflicting)
	assert.Contains(t, d.Reason, "3 holdings")

	d = g.CanAddPosition("XOM", held)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Conflicting)
}

func TestGovernor_ReportAndExposure(t *testing.T) {
	table, _ := NewSectorTable(SectorFile{Sectors: map[string][]string{"tech": {"AAPL", "MSFT"}}})
	g := NewGovernor(Config{}, table)
	positions := []types.PositionSnapshot{
		{Symbol: "AAPL", Quantity: 10, MarketValue: 20000},
		{Symbol: "MSFT", Quantity: 10, MarketValue: 10000},
		{Symbol: "BTC/USD", Quantity: 0.1, CurrentPrice: 50000},
		{Symbol: "FOO", Quantity: 1, MarketValue: 5000},
	}
	rep := g.PortfolioCorrelationReport(positions, 100000)
	assert.Len(t, rep.Pairs, 6)
	require.Len(t, rep.HighlyCorrelated, 1)
	assert.Equal(t, "AAPL", rep.HighlyCorrelated[0].A)
	assert.Equal(t, "MSFT", rep.HighlyCorrelated[0].B)
	assert.InDelta(t, 0.30, rep.SectorExposure["tech"], 1e-9)
	assert.InDelta(t, 0.05, rep.SectorExposure["crypto"], 1e-9)
	assert.InDelta(t, 0.05, rep.SectorExposure[unknownSector], 1e-9)

	g.UpdateExposure(positions, 100000)
	assert.InDelta(t, 0.30, g.State().SectorExposure["tech"], 1e-9)
}

func TestSectorTable_Validation(t *testing.T) {
	_, err := NewSectorTable(SectorFile{Sectors: map[string][]string{"a": {"X"}, "b": {"x"}}})
	assert.Error(t, err)
	_, err = NewSectorTable(SectorFile{Correlations: []SectorPair{{A: "a", B: "b", Value: 1.5}}})
	assert.Error(t, err)
}

func TestSectorRegistry_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sectors:
  technology: [aapl, msft]
  crypto: [BTC/USD]
correlations:
  - {a: technology, b: crypto, value: 0.4}
`), 0o644))

	reg, err := NewSectorRegistry(path, false)
	require.NoError(t, err)
	s, ok := reg.SectorOf("AAPL")
	assert.True(t, ok)
	assert.Equal(t, "technology", s)
	v, ok := reg.SectorCorrelation("crypto", "technology")
	assert.True(t, ok)
	assert.Equal(t, 0.4, v)
	assert.Equal(t, int64(1), reg.Table().Version)

	require.NoError(t, os.WriteFile(path, []byte("sectors: {}\nunknown_key: 1\n"), 0o644))
	assert.Error(t, reg.reload())
	assert.Equal(t, int64(1), reg.Table().Version)
}

const reloadSectorsV1 = `
sectors:
  technology: [AAPL, MSFT]
  semiconductor: [NVDA]
correlations:
  - {a: technology, b: semiconductor, value: 0.8}
`

const reloadSectorsV2 = `
sectors:
  technology: [AAPL, MSFT]
  semiconductor: [NVDA]
correlations:
  - {a: technology, b: semiconductor, value: 0.3}
`

func TestSectorRegistry_ReloadResetsCorrelationCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadSectorsV1), 0o644))
	reg, err := NewSectorRegistry(path, false)
	require.NoError(t, err)
	g := NewGovernor(Config{CorrelationTTL: time.Hour}, reg)
	reg.OnReload(func(*SectorTable) { g.ResetCorrelationCache() })

	v, src := g.Correlation("AAPL", "NVDA")
	assert.Equal(t, SourceSectorTable, src)
	assert.Equal(t, 0.8, v)

	require.NoError(t, os.WriteFile(path, []byte(reloadSectorsV2), 0o644))
	require.NoError(t, reg.reload())
	v, _ = g.Correlation("AAPL", "NVDA")
	assert.Equal(t, 0.8, v, "cached until listeners run")

	reg.notify()
	assert.Equal(t, 0, g.State().CachedPairs)
	v, src = g.Correlation("AAPL", "NVDA")
	assert.Equal(t, SourceSectorTable, src)
	assert.Equal(t, 0.3, v)
	assert.Equal(t, int64(2), reg.Table().Version)
}

func TestSectorRegistry_WatchReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadSectorsV1), 0o644))
	reg, err := NewSectorRegistry(path, true)
	require.NoError(t, err)
	g := NewGovernor(Config{CorrelationTTL: time.Hour}, reg)
	reloaded := make(chan int64, 4)
	reg.OnReload(func(t *SectorTable) {
		g.ResetCorrelationCache()
		reloaded <- t.Version
	})
	v, _ := g.Correlation("AAPL", "NVDA")
	require.Equal(t, 0.8, v)

	require.NoError(t, os.WriteFile(path, []byte(reloadSectorsV2), 0o644))
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("sector file change not observed")
	}
	assert.Eventually(t, func() bool {
		v, _ := g.Correlation("AAPL", "NVDA")
		return v == 0.3
	}, 2*time.Second, 20*time.Millisecond)
}
