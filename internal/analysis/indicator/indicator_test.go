package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade/internal/market"
)

func trendBars(n int, step float64) []market.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	price := 100.0
	for i := range bars {
		wiggle := math.Sin(float64(i)) * 0.5
		c := price + wiggle
		bars[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   c - step/2,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000 + float64(i%5)*10,
		}
		price += step
	}
	return bars
}

func TestCompute_NotEnoughBars(t *testing.T) {
	_, err := Compute(trendBars(10, 1), Settings{})
	assert.ErrorIs(t, err, ErrNotEnoughBars)
}

func TestCompute_Uptrend(t *testing.T) {
	bars := trendBars(120, 1)
	bars[len(bars)-1].Volume = 3000
	snap, err := Compute(bars, Settings{})
	require.NoError(t, err)

	assert.Greater(t, snap.EMAFast, snap.EMASlow)
	assert.Greater(t, snap.MACD, 0.0)
	assert.Greater(t, snap.RSI, 50.0)
	assert.Greater(t, snap.ATR, 0.0)
	assert.Greater(t, snap.VolumeRatio, 2.0)
	assert.Equal(t, bars[len(bars)-1].Close, snap.LastClose)
	assert.InDelta(t, 1.0, snap.VolatilityRatio, 0.5)
}

func TestCompute_Downtrend(t *testing.T) {
	snap, err := Compute(trendBars(120, -0.5), Settings{})
	require.NoError(t, err)
	assert.Less(t, snap.EMAFast, snap.EMASlow)
	assert.Less(t, snap.RSI, 50.0)
}

func TestRSIState(t *testing.T) {
	assert.Equal(t, "overbought", RSIState(75, 0, 0))
	assert.Equal(t, "oversold", RSIState(25, 0, 0))
	assert.Equal(t, "neutral", RSIState(0, 0, 0))
	assert.Equal(t, "neutral", RSIState(50, 30, 70))
}

func TestMinBars(t *testing.T) {
	assert.Equal(t, 35, Settings{}.MinBars())
	assert.Equal(t, 61, Settings{EMASlow: 60}.MinBars())
}
