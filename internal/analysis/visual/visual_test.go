package visual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade/internal/analysis/signal"
	"autotrade/internal/market"
	"autotrade/internal/types"
)

func bars(n int) []market.Bar {
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	out := make([]market.Bar, n)
	for i := range out {
		c := 100 + float64(i)*0.5
		out[i] = market.Bar{Time: start.Add(time.Duration(i) * 15 * time.Minute), Open: c - 0.2, High: c + 1, Low: c - 1, Close: c, Volume: 1000 + float64(i)}
	}
	return out
}

func TestRenderHTML_Composite(t *testing.T) {
	chart, err := RenderHTML(ChartInput{Symbol: "aapl", Timeframe: "15Min", Bars: bars(60)})
	require.NoError(t, err)
	html := string(chart.HTML)
	assert.Contains(t, html, "AAPL 15Min")
	assert.Contains(t, html, "EMA12")
	assert.Contains(t, html, "EMA26")
	assert.Contains(t, html, "MACD Hist")
	assert.Contains(t, chart.Description, "AAPL 15Min bars=60")
}

func TestRenderHTML_SignalLevels(t *testing.T) {
	sig := &signal.Signal{Symbol: "AAPL", Side: types.SideBuy, Type: signal.TypeBreakout, Confidence: 80, Entry: 129.5, Stop: 125, Target: 138.5}
	chart, err := RenderHTML(ChartInput{Symbol: "AAPL", Timeframe: "1Hour", Bars: bars(60), Signal: sig})
	require.NoError(t, err)
	html := string(chart.HTML)
	assert.Contains(t, html, "Entry")
	assert.Contains(t, html, "Stop")
	assert.Contains(t, html, "Target")
	assert.Contains(t, chart.Description, "entry=129.50 stop=125.00 target=138.50")
}

func TestRenderHTML_ShortSeries(t *testing.T) {
	chart, err := RenderHTML(ChartInput{Symbol: "BTC/USD", Timeframe: "1Min", Bars: bars(5)})
	require.NoError(t, err)
	assert.NotEmpty(t, chart.HTML)

	_, err = RenderHTML(ChartInput{Symbol: "AAPL"})
	assert.ErrorIs(t, err, ErrNoBars)
	_, err = RenderHTML(ChartInput{Bars: bars(3)})
	assert.Error(t, err)
}

func TestToLineData_Warmup(t *testing.T) {
	data := toLineData([]float64{1, 2, 3, 4}, 5, 2)
	require.Len(t, data, 5)
	assert.Nil(t, data[0].Value)
	assert.Nil(t, data[1].Value)
	assert.Equal(t, 3.0, data[2].Value)
	assert.Nil(t, data[4].Value)
}
