package visual

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"autotrade/internal/analysis/indicator"
	"autotrade/internal/analysis/signal"
	"autotrade/internal/market"
)

var ErrNoBars = errors.New("no bars to chart")

// ChartInput 是一次行情图渲染的输入；Signal 非空时叠加入场/止损/目标价位。
type ChartInput struct {
	Symbol     string
	Timeframe  string
	Bars       []market.Bar
	Signal     *signal.Signal
	Indicators indicator.Settings
}

// Chart 是渲染结果，HTML 为自包含页面（echarts 脚本走 CDN）。
type Chart struct {
	HTML        []byte
	Description string
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEmaFast       = "#3b82f6"
	colorEmaSlow       = "#f472b6"
	colorEntry         = "#fbbf24"
	colorVolume        = "#a78bfa"
	colorDIF           = "#22d3ee"
	colorDEA           = "#fb7185"

	chartWidthPx   = 1280
	klineHeightPx  = 520
	volumeHeightPx = 200
	macdHeightPx   = 220
)

// RenderHTML 生成 K 线 + EMA + 成交量 + MACD 的组合页面。
func RenderHTML(in ChartInput) (Chart, error) {
	if len(in.Bars) == 0 {
		return Chart{}, ErrNoBars
	}
	sym := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if sym == "" {
		return Chart{}, errors.New("symbol is required")
	}
	settings := in.Indicators
	fast, slow := settings.EMAFast, settings.EMASlow
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}

	bars := in.Bars
	xAxis := buildXAxis(bars)
	closes := market.Closes(bars)

	minPrice, maxPrice := priceBounds(bars, in.Signal)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(0.01, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", sym, in.Timeframe),
			Subtitle:      subtitle(in.Signal),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries(sym, buildKlineSeries(bars))

	overlay := charts.NewLine()
	overlay.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	overlay.SetXAxis(xAxis)
	overlay.AddSeries(fmt.Sprintf("EMA%d", fast), toLineData(ema(closes, fast), len(bars), fast-1),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaFast, Width: 2}))
	overlay.AddSeries(fmt.Sprintf("EMA%d", slow), toLineData(ema(closes, slow), len(bars), slow-1),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaSlow, Width: 2}))
	if sig := in.Signal; sig != nil && sig.Side != "" {
		addLevel(overlay, "Entry", sig.Entry, len(bars), colorEntry)
		addLevel(overlay, "Stop", sig.Stop, len(bars), colorBear)
		addLevel(overlay, "Target", sig.Target, len(bars), colorBull)
	}
	kline.Overlap(overlay)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s", sym, in.Timeframe)
	page.AddCharts(kline, buildVolumeChart(xAxis, bars), buildMACDChart(xAxis, closes, settings))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return Chart{}, err
	}
	return Chart{HTML: buf.Bytes(), Description: describe(sym, in.Timeframe, bars, in.Signal)}, nil
}

func initOpts(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func subtitle(sig *signal.Signal) string {
	if sig == nil {
		return ""
	}
	snap := sig.Snapshot
	side := string(sig.Side)
	if side == "" {
		side = "flat"
	}
	return fmt.Sprintf("%s %s conf=%.0f | RSI %.1f | MACD hist %.4f | ATR %.4f",
		side, sig.Type, sig.Confidence, snap.RSI, snap.MACDHist, snap.ATR)
}

func describe(sym, timeframe string, bars []market.Bar, sig *signal.Signal) string {
	last := bars[len(bars)-1]
	desc := fmt.Sprintf("%s %s bars=%d last=%.4f @ %s", sym, timeframe, len(bars), last.Close, last.Time.UTC().Format(time.RFC3339))
	if sig != nil && sig.Side != "" {
		desc += fmt.Sprintf(" | %s entry=%.2f stop=%.2f target=%.2f", sig.Side, sig.Entry, sig.Stop, sig.Target)
	}
	return desc
}

func buildXAxis(bars []market.Bar) []string {
	x := make([]string, len(bars))
	for i, b := range bars {
		x[i] = b.Time.UTC().Format("01-02 15:04")
	}
	return x
}

func buildKlineSeries(bars []market.Bar) []opts.KlineData {
	data := make([]opts.KlineData, 0, len(bars))
	for _, b := range bars {
		data = append(data, opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}})
	}
	return data
}

// addLevel 以水平线形式画出一个价位。
func addLevel(line *charts.Line, name string, price float64, length int, color string) {
	if price <= 0 {
		return
	}
	data := make([]opts.LineData, length)
	for i := range data {
		data[i] = opts.LineData{Value: round(price, 4)}
	}
	line.AddSeries(name, data, charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 1, Type: "dashed"}))
}

func buildVolumeChart(xAxis []string, bars []market.Bar) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(volumeHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(bars))
	for i, b := range bars {
		color := colorBear
		if b.Close >= b.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value:     b.Volume,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorVolume}))
	return bar
}

func buildMACDChart(xAxis []string, closes []float64, s indicator.Settings) *charts.Bar {
	fast, slow, sig := s.MACDFast, s.MACDSlow, s.MACDSignal
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if sig <= 0 {
		sig = 9
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(macdHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("MACD %d/%d/%d", fast, slow, sig), Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	n := len(closes)
	histData := make([]opts.BarData, n)
	warmup := slow + sig - 2
	var dif, dea []float64
	if n > warmup {
		var hist []float64
		dif, dea, hist = talib.Macd(closes, fast, slow, sig)
		for i, v := range hist {
			if i < warmup || math.IsNaN(v) {
				histData[i] = opts.BarData{Value: nil}
				continue
			}
			color := colorBear
			if v >= 0 {
				color = colorBull
			}
			histData[i] = opts.BarData{Value: round(v, 4), ItemStyle: &opts.ItemStyle{Color: color}}
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("MACD Hist", histData)

	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries("DIF", toLineData(dif, n, warmup), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDIF, Width: 2}))
	line.AddSeries("DEA", toLineData(dea, n, warmup), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDEA, Width: 2}))
	bar.Overlap(line)
	return bar
}

func ema(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

// toLineData 把 talib 输出对齐到 K 线长度，warmup 之前的点留空。
func toLineData(series []float64, length, warmup int) []opts.LineData {
	out := make([]opts.LineData, length)
	for i := range out {
		if i < warmup || i >= len(series) || math.IsNaN(series[i]) {
			out[i] = opts.LineData{Value: nil}
			continue
		}
		out[i] = opts.LineData{Value: round(series[i], 4)}
	}
	return out
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(bars []market.Bar, sig *signal.Signal) (minVal, maxVal float64) {
	minVal, maxVal = bars[0].Low, bars[0].High
	for _, b := range bars {
		minVal = math.Min(minVal, b.Low)
		maxVal = math.Max(maxVal, b.High)
	}
	if sig != nil && sig.Side != "" {
		for _, p := range []float64{sig.Stop, sig.Target} {
			if p > 0 {
				minVal = math.Min(minVal, p)
				maxVal = math.Max(maxVal, p)
			}
		}
	}
	return minVal, maxVal
}
