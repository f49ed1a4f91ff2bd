package pattern

import (
	"math"

	"autotrade/internal/market"
)

const (
	DoubleBottom          = "double_bottom"
	DoubleTop             = "double_top"
	SymmetricalTriangle   = "symmetrical_triangle"
	VolatilityCompression = "volatility_compression"
	Breakout              = "breakout"
	Breakdown             = "breakdown"
)

// Bias 表示形态的方向倾向：+1 看多，-1 看空，0 中性。
type Bias int

const (
	Bearish Bias = -1
	Neutral Bias = 0
	Bullish Bias = 1
)

func (b Bias) String() string {
	switch b {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "neutral"
	}
}

var biases = map[string]Bias{
	DoubleBottom: Bullish,
	Breakout:     Bullish,
	DoubleTop:    Bearish,
	Breakdown:    Bearish,
}

// BiasOf 返回形态名对应的方向，未知形态为中性。
func BiasOf(name string) Bias {
	return biases[name]
}

const breakoutLookback = 20

// Detect 在 K 线序列上识别形态，返回形态名（顺序固定）。
func Detect(bars []market.Bar) []string {
	if len(bars) == 0 {
		return nil
	}
	_, highs, lows, closes, _ := market.Columns(bars)
	var out []string
	if detectDoubleBottom(lows) {
		out = append(out, DoubleBottom)
	}
	if detectDoubleTop(highs) {
		out = append(out, DoubleTop)
	}
	if detectTriangle(highs, lows) {
		out = append(out, SymmetricalTriangle)
	}
	if detectCompression(highs, lows) {
		out = append(out, VolatilityCompression)
	}
	switch detectBreak(highs, lows, closes) {
	case Bullish:
		out = append(out, Breakout)
	case Bearish:
		out = append(out, Breakdown)
	}
	return out
}

// Trend 用线性回归斜率（相对均价）判断趋势方向。
func Trend(bars []market.Bar) Bias {
	if len(bars) < 2 {
		return Neutral
	}
	closes := market.Closes(bars)
	slope, _ := fitLine(closes)
	mean := 0.0
	for _, c := range closes {
		mean += c
	}
	mean /= float64(len(closes))
	if mean <= 0 {
		return Neutral
	}
	rel := slope / mean
	switch {
	case rel > 0.0001:
		return Bullish
	case rel < -0.0001:
		return Bearish
	default:
		return Neutral
	}
}

func fitLine(series []float64) (slope, intercept float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(series))
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, series[len(series)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return
}

func detectDoubleBottom(lows []float64) bool {
	if len(lows) < 20 {
		return false
	}
	window := lows[len(lows)/2:]
	min1, idx1 := minWithIndex(window)
	masked := append([]float64{}, window...)
	for i := idx1 - 2; i <= idx1+2; i++ {
		if i >= 0 && i < len(masked) {
			masked[i] = math.MaxFloat64
		}
	}
	min2, idx2 := minWithIndex(masked)
	if idx2 < 0 {
		return false
	}
	diff := math.Abs(min1-min2) / math.Max(min1, 1)
	return diff <= 0.004 && absInt(idx2-idx1) >= 3
}

func detectDoubleTop(highs []float64) bool {
	if len(highs) < 20 {
		return false
	}
	window := highs[len(highs)/2:]
	max1, idx1 := maxWithIndex(window)
	masked := append([]float64{}, window...)
	for i := idx1 - 2; i <= idx1+2; i++ {
		if i >= 0 && i < len(masked) {
			masked[i] = -math.MaxFloat64
		}
	}
	max2, idx2 := maxWithIndex(masked)
	if idx2 < 0 {
		return false
	}
	diff := math.Abs(max1-max2) / math.Max(max1, 1)
	return diff <= 0.004 && absInt(idx2-idx1) >= 3
}

func detectTriangle(highs, lows []float64) bool {
	if len(highs) < 30 {
		return false
	}
	half := len(highs) / 2
	firstHigh, lastHigh := maxOf(highs[:half]), maxOf(highs[half:])
	firstLow, lastLow := minOf(lows[:half]), minOf(lows[half:])
	if lastHigh < firstHigh && lastLow > firstLow {
		widthDelta := (firstHigh - firstLow) - (lastHigh - lastLow)
		return widthDelta/firstHigh > 0.05
	}
	return false
}

func detectCompression(highs, lows []float64) bool {
	if len(highs) < 40 {
		return false
	}
	half := len(highs) / 2
	first := (maxOf(highs[:half]) - minOf(lows[:half])) / maxOf(highs[:half])
	second := (maxOf(highs[half:]) - minOf(lows[half:])) / maxOf(highs[half:])
	return second < first*0.65
}

// detectBreak 比较最后收盘价与之前 breakoutLookback 根 K 线的高低点。
func detectBreak(highs, lows, closes []float64) Bias {
	n := len(closes)
	if n < breakoutLookback+1 {
		return Neutral
	}
	last := closes[n-1]
	prevHigh := maxOf(highs[n-1-breakoutLookback : n-1])
	prevLow := minOf(lows[n-1-breakoutLookback : n-1])
	switch {
	case last > prevHigh:
		return Bullish
	case last < prevLow:
		return Bearish
	default:
		return Neutral
	}
}

func minOf(values []float64) float64 {
	m, _ := minWithIndex(values)
	return m
}

func maxOf(values []float64) float64 {
	m, _ := maxWithIndex(values)
	return m
}

func minWithIndex(values []float64) (float64, int) {
	m := math.MaxFloat64
	idx := -1
	for i, v := range values {
		if v < m {
			m = v
			idx = i
		}
	}
	return m, idx
}

func maxWithIndex(values []float64) (float64, int) {
	m := -math.MaxFloat64
	idx := -1
	for i, v := range values {
		if v > m {
			m = v
			idx = i
		}
	}
	return m, idx
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
