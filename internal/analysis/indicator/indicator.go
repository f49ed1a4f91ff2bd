package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"autotrade/internal/market"
	"autotrade/internal/types"
)

var ErrNotEnoughBars = errors.New("not enough bars")

// Settings 描述计算指标所需的参数，零值使用默认。
type Settings struct {
	RSIPeriod          int `json:"rsi_period,omitempty"`
	EMAFast            int `json:"ema_fast,omitempty"`
	EMASlow            int `json:"ema_slow,omitempty"`
	MACDFast           int `json:"macd_fast,omitempty"`
	MACDSlow           int `json:"macd_slow,omitempty"`
	MACDSignal         int `json:"macd_signal,omitempty"`
	ATRPeriod          int `json:"atr_period,omitempty"`
	VolumePeriod       int `json:"volume_period,omitempty"`
	VolatilityLookback int `json:"volatility_lookback,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.EMAFast <= 0 {
		s.EMAFast = 12
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 26
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.VolumePeriod <= 0 {
		s.VolumePeriod = 20
	}
	if s.VolatilityLookback <= 0 {
		s.VolatilityLookback = 50
	}
	return s
}

// MinBars 返回计算全部指标所需的最少 K 线数。
func (s Settings) MinBars() int {
	s = s.withDefaults()
	n := s.MACDSlow + s.MACDSignal
	for _, p := range []int{s.EMASlow + 1, s.RSIPeriod + 1, s.ATRPeriod + 1, s.VolumePeriod} {
		if p > n {
			n = p
		}
	}
	return n
}

// Compute 用 talib 计算最新一根 K 线的指标快照。
func Compute(bars []market.Bar, cfg Settings) (types.IndicatorSnapshot, error) {
	cfg = cfg.withDefaults()
	if len(bars) < cfg.MinBars() {
		return types.IndicatorSnapshot{}, fmt.Errorf("%w: have %d need %d", ErrNotEnoughBars, len(bars), cfg.MinBars())
	}
	_, highs, lows, closes, volumes := market.Columns(bars)

	snap := types.IndicatorSnapshot{LastClose: closes[len(closes)-1]}
	snap.RSI = round4(lastValid(talib.Rsi(closes, cfg.RSIPeriod)))
	macd, signal, hist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	snap.MACD = round4(lastValid(macd))
	snap.MACDSignal = round4(lastValid(signal))
	snap.MACDHist = round4(lastValid(hist))
	snap.EMAFast = round4(lastValid(talib.Ema(closes, cfg.EMAFast)))
	snap.EMASlow = round4(lastValid(talib.Ema(closes, cfg.EMASlow)))

	atr := trimLeadingZeros(sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod)))
	snap.ATR = round4(lastValid(atr))
	snap.VolatilityRatio = round4(ratioToMean(atr, cfg.VolatilityLookback))

	volSMA := lastValid(talib.Sma(volumes, cfg.VolumePeriod))
	if volSMA > 0 {
		snap.VolumeRatio = round4(volumes[len(volumes)-1] / volSMA)
	}
	if prev := closes[len(closes)-2]; prev > 0 {
		snap.PriceChangePct = round4((snap.LastClose - prev) / prev * 100)
	}
	return snap, nil
}

// ComputeATRSeries 单独计算 ATR 序列。
func ComputeATRSeries(bars []market.Bar, period int) ([]float64, error) {
	if len(bars) == 0 {
		return nil, ErrNotEnoughBars
	}
	if period <= 0 {
		period = 14
	}
	_, highs, lows, closes, _ := market.Columns(bars)
	series := trimLeadingZeros(sanitizeSeries(talib.Atr(highs, lows, closes, period)))
	if len(series) == 0 {
		return nil, fmt.Errorf("atr series empty")
	}
	return series, nil
}

// RSIState 返回 overbought/oversold/neutral。
func RSIState(rsi, oversold, overbought float64) string {
	if overbought == 0 {
		overbought = 70
	}
	if oversold == 0 {
		oversold = 30
	}
	switch {
	case rsi >= overbought:
		return "overbought"
	case rsi > 0 && rsi <= oversold:
		return "oversold"
	default:
		return "neutral"
	}
}

func ratioToMean(series []float64, lookback int) float64 {
	if len(series) == 0 {
		return 0
	}
	if len(series) > lookback {
		series = series[len(series)-lookback:]
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	if mean == 0 {
		return 0
	}
	return series[len(series)-1] / mean
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// trimLeadingZeros 去掉 talib 在回看期内填充的 0。
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && math.Abs(series[start]) <= 1e-9 {
		start++
	}
	return series[start:]
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
