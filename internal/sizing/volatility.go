package sizing

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	minVolMultiplier = 0.5
	maxVolMultiplier = 1.2
)

// DailyReturns 计算简单收益率序列，跳过非正价格。
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 || closes[i] <= 0 {
			continue
		}
		out = append(out, closes[i]/prev-1)
	}
	return out
}

// VolatilityMultiplier: 比值 >=2 取 0.5，<=0.5 取 1.2，中间线性插值。
func VolatilityMultiplier(ratio float64) float64 {
	switch {
	case math.IsNaN(ratio):
		return 1
	case ratio >= 2:
		return minVolMultiplier
	case ratio <= 0.5:
		return maxVolMultiplier
	}
	m := maxVolMultiplier - (ratio-0.5)*(maxVolMultiplier-minVolMultiplier)/1.5
	return clamp(m, minVolMultiplier, maxVolMultiplier)
}

func (s *Sizer) volatilityMultiplier(closes []float64) (mult, ratio float64, warning string) {
	if len(closes) > s.cfg.VolatilityLookback+1 {
		closes = closes[len(closes)-s.cfg.VolatilityLookback-1:]
	}
	returns := DailyReturns(closes)
	if len(returns) < 2 {
		return 1, math.NaN(), "not enough price history for volatility, multiplier 1.0"
	}
	vol := stat.StdDev(returns, nil)
	ratio = vol / s.cfg.BaselineVolatility
	return VolatilityMultiplier(ratio), ratio, ""
}
