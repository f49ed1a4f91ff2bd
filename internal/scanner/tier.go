package scanner

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Tier 是扫描频率等级。
type Tier string

const (
	TierHigh     Tier = "HIGH"
	TierStandard Tier = "STANDARD"
	TierLow      Tier = "LOW"
)

func (t Tier) rank() int {
	switch t {
	case TierHigh:
		return 0
	case TierStandard:
		return 1
	default:
		return 2
	}
}

func (t Tier) Valid() bool {
	switch t {
	case TierHigh, TierStandard, TierLow:
		return true
	}
	return false
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Metrics 是一次指标刷新的输入。
type Metrics struct {
	VolumeRatio     float64
	VolatilityRatio float64
	PriceChangePct  float64
	NewsSpike       bool
	Sentiment       float64
}

const (
	highVolumeRatio     = 2.0
	highVolatilityRatio = 1.5
	highPriceChangePct  = 2.0

	lowVolumeRatio     = 0.5
	lowVolatilityRatio = 0.7
	lowPriceChangePct  = 0.5
)

// ComputeTier 只依赖输入指标，先判 HIGH 再判 LOW，其余为 STANDARD。
func ComputeTier(m Metrics) Tier {
	move := math.Abs(m.PriceChangePct)
	if m.VolumeRatio >= highVolumeRatio || m.VolatilityRatio >= highVolatilityRatio || move >= highPriceChangePct || m.NewsSpike {
		return TierHigh
	}
	if m.VolumeRatio <= lowVolumeRatio && m.VolatilityRatio <= lowVolatilityRatio && move < lowPriceChangePct {
		return TierLow
	}
	return TierStandard
}

// Intervals 按等级给出扫描间隔。
type Intervals struct {
	High     time.Duration
	Standard time.Duration
	Low      time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{High: 3 * time.Second, Standard: 30 * time.Second, Low: 180 * time.Second}
}

func (iv Intervals) For(t Tier) time.Duration {
	switch t {
	case TierHigh:
		return iv.High
	case TierStandard:
		return iv.Standard
	default:
		return iv.Low
	}
}
