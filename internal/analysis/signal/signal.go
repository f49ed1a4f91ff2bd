package signal

import (
	"math"

	"autotrade/internal/analysis/indicator"
	"autotrade/internal/analysis/pattern"
	"autotrade/internal/market"
	"autotrade/internal/types"
)

const (
	TypeBreakout   = "breakout"
	TypeBreakdown  = "breakdown"
	TypeTrend      = "trend_follow"
	TypeMomentum   = "momentum"
	TypeReversal   = "reversal"
	defaultStopATR = 2.0
	defaultTgtATR  = 4.0
)

type Settings struct {
	Indicators indicator.Settings
	StopATR    float64
	TargetATR  float64
}

// Signal 是一次技术面分析的结论；Side 为空表示无方向。
type Signal struct {
	Symbol     string                  `json:"symbol"`
	Side       types.Side              `json:"side,omitempty"`
	Type       string                  `json:"type"`
	Confidence float64                 `json:"confidence"`
	Score      float64                 `json:"score"`
	Entry      float64                 `json:"entry"`
	Stop       float64                 `json:"stop"`
	Target     float64                 `json:"target"`
	Snapshot   types.IndicatorSnapshot `json:"snapshot"`
	Patterns   []string                `json:"patterns,omitempty"`
	Closes     []float64               `json:"-"`
}

// Analyze 由 EMA 趋势、MACD 柱、RSI 动量与形态投票得出方向分，止损/目标按 ATR 倍数放置。
func Analyze(sym string, bars []market.Bar, cfg Settings) (Signal, error) {
	snap, err := indicator.Compute(bars, cfg.Indicators)
	if err != nil {
		return Signal{Symbol: sym}, err
	}
	if cfg.StopATR <= 0 {
		cfg.StopATR = defaultStopATR
	}
	if cfg.TargetATR <= 0 {
		cfg.TargetATR = defaultTgtATR
	}
	patterns := pattern.Detect(bars)
	sig := Signal{
		Symbol:   sym,
		Entry:    snap.LastClose,
		Snapshot: snap,
		Patterns: patterns,
		Closes:   market.Closes(bars),
	}

	score := 0.0
	switch {
	case snap.EMAFast > snap.EMASlow:
		score++
	case snap.EMAFast < snap.EMASlow:
		score--
	}
	switch {
	case snap.MACDHist > 0:
		score++
	case snap.MACDHist < 0:
		score--
	}
	switch {
	case snap.RSI >= 50 && snap.RSI < 70:
		score++
	case snap.RSI > 30 && snap.RSI < 50:
		score--
	}
	breakType := ""
	for _, p := range patterns {
		b := pattern.BiasOf(p)
		score += float64(b)
		if p == pattern.Breakout || p == pattern.Breakdown {
			breakType = p
		}
	}
	sig.Score = score
	if score == 0 {
		sig.Type = TypeMomentum
		return sig, nil
	}

	side := types.SideBuy
	if score < 0 {
		side = types.SideSell
	}
	sig.Side = side
	conf := 50 + math.Abs(score)*10
	if snap.VolumeRatio >= 1.5 {
		conf += 5
	}
	sig.Confidence = math.Min(conf, 100)

	switch {
	case breakType != "":
		sig.Type = breakType
	case math.Abs(score) >= 3:
		sig.Type = TypeTrend
	case (side == types.SideBuy && snap.RSI > 0 && snap.RSI <= 30) || (side == types.SideSell && snap.RSI >= 70):
		sig.Type = TypeReversal
	default:
		sig.Type = TypeMomentum
	}

	if snap.ATR > 0 {
		dir := 1.0
		if side == types.SideSell {
			dir = -1
		}
		sig.Stop = round2(snap.LastClose - dir*snap.ATR*cfg.StopATR)
		sig.Target = round2(snap.LastClose + dir*snap.ATR*cfg.TargetATR)
		if sig.Stop < 0 {
			sig.Stop = 0
		}
	}
	return sig, nil
}

// Proposal 将信号转换为交易提案。
func (s Signal) Proposal(id string) types.TradeProposal {
	return types.TradeProposal{
		ID:          id,
		Symbol:      s.Symbol,
		Side:        s.Side,
		EntryPrice:  s.Entry,
		StopPrice:   s.Stop,
		TargetPrice: s.Target,
		Confidence:  s.Confidence,
		SignalType:  s.Type,
		Indicators:  s.Snapshot,
		Patterns:    append([]string(nil), s.Patterns...),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
