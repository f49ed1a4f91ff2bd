package types

import (
	"math"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 兼容 long/short 写法。
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return SideBuy, true
	case "sell", "short":
		return SideSell, true
	default:
		return "", false
	}
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// IndicatorSnapshot 是生成信号时的指标快照。
type IndicatorSnapshot struct {
	RSI             float64 `json:"rsi"`
	MACD            float64 `json:"macd"`
	MACDSignal      float64 `json:"macd_signal"`
	MACDHist        float64 `json:"macd_hist"`
	EMAFast         float64 `json:"ema_fast"`
	EMASlow         float64 `json:"ema_slow"`
	ATR             float64 `json:"atr"`
	VolumeRatio     float64 `json:"volume_ratio"`
	VolatilityRatio float64 `json:"volatility_ratio"`
	PriceChangePct  float64 `json:"price_change_pct"`
	LastClose       float64 `json:"last_close"`
}

// TradeProposal 是一次候选交易，由控制器每轮构造，网关与仓位计算各消费一次。
type TradeProposal struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	QuantityHint float64 `json:"quantity_hint"`
	// Closing 表示卖出已有多头，只减少风险敞口。
	Closing     bool              `json:"closing,omitempty"`
	EntryPrice  float64           `json:"entry_price"`
	StopPrice   float64           `json:"stop_price"`
	TargetPrice float64           `json:"target_price"`
	Confidence  float64           `json:"confidence"`
	SignalType  string            `json:"signal_type"`
	Indicators  IndicatorSnapshot `json:"indicators"`
	Patterns    []string          `json:"patterns,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// RiskPerShare 返回入场价与止损价的绝对距离。
func (p TradeProposal) RiskPerShare() float64 {
	return math.Abs(p.EntryPrice - p.StopPrice)
}

// RewardRisk 返回盈亏比；无止损或无目标时为 0。
func (p TradeProposal) RewardRisk() float64 {
	risk := p.RiskPerShare()
	if risk == 0 || p.StopPrice <= 0 || p.TargetPrice <= 0 {
		return 0
	}
	return math.Abs(p.TargetPrice-p.EntryPrice) / risk
}

// PositionValue 是按数量提示估算的名义价值。
func (p TradeProposal) PositionValue() float64 {
	return math.Abs(p.QuantityHint * p.EntryPrice)
}
