package gate

import (
	"context"
	"fmt"
	"math"

	"autotrade/internal/analysis/pattern"
	"autotrade/internal/types"
)

type RuleConfig struct {
	AutoApproveThreshold float64
	AutoRejectThreshold  float64
	MinConfidence        float64
	MaxPositions         int
	MinRewardRisk        float64
	GoodRewardRisk       float64
	RSIOverbought        float64
	RSIOversold          float64
	MaxBuyingPowerPct    float64
	ReduceSizeMultiplier float64
	MaxConcerns          int
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		AutoApproveThreshold: 85,
		AutoRejectThreshold:  40,
		MinConfidence:        65,
		MaxPositions:         10,
		MinRewardRisk:        1.5,
		GoodRewardRisk:       2.0,
		RSIOverbought:        70,
		RSIOversold:          30,
		MaxBuyingPowerPct:    0.30,
		ReduceSizeMultiplier: 0.5,
		MaxConcerns:          2,
	}
}

func (c RuleConfig) withDefaults() RuleConfig {
	def := DefaultRuleConfig()
	if c.AutoApproveThreshold <= 0 {
		c.AutoApproveThreshold = def.AutoApproveThreshold
	}
	if c.AutoRejectThreshold <= 0 {
		c.AutoRejectThreshold = def.AutoRejectThreshold
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = def.MaxPositions
	}
	if c.MinRewardRisk <= 0 {
		c.MinRewardRisk = def.MinRewardRisk
	}
	if c.GoodRewardRisk <= 0 {
		c.GoodRewardRisk = def.GoodRewardRisk
	}
	if c.RSIOverbought <= 0 {
		c.RSIOverbought = def.RSIOverbought
	}
	if c.RSIOversold <= 0 {
		c.RSIOversold = def.RSIOversold
	}
	if c.MaxBuyingPowerPct <= 0 {
		c.MaxBuyingPowerPct = def.MaxBuyingPowerPct
	}
	if c.ReduceSizeMultiplier <= 0 || c.ReduceSizeMultiplier > 1 {
		c.ReduceSizeMultiplier = def.ReduceSizeMultiplier
	}
	if c.MaxConcerns <= 0 {
		c.MaxConcerns = def.MaxConcerns
	}
	return c
}

// RuleBasedEvaluator 是始终可用的启发式评估器，无状态、无 I/O。
type RuleBasedEvaluator struct {
	cfg RuleConfig
}

func NewRuleBasedEvaluator(cfg RuleConfig) *RuleBasedEvaluator {
	return &RuleBasedEvaluator{cfg: cfg.withDefaults()}
}

func (e *RuleBasedEvaluator) Name() string { return "rule_based" }

func (e *RuleBasedEvaluator) Config() RuleConfig { return e.cfg }

func (e *RuleBasedEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	return e.evaluate(in), nil
}

func (e *RuleBasedEvaluator) evaluate(in Input) Result {
	p := in.Proposal
	score := p.Confidence
	res := Result{
		ProposalID:      p.ID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		SignalScore:     score,
		Confidence:      score,
		SuggestedStop:   p.StopPrice,
		SuggestedTarget: p.TargetPrice,
		SizeMultiplier:  1,
		Evaluator:       e.Name(),
		Reasons:         []string{},
		Concerns:        []string{},
	}

	if score >= e.cfg.AutoApproveThreshold {
		res.Decision = DecisionApprove
		res.Reasons = append(res.Reasons, fmt.Sprintf("signal %.0f >= auto-approve %.0f", score, e.cfg.AutoApproveThreshold))
		return res
	}
	if score < e.cfg.AutoRejectThreshold {
		res.Decision = DecisionReject
		res.SizeMultiplier = 0
		res.Reasons = append(res.Reasons, fmt.Sprintf("signal %.0f < auto-reject %.0f", score, e.cfg.AutoRejectThreshold))
		return res
	}

	conf := score
	rr := p.RewardRisk()
	switch {
	case rr < e.cfg.MinRewardRisk:
		conf -= 10
		if rr == 0 {
			res.Concerns = append(res.Concerns, "reward/risk unavailable")
		} else {
			res.Concerns = append(res.Concerns, fmt.Sprintf("reward/risk %.2f < %.1f", rr, e.cfg.MinRewardRisk))
		}
	case rr >= e.cfg.GoodRewardRisk:
		conf += 5
		res.Reasons = append(res.Reasons, fmt.Sprintf("reward/risk %.2f", rr))
	}

	// 平仓会减少持仓数，不受上限与重复持仓约束。
	open := openCount(in.Positions)
	if !p.Closing && open >= e.cfg.MaxPositions {
		res.Decision = DecisionReject
		res.SizeMultiplier = 0
		res.Confidence = clampConfidence(conf)
		res.Concerns = append(res.Concerns, fmt.Sprintf("max open positions reached (%d/%d)", open, e.cfg.MaxPositions))
		return res
	}

	if !p.Closing && types.HasPosition(in.Positions, p.Symbol) {
		conf -= 15
		res.Concerns = append(res.Concerns, "already holding "+p.Symbol)
	}

	if rsi := p.Indicators.RSI; rsi > 0 {
		switch {
		case p.Side == types.SideBuy && rsi >= e.cfg.RSIOverbought:
			conf -= 10
			res.Concerns = append(res.Concerns, fmt.Sprintf("RSI %.1f overbought for buy", rsi))
		case p.Side == types.SideSell && rsi <= e.cfg.RSIOversold:
			conf -= 10
			res.Concerns = append(res.Concerns, fmt.Sprintf("RSI %.1f oversold for sell", rsi))
		}
	}

	if name, ok := confirmingPattern(p); ok {
		conf += 5
		res.Reasons = append(res.Reasons, "pattern "+name+" confirms "+string(p.Side))
	}

	if value := p.PositionValue(); value > 0 && in.Account.BuyingPower > 0 && value > in.Account.BuyingPower*e.cfg.MaxBuyingPowerPct {
		conf -= 5
		res.Concerns = append(res.Concerns, fmt.Sprintf("position value %.0f > %.0f%% of buying power", value, e.cfg.MaxBuyingPowerPct*100))
	}

	conf = clampConfidence(conf)
	res.Confidence = conf
	switch {
	case conf >= e.cfg.MinConfidence && len(res.Concerns) > e.cfg.MaxConcerns:
		res.Decision = DecisionReduceSize
		res.SizeMultiplier = e.cfg.ReduceSizeMultiplier
		res.Reasons = append(res.Reasons, fmt.Sprintf("confidence %.0f but %d concerns, reducing size", conf, len(res.Concerns)))
	case conf >= e.cfg.MinConfidence:
		res.Decision = DecisionApprove
		res.Reasons = append(res.Reasons, fmt.Sprintf("confidence %.0f >= %.0f", conf, e.cfg.MinConfidence))
	default:
		res.Decision = DecisionWait
		res.SizeMultiplier = 0
		res.Reasons = append(res.Reasons, fmt.Sprintf("confidence %.0f < %.0f", conf, e.cfg.MinConfidence))
	}
	return res
}

func confirmingPattern(p types.TradeProposal) (string, bool) {
	want := pattern.Bullish
	if p.Side == types.SideSell {
		want = pattern.Bearish
	}
	for _, name := range p.Patterns {
		if pattern.BiasOf(name) == want {
			return name, true
		}
	}
	return "", false
}

func openCount(positions []types.PositionSnapshot) int {
	n := 0
	for _, pos := range positions {
		if pos.Quantity != 0 {
			n++
		}
	}
	return n
}

func clampConfidence(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
