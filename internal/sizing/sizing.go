package sizing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"autotrade/internal/logger"
	"autotrade/internal/types"
)

var log = logger.Component("PositionSizer")

var ErrInvalidPrice = errors.New("entry price must be positive")

type Method string

const (
	MethodFixed      Method = "fixed"
	MethodVolatility Method = "volatility"
	MethodKelly      Method = "kelly"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodFixed, MethodVolatility, MethodKelly:
		return m, nil
	case "":
		return MethodFixed, nil
	default:
		return "", fmt.Errorf("unknown sizing method %q", s)
	}
}

// Limit 标记最终约束数量的上限。
type Limit string

const (
	LimitRisk        Limit = "risk"
	LimitPositionCap Limit = "position_cap"
	LimitBuyingPower Limit = "buying_power"
	LimitExposure    Limit = "exposure"
)

type Config struct {
	RiskPerTradePct    float64
	MaxPositionPct     float64
	MaxExposurePct     float64
	DefaultStopPct     float64
	KellyFraction      float64
	KellyPayoff        float64
	BaselineVolatility float64
	VolatilityLookback int
	FractionalShares   bool
	QtyPrecision       int32
}

func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:    0.02,
		MaxPositionPct:     0.10,
		MaxExposurePct:     0.80,
		DefaultStopPct:     0.05,
		KellyFraction:      0.25,
		KellyPayoff:        2.0,
		BaselineVolatility: 0.02,
		VolatilityLookback: 20,
		QtyPrecision:       4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RiskPerTradePct <= 0 {
		c.RiskPerTradePct = def.RiskPerTradePct
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = def.MaxPositionPct
	}
	if c.MaxExposurePct <= 0 {
		c.MaxExposurePct = def.MaxExposurePct
	}
	if c.DefaultStopPct <= 0 {
		c.DefaultStopPct = def.DefaultStopPct
	}
	if c.KellyFraction <= 0 {
		c.KellyFraction = def.KellyFraction
	}
	if c.KellyPayoff <= 0 {
		c.KellyPayoff = def.KellyPayoff
	}
	if c.BaselineVolatility <= 0 {
		c.BaselineVolatility = def.BaselineVolatility
	}
	if c.VolatilityLookback <= 1 {
		c.VolatilityLookback = def.VolatilityLookback
	}
	if c.QtyPrecision < 0 {
		c.QtyPrecision = def.QtyPrecision
	}
	return c
}

// Request 是一次仓位计算的输入。Closes 仅波动率法使用（按时间升序的日收盘价）。
type Request struct {
	Symbol      string
	EntryPrice  float64
	StopPrice   float64
	Equity      float64
	BuyingPower float64
	Positions   []types.PositionSnapshot
	Method      Method
	Confidence  float64
	Closes      []float64
	// SizeMultiplier 来自网关的 reduce-size 决策，(0,1) 之外忽略。
	SizeMultiplier float64
	// Fractional 为 true 时按 QtyPrecision 保留小数（加密货币）。
	Fractional bool
}

// Result 是一次仓位计算的不可变输出。
type Result struct {
	Symbol        string             `json:"symbol"`
	Shares        float64            `json:"shares"`
	PositionValue float64            `json:"position_value"`
	RiskAmount    float64            `json:"risk_amount"`
	RiskPerShare  float64            `json:"risk_per_share"`
	Method        Method             `json:"method"`
	Params        map[string]float64 `json:"params"`
	LimitedBy     Limit              `json:"limited_by"`
	Confidence    float64            `json:"confidence"`
	Warnings      []string           `json:"warnings,omitempty"`
}

type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg.withDefaults()}
}

func (s *Sizer) Config() Config { return s.cfg }

// Size 先按方法得出原始股数，再依次经过置信度折扣、单仓上限、购买力、总敞口上限。
func (s *Sizer) Size(req Request) (Result, error) {
	if req.EntryPrice <= 0 || math.IsNaN(req.EntryPrice) {
		return Result{}, ErrInvalidPrice
	}
	method := req.Method
	if method == "" {
		method = MethodFixed
	}
	res := Result{
		Symbol: req.Symbol,
		Method: method,
		Params: map[string]float64{"risk_per_trade_pct": s.cfg.RiskPerTradePct},
	}

	rps := math.Abs(req.EntryPrice - req.StopPrice)
	if req.StopPrice <= 0 || rps == 0 {
		rps = req.EntryPrice * s.cfg.DefaultStopPct
		res.Warnings = append(res.Warnings, fmt.Sprintf("no usable stop, assuming %.0f%% risk per share", s.cfg.DefaultStopPct*100))
		log.Warnf("%s has no usable stop (entry=%.4f stop=%.4f), default risk per share %.4f", req.Symbol, req.EntryPrice, req.StopPrice, rps)
	}
	res.RiskPerShare = rps

	if req.Equity <= 0 {
		res.LimitedBy = LimitRisk
		res.Warnings = append(res.Warnings, "account equity is not positive")
		return res, nil
	}

	budget := req.Equity * s.cfg.RiskPerTradePct
	volRatio := math.NaN()
	var raw float64
	switch method {
	case MethodVolatility:
		mult, ratio, warn := s.volatilityMultiplier(req.Closes)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		volRatio = ratio
		res.Params["volatility_multiplier"] = mult
		res.Params["baseline_volatility"] = s.cfg.BaselineVolatility
		if !math.IsNaN(ratio) {
			res.Params["volatility_ratio"] = ratio
		}
		raw = budget * mult / rps
	case MethodKelly:
		full, scaled := KellyFraction(req.Confidence, s.cfg.KellyPayoff, s.cfg.KellyFraction)
		res.Params["kelly_full"] = full
		res.Params["kelly_scaled"] = scaled
		res.Params["kelly_payoff"] = s.cfg.KellyPayoff
		raw = budget * (1 + scaled) / rps
	default:
		raw = budget / rps
	}

	switch {
	case req.Confidence < 60:
		raw *= 0.5
		res.Warnings = append(res.Warnings, "confidence below 60, size halved")
	case req.Confidence < 70:
		raw *= 0.75
		res.Warnings = append(res.Warnings, "confidence below 70, size reduced 25%")
	}
	if m := req.SizeMultiplier; m > 0 && m < 1 {
		raw *= m
		res.Params["size_multiplier"] = m
		res.Warnings = append(res.Warnings, fmt.Sprintf("gate reduced size to %.0f%%", m*100))
	}

	shares := raw
	res.LimitedBy = LimitRisk
	apply := func(limit float64, by Limit) {
		if limit < 0 {
			limit = 0
		}
		if limit < shares {
			shares = limit
			res.LimitedBy = by
		}
	}
	apply(req.Equity*s.cfg.MaxPositionPct/req.EntryPrice, LimitPositionCap)
	apply(req.BuyingPower/req.EntryPrice, LimitBuyingPower)
	remaining := req.Equity*s.cfg.MaxExposurePct - types.TotalExposure(req.Positions)
	apply(remaining/req.EntryPrice, LimitExposure)
	if remaining <= 0 {
		res.Warnings = append(res.Warnings, "portfolio exposure ceiling reached")
	}

	res.Shares = s.round(shares, req.Fractional)
	entry := decimal.NewFromFloat(req.EntryPrice)
	qty := decimal.NewFromFloat(res.Shares)
	res.PositionValue = qty.Mul(entry).Round(2).InexactFloat64()
	res.RiskAmount = qty.Mul(decimal.NewFromFloat(rps)).Round(2).InexactFloat64()
	res.Confidence = confidenceScore(req.Confidence, volRatio)

	log.Debugf("%s method=%s shares=%v value=%.2f limited_by=%s", req.Symbol, method, res.Shares, res.PositionValue, res.LimitedBy)
	return res, nil
}

func (s *Sizer) round(shares float64, fractional bool) float64 {
	if shares <= 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return 0
	}
	d := decimal.NewFromFloat(shares)
	if s.cfg.FractionalShares || fractional {
		return d.RoundDown(s.cfg.QtyPrecision).InexactFloat64()
	}
	return d.Floor().InexactFloat64()
}

// KellyFraction 返回完整与缩放后的 Kelly 比例，胜率取自信号置信度。
func KellyFraction(confidence, payoff, scale float64) (full, scaled float64) {
	p := clamp(confidence/100, 0, 1)
	if payoff <= 0 {
		return 0, 0
	}
	full = p - (1-p)/payoff
	if full < 0 {
		full = 0
	}
	return full, full * scale
}

func confidenceScore(signalConfidence, volRatio float64) float64 {
	volScore := 0.5
	if !math.IsNaN(volRatio) {
		switch {
		case volRatio >= 0.75 && volRatio <= 1.25:
			volScore = 1
		case volRatio >= 0.5 && volRatio <= 2:
			volScore = 0.6
		default:
			volScore = 0.25
		}
	}
	score := clamp(signalConfidence, 0, 100)*0.6 + volScore*40
	return math.Round(clamp(score, 0, 100)*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
