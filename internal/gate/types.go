package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autotrade/internal/types"
)

// Decision 是网关对提案的处置。
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionReject     Decision = "reject"
	DecisionWait       Decision = "wait"
	DecisionReduceSize Decision = "reduce_size"
)

func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DecisionApprove, DecisionReject, DecisionWait, DecisionReduceSize:
		return d, nil
	case "reduce", "reduce-size":
		return DecisionReduceSize, nil
	}
	return "", fmt.Errorf("unknown gate decision %q", s)
}

// Proceeds 为 true 时控制器继续计算仓位并下单。
func (d Decision) Proceeds() bool {
	return d == DecisionApprove || d == DecisionReduceSize
}

// Result 是一次评估的不可变结果。
type Result struct {
	ProposalID      string        `json:"proposal_id,omitempty"`
	Symbol          string        `json:"symbol"`
	Side            types.Side    `json:"side"`
	Decision        Decision      `json:"decision"`
	Confidence      float64       `json:"confidence"`
	SignalScore     float64       `json:"signal_score"`
	Reasons         []string      `json:"reasons"`
	Concerns        []string      `json:"concerns"`
	SuggestedStop   float64       `json:"suggested_stop,omitempty"`
	SuggestedTarget float64       `json:"suggested_target,omitempty"`
	SizeMultiplier  float64       `json:"size_multiplier"`
	Latency         time.Duration `json:"latency"`
	Evaluator       string        `json:"evaluator"`
	Cached          bool          `json:"cached,omitempty"`
	EvaluatedAt     time.Time     `json:"evaluated_at"`
}

// Input 是评估器的全部输入。
type Input struct {
	Proposal  types.TradeProposal
	Account   types.AccountSnapshot
	Positions []types.PositionSnapshot
}

// Evaluator 是可互换的评估策略。
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// AdvisoryVerdict 是外部顾问返回的结论，可选字段用 0 表示缺省。
type AdvisoryVerdict struct {
	Decision        Decision `json:"decision"`
	Confidence      float64  `json:"confidence"`
	Reasons         []string `json:"reasons"`
	Concerns        []string `json:"concerns"`
	SuggestedStop   float64  `json:"suggested_stop,omitempty"`
	SuggestedTarget float64  `json:"suggested_target,omitempty"`
	SizeMultiplier  float64  `json:"size_multiplier,omitempty"`
	Model           string   `json:"model,omitempty"`
}

// Advisor 是外部顾问协作方。
type Advisor interface {
	EvaluateTrade(ctx context.Context, proposal types.TradeProposal, account types.AccountSnapshot, positions []types.PositionSnapshot) (AdvisoryVerdict, error)
}

// CircuitChecker 由风控提供。
type CircuitChecker interface {
	IsCircuitBroken() bool
}
