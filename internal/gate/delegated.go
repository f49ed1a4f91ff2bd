package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autotrade/internal/pkg/circuit"
)

var errAdvisorOpen = errors.New("advisory breaker open")

// DelegatedEvaluator 把评估交给外部顾问；顾问出错、超时或熔断时回落到规则评估器。
type DelegatedEvaluator struct {
	advisor  Advisor
	fallback *RuleBasedEvaluator
	breaker  *circuit.CircuitBreaker
	timeout  time.Duration
}

func NewDelegatedEvaluator(advisor Advisor, fallback *RuleBasedEvaluator, breaker *circuit.CircuitBreaker, timeout time.Duration) *DelegatedEvaluator {
	if fallback == nil {
		fallback = NewRuleBasedEvaluator(RuleConfig{})
	}
	if breaker == nil {
		breaker = circuit.NewCircuitBreaker("advisory", 3, 2*time.Minute)
	}
	return &DelegatedEvaluator{advisor: advisor, fallback: fallback, breaker: breaker, timeout: timeout}
}

func (e *DelegatedEvaluator) Name() string { return "delegated" }

func (e *DelegatedEvaluator) Breaker() *circuit.CircuitBreaker { return e.breaker }

func (e *DelegatedEvaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	verdict, err := e.consult(ctx, in)
	if err != nil {
		res := e.fallback.evaluate(in)
		res.Evaluator = e.fallback.Name() + "(fallback)"
		res.Reasons = append(res.Reasons, "advisory unavailable: "+err.Error())
		log.Warnf("advisory failed for %s, falling back to rules: %v", in.Proposal.Symbol, err)
		return res, nil
	}
	return e.toResult(in, verdict), nil
}

func (e *DelegatedEvaluator) consult(ctx context.Context, in Input) (AdvisoryVerdict, error) {
	if e.advisor == nil {
		return AdvisoryVerdict{}, errors.New("no advisor configured")
	}
	if !e.breaker.Allow() {
		return AdvisoryVerdict{}, errAdvisorOpen
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	verdict, err := e.advisor.EvaluateTrade(ctx, in.Proposal, in.Account, in.Positions)
	if err == nil {
		_, err = ParseDecision(string(verdict.Decision))
	}
	if err == nil && (verdict.Confidence < 0 || verdict.Confidence > 100) {
		err = fmt.Errorf("advisory confidence %.1f out of range", verdict.Confidence)
	}
	if err != nil {
		e.breaker.RecordFailure()
		return AdvisoryVerdict{}, err
	}
	e.breaker.RecordSuccess()
	return verdict, nil
}

func (e *DelegatedEvaluator) toResult(in Input, v AdvisoryVerdict) Result {
	p := in.Proposal
	decision, _ := ParseDecision(string(v.Decision))
	res := Result{
		ProposalID:      p.ID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Decision:        decision,
		Confidence:      v.Confidence,
		SignalScore:     p.Confidence,
		Reasons:         append([]string{}, v.Reasons...),
		Concerns:        append([]string{}, v.Concerns...),
		SuggestedStop:   p.StopPrice,
		SuggestedTarget: p.TargetPrice,
		Evaluator:       e.Name(),
	}
	if v.Model != "" {
		res.Evaluator = e.Name() + ":" + v.Model
	}
	if v.SuggestedStop > 0 {
		res.SuggestedStop = v.SuggestedStop
	}
	if v.SuggestedTarget > 0 {
		res.SuggestedTarget = v.SuggestedTarget
	}
	switch decision {
	case DecisionApprove:
		res.SizeMultiplier = 1
	case DecisionReduceSize:
		res.SizeMultiplier = e.fallback.cfg.ReduceSizeMultiplier
	}
	if decision.Proceeds() && v.SizeMultiplier > 0 && v.SizeMultiplier <= 1 {
		res.SizeMultiplier = v.SizeMultiplier
	}
	return res
}
