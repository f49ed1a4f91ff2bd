package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"autotrade/internal/pkg/circuit"
	"autotrade/internal/types"
)

func proposal(conf float64) types.TradeProposal {
	return types.TradeProposal{
		ID:          "p-1",
		Symbol:      "AAPL",
		Side:        types.SideBuy,
		EntryPrice:  100,
		StopPrice:   95,
		TargetPrice: 110,
		Confidence:  conf,
		Indicators:  types.IndicatorSnapshot{RSI: 55},
	}
}

var account = types.AccountSnapshot{Equity: 100000, BuyingPower: 50000}

func evalRule(t *testing.T, cfg RuleConfig, p types.TradeProposal, positions []types.PositionSnapshot) Result {
	t.Helper()
	res, err := NewRuleBasedEvaluator(cfg).Evaluate(context.Background(), Input{Proposal: p, Account: account, Positions: positions})
	require.NoError(t, err)
	return res
}

func TestRule_AutoApproveAndReject(t *testing.T) {
	p := proposal(90)
	p.TargetPrice = 0
	first := evalRule(t, RuleConfig{}, p, nil)
	assert.Equal(t, DecisionApprove, first.Decision)
	assert.Empty(t, first.Concerns)
	assert.Len(t, first.Reasons, 1)
	assert.Equal(t, first, evalRule(t, RuleConfig{}, p, nil))

	res := evalRule(t, RuleConfig{}, proposal(20), nil)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, 0.0, res.SizeMultiplier)
}

func TestRule_RewardRiskAdjustments(t *testing.T) {
	res := evalRule(t, RuleConfig{}, proposal(70), nil)
	assert.Equal(t, DecisionApprove, res.Decision)
	assert.Equal(t, 75.0, res.Confidence)

	p := proposal(70)
	p.TargetPrice = 105
	res = evalRule(t, RuleConfig{}, p, nil)
	assert.Equal(t, DecisionWait, res.Decision)
	assert.Equal(t, 60.0, res.Confidence)
	assert.Len(t, res.Concerns, 1)
}

func TestRule_MissingStopHasNoRewardRisk(t *testing.T) {
	p := proposal(70)
	p.StopPrice = 0
	assert.Equal(t, 0.0, p.RewardRisk())
	res := evalRule(t, RuleConfig{}, p, nil)
	assert.Equal(t, []string{"reward/risk unavailable"}, res.Concerns)
	assert.Equal(t, 60.0, res.Confidence)
}

func TestRule_MaxPositionsRejects(t *testing.T) {
	held := []types.PositionSnapshot{{Symbol: "MSFT", Quantity: 1}, {Symbol: "NVDA", Quantity: 2}}
	res := evalRule(t, RuleConfig{MaxPositions: 2}, proposal(80), held)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Contains(t, res.Concerns[len(res.Concerns)-1], "max open positions")
}

func TestRule_Penalties(t *testing.T) {
	p := proposal(80)
	p.Indicators.RSI = 75
	held := []types.PositionSnapshot{{Symbol: "AAPL", Quantity: 10}}
	res := evalRule(t, RuleConfig{}, p, held)
	assert.Equal(t, 60.0, res.Confidence)
	assert.Equal(t, DecisionWait, res.Decision)
	assert.Len(t, res.Concerns, 2)

	p = proposal(30)
	p.Side = types.SideSell
	p.Indicators.RSI = 25
	res = evalRule(t, RuleConfig{AutoRejectThreshold: 10}, p, nil)
	assert.Contains(t, res.Concerns, "RSI 25.0 oversold for sell")
}

func TestRule_ReduceSizeWhenManyConcerns(t *testing.T) {
	p := proposal(84)
	p.TargetPrice = 0
	p.Indicators.RSI = 72
	p.QuantityHint = 200
	p.Patterns = []string{"breakout"}
	res := evalRule(t, RuleConfig{MinConfidence: 55}, p, nil)
	assert.Equal(t, 64.0, res.Confidence)
	assert.Len(t, res.Concerns, 3)
	assert.Equal(t, DecisionReduceSize, res.Decision)
	assert.Equal(t, 0.5, res.SizeMultiplier)
	assert.True(t, res.Decision.Proceeds())
}

type stubCircuit struct{ broken bool }

func (s *stubCircuit) IsCircuitBroken() bool { return s.broken }

func TestGate_CircuitBreakerRejectsEverything(t *testing.T) {
	cb := &stubCircuit{broken: true}
	g := New(nil, cb, Config{})
	res := g.Evaluate(context.Background(), proposal(99), account, nil)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, "circuit_breaker", res.Evaluator)

	cb.broken = false
	res = g.Evaluate(context.Background(), proposal(99), account, nil)
	assert.Equal(t, DecisionApprove, res.Decision)

	st := g.Stats()
	assert.Equal(t, int64(2), st.Total)
	assert.Equal(t, int64(1), st.CircuitBlocked)
	assert.Equal(t, 0.5, st.ApprovalRate)
	assert.Equal(t, 0.5, st.RejectionRate)
	assert.Equal(t, 49.5, st.AvgConfidence)
}

func closingSell() types.TradeProposal {
	p := proposal(70)
	p.Side = types.SideSell
	p.StopPrice, p.TargetPrice = 105, 90
	p.QuantityHint = 12
	p.Closing = true
	return p
}

func TestGate_ClosingProposalIgnoresCircuitBreaker(t *testing.T) {
	g := New(nil, &stubCircuit{broken: true}, Config{})
	held := []types.PositionSnapshot{{Symbol: "MSFT", Quantity: 1}, {Symbol: "AAPL", Quantity: 12}}

	res := g.Evaluate(context.Background(), closingSell(), account, held)
	assert.Equal(t, DecisionApprove, res.Decision)
	assert.Equal(t, "rule_based", res.Evaluator)
	assert.Empty(t, res.Concerns)

	entry := proposal(99)
	entry.Symbol = "NVDA"
	res = g.Evaluate(context.Background(), entry, account, held)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, int64(1), g.Stats().CircuitBlocked)
}

func TestRule_ClosingIgnoresPositionLimits(t *testing.T) {
	held := []types.PositionSnapshot{{Symbol: "MSFT", Quantity: 1}, {Symbol: "AAPL", Quantity: 12}}
	res := evalRule(t, RuleConfig{MaxPositions: 2}, closingSell(), held)
	assert.Equal(t, DecisionApprove, res.Decision)
	assert.Empty(t, res.Concerns)
}

func TestGate_HistoryAndHooks(t *testing.T) {
	g := New(nil, nil, Config{HistorySize: 2})
	var seen []Decision
	g.OnDecision(func(r Result) { seen = append(seen, r.Decision) })

	g.Evaluate(context.Background(), proposal(90), account, nil)
	g.Evaluate(context.Background(), proposal(20), account, nil)
	p := proposal(70)
	p.TargetPrice = 105
	g.Evaluate(context.Background(), p, account, nil)

	hist := g.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, DecisionWait, hist[0].Decision)
	assert.Equal(t, DecisionReject, hist[1].Decision)
	assert.Equal(t, []Decision{DecisionApprove, DecisionReject, DecisionWait}, seen)
	assert.Equal(t, int64(1), g.Stats().Waited)
}

type countingEvaluator struct {
	calls int
}

func (c *countingEvaluator) Name() string { return "counting" }
func (c *countingEvaluator) Evaluate(_ context.Context, in Input) (Result, error) {
	c.calls++
	return Result{Symbol: in.Proposal.Symbol, Decision: DecisionApprove, Confidence: in.Proposal.Confidence, Evaluator: "counting"}, nil
}

func TestGate_Cache(t *testing.T) {
	now := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	inner := &countingEvaluator{}
	g := New(inner, nil, Config{CacheTTL: time.Minute})
	g.SetClock(func() time.Time { return now })

	g.Evaluate(context.Background(), proposal(71), account, nil)
	g.Evaluate(context.Background(), proposal(71), account, nil)
	assert.Equal(t, 2, inner.calls, "cache is off by default")

	g.SetCacheEnabled(true)
	g.Evaluate(context.Background(), proposal(71), account, nil)
	res := g.Evaluate(context.Background(), proposal(78), account, nil)
	assert.Equal(t, 3, inner.calls)
	assert.True(t, res.Cached)

	g.Evaluate(context.Background(), proposal(81), account, nil)
	assert.Equal(t, 4, inner.calls)

	now = now.Add(time.Minute)
	g.Evaluate(context.Background(), proposal(71), account, nil)
	assert.Equal(t, 5, inner.calls)
	assert.Equal(t, int64(1), g.Stats().CacheHits)
}

type mockAdvisor struct{ mock.Mock }

func (m *mockAdvisor) EvaluateTrade(ctx context.Context, p types.TradeProposal, a types.AccountSnapshot, pos []types.PositionSnapshot) (AdvisoryVerdict, error) {
	args := m.Called(ctx, p, a, pos)
	return args.Get(0).(AdvisoryVerdict), args.Error(1)
}

func TestDelegated_UsesAdvisorVerdict(t *testing.T) {
	adv := &mockAdvisor{}
	adv.On("EvaluateTrade", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(AdvisoryVerdict{
		Decision:       DecisionApprove,
		Confidence:     77,
		Reasons:        []string{"trend intact"},
		SuggestedStop:  96,
		SizeMultiplier: 0.8,
		Model:          "gpt-test",
	}, nil)

	e := NewDelegatedEvaluator(adv, nil, nil, time.Second)
	res, err := e.Evaluate(context.Background(), Input{Proposal: proposal(60), Account: account})
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, res.Decision)
	assert.Equal(t, 77.0, res.Confidence)
	assert.Equal(t, 96.0, res.SuggestedStop)
	assert.Equal(t, 110.0, res.SuggestedTarget)
	assert.Equal(t, 0.8, res.SizeMultiplier)
	assert.Equal(t, "delegated:gpt-test", res.Evaluator)
	adv.AssertExpectations(t)
}

func TestDelegated_FallbackAndBreaker(t *testing.T) {
	adv := &mockAdvisor{}
	adv.On("EvaluateTrade", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(AdvisoryVerdict{}, errors.New("status=503"))

	breaker := circuit.NewCircuitBreaker("advisory-test", 3, time.Hour)
	e := NewDelegatedEvaluator(adv, NewRuleBasedEvaluator(RuleConfig{}), breaker, 0)
	for i := 0; i < 4; i++ {
		res, err := e.Evaluate(context.Background(), Input{Proposal: proposal(90), Account: account})
		require.NoError(t, err)
		assert.Equal(t, DecisionApprove, res.Decision)
		assert.Equal(t, "rule_based(fallback)", res.Evaluator)
	}
	adv.AssertNumberOfCalls(t, "EvaluateTrade", 3)
	assert.Equal(t, circuit.StateOpen, breaker.State())
}

func TestDelegated_InvalidVerdictFallsBack(t *testing.T) {
	adv := &mockAdvisor{}
	adv.On("EvaluateTrade", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(AdvisoryVerdict{Decision: "maybe", Confidence: 50}, nil)
	e := NewDelegatedEvaluator(adv, nil, nil, 0)
	res, err := e.Evaluate(context.Background(), Input{Proposal: proposal(20), Account: account})
	require.NoError(t, err)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, "rule_based(fallback)", res.Evaluator)

	e = NewDelegatedEvaluator(nil, nil, nil, 0)
	res, _ = e.Evaluate(context.Background(), Input{Proposal: proposal(90), Account: account})
	assert.Equal(t, DecisionApprove, res.Decision)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("Reduce-Size")
	require.NoError(t, err)
	assert.Equal(t, DecisionReduceSize, d)
	_, err = ParseDecision("yolo")
	assert.Error(t, err)
}
