package gate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"autotrade/internal/logger"
	"autotrade/internal/pkg/ring"
	"autotrade/internal/types"
)

var log = logger.Component("TradeGate")

const (
	DefaultHistorySize = 200
	DefaultCacheTTL    = 60 * time.Second
	DefaultBucketWidth = 10.0
)

type Config struct {
	HistorySize  int
	CacheEnabled bool
	CacheTTL     time.Duration
	BucketWidth  float64
}

// Stats 是累计统计。
type Stats struct {
	Total          int64            `json:"total"`
	Approved       int64            `json:"approved"`
	Rejected       int64            `json:"rejected"`
	Waited         int64            `json:"waited"`
	Reduced        int64            `json:"reduced"`
	ApprovalRate   float64          `json:"approval_rate"`
	RejectionRate  float64          `json:"rejection_rate"`
	WaitRate       float64          `json:"wait_rate"`
	AvgConfidence  float64          `json:"avg_confidence"`
	AvgLatencyMs   float64          `json:"avg_latency_ms"`
	CacheHits      int64            `json:"cache_hits"`
	CircuitBlocked int64            `json:"circuit_blocked"`
	ByEvaluator    map[string]int64 `json:"by_evaluator"`
}

// Gate 在评估策略前加上熔断拦截、可选缓存与统计。
type Gate struct {
	strategy Evaluator
	circuit  CircuitChecker
	cfg      Config
	nowFn    func() time.Time

	history *ring.Buffer[Result]

	mu      sync.Mutex
	stats   Stats
	confSum float64
	latSum  time.Duration
	cache   map[cacheKey]cacheEntry
	hooks   []func(Result)
}

func New(strategy Evaluator, circuit CircuitChecker, cfg Config) *Gate {
	if strategy == nil {
		strategy = NewRuleBasedEvaluator(RuleConfig{})
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = DefaultBucketWidth
	}
	return &Gate{
		strategy: strategy,
		circuit:  circuit,
		cfg:      cfg,
		nowFn:    time.Now,
		history:  ring.New[Result](cfg.HistorySize),
		stats:    Stats{ByEvaluator: make(map[string]int64)},
		cache:    make(map[cacheKey]cacheEntry),
	}
}

func (g *Gate) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	g.mu.Lock()
	g.nowFn = fn
	g.mu.Unlock()
}

// OnDecision 注册决策回调（持久化、通知）。
func (g *Gate) OnDecision(fn func(Result)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.hooks = append(g.hooks, fn)
	g.mu.Unlock()
}

// SetCacheEnabled 运行时开关决策缓存，关闭时清空。
func (g *Gate) SetCacheEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.CacheEnabled = enabled
	if !enabled {
		g.cache = make(map[cacheKey]cacheEntry)
	}
}

func (g *Gate) CacheEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.CacheEnabled
}

// Evaluate 对提案给出决策。熔断期间新开仓一律拒绝，不调用策略；平仓提案照常评估。
func (g *Gate) Evaluate(ctx context.Context, proposal types.TradeProposal, account types.AccountSnapshot, positions []types.PositionSnapshot) Result {
	g.mu.Lock()
	start := g.nowFn()
	g.mu.Unlock()

	if !proposal.Closing && g.circuit != nil && g.circuit.IsCircuitBroken() {
		res := Result{
			ProposalID:  proposal.ID,
			Symbol:      proposal.Symbol,
			Side:        proposal.Side,
			Decision:    DecisionReject,
			Confidence:  0,
			SignalScore: proposal.Confidence,
			Reasons:     []string{"drawdown circuit breaker tripped"},
			Concerns:    []string{"circuit breaker"},
			Evaluator:   "circuit_breaker",
		}
		return g.record(res, start, true)
	}

	key := g.keyFor(proposal)
	if res, ok := g.cached(key, start); ok {
		res.ProposalID = proposal.ID
		res.Cached = true
		return g.record(res, start, false)
	}

	res, err := g.strategy.Evaluate(ctx, Input{Proposal: proposal, Account: account, Positions: positions})
	if err != nil {
		res = Result{
			ProposalID:  proposal.ID,
			Symbol:      proposal.Symbol,
			Side:        proposal.Side,
			Decision:    DecisionWait,
			SignalScore: proposal.Confidence,
			Reasons:     []string{"evaluator error: " + err.Error()},
			Evaluator:   g.strategy.Name(),
		}
		log.Warnf("%s evaluator %s failed: %v", proposal.Symbol, g.strategy.Name(), err)
	}
	g.store(key, res, start)
	return g.record(res, start, false)
}

func (g *Gate) record(res Result, start time.Time, blocked bool) Result {
	g.mu.Lock()
	now := g.nowFn()
	res.EvaluatedAt = now
	res.Latency = now.Sub(start)
	s := &g.stats
	s.Total++
	switch res.Decision {
	case DecisionApprove:
		s.Approved++
	case DecisionReduceSize:
		s.Approved++
		s.Reduced++
	case DecisionReject:
		s.Rejected++
	default:
		s.Waited++
	}
	if res.Cached {
		s.CacheHits++
	}
	if blocked {
		s.CircuitBlocked++
	}
	s.ByEvaluator[res.Evaluator]++
	g.confSum += res.Confidence
	g.latSum += res.Latency
	hooks := append([]func(Result){}, g.hooks...)
	g.mu.Unlock()

	g.history.Push(res)
	log.Infof("%s %s -> %s confidence=%.1f evaluator=%s concerns=%d", res.Symbol, res.Side, res.Decision, res.Confidence, res.Evaluator, len(res.Concerns))
	for _, fn := range hooks {
		fn(res)
	}
	return res
}

// Stats 返回累计统计的副本。
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.stats
	out.ByEvaluator = make(map[string]int64, len(g.stats.ByEvaluator))
	for k, v := range g.stats.ByEvaluator {
		out.ByEvaluator[k] = v
	}
	if out.Total > 0 {
		n := float64(out.Total)
		out.ApprovalRate = round2(float64(out.Approved) / n)
		out.RejectionRate = round2(float64(out.Rejected) / n)
		out.WaitRate = round2(float64(out.Waited) / n)
		out.AvgConfidence = round2(g.confSum / n)
		out.AvgLatencyMs = round2(float64(g.latSum.Microseconds()) / 1000 / n)
	}
	return out
}

// History 返回最近 n 条决策，最新在前。
func (g *Gate) History(n int) []Result {
	return g.history.Recent(n)
}

func (g *Gate) String() string {
	s := g.Stats()
	return fmt.Sprintf("gate[%s] total=%d approve=%.0f%% reject=%.0f%% wait=%.0f%%", g.strategy.Name(), s.Total, s.ApprovalRate*100, s.RejectionRate*100, s.WaitRate*100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
