package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autotrade/internal/analysis/signal"
	"autotrade/internal/execlog"
	"autotrade/internal/gateway/exchange"
	"autotrade/internal/market"
	"autotrade/internal/pkg/circuit"
	"autotrade/internal/pkg/symbol"
	"autotrade/internal/scanner"
	"autotrade/internal/sizing"
	"autotrade/internal/types"
)

var errMarketClosed = errors.New("market is closed")

// limitClose 标记平仓单：数量取自持仓而非仓位计算。
const limitClose sizing.Limit = "close_position"

// CycleReport 汇总一次周期。
type CycleReport struct {
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Due              int           `json:"due"`
	Evaluated        int           `json:"evaluated"`
	Submitted        int           `json:"submitted"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	PermissionErrors int           `json:"permission_errors"`
	Interrupted      bool          `json:"interrupted"`
	Error            string        `json:"error,omitempty"`
}

type fetchResult struct {
	bars []market.Bar
	err  error
}

// cycleEnv 是一次周期内共享的只读账户视图。
type cycleEnv struct {
	account    types.AccountSnapshot
	positions  []types.PositionSnapshot
	marketOpen bool
	marketErr  error
	bars       map[string]fetchResult
}

// runCycle 只在 RUNNING 下执行；panic 会被恢复并将控制器置为 ERROR。
func (c *Controller) runCycle(ctx context.Context) (report CycleReport) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return report
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	c.cycleCancel = cancel
	report.StartedAt = c.nowFn()
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			report.Error = fmt.Sprintf("panic: %v", r)
			log.Errorf("cycle panic: %v\n%s", r, debug.Stack())
			c.fail(report.Error)
		}
		cancel()
		c.mu.Lock()
		c.cycleCancel = nil
		report.Duration = c.nowFn().Sub(report.StartedAt)
		c.cycles++
		c.lastCycle = report
		c.mu.Unlock()
		c.trackPermission(report)
	}()

	env, err := c.loadAccount(cycleCtx)
	if err != nil {
		report.Error = err.Error()
		if execlog.Classify(err) == execlog.KindAPIPermission {
			report.PermissionErrors++
		}
		log.Warnf("cycle aborted: %v", err)
		return report
	}

	due := c.deps.Scanner.DueForScan()
	if len(due) > c.cfg.BatchSize {
		due = due[:c.cfg.BatchSize]
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report
	}

	c.prepareMarket(cycleCtx, env, due)
	env.bars = c.fetchAll(cycleCtx, due)

	for _, sym := range due {
		if cycleCtx.Err() != nil {
			report.Interrupted = true
			log.Infof("cycle interrupted, %d/%d instruments evaluated", report.Evaluated, len(due))
			break
		}
		// 已开始的标的不受 stop/pause 取消影响，保证其尝试被完整记录。
		ictx, icancel := context.WithTimeout(context.WithoutCancel(cycleCtx), c.cfg.InstrumentTimeout)
		a := c.evaluate(ictx, sym, env)
		icancel()

		report.Evaluated++
		switch a.Outcome {
		case execlog.OutcomeSubmitted:
			report.Submitted++
		case execlog.OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
		if a.ErrorKind == execlog.KindAPIPermission {
			report.PermissionErrors++
		}
	}
	log.Infof("cycle done: due=%d evaluated=%d submitted=%d skipped=%d failed=%d", report.Due, report.Evaluated, report.Submitted, report.Skipped, report.Failed)
	return report
}

// trackPermission 统计连续出现权限错误的周期数，熔断器打开即进入 ERROR。
func (c *Controller) trackPermission(r CycleReport) {
	if r.PermissionErrors == 0 {
		if r.Evaluated > 0 || r.Error == "" {
			c.permBreaker.RecordSuccess()
		}
		return
	}
	c.permBreaker.RecordFailure()
	if c.permBreaker.State() == circuit.StateOpen {
		c.fail(fmt.Sprintf("broker permission errors in %d consecutive cycles", c.cfg.PermissionErrorCycles))
	}
}

func (c *Controller) loadAccount(ctx context.Context) (*cycleEnv, error) {
	acct, err := c.deps.Broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	positions, err := c.deps.Broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	c.deps.Governor.RecordEquitySnapshot(acct.Equity)
	c.deps.Governor.UpdateExposure(positions, acct.Equity)
	return &cycleEnv{account: acct, positions: positions}, nil
}

// prepareMarket 只在批次中有股票时查询交易时段；加密货币全天候交易。
func (c *Controller) prepareMarket(ctx context.Context, env *cycleEnv, due []string) {
	for _, sym := range due {
		if symbol.ClassOf(sym) == symbol.ClassEquity {
			env.marketOpen, env.marketErr = c.deps.Broker.IsMarketOpen(ctx)
			if env.marketErr != nil {
				log.Warnf("market clock: %v", env.marketErr)
			}
			return
		}
	}
}

// fetchAll 并发拉取所有标的行情，单个失败不影响其他标的。
func (c *Controller) fetchAll(ctx context.Context, due []string) map[string]fetchResult {
	var (
		mu  sync.Mutex
		out = make(map[string]fetchResult, len(due))
		g   errgroup.Group
	)
	g.SetLimit(c.cfg.FetchConcurrency)
	for _, sym := range due {
		sym := sym
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					out[sym] = fetchResult{err: fmt.Errorf("market data panic: %v", r)}
					mu.Unlock()
				}
			}()
			fctx, cancel := context.WithTimeout(ctx, c.cfg.InstrumentTimeout)
			defer cancel()
			bars, err := c.deps.Market.GetBars(fctx, sym, c.cfg.Timeframe, c.cfg.BarLimit)
			mu.Lock()
			out[sym] = fetchResult{bars: bars, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// evaluate 处理单个标的，并且总是写入一条 ExecutionAttempt。
func (c *Controller) evaluate(ctx context.Context, sym string, env *cycleEnv) execlog.ExecutionAttempt {
	d := c.deps
	d.Scanner.RecordScan(sym)
	base := execlog.ExecutionAttempt{Symbol: sym, OrderType: c.cfg.OrderType}

	fetched, ok := env.bars[sym]
	if !ok {
		fetched.err = fmt.Errorf("no market data fetched for %s", sym)
	}
	if fetched.err != nil {
		return c.recordFailure(sym, base, fmt.Errorf("get bars: %w", fetched.err))
	}

	sig, err := signal.Analyze(sym, fetched.bars, c.cfg.Signal)
	if err != nil {
		return c.skip(base, fmt.Sprintf("analysis: %v", err))
	}
	snap := sig.Snapshot
	base.Price = sig.Entry
	d.Governor.ObservePrices(sym, sig.Closes)
	if _, err := d.Scanner.UpdateMetrics(sym, scanner.Metrics{
		VolumeRatio:     snap.VolumeRatio,
		VolatilityRatio: snap.VolatilityRatio,
		PriceChangePct:  snap.PriceChangePct,
	}); err != nil {
		log.Warnf("%s update metrics: %v", sym, err)
	}

	if sig.Side == "" || sig.Confidence < c.cfg.MinConfidence {
		return c.skip(base, fmt.Sprintf("no actionable signal (confidence %.0f < %.0f)", sig.Confidence, c.cfg.MinConfidence))
	}
	base.Side = sig.Side
	heldQty := longQuantity(env.positions, sym)
	if sig.Side == types.SideSell && heldQty <= 0 && !c.cfg.AllowShort {
		return c.skip(base, "sell signal without position, shorting disabled")
	}
	if d.Monitor.HasActive(sym) {
		return c.skip(base, "order already working")
	}

	crypto := symbol.ClassOf(sym) == symbol.ClassCrypto
	closing := sig.Side == types.SideSell && heldQty > 0

	proposal := sig.Proposal(uuid.NewString())
	proposal.CreatedAt = c.now()
	proposal.Closing = closing
	proposal.QuantityHint = c.quantityHint(sig, proposal, heldQty, env, crypto)
	base.TraceID = proposal.ID

	res := d.Gate.Evaluate(ctx, proposal, env.account, env.positions)
	if !res.Decision.Proceeds() {
		return c.skip(base, fmt.Sprintf("gate %s (%.0f): %s", res.Decision, res.Confidence, strings.Join(res.Reasons, "; ")))
	}
	d.Scanner.RecordSignal(sym, sig.Type, res.Confidence)

	entry, stop, target := proposal.EntryPrice, proposal.StopPrice, proposal.TargetPrice
	if res.SuggestedStop > 0 {
		stop = res.SuggestedStop
	}
	if res.SuggestedTarget > 0 {
		target = res.SuggestedTarget
	}
	var limitedBy sizing.Limit
	if closing {
		// 平多仓：全部卖出，不受熔断与相关性约束。
		base.Quantity, limitedBy = heldQty, limitClose
		stop, target = 0, 0
	} else {
		if d.Governor.IsCircuitBroken() {
			return c.skip(base, "drawdown circuit breaker tripped")
		}
		if dec := d.Governor.CanAddPosition(sym, env.positions); !dec.Allowed {
			return c.skip(base, dec.Reason)
		}
		sized, err := d.Sizer.Size(sizing.Request{
			Symbol:         sym,
			EntryPrice:     entry,
			StopPrice:      stop,
			Equity:         env.account.Equity,
			BuyingPower:    env.account.BuyingPower,
			Positions:      env.positions,
			Method:         c.cfg.SizingMethod,
			Confidence:     res.Confidence,
			Closes:         sig.Closes,
			SizeMultiplier: res.SizeMultiplier,
			Fractional:     crypto,
		})
		if err != nil {
			return c.skip(base, fmt.Sprintf("sizing: %v", err))
		}
		base.Quantity, limitedBy = sized.Shares, sized.LimitedBy
		if sized.Shares <= 0 {
			return c.skip(base, fmt.Sprintf("position size is zero (limited by %s)", sized.LimitedBy))
		}
	}

	if !crypto {
		if env.marketErr != nil {
			return c.recordFailure(sym, base, fmt.Errorf("market clock: %w", env.marketErr))
		}
		if !env.marketOpen {
			return c.recordFailure(sym, base, errMarketClosed)
		}
	}

	req := c.orderRequest(sym, sig.Side, base.Quantity, entry, stop, target, crypto)
	tracked, err := d.Monitor.Submit(ctx, req)
	if err != nil {
		return c.recordFailure(sym, base, err)
	}
	base.Success = true
	base.OrderID = tracked.ID
	base.Reason = fmt.Sprintf("%s %s via %s, limited by %s", res.Decision, sig.Type, res.Evaluator, limitedBy)
	log.Infof("%s %s %v @ %.4f submitted as %s (gate=%s conf=%.0f)", strings.ToUpper(string(sig.Side)), sym, base.Quantity, entry, tracked.ID, res.Decision, res.Confidence)
	return d.ExecLog.Record(base)
}

// quantityHint 在网关评估前估算数量，供其判断名义价值占购买力的比例。
// 平仓取持仓数量；开仓按信号置信度、不带网关乘数试算一次。
func (c *Controller) quantityHint(sig signal.Signal, p types.TradeProposal, heldQty float64, env *cycleEnv, crypto bool) float64 {
	if p.Closing {
		return heldQty
	}
	sized, err := c.deps.Sizer.Size(sizing.Request{
		Symbol:      p.Symbol,
		EntryPrice:  p.EntryPrice,
		StopPrice:   p.StopPrice,
		Equity:      env.account.Equity,
		BuyingPower: env.account.BuyingPower,
		Positions:   env.positions,
		Method:      c.cfg.SizingMethod,
		Confidence:  p.Confidence,
		Closes:      sig.Closes,
		Fractional:  crypto,
	})
	if err != nil {
		log.Debugf("%s quantity hint: %v", p.Symbol, err)
		return 0
	}
	return sized.Shares
}

func (c *Controller) orderRequest(sym string, side types.Side, qty, entry, stop, target float64, crypto bool) exchange.OrderRequest {
	req := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        sym,
		Side:          side,
		Type:          c.cfg.OrderType,
		Quantity:      qty,
		TimeInForce:   exchange.TimeInForceDay,
	}
	if crypto {
		req.TimeInForce = exchange.TimeInForceGTC
	}
	if req.Type == exchange.OrderTypeLimit {
		req.LimitPrice = entry
	}
	// bracket 单只对股票整数股可用。
	if c.cfg.Bracket && !crypto && stop > 0 && target > 0 {
		req.StopLoss = stop
		req.TakeProfit = target
	}
	return req
}

func (c *Controller) skip(a execlog.ExecutionAttempt, reason string) execlog.ExecutionAttempt {
	a.Outcome = execlog.OutcomeSkipped
	a.Reason = reason
	log.Debugf("%s skipped: %s", a.Symbol, reason)
	return c.deps.ExecLog.Record(a)
}

// recordFailure 分类错误并记录；限流会推迟该标的的下一次扫描。
func (c *Controller) recordFailure(sym string, a execlog.ExecutionAttempt, err error) execlog.ExecutionAttempt {
	rec := c.deps.ExecLog.RecordFailure(a, err)
	if rec.ErrorKind == execlog.KindRateLimited {
		c.deps.Scanner.Backoff(sym, 0)
	}
	log.Warnf("%s failed [%s]: %v", sym, rec.ErrorKind, err)
	return rec
}

// longQuantity 返回标的多头持仓数量，没有或为空头时返回 0。
func longQuantity(positions []types.PositionSnapshot, sym string) float64 {
	sym = symbol.Normalize(sym)
	for _, p := range positions {
		if symbol.Normalize(p.Symbol) == sym && p.Quantity > 0 {
			return p.Quantity
		}
	}
	return 0
}
