package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"autotrade/internal/analysis/signal"
	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/gateway/exchange"
	"autotrade/internal/gateway/notifier"
	"autotrade/internal/logger"
	"autotrade/internal/order"
	"autotrade/internal/pkg/circuit"
	"autotrade/internal/risk"
	"autotrade/internal/scanner"
	"autotrade/internal/sizing"
)

var log = logger.Component("BotController")

type Config struct {
	CycleInterval         time.Duration
	BatchSize             int
	Timeframe             string
	BarLimit              int
	MinConfidence         float64
	SizingMethod          sizing.Method
	OrderType             string
	Bracket               bool
	AllowShort            bool
	PermissionErrorCycles int
	InstrumentTimeout     time.Duration
	FetchConcurrency      int
	RiskSnapshotInterval  time.Duration
	SweepInterval         time.Duration
	Signal                signal.Settings
}

func DefaultConfig() Config {
	return Config{
		CycleInterval:         10 * time.Second,
		BatchSize:             10,
		Timeframe:             "15Min",
		BarLimit:              100,
		MinConfidence:         55,
		SizingMethod:          sizing.MethodFixed,
		OrderType:             exchange.OrderTypeMarket,
		PermissionErrorCycles: 3,
		InstrumentTimeout:     30 * time.Second,
		FetchConcurrency:      8,
		RiskSnapshotInterval:  30 * time.Second,
		SweepInterval:         time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CycleInterval <= 0 {
		c.CycleInterval = def.CycleInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if strings.TrimSpace(c.Timeframe) == "" {
		c.Timeframe = def.Timeframe
	}
	if c.BarLimit <= 0 {
		c.BarLimit = def.BarLimit
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.SizingMethod == "" {
		c.SizingMethod = def.SizingMethod
	}
	if c.OrderType == "" {
		c.OrderType = def.OrderType
	}
	if c.PermissionErrorCycles <= 0 {
		c.PermissionErrorCycles = def.PermissionErrorCycles
	}
	if c.InstrumentTimeout <= 0 {
		c.InstrumentTimeout = def.InstrumentTimeout
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = def.FetchConcurrency
	}
	if c.RiskSnapshotInterval <= 0 {
		c.RiskSnapshotInterval = def.RiskSnapshotInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Deps 是控制器编排的组件，均由调用方构造并注入。
type Deps struct {
	Scanner  *scanner.Scanner
	Gate     *gate.Gate
	Sizer    *sizing.Sizer
	Governor *risk.Governor
	Monitor  *order.Monitor
	ExecLog  *execlog.Logger
	Broker   exchange.Broker
	Market   exchange.MarketData
	Sink     Sink
	Notifier Notifier
}

func (d Deps) validate() error {
	var missing []string
	if d.Scanner == nil {
		missing = append(missing, "scanner")
	}
	if d.Gate == nil {
		missing = append(missing, "gate")
	}
	if d.Sizer == nil {
		missing = append(missing, "sizer")
	}
	if d.Governor == nil {
		missing = append(missing, "governor")
	}
	if d.Monitor == nil {
		missing = append(missing, "monitor")
	}
	if d.ExecLog == nil {
		missing = append(missing, "execution log")
	}
	if d.Broker == nil {
		missing = append(missing, "broker")
	}
	if d.Market == nil {
		missing = append(missing, "market data")
	}
	if len(missing) > 0 {
		return fmt.Errorf("bot controller missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Controller 驱动 扫描→分析→网关→仓位→下单→监控→记录 循环，并持有生命周期状态机。
type Controller struct {
	cfg  Config
	deps Deps

	permBreaker *circuit.CircuitBreaker
	wake        chan struct{}
	nowFn       func() time.Time

	mu          sync.Mutex
	state       State
	since       time.Time
	reason      string
	cycleCancel context.CancelFunc
	cycles      int64
	lastCycle   CycleReport
}

func NewController(cfg Config, deps Deps) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:   cfg,
		deps:  deps,
		wake:  make(chan struct{}, 1),
		nowFn: time.Now,
		state: StateStopped,
	}
	c.since = c.nowFn()
	// 连续 N 个周期出现权限错误即打开；冷却期很长，只有 stop 会重置。
	c.permBreaker = circuit.NewCircuitBreaker("broker-permission", cfg.PermissionErrorCycles, 24*time.Hour)
	c.wire()
	return c, nil
}

// wire 把各组件的回调接到持久化与通知。
func (c *Controller) wire() {
	d := c.deps
	d.ExecLog.OnRecord(d.Sink.RecordAttempt)
	d.Monitor.OnUpdate(d.Sink.RecordOrder)
	d.Gate.OnDecision(d.Sink.RecordDecision)

	d.Monitor.OnFill(func(o order.TrackedOrder) {
		c.notify(notifier.Message{
			Icon:  "✅",
			Title: fmt.Sprintf("FILLED %s %s", strings.ToUpper(string(o.Side)), o.Symbol),
			Sections: []notifier.Section{{Lines: []string{
				fmt.Sprintf("qty=%v avg=%.4f", o.FilledQty, o.FilledAvgPrice),
				"order=" + o.ID,
			}}},
			Timestamp: c.now(),
		})
	})
	d.Governor.OnCircuitChange(func(tripped bool, st risk.RiskState) {
		msg := notifier.Message{
			Sections: []notifier.Section{{Title: "账户", Lines: []string{
				fmt.Sprintf("drawdown=%.2f%%", st.Drawdown*100),
				fmt.Sprintf("peak=%.2f equity=%.2f", st.PeakEquity, st.CurrentEquity),
			}}},
			Timestamp: c.now(),
		}
		if tripped {
			msg.Icon, msg.Title, msg.Footer = "⛔", "回撤熔断触发", "新开仓已暂停，平仓不受影响"
		} else {
			msg.Icon, msg.Title = "🟢", "回撤熔断解除"
		}
		c.notify(msg)
	})
}

func (c *Controller) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	c.mu.Lock()
	c.nowFn = fn
	c.mu.Unlock()
	c.permBreaker.SetClock(fn)
}

func (c *Controller) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

func (c *Controller) Start() error  { return c.Apply(CmdStart) }
func (c *Controller) Stop() error   { return c.Apply(CmdStop) }
func (c *Controller) Pause() error  { return c.Apply(CmdPause) }
func (c *Controller) Resume() error { return c.Apply(CmdResume) }

// Apply 执行生命周期命令。stop/pause 会取消进行中的周期：当前标的的尝试照常记录，之后不再开始新标的。
func (c *Controller) Apply(cmd Command) error {
	c.mu.Lock()
	from := c.state
	to, err := next(from, cmd)
	if err != nil {
		c.mu.Unlock()
		log.Warnf("%v", err)
		return err
	}
	c.state = to
	c.since = c.nowFn()
	c.reason = ""
	if to != StateRunning && c.cycleCancel != nil {
		c.cycleCancel()
	}
	c.mu.Unlock()

	if to == StateStopped {
		c.permBreaker.Reset()
	}
	log.Infof("%s: %s -> %s", cmd, from, to)
	c.signal()
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// fail 将控制器置为 ERROR，只有 stop 能离开。
func (c *Controller) fail(reason string) {
	c.mu.Lock()
	if c.state == StateError || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = StateError
	c.since = c.nowFn()
	c.reason = reason
	if c.cycleCancel != nil {
		c.cycleCancel()
	}
	c.mu.Unlock()
	log.Errorf("%s -> ERROR: %s", from, reason)
	c.notify(notifier.Message{
		Icon:      "🚨",
		Title:     "交易机器人进入 ERROR",
		Sections:  []notifier.Section{{Lines: []string{"from=" + string(from), reason}}},
		Footer:    "需要人工处理后 stop → start",
		Timestamp: c.now(),
	})
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) notify(msg notifier.Message) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.SendText(msg.Render()); err != nil {
		log.Warnf("notify failed: %v", err)
	}
}

// Run 启动周期循环、订单轮询、风控快照与降级扫描，直到 ctx 结束。
// 订单轮询始终运行；风控快照在 RUNNING/PAUSED 下运行；新开仓只在 RUNNING 下发生。
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.deps.Monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.every(gctx, "risk-snapshot", c.cfg.RiskSnapshotInterval, func(ctx context.Context) {
			if st := c.State(); st == StateRunning || st == StatePaused {
				c.snapshotRisk(ctx)
			}
		})
		return nil
	})
	g.Go(func() error {
		c.every(gctx, "tier-sweep", c.cfg.SweepInterval, func(context.Context) {
			if c.State() == StateRunning {
				c.deps.Scanner.SweepInactive()
			}
		})
		return nil
	})
	g.Go(func() error {
		c.cycleLoop(gctx)
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Controller) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("%s panic: %v", name, r)
					}
				}()
				fn(ctx)
			}()
		}
	}
}

func (c *Controller) cycleLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-c.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		if c.State() == StateRunning {
			c.runCycle(ctx)
		}
		timer.Reset(c.cfg.CycleInterval)
	}
}

// snapshotRisk 刷新账户权益与敞口，驱动回撤熔断。
func (c *Controller) snapshotRisk(ctx context.Context) {
	acct, err := c.deps.Broker.GetAccount(ctx)
	if err != nil {
		log.Warnf("risk snapshot: get account: %v", err)
		return
	}
	st := c.deps.Governor.RecordEquitySnapshot(acct.Equity)
	positions, err := c.deps.Broker.GetPositions(ctx)
	if err != nil {
		log.Warnf("risk snapshot: get positions: %v", err)
		return
	}
	c.deps.Governor.UpdateExposure(positions, acct.Equity)
	log.Debugf("risk snapshot equity=%.2f peak=%.2f drawdown=%.4f tripped=%v", st.CurrentEquity, st.PeakEquity, st.Drawdown, st.CircuitBroken)
}
