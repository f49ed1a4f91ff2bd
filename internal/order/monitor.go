package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autotrade/internal/gateway/exchange"
	"autotrade/internal/logger"
	"autotrade/internal/pkg/ring"
	"autotrade/internal/scheduler"
)

var log = logger.Component("OrderMonitor")

var (
	ErrUnknownOrder    = errors.New("order not tracked")
	ErrNotPartial      = errors.New("order is not partially filled")
	ErrAlreadyResolved = errors.New("partial fill already resolved")
)

// Broker 是监控器需要的经纪商能力子集。
type Broker interface {
	SubmitOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (exchange.OrderUpdate, error)
}

type Config struct {
	PollInterval       time.Duration
	HistorySize        int
	PartialFillAction  Action
	PartialFillTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 500
	}
	if c.PartialFillAction == "" {
		c.PartialFillAction = ActionWait
	}
	if c.PartialFillTimeout <= 0 {
		c.PartialFillTimeout = 60 * time.Second
	}
	return c
}

type callbacks struct {
	fill      []func(TrackedOrder)
	partial   []func(TrackedOrder, FillEvent)
	cancelled []func(TrackedOrder)
	rejected  []func(TrackedOrder)
	fillEvent []func(FillEvent)
	update    []func(TrackedOrder)
}

// Monitor 跟踪订单直到终态。订单表由 mu 保护，Poll 之间由 pollMu 串行化。
type Monitor struct {
	broker Broker
	cfg    Config
	nowFn  func() time.Time

	pollMu sync.Mutex

	mu      sync.Mutex
	active  map[string]*TrackedOrder
	history *ring.Buffer[TrackedOrder]
	cbs     callbacks
}

func NewMonitor(broker Broker, cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		broker:  broker,
		cfg:     cfg,
		nowFn:   time.Now,
		active:  make(map[string]*TrackedOrder),
		history: ring.New[TrackedOrder](cfg.HistorySize),
	}
}

func (m *Monitor) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	m.mu.Lock()
	m.nowFn = fn
	m.mu.Unlock()
}

func (m *Monitor) OnFill(fn func(TrackedOrder)) {
	m.mu.Lock()
	m.cbs.fill = append(m.cbs.fill, fn)
	m.mu.Unlock()
}

func (m *Monitor) OnPartialFill(fn func(TrackedOrder, FillEvent)) {
	m.mu.Lock()
	m.cbs.partial = append(m.cbs.partial, fn)
	m.mu.Unlock()
}

// OnCancelled 也会收到 EXPIRED 订单。
func (m *Monitor) OnCancelled(fn func(TrackedOrder)) {
	m.mu.Lock()
	m.cbs.cancelled = append(m.cbs.cancelled, fn)
	m.mu.Unlock()
}

func (m *Monitor) OnRejected(fn func(TrackedOrder)) {
	m.mu.Lock()
	m.cbs.rejected = append(m.cbs.rejected, fn)
	m.mu.Unlock()
}

// OnFillEvent 在每个成交增量上触发。
func (m *Monitor) OnFillEvent(fn func(FillEvent)) {
	m.mu.Lock()
	m.cbs.fillEvent = append(m.cbs.fillEvent, fn)
	m.mu.Unlock()
}

// OnUpdate 在订单记录发生任何变化后触发（持久化用）。
func (m *Monitor) OnUpdate(fn func(TrackedOrder)) {
	m.mu.Lock()
	m.cbs.update = append(m.cbs.update, fn)
	m.mu.Unlock()
}

// Submit 提交订单并开始跟踪。
func (m *Monitor) Submit(ctx context.Context, req exchange.OrderRequest) (TrackedOrder, error) {
	if err := req.Validate(); err != nil {
		return TrackedOrder{}, err
	}
	id, err := m.broker.SubmitOrder(ctx, req)
	if err != nil {
		return TrackedOrder{}, fmt.Errorf("submit %s %s: %w", req.Side, req.Symbol, err)
	}
	return m.Track(id, req), nil
}

// Track 开始跟踪一笔已提交的订单。
func (m *Monitor) Track(id string, req exchange.OrderRequest) TrackedOrder {
	return m.track(id, req, "")
}

func (m *Monitor) track(id string, req exchange.OrderRequest, parentID string) TrackedOrder {
	typ := req.Type
	if typ == "" {
		typ = exchange.OrderTypeMarket
	}
	m.mu.Lock()
	now := m.nowFn()
	o := &TrackedOrder{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          typ,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TakeProfit:    req.TakeProfit,
		StopLoss:      req.StopLoss,
		Status:        StatusNew,
		SubmittedAt:   now,
		UpdatedAt:     now,
		ParentID:      parentID,
	}
	m.active[id] = o
	snap := o.clone()
	updates := append([]func(TrackedOrder){}, m.cbs.update...)
	m.mu.Unlock()

	log.Infof("tracking %s %s %s qty=%v type=%s parent=%s", id, snap.Side, snap.Symbol, snap.Quantity, snap.Type, parentID)
	for _, fn := range updates {
		fn(snap)
	}
	return snap
}

// Poll 拉取所有活跃订单的最新状态。单个订单拉取失败只记录，不会移出跟踪。
func (m *Monitor) Poll(ctx context.Context) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	for _, id := range m.activeIDs() {
		if ctx.Err() != nil {
			return
		}
		upd, err := m.broker.GetOrder(ctx, id)
		if err != nil {
			m.recordPollError(id, err)
			continue
		}
		m.apply(id, upd)
	}
	m.applyPartialPolicy(ctx)
}

// Run 以固定间隔轮询，直到 ctx 结束。
func (m *Monitor) Run(ctx context.Context) {
	s := scheduler.NewIntervalScheduler("order-monitor", m.cfg.PollInterval)
	s.Run(ctx, m.Poll)
}

func (m *Monitor) activeIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	type entry struct {
		id string
		at time.Time
	}
	entries := make([]entry, 0, len(m.active))
	for id, o := range m.active {
		entries = append(entries, entry{id, o.SubmittedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].at.Equal(entries[j].at) {
			return entries[i].at.Before(entries[j].at)
		}
		return entries[i].id < entries[j].id
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

func (m *Monitor) recordPollError(id string, err error) {
	m.mu.Lock()
	if o, ok := m.active[id]; ok {
		o.PollErrors++
		o.LastError = err.Error()
	}
	m.mu.Unlock()
	log.Warnf("poll %s failed, retry next tick: %v", id, err)
}

// apply 计算成交增量，先发出 FillEvent 再更新订单记录，到达终态则移入历史。
func (m *Monitor) apply(id string, upd exchange.OrderUpdate) {
	m.mu.Lock()
	o, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.nowFn()
	next := MapBrokerStatus(upd.Status, o.Status)
	if !CanTransition(o.Status, next) {
		log.Warnf("%s ignoring illegal transition %s -> %s (broker=%s)", id, o.Status, next, upd.Status)
		next = o.Status
	}

	qty := decimal.NewFromFloat(o.Quantity)
	oldFilled := decimal.NewFromFloat(o.FilledQty)
	newFilled := decimal.NewFromFloat(upd.FilledQty)
	if newFilled.GreaterThan(qty) {
		newFilled = qty
	}
	if newFilled.LessThan(oldFilled) {
		log.Warnf("%s broker reported filled_qty %s below recorded %s, keeping recorded", id, newFilled, oldFilled)
		newFilled = oldFilled
	}

	var event *FillEvent
	changed := next != o.Status || upd.Status != o.BrokerStatus
	if delta := newFilled.Sub(oldFilled); delta.IsPositive() {
		price := incrementalPrice(oldFilled, decimal.NewFromFloat(o.FilledAvgPrice), newFilled, decimal.NewFromFloat(upd.FilledAvgPrice), delta)
		ts := upd.FilledAt
		if ts.IsZero() {
			ts = now
		}
		remaining := qty.Sub(newFilled)
		if next == StatusNew || next == StatusAccepted {
			next = StatusPartiallyFilled
		}
		ev := FillEvent{
			OrderID:          id,
			Symbol:           o.Symbol,
			Side:             o.Side,
			Quantity:         delta.InexactFloat64(),
			Price:            price,
			Timestamp:        ts,
			Partial:          next != StatusFilled,
			CumulativeFilled: newFilled.InexactFloat64(),
			Remaining:        remaining.InexactFloat64(),
		}
		event = &ev
		o.Fills = append(o.Fills, ev)
		o.FilledQty = newFilled.InexactFloat64()
		if upd.FilledAvgPrice > 0 {
			o.FilledAvgPrice = upd.FilledAvgPrice
		} else {
			o.FilledAvgPrice = price
		}
		changed = true
	}

	if next == StatusPartiallyFilled && o.Status != StatusPartiallyFilled {
		o.PartialSince = now
	}
	o.Status = next
	o.BrokerStatus = upd.Status
	o.PollErrors = 0
	o.LastError = ""
	if changed {
		o.UpdatedAt = now
	}

	terminal := next.Terminal()
	if terminal {
		o.TerminalAt = now
		delete(m.active, id)
	}
	snap := o.clone()
	cbs := m.snapshotCallbacks()
	m.mu.Unlock()

	if terminal {
		m.history.Push(snap)
	}
	if event != nil {
		log.Infof("%s fill %s %s qty=%v @ %.4f cumulative=%v remaining=%v", id, snap.Side, snap.Symbol, event.Quantity, event.Price, event.CumulativeFilled, event.Remaining)
		for _, fn := range cbs.fillEvent {
			fn(*event)
		}
	}
	if changed {
		for _, fn := range cbs.update {
			fn(snap)
		}
	}
	switch {
	case snap.Status == StatusFilled:
		log.Infof("%s FILLED %s %s qty=%v avg=%.4f", id, snap.Side, snap.Symbol, snap.FilledQty, snap.FilledAvgPrice)
		for _, fn := range cbs.fill {
			fn(snap)
		}
	case snap.Status == StatusPartiallyFilled && event != nil:
		for _, fn := range cbs.partial {
			fn(snap, *event)
		}
	case snap.Status == StatusCancelled || snap.Status == StatusExpired:
		log.Infof("%s %s with %v/%v filled", id, snap.Status, snap.FilledQty, snap.Quantity)
		for _, fn := range cbs.cancelled {
			fn(snap)
		}
	case snap.Status == StatusRejected:
		log.Warnf("%s REJECTED %s %s", id, snap.Side, snap.Symbol)
		for _, fn := range cbs.rejected {
			fn(snap)
		}
	}
}

// incrementalPrice 由前后均价反推本次增量成交价；数据不一致时退回新均价。
func incrementalPrice(oldQty, oldAvg, newQty, newAvg, delta decimal.Decimal) float64 {
	if newAvg.IsZero() {
		return oldAvg.InexactFloat64()
	}
	if oldQty.IsZero() || oldAvg.IsZero() {
		return newAvg.InexactFloat64()
	}
	p := newAvg.Mul(newQty).Sub(oldAvg.Mul(oldQty)).Div(delta)
	if !p.IsPositive() {
		return newAvg.InexactFloat64()
	}
	return p.Round(8).InexactFloat64()
}

func (m *Monitor) snapshotCallbacks() callbacks {
	return callbacks{
		fill:      append([]func(TrackedOrder){}, m.cbs.fill...),
		partial:   append([]func(TrackedOrder, FillEvent){}, m.cbs.partial...),
		cancelled: append([]func(TrackedOrder){}, m.cbs.cancelled...),
		rejected:  append([]func(TrackedOrder){}, m.cbs.rejected...),
		fillEvent: append([]func(FillEvent){}, m.cbs.fillEvent...),
		update:    append([]func(TrackedOrder){}, m.cbs.update...),
	}
}

// Get 查询活跃或历史订单。
func (m *Monitor) Get(id string) (TrackedOrder, bool) {
	m.mu.Lock()
	if o, ok := m.active[id]; ok {
		snap := o.clone()
		m.mu.Unlock()
		return snap, true
	}
	m.mu.Unlock()
	for _, o := range m.history.Recent(0) {
		if o.ID == id {
			return o, true
		}
	}
	return TrackedOrder{}, false
}

// Active 按提交时间返回活跃订单。
func (m *Monitor) Active() []TrackedOrder {
	ids := m.activeIDs()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrackedOrder, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.active[id]; ok {
			out = append(out, o.clone())
		}
	}
	return out
}

// History 返回最近 n 个终态订单，最新在前。
func (m *Monitor) History(n int) []TrackedOrder {
	return m.history.Recent(n)
}

// HasActive 报告某标的是否有未完结订单。
func (m *Monitor) HasActive(sym string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.active {
		if o.Symbol == sym {
			return true
		}
	}
	return false
}
