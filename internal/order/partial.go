package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"autotrade/internal/gateway/exchange"
)

// Action 是部分成交的处理策略。
type Action string

const (
	ActionWait            Action = "wait"
	ActionCancelRemainder Action = "cancel_remainder"
	ActionMarketRemainder Action = "market_remainder"
)

func ParseAction(s string) (Action, error) {
	a := Action(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch a {
	case ActionWait, ActionCancelRemainder, ActionMarketRemainder:
		return a, nil
	}
	return "", fmt.Errorf("unknown partial fill action %q", s)
}

// Resolution 是 ResolvePartial 的结果。
type Resolution struct {
	OrderID     string        `json:"order_id"`
	Action      Action        `json:"action"`
	Remaining   float64       `json:"remaining"`
	Replacement *TrackedOrder `json:"replacement,omitempty"`
}

// ResolvePartial 处理部分成交订单的剩余数量。
// cancel_remainder 只发出撤单，状态由下一次轮询确认；market_remainder 撤掉原单后以市价单补足剩余数量，
// 新订单通过 ParentID 关联原单。每笔订单只能被处理一次，撤单失败时释放占位以便重试。
func (m *Monitor) ResolvePartial(ctx context.Context, id string, action Action) (Resolution, error) {
	switch action {
	case ActionWait, ActionCancelRemainder, ActionMarketRemainder:
	default:
		return Resolution{OrderID: id, Action: action}, fmt.Errorf("unknown partial fill action %q", action)
	}

	m.mu.Lock()
	o, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return Resolution{}, ErrUnknownOrder
	}
	if o.Status != StatusPartiallyFilled {
		m.mu.Unlock()
		return Resolution{}, fmt.Errorf("%w: %s is %s", ErrNotPartial, id, o.Status)
	}
	if o.Resolution != "" {
		m.mu.Unlock()
		return Resolution{}, fmt.Errorf("%w: %s by %s", ErrAlreadyResolved, id, o.Resolution)
	}
	res := Resolution{OrderID: id, Action: action, Remaining: o.Remaining()}
	if action == ActionWait || (action == ActionMarketRemainder && res.Remaining <= 0) {
		m.mu.Unlock()
		return res, nil
	}
	// 占位：撤单与补单期间其他调用方看到的是已处理。
	o.Resolution = action
	snap := o.clone()
	m.mu.Unlock()

	if err := m.broker.CancelOrder(ctx, id); err != nil {
		m.releaseResolution(id, action)
		if action == ActionCancelRemainder {
			return res, fmt.Errorf("cancel remainder of %s: %w", id, err)
		}
		return res, fmt.Errorf("cancel %s before market remainder: %w", id, err)
	}
	if action == ActionCancelRemainder {
		m.markResolved(id, action, "")
		log.Infof("%s cancel remainder %v requested", id, res.Remaining)
		return res, nil
	}

	req := exchange.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        snap.Symbol,
		Side:          snap.Side,
		Type:          exchange.OrderTypeMarket,
		Quantity:      res.Remaining,
		TimeInForce:   exchange.TimeInForceDay,
	}
	newID, err := m.broker.SubmitOrder(ctx, req)
	if err != nil {
		// 原单已撤，不再释放占位。
		m.markResolved(id, action, "")
		log.Errorf("%s cancelled but market remainder submit failed: %v", id, err)
		return res, fmt.Errorf("submit market remainder for %s: %w", id, err)
	}
	replacement := m.track(newID, req, id)
	m.markResolved(id, action, newID)
	res.Replacement = &replacement
	log.Infof("%s market remainder %v submitted as %s", id, res.Remaining, newID)
	return res, nil
}

func (m *Monitor) releaseResolution(id string, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.active[id]; ok && o.Resolution == action {
		o.Resolution = ""
	}
}

func (m *Monitor) markResolved(id string, action Action, replacedBy string) {
	m.mu.Lock()
	o, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	o.Resolution = action
	if replacedBy != "" {
		o.ReplacedBy = replacedBy
	}
	o.UpdatedAt = m.nowFn()
	snap := o.clone()
	updates := append([]func(TrackedOrder){}, m.cbs.update...)
	m.mu.Unlock()
	for _, fn := range updates {
		fn(snap)
	}
}

// applyPartialPolicy 对超时未完成的部分成交订单执行配置的自动策略，每笔订单只执行一次。
func (m *Monitor) applyPartialPolicy(ctx context.Context) {
	if m.cfg.PartialFillAction == ActionWait {
		return
	}
	m.mu.Lock()
	now := m.nowFn()
	var due []string
	for id, o := range m.active {
		if o.Status == StatusPartiallyFilled && o.Resolution == "" && now.Sub(o.PartialSince) >= m.cfg.PartialFillTimeout {
			due = append(due, id)
		}
	}
	m.mu.Unlock()
	for _, id := range due {
		if _, err := m.ResolvePartial(ctx, id, m.cfg.PartialFillAction); err != nil {
			log.Warnf("auto %s for %s failed: %v", m.cfg.PartialFillAction, id, err)
		}
	}
}
