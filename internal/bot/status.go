package bot

import (
	"time"

	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/risk"
	"autotrade/internal/scanner"
)

// Status 是控制器对外的只读快照，供 HTTP 层序列化。
type Status struct {
	State          State                      `json:"state"`
	Since          time.Time                  `json:"since"`
	Reason         string                     `json:"reason,omitempty"`
	Cycles         int64                      `json:"cycles"`
	LastCycle      CycleReport                `json:"last_cycle"`
	ActiveSymbols  []string                   `json:"active_symbols"`
	Tiers          map[string]scanner.Tier    `json:"tiers"`
	TierCounts     map[scanner.Tier]int       `json:"tier_counts"`
	CircuitBroken  bool                       `json:"circuit_broken"`
	Risk           risk.RiskState             `json:"risk"`
	ActiveOrders   int                        `json:"active_orders"`
	RecentAttempts []execlog.ExecutionAttempt `json:"recent_attempts"`
	AttemptStats   execlog.Stats              `json:"attempt_stats"`
	GateStats      gate.Stats                 `json:"gate_stats"`
}

const statusRecentAttempts = 20

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:     c.state,
		Since:     c.since,
		Reason:    c.reason,
		Cycles:    c.cycles,
		LastCycle: c.lastCycle,
	}
	c.mu.Unlock()

	d := c.deps
	st.ActiveSymbols = d.Scanner.Symbols()
	st.Tiers = make(map[string]scanner.Tier, len(st.ActiveSymbols))
	for _, p := range d.Scanner.Snapshot() {
		st.Tiers[p.Symbol] = p.Tier
	}
	st.TierCounts = d.Scanner.TierCounts()
	st.Risk = d.Governor.State()
	st.CircuitBroken = st.Risk.CircuitBroken
	st.ActiveOrders = len(d.Monitor.Active())
	st.RecentAttempts = d.ExecLog.Recent(statusRecentAttempts)
	st.AttemptStats = d.ExecLog.Stats()
	st.GateStats = d.Gate.Stats()
	return st
}

// Deps 暴露注入的组件，供 HTTP 层读取订单、风控等明细。
func (c *Controller) Deps() Deps { return c.deps }
