package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	brcfg "autotrade/internal/config"
	"autotrade/internal/scanner"
)

type StartupSummary struct {
	Tiers     map[scanner.Tier][]string
	Evaluator string
	Gate      GateSummary
	Risk      RiskSummary
	Execution ExecutionSummary
	Persisted bool
	HTTPAddr  string
	Notify    bool
}

type GateSummary struct {
	AutoApprove  float64
	AutoReject   float64
	CacheEnabled bool
}

type RiskSummary struct {
	TripDrawdown  float64
	ResetDrawdown float64
	MaxCorrelated int
	SectorsPath   string
}

type ExecutionSummary struct {
	Broker        string
	CryptoSource  string
	SizingMethod  string
	OrderType     string
	Bracket       bool
	CycleInterval string
	Timeframe     string
	AutoStart     bool
}

func newStartupSummary(cfg *brcfg.Config, sc *scanner.Scanner, evaluator string) *StartupSummary {
	tiers := make(map[scanner.Tier][]string)
	for _, p := range sc.Snapshot() {
		tiers[p.Tier] = append(tiers[p.Tier], p.Symbol)
	}
	return &StartupSummary{
		Tiers:     tiers,
		Evaluator: evaluator,
		Gate: GateSummary{
			AutoApprove:  cfg.Gate.AutoApprove,
			AutoReject:   cfg.Gate.AutoReject,
			CacheEnabled: cfg.Gate.CacheEnabled,
		},
		Risk: RiskSummary{
			TripDrawdown:  cfg.Risk.TripDrawdown,
			ResetDrawdown: cfg.Risk.ResetDrawdown,
			MaxCorrelated: cfg.Risk.MaxCorrelated,
			SectorsPath:   cfg.Risk.SectorsPath,
		},
		Execution: ExecutionSummary{
			Broker:        cfg.Broker.Name,
			CryptoSource:  cfg.Market.Crypto,
			SizingMethod:  cfg.Bot.SizingMethod,
			OrderType:     cfg.Bot.OrderType,
			Bracket:       cfg.Bot.Bracket,
			CycleInterval: cfg.Bot.CycleInterval.String(),
			Timeframe:     cfg.Bot.Timeframe,
			AutoStart:     cfg.Bot.AutoStart,
		},
		Persisted: cfg.Store.Enabled,
		HTTPAddr:  cfg.App.HTTPAddr,
		Notify:    cfg.Notify.Telegram.Enabled,
	}
}

func (s *StartupSummary) Print() {
	s.Render(os.Stdout)
}

func (s *StartupSummary) Render(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[扫描分层 (SCANNER TIERS)]")
	for _, tier := range []scanner.Tier{scanner.TierHigh, scanner.TierStandard, scanner.TierLow} {
		fmt.Fprintf(w, "  %-8s: %s\n", tier, formatList(s.Tiers[tier]))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易闸门 (TRADE GATE)]")
	fmt.Fprintf(w, "  评估器: %s\n", s.Evaluator)
	fmt.Fprintf(w, "  自动通过/拒绝: %.0f / %.0f\n", s.Gate.AutoApprove, s.Gate.AutoReject)
	fmt.Fprintf(w, "  决策缓存: %v\n", s.Gate.CacheEnabled)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[风控 (RISK)]")
	fmt.Fprintf(w, "  熔断/恢复回撤: %.2f%% / %.2f%%\n", s.Risk.TripDrawdown*100, s.Risk.ResetDrawdown*100)
	fmt.Fprintf(w, "  相关持仓上限: %d\n", s.Risk.MaxCorrelated)
	fmt.Fprintf(w, "  板块表: %s\n", orDash(s.Risk.SectorsPath))
	fmt.Fprintln(w)

	e := s.Execution
	fmt.Fprintln(w, "[执行 (EXECUTION)]")
	fmt.Fprintf(w, "  经纪商: %s  加密行情: %s\n", e.Broker, e.CryptoSource)
	fmt.Fprintf(w, "  仓位算法: %s  订单类型: %s  括号单: %v\n", e.SizingMethod, e.OrderType, e.Bracket)
	fmt.Fprintf(w, "  周期: %s  K线: %s  自动启动: %v\n", e.CycleInterval, e.Timeframe, e.AutoStart)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[服务 (SERVICES)]")
	fmt.Fprintf(w, "  持久化: %v  HTTP: %s  Telegram: %v\n", s.Persisted, orDash(s.HTTPAddr), s.Notify)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
