package config

import (
	"fmt"
	"strings"
	"time"

	"autotrade/internal/order"
	"autotrade/internal/pkg/symbol"
	"autotrade/internal/scheduler"
	"autotrade/internal/sizing"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	checks := []func() error{
		c.Bot.validate,
		c.Scanner.validate,
		c.Gate.validate,
		func() error { return c.Advisory.validate(c.Gate.Evaluator) },
		c.Sizing.validate,
		c.Risk.validate,
		c.Monitor.validate,
		c.Broker.validate,
		c.Market.validate,
		c.Store.validate,
		c.Notify.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (b *BotConfig) validate() error {
	if _, err := sizing.ParseMethod(b.SizingMethod); err != nil {
		return fmt.Errorf("bot.sizing_method: %w", err)
	}
	switch b.OrderType {
	case "market", "limit":
	default:
		return fmt.Errorf("bot.order_type must be market or limit, got %q", b.OrderType)
	}
	if b.MinConfidence > 100 {
		return fmt.Errorf("bot.min_confidence must be <= 100")
	}
	if !IsValidTimeframe(b.Timeframe) {
		return fmt.Errorf("bot.timeframe %q is not supported", b.Timeframe)
	}
	if b.StopATR <= 0 || b.TargetATR <= 0 {
		return fmt.Errorf("bot.stop_atr and bot.target_atr must be > 0")
	}
	return positiveDurations(map[string]time.Duration{
		"bot.cycle_interval":         b.CycleInterval,
		"bot.instrument_timeout":     b.InstrumentTimeout,
		"bot.risk_snapshot_interval": b.RiskSnapshotInterval,
		"bot.sweep_interval":         b.SweepInterval,
	})
}

func (s *ScannerConfig) validate() error {
	if len(s.Watchlist()) == 0 {
		return fmt.Errorf("scanner requires at least one symbol in high/standard/low")
	}
	for _, sym := range s.Watchlist() {
		if !symbol.IsValid(sym) {
			return fmt.Errorf("scanner: invalid symbol %q", sym)
		}
	}
	if s.PromoteConfidence > 100 {
		return fmt.Errorf("scanner.promote_confidence must be <= 100")
	}
	return positiveDurations(map[string]time.Duration{
		"scanner.high_interval":      s.HighInterval,
		"scanner.standard_interval":  s.StandardInterval,
		"scanner.low_interval":       s.LowInterval,
		"scanner.inactivity_window":  s.InactivityWindow,
		"scanner.rate_limit_backoff": s.RateLimitBackoff,
	})
}

func (g *GateConfig) validate() error {
	switch g.Evaluator {
	case "rule", "advisory":
	default:
		return fmt.Errorf("gate.evaluator must be rule or advisory, got %q", g.Evaluator)
	}
	if g.AutoReject >= g.AutoApprove {
		return fmt.Errorf("gate.auto_reject (%.0f) must be < gate.auto_approve (%.0f)", g.AutoReject, g.AutoApprove)
	}
	if g.AutoApprove > 100 {
		return fmt.Errorf("gate.auto_approve must be <= 100")
	}
	if err := fraction("gate.max_buying_power_pct", g.MaxBuyingPowerPct); err != nil {
		return err
	}
	return fraction("gate.reduce_size_multiplier", g.ReduceSizeMultiplier)
}

func (a *AdvisoryConfig) validate(evaluator string) error {
	if !a.Enabled {
		if evaluator == "advisory" {
			return fmt.Errorf("gate.evaluator=advisory requires advisory.enabled")
		}
		return nil
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("advisory.model is required when advisory is enabled")
	}
	if strings.TrimSpace(a.APIURL) == "" {
		return fmt.Errorf("advisory.api_url is required when advisory is enabled")
	}
	return nil
}

func (s *SizingConfig) validate() error {
	for key, v := range map[string]float64{
		"sizing.risk_per_trade_pct":  s.RiskPerTradePct,
		"sizing.max_position_pct":    s.MaxPositionPct,
		"sizing.max_exposure_pct":    s.MaxExposurePct,
		"sizing.default_stop_pct":    s.DefaultStopPct,
		"sizing.kelly_fraction":      s.KellyFraction,
		"sizing.baseline_volatility": s.BaselineVolatility,
	} {
		if err := fraction(key, v); err != nil {
			return err
		}
	}
	if s.QtyPrecision > 8 {
		return fmt.Errorf("sizing.qty_precision must be <= 8")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if err := fraction("risk.trip_drawdown", r.TripDrawdown); err != nil {
		return err
	}
	if r.ResetDrawdown >= r.TripDrawdown {
		return fmt.Errorf("risk.reset_drawdown (%.4f) must be < risk.trip_drawdown (%.4f)", r.ResetDrawdown, r.TripDrawdown)
	}
	if r.CorrelationThreshold <= 0 || r.CorrelationThreshold > 1 {
		return fmt.Errorf("risk.correlation_threshold must be in (0,1]")
	}
	if r.MaxCorrelated <= 0 {
		return fmt.Errorf("risk.max_correlated must be > 0")
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if _, err := order.ParseAction(m.PartialFillAction); err != nil {
		return fmt.Errorf("monitor.partial_fill_action: %w", err)
	}
	return positiveDurations(map[string]time.Duration{
		"monitor.poll_interval":        m.PollInterval,
		"monitor.partial_fill_timeout": m.PartialFillTimeout,
	})
}

func (b *BrokerConfig) validate() error {
	if b.Name != "alpaca" {
		return fmt.Errorf("unsupported broker: %s", b.Name)
	}
	if b.APIKey == "" || b.APISecret == "" {
		return fmt.Errorf("broker.api_key and broker.api_secret are required")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.Equity != "alpaca" {
		return fmt.Errorf("unsupported equity market source: %s", m.Equity)
	}
	switch m.Crypto {
	case "binance", "alpaca", "none":
	default:
		return fmt.Errorf("unsupported crypto market source: %s", m.Crypto)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Path) == "" || strings.TrimSpace(s.JournalPath) == "" {
		return fmt.Errorf("store.path and store.journal_path are required when store is enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}

// IsValidTimeframe 接受 Alpaca 写法（15Min/1Hour/1Day）。
func IsValidTimeframe(tf string) bool {
	tf = strings.TrimSpace(tf)
	for _, suffix := range []string{"Min", "Hour", "Day", "Week"} {
		if strings.HasSuffix(tf, suffix) {
			_, ok := scheduler.ParseIntervalDuration(tf)
			return ok
		}
	}
	return false
}

func fraction(key string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0,1], got %v", key, v)
	}
	return nil
}

func positiveDurations(fields map[string]time.Duration) error {
	for key, d := range fields {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	return nil
}
