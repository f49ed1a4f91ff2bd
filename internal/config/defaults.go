package config

import (
	"os"
	"strings"
	"time"

	"autotrade/internal/bot"
	"autotrade/internal/gate"
	"autotrade/internal/risk"
	"autotrade/internal/scanner"
	"autotrade/internal/sizing"
)

// 默认值常量；组件自身的阈值默认值取自各包的 DefaultConfig，避免两处漂移。
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultAppLogPath      = "data/logs/autotrade.log"
	defaultExecLogCapacity = 1000
	defaultGateEvaluator   = "rule"
	defaultGateHistory     = 500
	defaultGateCacheTTL    = 60 * time.Second
	defaultGateBucketWidth = 10
	defaultAdvisoryURL     = "https://api.openai.com/v1"
	defaultAdvisoryTimeout = 20 * time.Second
	defaultAdvisoryRetries = 2
	defaultBreakerThresh   = 3
	defaultBreakerCooldown = 2 * time.Minute
	defaultSectorsPath     = "sectors.yaml"
	defaultPollInterval    = 2 * time.Second
	defaultMonitorHistory  = 500
	defaultPartialAction   = "wait"
	defaultPartialTimeout  = 60 * time.Second
	defaultBrokerName      = "alpaca"
	defaultBrokerTimeout   = 15 * time.Second
	defaultEquitySource    = "alpaca"
	defaultCryptoSource    = "binance"
	defaultBinanceREST     = "https://api.binance.com"
	defaultStorePath       = "data/db/autotrade.db"
	defaultJournalPath     = "data/db/gate_journal.db"
	defaultStoreBuffer     = 1024
	defaultStopATR         = 2
	defaultTargetATR       = 4
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Bot.applyDefaults(keys)
	c.Scanner.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Advisory.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.Telegram.BotToken = expandEnv(c.Notify.Telegram.BotToken)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (b *BotConfig) applyDefaults(keys keySet) {
	def := bot.DefaultConfig()
	applyFieldDefaults(keys,
		durationFieldDefault("bot.cycle_interval", &b.CycleInterval, def.CycleInterval),
		intFieldDefault("bot.batch_size", &b.BatchSize, def.BatchSize),
		stringFieldDefault("bot.timeframe", &b.Timeframe, def.Timeframe),
		intFieldDefault("bot.bar_limit", &b.BarLimit, def.BarLimit),
		floatFieldDefault("bot.min_confidence", &b.MinConfidence, def.MinConfidence),
		stringFieldDefault("bot.sizing_method", &b.SizingMethod, string(def.SizingMethod)),
		stringFieldDefault("bot.order_type", &b.OrderType, def.OrderType),
		intFieldDefault("bot.permission_error_cycles", &b.PermissionErrorCycles, def.PermissionErrorCycles),
		durationFieldDefault("bot.instrument_timeout", &b.InstrumentTimeout, def.InstrumentTimeout),
		intFieldDefault("bot.fetch_concurrency", &b.FetchConcurrency, def.FetchConcurrency),
		durationFieldDefault("bot.risk_snapshot_interval", &b.RiskSnapshotInterval, def.RiskSnapshotInterval),
		durationFieldDefault("bot.sweep_interval", &b.SweepInterval, def.SweepInterval),
		intFieldDefault("bot.execlog_capacity", &b.ExecLogCapacity, defaultExecLogCapacity),
		floatFieldDefault("bot.stop_atr", &b.StopATR, defaultStopATR),
		floatFieldDefault("bot.target_atr", &b.TargetATR, defaultTargetATR),
	)
}

func (s *ScannerConfig) applyDefaults(keys keySet) {
	iv := scanner.DefaultIntervals()
	applyFieldDefaults(keys,
		durationFieldDefault("scanner.high_interval", &s.HighInterval, iv.High),
		durationFieldDefault("scanner.standard_interval", &s.StandardInterval, iv.Standard),
		durationFieldDefault("scanner.low_interval", &s.LowInterval, iv.Low),
		floatFieldDefault("scanner.promote_confidence", &s.PromoteConfidence, scanner.DefaultPromoteConfidence),
		durationFieldDefault("scanner.inactivity_window", &s.InactivityWindow, scanner.DefaultInactivityWindow),
		durationFieldDefault("scanner.rate_limit_backoff", &s.RateLimitBackoff, scanner.DefaultRateLimitBackoff),
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	def := gate.DefaultRuleConfig()
	applyFieldDefaults(keys,
		stringFieldDefault("gate.evaluator", &g.Evaluator, defaultGateEvaluator),
		floatFieldDefault("gate.auto_approve", &g.AutoApprove, def.AutoApproveThreshold),
		floatFieldDefault("gate.auto_reject", &g.AutoReject, def.AutoRejectThreshold),
		floatFieldDefault("gate.min_confidence", &g.MinConfidence, def.MinConfidence),
		intFieldDefault("gate.max_positions", &g.MaxPositions, def.MaxPositions),
		floatFieldDefault("gate.min_reward_risk", &g.MinRewardRisk, def.MinRewardRisk),
		floatFieldDefault("gate.good_reward_risk", &g.GoodRewardRisk, def.GoodRewardRisk),
		floatFieldDefault("gate.rsi_overbought", &g.RSIOverbought, def.RSIOverbought),
		floatFieldDefault("gate.rsi_oversold", &g.RSIOversold, def.RSIOversold),
		floatFieldDefault("gate.max_buying_power_pct", &g.MaxBuyingPowerPct, def.MaxBuyingPowerPct),
		floatFieldDefault("gate.reduce_size_multiplier", &g.ReduceSizeMultiplier, def.ReduceSizeMultiplier),
		intFieldDefault("gate.max_concerns", &g.MaxConcerns, def.MaxConcerns),
		intFieldDefault("gate.history_size", &g.HistorySize, defaultGateHistory),
		durationFieldDefault("gate.cache_ttl", &g.CacheTTL, defaultGateCacheTTL),
		floatFieldDefault("gate.bucket_width", &g.BucketWidth, defaultGateBucketWidth),
	)
	g.Evaluator = strings.ToLower(strings.TrimSpace(g.Evaluator))
}

func (a *AdvisoryConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("advisory.api_url", &a.APIURL, defaultAdvisoryURL),
		durationFieldDefault("advisory.timeout", &a.Timeout, defaultAdvisoryTimeout),
		intFieldDefault("advisory.max_retries", &a.MaxRetries, defaultAdvisoryRetries),
		intFieldDefault("advisory.breaker_threshold", &a.BreakerThreshold, defaultBreakerThresh),
		durationFieldDefault("advisory.breaker_cooldown", &a.BreakerCooldown, defaultBreakerCooldown),
	)
	a.APIKey = expandEnv(a.APIKey)
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	def := sizing.DefaultConfig()
	applyFieldDefaults(keys,
		floatFieldDefault("sizing.risk_per_trade_pct", &s.RiskPerTradePct, def.RiskPerTradePct),
		floatFieldDefault("sizing.max_position_pct", &s.MaxPositionPct, def.MaxPositionPct),
		floatFieldDefault("sizing.max_exposure_pct", &s.MaxExposurePct, def.MaxExposurePct),
		floatFieldDefault("sizing.default_stop_pct", &s.DefaultStopPct, def.DefaultStopPct),
		floatFieldDefault("sizing.kelly_fraction", &s.KellyFraction, def.KellyFraction),
		floatFieldDefault("sizing.kelly_payoff", &s.KellyPayoff, def.KellyPayoff),
		floatFieldDefault("sizing.baseline_volatility", &s.BaselineVolatility, def.BaselineVolatility),
		intFieldDefault("sizing.volatility_lookback", &s.VolatilityLookback, def.VolatilityLookback),
		intFieldDefault("sizing.qty_precision", &s.QtyPrecision, int(def.QtyPrecision)),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	def := risk.DefaultConfig()
	applyFieldDefaults(keys,
		floatFieldDefault("risk.trip_drawdown", &r.TripDrawdown, def.TripDrawdown),
		floatFieldDefault("risk.reset_drawdown", &r.ResetDrawdown, def.ResetDrawdown),
		floatFieldDefault("risk.correlation_threshold", &r.CorrelationThreshold, def.CorrelationThreshold),
		intFieldDefault("risk.max_correlated", &r.MaxCorrelated, def.MaxCorrelated),
		durationFieldDefault("risk.correlation_ttl", &r.CorrelationTTL, def.CorrelationTTL),
		intFieldDefault("risk.correlation_cache_size", &r.CorrelationCacheSize, def.CorrelationCacheSize),
		intFieldDefault("risk.min_overlap", &r.MinOverlap, def.MinOverlap),
		intFieldDefault("risk.returns_lookback", &r.ReturnsLookback, def.ReturnsLookback),
		floatFieldDefault("risk.same_sector_estimate", &r.SameSectorEstimate, def.SameSectorEstimate),
		floatFieldDefault("risk.cross_sector_estimate", &r.CrossSectorEstimate, def.CrossSectorEstimate),
		stringFieldDefault("risk.sectors_path", &r.SectorsPath, defaultSectorsPath),
		boolFieldDefault("risk.watch_sectors", &r.WatchSectors, true),
	)
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		durationFieldDefault("monitor.poll_interval", &m.PollInterval, defaultPollInterval),
		intFieldDefault("monitor.history_size", &m.HistorySize, defaultMonitorHistory),
		stringFieldDefault("monitor.partial_fill_action", &m.PartialFillAction, defaultPartialAction),
		durationFieldDefault("monitor.partial_fill_timeout", &m.PartialFillTimeout, defaultPartialTimeout),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("broker.name", &b.Name, defaultBrokerName),
		durationFieldDefault("broker.timeout", &b.Timeout, defaultBrokerTimeout),
	)
	b.Name = strings.ToLower(strings.TrimSpace(b.Name))
	b.APIKey = expandEnv(b.APIKey)
	b.APISecret = expandEnv(b.APISecret)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.equity", &m.Equity, defaultEquitySource),
		stringFieldDefault("market.crypto", &m.Crypto, defaultCryptoSource),
		stringFieldDefault("market.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultBinanceREST),
		durationFieldDefault("market.binance.timeout", &m.Binance.Timeout, defaultBrokerTimeout),
	)
	m.Equity = strings.ToLower(strings.TrimSpace(m.Equity))
	m.Crypto = strings.ToLower(strings.TrimSpace(m.Crypto))
	m.Binance.Proxy.normalize()
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("store.enabled", &s.Enabled, true),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
		intFieldDefault("store.buffer_size", &s.BufferSize, defaultStoreBuffer),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

// expandEnv 支持在密钥字段中写 ${ALPACA_API_KEY}。
func expandEnv(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "$") {
		return s
	}
	return strings.TrimSpace(os.ExpandEnv(s))
}
