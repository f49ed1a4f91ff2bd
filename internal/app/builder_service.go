package app

import (
	"errors"
	"fmt"

	"autotrade/internal/analysis/signal"
	"autotrade/internal/bot"
	brcfg "autotrade/internal/config"
	"autotrade/internal/gate"
	"autotrade/internal/gateway/advisory"
	"autotrade/internal/logger"
	"autotrade/internal/pkg/circuit"
	"autotrade/internal/risk"
	"autotrade/internal/scanner"
	"autotrade/internal/sizing"
	"autotrade/internal/store"
	"autotrade/internal/store/gormstore"
	"autotrade/internal/store/journal"
)

// buildEvaluator 选择规则评估器或带回退的外部顾问。
func buildEvaluator(cfg brcfg.GateConfig, adv brcfg.AdvisoryConfig) (gate.Evaluator, error) {
	rule := gate.NewRuleBasedEvaluator(gate.RuleConfig{
		AutoApproveThreshold: cfg.AutoApprove,
		AutoRejectThreshold:  cfg.AutoReject,
		MinConfidence:        cfg.MinConfidence,
		MaxPositions:         cfg.MaxPositions,
		MinRewardRisk:        cfg.MinRewardRisk,
		GoodRewardRisk:       cfg.GoodRewardRisk,
		RSIOverbought:        cfg.RSIOverbought,
		RSIOversold:          cfg.RSIOversold,
		MaxBuyingPowerPct:    cfg.MaxBuyingPowerPct,
		ReduceSizeMultiplier: cfg.ReduceSizeMultiplier,
		MaxConcerns:          cfg.MaxConcerns,
	})
	if cfg.Evaluator != "advisory" {
		return rule, nil
	}
	if !adv.Enabled {
		return nil, fmt.Errorf("gate.evaluator=advisory requires advisory.enabled")
	}
	client := advisory.NewChatClient(adv.APIURL, adv.APIKey, adv.Model, adv.Timeout)
	if adv.MaxRetries > 0 {
		client.MaxRetries = adv.MaxRetries
	}
	client.ExtraHeaders = adv.Headers
	advisor, err := advisory.NewAdvisor(adv.Model, client)
	if err != nil {
		return nil, fmt.Errorf("初始化外部顾问失败: %w", err)
	}
	breaker := circuit.NewCircuitBreaker("advisory", adv.BreakerThreshold, adv.BreakerCooldown)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("%s breaker %s -> %s", name, from, to)
	})
	logger.Infof("✓ 外部顾问 %s (%s)", adv.Model, adv.APIURL)
	return gate.NewDelegatedEvaluator(advisor, rule, breaker, adv.Timeout), nil
}

// storeSet 持有落库组件，Close 可在 nil 上调用。
type storeSet struct {
	orders  *gormstore.GormStore
	journal *journal.Store
	sink    *store.AsyncSink
}

func openStores(cfg brcfg.StoreConfig) (*storeSet, error) {
	if !cfg.Enabled {
		logger.Infof("store 未启用，执行记录只保存在内存中")
		return nil, nil
	}
	orders, err := gormstore.NewGormStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化订单库失败: %w", err)
	}
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		_ = orders.Close()
		return nil, fmt.Errorf("初始化裁决日志失败: %w", err)
	}
	sink := store.NewAsyncSink(store.Writers{Attempts: orders, Orders: orders, Decisions: j}, cfg.BufferSize)
	logger.Infof("✓ 持久化: %s, %s (buffer=%d)", cfg.Path, cfg.JournalPath, cfg.BufferSize)
	return &storeSet{orders: orders, journal: j, sink: sink}, nil
}

func (s *storeSet) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.orders.Close(), s.journal.Close())
}

func botConfig(c brcfg.BotConfig) (bot.Config, error) {
	method, err := sizing.ParseMethod(c.SizingMethod)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{
		CycleInterval:         c.CycleInterval,
		BatchSize:             c.BatchSize,
		Timeframe:             c.Timeframe,
		BarLimit:              c.BarLimit,
		MinConfidence:         c.MinConfidence,
		SizingMethod:          method,
		OrderType:             c.OrderType,
		Bracket:               c.Bracket,
		AllowShort:            c.AllowShort,
		PermissionErrorCycles: c.PermissionErrorCycles,
		InstrumentTimeout:     c.InstrumentTimeout,
		FetchConcurrency:      c.FetchConcurrency,
		RiskSnapshotInterval:  c.RiskSnapshotInterval,
		SweepInterval:         c.SweepInterval,
		Signal:                signal.Settings{StopATR: c.StopATR, TargetATR: c.TargetATR},
	}, nil
}

func scannerConfig(c brcfg.ScannerConfig) scanner.Config {
	return scanner.Config{
		Intervals: scanner.Intervals{
			High:     c.HighInterval,
			Standard: c.StandardInterval,
			Low:      c.LowInterval,
		},
		PromoteConfidence: c.PromoteConfidence,
		InactivityWindow:  c.InactivityWindow,
		RateLimitBackoff:  c.RateLimitBackoff,
	}
}

func riskConfig(c brcfg.RiskConfig) risk.Config {
	return risk.Config{
		TripDrawdown:         c.TripDrawdown,
		ResetDrawdown:        c.ResetDrawdown,
		CorrelationThreshold: c.CorrelationThreshold,
		MaxCorrelated:        c.MaxCorrelated,
		CorrelationTTL:       c.CorrelationTTL,
		CorrelationCacheSize: c.CorrelationCacheSize,
		MinOverlap:           c.MinOverlap,
		ReturnsLookback:      c.ReturnsLookback,
		SameSectorEstimate:   c.SameSectorEstimate,
		CrossSectorEstimate:  c.CrossSectorEstimate,
	}
}

func sizingConfig(c brcfg.SizingConfig) sizing.Config {
	return sizing.Config{
		RiskPerTradePct:    c.RiskPerTradePct,
		MaxPositionPct:     c.MaxPositionPct,
		MaxExposurePct:     c.MaxExposurePct,
		DefaultStopPct:     c.DefaultStopPct,
		KellyFraction:      c.KellyFraction,
		KellyPayoff:        c.KellyPayoff,
		BaselineVolatility: c.BaselineVolatility,
		VolatilityLookback: c.VolatilityLookback,
		FractionalShares:   c.FractionalShares,
		QtyPrecision:       int32(c.QtyPrecision),
	}
}
