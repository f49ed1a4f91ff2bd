package app

import (
	"context"
	"fmt"

	"autotrade/internal/bot"
	brcfg "autotrade/internal/config"
	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/gateway"
	"autotrade/internal/gateway/alpaca"
	"autotrade/internal/gateway/notifier"
	"autotrade/internal/logger"
	"autotrade/internal/market"
	"autotrade/internal/order"
	"autotrade/internal/risk"
	"autotrade/internal/scanner"
	"autotrade/internal/sizing"
	livehttp "autotrade/internal/transport/http/live"
)

// AppBuilder 按配置组装全部组件；各 *Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg *brcfg.Config

	brokerFn    func(brcfg.BrokerConfig) (*alpaca.Client, error)
	marketFn    func(brcfg.MarketConfig, *alpaca.Client) (*market.Router, error)
	sectorsFn   func(brcfg.RiskConfig) (risk.SectorSource, error)
	evaluatorFn func(brcfg.GateConfig, brcfg.AdvisoryConfig) (gate.Evaluator, error)
	storesFn    func(brcfg.StoreConfig) (*storeSet, error)
	liveHTTPFn  func(brcfg.AppConfig, livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		brokerFn:    gateway.NewBrokerFromConfig,
		marketFn:    gateway.NewMarketRouter,
		sectorsFn:   loadSectors,
		evaluatorFn: buildEvaluator,
		storesFn:    openStores,
		liveHTTPFn:  buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	broker, err := b.brokerFn(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("初始化经纪商失败: %w", err)
	}
	router, err := b.marketFn(cfg.Market, broker)
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}

	sectors, err := b.sectorsFn(cfg.Risk)
	if err != nil {
		return nil, err
	}
	governor := risk.NewGovernor(riskConfig(cfg.Risk), sectors)
	if reg, ok := sectors.(*risk.SectorRegistry); ok {
		reg.OnReload(func(t *risk.SectorTable) {
			logger.Infof("板块表 v%d 已重载，清空相关性缓存", t.Version)
			governor.ResetCorrelationCache()
		})
	}

	sc := scanner.New(scannerConfig(cfg.Scanner))
	registerWatchlist(sc, cfg.Scanner)
	logger.Infof("✓ 已注册 %d 个标的: %v", len(sc.Symbols()), sc.Symbols())

	evaluator, err := b.evaluatorFn(cfg.Gate, cfg.Advisory)
	if err != nil {
		return nil, err
	}
	tradeGate := gate.New(evaluator, governor, gate.Config{
		HistorySize:  cfg.Gate.HistorySize,
		CacheEnabled: cfg.Gate.CacheEnabled,
		CacheTTL:     cfg.Gate.CacheTTL,
		BucketWidth:  cfg.Gate.BucketWidth,
	})
	logger.Infof("✓ Trade Gate: %s", tradeGate)

	sizer := sizing.New(sizingConfig(cfg.Sizing))
	action, err := order.ParseAction(cfg.Monitor.PartialFillAction)
	if err != nil {
		return nil, err
	}
	monitor := order.NewMonitor(broker, order.Config{
		PollInterval:       cfg.Monitor.PollInterval,
		HistorySize:        cfg.Monitor.HistorySize,
		PartialFillAction:  action,
		PartialFillTimeout: cfg.Monitor.PartialFillTimeout,
	})
	execLog := execlog.New(cfg.Bot.ExecLogCapacity)

	stores, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	var sink bot.Sink
	if stores != nil {
		sink = stores.sink
	}

	deps := bot.Deps{
		Scanner:  sc,
		Gate:     tradeGate,
		Sizer:    sizer,
		Governor: governor,
		Monitor:  monitor,
		ExecLog:  execLog,
		Broker:   broker,
		Market:   router,
		Sink:     sink,
	}
	if tg := newTelegram(cfg.Notify); tg != nil {
		deps.Notifier = tg
	}
	botCfg, err := botConfig(cfg.Bot)
	if err != nil {
		return nil, err
	}
	ctrl, err := bot.NewController(botCfg, deps)
	if err != nil {
		stores.Close()
		return nil, err
	}

	httpCfg := livehttp.ServerConfig{
		Bot:      ctrl,
		Orders:   monitor,
		Gate:     tradeGate,
		Risk:     governor,
		Scanner:  sc,
		Attempts: execLog,

		Bars:           router,
		ChartTimeframe: botCfg.Timeframe,
		ChartSignal:    botCfg.Signal,
	}
	if stores != nil {
		httpCfg.History = stores.orders
		httpCfg.Journal = stores.journal
	}
	httpSrv, err := b.liveHTTPFn(cfg.App, httpCfg)
	if err != nil {
		stores.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		ctrl:     ctrl,
		stores:   stores,
		liveHTTP: httpSrv,
		Summary:  newStartupSummary(cfg, sc, evaluator.Name()),
	}, nil
}

func registerWatchlist(sc *scanner.Scanner, cfg brcfg.ScannerConfig) {
	for _, group := range []struct {
		tier scanner.Tier
		syms []string
	}{
		{scanner.TierHigh, cfg.High},
		{scanner.TierStandard, cfg.Standard},
		{scanner.TierLow, cfg.Low},
	} {
		// Register 对已登记标的不做修改，所以先登记的高分层优先。
		for _, sym := range group.syms {
			sc.Register(sym, group.tier)
		}
	}
}

func loadSectors(cfg brcfg.RiskConfig) (risk.SectorSource, error) {
	if cfg.SectorsPath == "" {
		logger.Warnf("risk.sectors_path 未配置，相关性只使用收益率数据")
		return nil, nil
	}
	reg, err := risk.NewSectorRegistry(cfg.SectorsPath, cfg.WatchSectors)
	if err != nil {
		return nil, fmt.Errorf("加载板块表失败: %w", err)
	}
	logger.Infof("✓ 板块表 %s: %d 个标的 (watch=%v)", cfg.SectorsPath, reg.Table().Len(), cfg.WatchSectors)
	return reg, nil
}

func newTelegram(cfg brcfg.NotifyConfig) *notifier.Telegram {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func buildLiveHTTPServer(cfg brcfg.AppConfig, deps livehttp.ServerConfig) (*livehttp.Server, error) {
	if cfg.HTTPAddr == "" {
		return nil, nil
	}
	deps.Addr = cfg.HTTPAddr
	server, err := livehttp.NewServer(deps)
	if err != nil {
		return nil, fmt.Errorf("初始化 live HTTP 失败: %w", err)
	}
	logger.Infof("✓ Live HTTP 接口监听 %s", server.Addr())
	return server, nil
}
