package config

import (
	"strings"
	"time"
)

// Config 是 autotrade 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Bot      BotConfig      `toml:"bot"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Gate     GateConfig     `toml:"gate"`
	Advisory AdvisoryConfig `toml:"advisory"`
	Sizing   SizingConfig   `toml:"sizing"`
	Risk     RiskConfig     `toml:"risk"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Broker   BrokerConfig   `toml:"broker"`
	Market   MarketConfig   `toml:"market"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// BotConfig 控制周期编排。
type BotConfig struct {
	AutoStart             bool          `toml:"auto_start"`
	CycleInterval         time.Duration `toml:"cycle_interval"`
	BatchSize             int           `toml:"batch_size"`
	Timeframe             string        `toml:"timeframe"`
	BarLimit              int           `toml:"bar_limit"`
	MinConfidence         float64       `toml:"min_confidence"`
	SizingMethod          string        `toml:"sizing_method"`
	OrderType             string        `toml:"order_type"`
	Bracket               bool          `toml:"bracket"`
	AllowShort            bool          `toml:"allow_short"`
	PermissionErrorCycles int           `toml:"permission_error_cycles"`
	InstrumentTimeout     time.Duration `toml:"instrument_timeout"`
	FetchConcurrency      int           `toml:"fetch_concurrency"`
	RiskSnapshotInterval  time.Duration `toml:"risk_snapshot_interval"`
	SweepInterval         time.Duration `toml:"sweep_interval"`
	ExecLogCapacity       int           `toml:"execlog_capacity"`
	StopATR               float64       `toml:"stop_atr"`
	TargetATR             float64       `toml:"target_atr"`
}

// ScannerConfig 的三个列表是启动时注册的初始分层。
type ScannerConfig struct {
	High              []string      `toml:"high"`
	Standard          []string      `toml:"standard"`
	Low               []string      `toml:"low"`
	HighInterval      time.Duration `toml:"high_interval"`
	StandardInterval  time.Duration `toml:"standard_interval"`
	LowInterval       time.Duration `toml:"low_interval"`
	PromoteConfidence float64       `toml:"promote_confidence"`
	InactivityWindow  time.Duration `toml:"inactivity_window"`
	RateLimitBackoff  time.Duration `toml:"rate_limit_backoff"`
}

// Watchlist 返回全部标的（去重后按配置顺序）。
func (s ScannerConfig) Watchlist() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{s.High, s.Standard, s.Low} {
		for _, sym := range list {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

type GateConfig struct {
	Evaluator            string        `toml:"evaluator"`
	AutoApprove          float64       `toml:"auto_approve"`
	AutoReject           float64       `toml:"auto_reject"`
	MinConfidence        float64       `toml:"min_confidence"`
	MaxPositions         int           `toml:"max_positions"`
	MinRewardRisk        float64       `toml:"min_reward_risk"`
	GoodRewardRisk       float64       `toml:"good_reward_risk"`
	RSIOverbought        float64       `toml:"rsi_overbought"`
	RSIOversold          float64       `toml:"rsi_oversold"`
	MaxBuyingPowerPct    float64       `toml:"max_buying_power_pct"`
	ReduceSizeMultiplier float64       `toml:"reduce_size_multiplier"`
	MaxConcerns          int           `toml:"max_concerns"`
	HistorySize          int           `toml:"history_size"`
	CacheEnabled         bool          `toml:"cache_enabled"`
	CacheTTL             time.Duration `toml:"cache_ttl"`
	BucketWidth          float64       `toml:"bucket_width"`
}

// AdvisoryConfig 描述 OpenAI 兼容的外部顾问。
type AdvisoryConfig struct {
	Enabled          bool              `toml:"enabled"`
	APIURL           string            `toml:"api_url"`
	APIKey           string            `toml:"api_key"`
	Model            string            `toml:"model"`
	Headers          map[string]string `toml:"headers"`
	Timeout          time.Duration     `toml:"timeout"`
	MaxRetries       int               `toml:"max_retries"`
	BreakerThreshold int               `toml:"breaker_threshold"`
	BreakerCooldown  time.Duration     `toml:"breaker_cooldown"`
	DumpPath         string            `toml:"dump_path"`
}

type SizingConfig struct {
	RiskPerTradePct    float64 `toml:"risk_per_trade_pct"`
	MaxPositionPct     float64 `toml:"max_position_pct"`
	MaxExposurePct     float64 `toml:"max_exposure_pct"`
	DefaultStopPct     float64 `toml:"default_stop_pct"`
	KellyFraction      float64 `toml:"kelly_fraction"`
	KellyPayoff        float64 `toml:"kelly_payoff"`
	BaselineVolatility float64 `toml:"baseline_volatility"`
	VolatilityLookback int     `toml:"volatility_lookback"`
	FractionalShares   bool    `toml:"fractional_shares"`
	QtyPrecision       int     `toml:"qty_precision"`
}

type RiskConfig struct {
	TripDrawdown         float64       `toml:"trip_drawdown"`
	ResetDrawdown        float64       `toml:"reset_drawdown"`
	CorrelationThreshold float64       `toml:"correlation_threshold"`
	MaxCorrelated        int           `toml:"max_correlated"`
	CorrelationTTL       time.Duration `toml:"correlation_ttl"`
	CorrelationCacheSize int           `toml:"correlation_cache_size"`
	MinOverlap           int           `toml:"min_overlap"`
	ReturnsLookback      int           `toml:"returns_lookback"`
	SameSectorEstimate   float64       `toml:"same_sector_estimate"`
	CrossSectorEstimate  float64       `toml:"cross_sector_estimate"`
	SectorsPath          string        `toml:"sectors_path"`
	WatchSectors         bool          `toml:"watch_sectors"`
}

type MonitorConfig struct {
	PollInterval       time.Duration `toml:"poll_interval"`
	HistorySize        int           `toml:"history_size"`
	PartialFillAction  string        `toml:"partial_fill_action"`
	PartialFillTimeout time.Duration `toml:"partial_fill_timeout"`
}

// BrokerConfig 目前只支持 Alpaca 兼容接口；密钥支持 ${ENV} 展开。
type BrokerConfig struct {
	Name       string        `toml:"name"`
	APIKey     string        `toml:"api_key"`
	APISecret  string        `toml:"api_secret"`
	TradingURL string        `toml:"trading_url"`
	DataURL    string        `toml:"data_url"`
	Feed       string        `toml:"feed"`
	CryptoLoc  string        `toml:"crypto_loc"`
	Timeout    time.Duration `toml:"timeout"`
}

// MarketConfig 按资产类别选择行情源。
type MarketConfig struct {
	Equity  string        `toml:"equity"`
	Crypto  string        `toml:"crypto"`
	Binance BinanceConfig `toml:"binance"`
}

type BinanceConfig struct {
	RESTBaseURL string        `toml:"rest_base_url"`
	Timeout     time.Duration `toml:"timeout"`
	Proxy       ProxyConfig   `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	if p.RESTURL == "" {
		p.Enabled = false
	}
}

type StoreConfig struct {
	Enabled     bool   `toml:"enabled"`
	Path        string `toml:"path"`
	JournalPath string `toml:"journal_path"`
	BufferSize  int    `toml:"buffer_size"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
