package scanner

import (
	"errors"
	"sort"
	"sync"
	"time"

	"autotrade/internal/logger"
	"autotrade/internal/pkg/symbol"
)

var (
	log = logger.Component("PriorityScanner")

	ErrUnknownSymbol = errors.New("symbol not registered")
)

const (
	DefaultPromoteConfidence = 70.0
	DefaultInactivityWindow  = 10 * time.Minute
	DefaultRateLimitBackoff  = 60 * time.Second
)

type Config struct {
	Intervals         Intervals
	PromoteConfidence float64
	InactivityWindow  time.Duration
	RateLimitBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	def := DefaultIntervals()
	if c.Intervals.High <= 0 {
		c.Intervals.High = def.High
	}
	if c.Intervals.Standard <= 0 {
		c.Intervals.Standard = def.Standard
	}
	if c.Intervals.Low <= 0 {
		c.Intervals.Low = def.Low
	}
	if c.PromoteConfidence <= 0 {
		c.PromoteConfidence = DefaultPromoteConfidence
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = DefaultInactivityWindow
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = DefaultRateLimitBackoff
	}
	return c
}

// SymbolPriority 是某个标的的调度状态快照。
type SymbolPriority struct {
	Symbol          string    `json:"symbol"`
	Tier            Tier      `json:"tier"`
	LastScan        time.Time `json:"last_scan"`
	ScanCount       int       `json:"scan_count"`
	VolumeRatio     float64   `json:"volume_ratio"`
	VolatilityRatio float64   `json:"volatility_ratio"`
	PriceChangePct  float64   `json:"price_change_pct"`
	NewsSpike       bool      `json:"news_spike"`
	Sentiment       float64   `json:"sentiment"`
	SignalCount     int       `json:"signal_count"`
	LastSignalType  string    `json:"last_signal_type,omitempty"`
	LastSignalAt    time.Time `json:"last_signal_at"`
	HighSince       time.Time `json:"high_since"`
	PromotedAt      time.Time `json:"promoted_at"`
	NotBefore       time.Time `json:"not_before"`
}

// Scanner 维护所有跟踪标的的优先级，并发安全。
type Scanner struct {
	cfg   Config
	nowFn func() time.Time

	mu      sync.RWMutex
	entries map[string]*SymbolPriority
}

func New(cfg Config) *Scanner {
	return &Scanner{
		cfg:     cfg.withDefaults(),
		nowFn:   time.Now,
		entries: make(map[string]*SymbolPriority),
	}
}

// SetClock 替换时间源，测试用。
func (s *Scanner) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// Register 登记标的；重复登记保留已有状态。
func (s *Scanner) Register(sym string, initial Tier) {
	sym = symbol.Normalize(sym)
	if sym == "" {
		return
	}
	if !initial.Valid() {
		initial = TierStandard
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sym]; ok {
		return
	}
	e := &SymbolPriority{Symbol: sym, Tier: initial}
	if initial == TierHigh {
		e.HighSince = s.nowFn()
	}
	s.entries[sym] = e
	log.Debugf("registered %s tier=%s", sym, initial)
}

func (s *Scanner) Unregister(sym string) {
	s.mu.Lock()
	delete(s.entries, symbol.Normalize(sym))
	s.mu.Unlock()
}

func (s *Scanner) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for sym := range s.entries {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// UpdateMetrics 刷新指标并重算等级。信号晋升仍在有效期内时不会被降级。
func (s *Scanner) UpdateMetrics(sym string, m Metrics) (Tier, error) {
	sym = symbol.Normalize(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sym]
	if !ok {
		return "", ErrUnknownSymbol
	}
	now := s.nowFn()
	e.VolumeRatio = m.VolumeRatio
	e.VolatilityRatio = m.VolatilityRatio
	e.PriceChangePct = m.PriceChangePct
	e.NewsSpike = m.NewsSpike
	e.Sentiment = m.Sentiment

	next := ComputeTier(m)
	if next != TierHigh && s.promotionActive(e, now) {
		next = TierHigh
	}
	s.setTier(e, next, now)
	return e.Tier, nil
}

// RecordScan 标记一次扫描完成。
func (s *Scanner) RecordScan(sym string) {
	sym = symbol.Normalize(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sym]; ok {
		e.LastScan = s.nowFn()
		e.ScanCount++
	}
}

// RecordSignal 记录信号；置信度达到阈值时强制晋升为 HIGH。
func (s *Scanner) RecordSignal(sym, signalType string, confidence float64) {
	sym = symbol.Normalize(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sym]
	if !ok {
		return
	}
	now := s.nowFn()
	e.SignalCount++
	e.LastSignalType = signalType
	e.LastSignalAt = now
	if confidence >= s.cfg.PromoteConfidence {
		e.PromotedAt = now
		if e.Tier != TierHigh {
			log.Infof("%s promoted to HIGH by %s signal (confidence=%.1f)", sym, signalType, confidence)
		}
		s.setTier(e, TierHigh, now)
	}
}

// Backoff 推迟标的下一次扫描，d<=0 使用配置的限流退避。
func (s *Scanner) Backoff(sym string, d time.Duration) {
	if d <= 0 {
		d = s.cfg.RateLimitBackoff
	}
	sym = symbol.Normalize(sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sym]; ok {
		e.NotBefore = s.nowFn().Add(d)
		log.Warnf("%s backing off until %s", sym, e.NotBefore.Format(time.RFC3339))
	}
}

// DueForScan 返回到期标的：先按等级（HIGH 优先），再按上次扫描时间从旧到新，最后按代码。
func (s *Scanner) DueForScan() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.nowFn()
	due := make([]*SymbolPriority, 0, len(s.entries))
	for _, e := range s.entries {
		if now.Before(e.NotBefore) {
			continue
		}
		if !e.LastScan.IsZero() && now.Sub(e.LastScan) < s.cfg.Intervals.For(e.Tier) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Tier.rank() != b.Tier.rank() {
			return a.Tier.rank() < b.Tier.rank()
		}
		if !a.LastScan.Equal(b.LastScan) {
			return a.LastScan.Before(b.LastScan)
		}
		return a.Symbol < b.Symbol
	})
	out := make([]string, len(due))
	for i, e := range due {
		out[i] = e.Symbol
	}
	return out
}

// SweepInactive 将在 HIGH 停留超过不活跃窗口且无新信号的标的降为 STANDARD。
func (s *Scanner) SweepInactive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	var demoted []string
	for _, e := range s.entries {
		if e.Tier != TierHigh {
			continue
		}
		since := e.HighSince
		if e.LastSignalAt.After(since) {
			since = e.LastSignalAt
		}
		if now.Sub(since) <= s.cfg.InactivityWindow {
			continue
		}
		e.PromotedAt = time.Time{}
		s.setTier(e, TierStandard, now)
		demoted = append(demoted, e.Symbol)
	}
	sort.Strings(demoted)
	if len(demoted) > 0 {
		log.Infof("demoted %d inactive HIGH symbols: %v", len(demoted), demoted)
	}
	return demoted
}

func (s *Scanner) Get(sym string) (SymbolPriority, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol.Normalize(sym)]
	if !ok {
		return SymbolPriority{}, false
	}
	return *e, true
}

// Snapshot 按 DueForScan 相同的顺序返回全部标的状态。
func (s *Scanner) Snapshot() []SymbolPriority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SymbolPriority, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier.rank() != out[j].Tier.rank() {
			return out[i].Tier.rank() < out[j].Tier.rank()
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// TierCounts 统计各等级数量。
func (s *Scanner) TierCounts() map[Tier]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[Tier]int{TierHigh: 0, TierStandard: 0, TierLow: 0}
	for _, e := range s.entries {
		out[e.Tier]++
	}
	return out
}

func (s *Scanner) promotionActive(e *SymbolPriority, now time.Time) bool {
	return !e.PromotedAt.IsZero() && now.Sub(e.PromotedAt) <= s.cfg.InactivityWindow
}

func (s *Scanner) setTier(e *SymbolPriority, t Tier, now time.Time) {
	if e.Tier == t {
		return
	}
	if t == TierHigh {
		e.HighSince = now
	} else {
		e.HighSince = time.Time{}
	}
	log.Debugf("%s tier %s -> %s", e.Symbol, e.Tier, t)
	e.Tier = t
}
