package risk

import (
	"math"
	"sync"
	"time"

	"autotrade/internal/logger"
	"autotrade/internal/types"
)

var log = logger.Component("RiskGovernor")

type Config struct {
	TripDrawdown         float64
	ResetDrawdown        float64
	CorrelationThreshold float64
	MaxCorrelated        int
	CorrelationTTL       time.Duration
	CorrelationCacheSize int
	MinOverlap           int
	ReturnsLookback      int
	SameSectorEstimate   float64
	CrossSectorEstimate  float64
}

func DefaultConfig() Config {
	return Config{
		TripDrawdown:         0.10,
		ResetDrawdown:        0.05,
		CorrelationThreshold: 0.7,
		MaxCorrelated:        3,
		CorrelationTTL:       time.Hour,
		CorrelationCacheSize: 1024,
		MinOverlap:           10,
		ReturnsLookback:      60,
		SameSectorEstimate:   0.75,
		CrossSectorEstimate:  0.25,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TripDrawdown <= 0 {
		c.TripDrawdown = def.TripDrawdown
	}
	if c.ResetDrawdown <= 0 || c.ResetDrawdown >= c.TripDrawdown {
		c.ResetDrawdown = c.TripDrawdown / 2
	}
	if c.CorrelationThreshold <= 0 {
		c.CorrelationThreshold = def.CorrelationThreshold
	}
	if c.MaxCorrelated <= 0 {
		c.MaxCorrelated = def.MaxCorrelated
	}
	if c.CorrelationTTL <= 0 {
		c.CorrelationTTL = def.CorrelationTTL
	}
	if c.CorrelationCacheSize <= 0 {
		c.CorrelationCacheSize = def.CorrelationCacheSize
	}
	if c.MinOverlap < 3 {
		c.MinOverlap = def.MinOverlap
	}
	if c.ReturnsLookback < c.MinOverlap {
		c.ReturnsLookback = def.ReturnsLookback
	}
	if c.SameSectorEstimate <= 0 {
		c.SameSectorEstimate = def.SameSectorEstimate
	}
	if c.CrossSectorEstimate <= 0 {
		c.CrossSectorEstimate = def.CrossSectorEstimate
	}
	return c
}

// RiskState 是风控状态的只读快照。
type RiskState struct {
	PeakEquity     float64            `json:"peak_equity"`
	CurrentEquity  float64            `json:"current_equity"`
	Drawdown       float64            `json:"drawdown"`
	CircuitBroken  bool               `json:"circuit_broken"`
	TrippedAt      time.Time          `json:"tripped_at,omitempty"`
	TripThreshold  float64            `json:"trip_threshold"`
	ResetThreshold float64            `json:"reset_threshold"`
	SectorExposure map[string]float64 `json:"sector_exposure"`
	CachedPairs    int                `json:"cached_pairs"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// CircuitListener 在熔断状态翻转时被调用。
type CircuitListener func(tripped bool, st RiskState)

// Governor 跟踪回撤熔断与持仓相关性。equity/熔断字段在同一把锁内读改写。
type Governor struct {
	cfg     Config
	sectors SectorSource
	nowFn   func() time.Time

	mu             sync.Mutex
	peak           float64
	current        float64
	drawdown       float64
	tripped        bool
	trippedAt      time.Time
	updatedAt      time.Time
	sectorExposure map[string]float64
	returns        map[string][]float64
	cache          map[[2]string]corrEntry
	listeners      []CircuitListener
}

func NewGovernor(cfg Config, sectors SectorSource) *Governor {
	return &Governor{
		cfg:            cfg.withDefaults(),
		sectors:        sectors,
		nowFn:          time.Now,
		sectorExposure: make(map[string]float64),
		returns:        make(map[string][]float64),
		cache:          make(map[[2]string]corrEntry),
	}
}

func (g *Governor) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	g.mu.Lock()
	g.nowFn = fn
	g.mu.Unlock()
}

func (g *Governor) Config() Config { return g.cfg }

func (g *Governor) OnCircuitChange(fn CircuitListener) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// RecordEquitySnapshot 更新峰值与回撤；回撤 >= 触发阈值时熔断，回撤 < 复位阈值时才解除。
func (g *Governor) RecordEquitySnapshot(value float64) RiskState {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return g.State()
	}
	g.mu.Lock()
	now := g.nowFn()
	g.current = value
	if value > g.peak {
		g.peak = value
	}
	g.drawdown = Drawdown(g.peak, value)
	g.updatedAt = now

	changed := false
	switch {
	case !g.tripped && g.drawdown >= g.cfg.TripDrawdown:
		g.tripped = true
		g.trippedAt = now
		changed = true
		log.Warnf("circuit breaker TRIPPED drawdown=%.2f%% peak=%.2f equity=%.2f", g.drawdown*100, g.peak, value)
	case g.tripped && g.drawdown < g.cfg.ResetDrawdown:
		g.tripped = false
		g.trippedAt = time.Time{}
		changed = true
		log.Infof("circuit breaker reset drawdown=%.2f%% equity=%.2f", g.drawdown*100, value)
	}
	st := g.stateLocked()
	listeners := append([]CircuitListener{}, g.listeners...)
	g.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(st.CircuitBroken, st)
		}
	}
	return st
}

// Drawdown = (peak-current)/peak，下限 0。
func Drawdown(peak, current float64) float64 {
	if peak <= 0 {
		return 0
	}
	dd := (peak - current) / peak
	if dd < 0 {
		return 0
	}
	return dd
}

func (g *Governor) IsCircuitBroken() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// UpdateExposure 按持仓重算各板块敞口占权益比例。
func (g *Governor) UpdateExposure(positions []types.PositionSnapshot, equity float64) map[string]float64 {
	exp := g.SectorExposure(positions, equity)
	g.mu.Lock()
	g.sectorExposure = exp
	g.mu.Unlock()
	return exp
}

// SectorExposure 只计算不落状态。
func (g *Governor) SectorExposure(positions []types.PositionSnapshot, equity float64) map[string]float64 {
	out := make(map[string]float64)
	if equity <= 0 {
		return out
	}
	for _, p := range positions {
		out[g.sectorOf(p.Symbol)] += p.Exposure() / equity
	}
	return out
}

func (g *Governor) State() RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Governor) stateLocked() RiskState {
	exp := make(map[string]float64, len(g.sectorExposure))
	for k, v := range g.sectorExposure {
		exp[k] = v
	}
	return RiskState{
		PeakEquity:     g.peak,
		CurrentEquity:  g.current,
		Drawdown:       g.drawdown,
		CircuitBroken:  g.tripped,
		TrippedAt:      g.trippedAt,
		TripThreshold:  g.cfg.TripDrawdown,
		ResetThreshold: g.cfg.ResetDrawdown,
		SectorExposure: exp,
		CachedPairs:    len(g.cache),
		UpdatedAt:      g.updatedAt,
	}
}
