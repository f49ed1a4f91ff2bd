package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"autotrade/internal/pkg/symbol"
	"autotrade/internal/types"
)

// CorrelationSource 标记相关系数的来源。
type CorrelationSource string

const (
	SourceReturns        CorrelationSource = "returns"
	SourceSectorTable    CorrelationSource = "sector_table"
	SourceSectorEstimate CorrelationSource = "sector_estimate"
	SourceNone           CorrelationSource = "none"
)

const unknownSector = "unknown"

type corrEntry struct {
	value  float64
	source CorrelationSource
	at     time.Time
}

// Decision 是 CanAddPosition 的结果。
type Decision struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason"`
	Conflicting []string `json:"conflicting,omitempty"`
}

// PairCorrelation 是报告中的一对持仓。
type PairCorrelation struct {
	A      string            `json:"a"`
	B      string            `json:"b"`
	Value  float64           `json:"value"`
	Source CorrelationSource `json:"source"`
}

// CorrelationReport 汇总当前持仓间的相关性与板块敞口。
type CorrelationReport struct {
	Pairs              []PairCorrelation  `json:"pairs"`
	HighlyCorrelated   []PairCorrelation  `json:"highly_correlated"`
	AverageCorrelation float64            `json:"average_correlation"`
	SectorExposure     map[string]float64 `json:"sector_exposure"`
	Threshold          float64            `json:"threshold"`
}

// ObservePrices 记录某标的的收盘价序列（时间升序），用于计算收益率相关性。
func (g *Governor) ObservePrices(sym string, closes []float64) {
	sym = symbol.Normalize(sym)
	if sym == "" || len(closes) < 2 {
		return
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	if len(rets) > g.cfg.ReturnsLookback {
		rets = rets[len(rets)-g.cfg.ReturnsLookback:]
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.returns[sym] = rets
	for key := range g.cache {
		if key[0] == sym || key[1] == sym {
			delete(g.cache, key)
		}
	}
}

// ResetCorrelationCache 清空相关性缓存。板块表重载后调用，收益率数据保留。
func (g *Governor) ResetCorrelationCache() {
	g.mu.Lock()
	n := len(g.cache)
	g.cache = make(map[[2]string]corrEntry)
	g.mu.Unlock()
	log.Infof("correlation cache cleared (%d pairs)", n)
}

// Correlation 依次尝试：历史收益率 → 静态板块表 → 同板块粗估。结果按 TTL 缓存。
func (g *Governor) Correlation(a, b string) (float64, CorrelationSource) {
	a, b = symbol.Normalize(a), symbol.Normalize(b)
	if a == b {
		return 1, SourceReturns
	}
	key := sectorKey(a, b)

	g.mu.Lock()
	now := g.nowFn()
	if e, ok := g.cache[key]; ok && now.Sub(e.at) < g.cfg.CorrelationTTL {
		g.mu.Unlock()
		return e.value, e.source
	}
	ra, rb := g.returns[a], g.returns[b]
	g.mu.Unlock()

	value, source := g.computeCorrelation(a, b, ra, rb)

	g.mu.Lock()
	g.cache[key] = corrEntry{value: value, source: source, at: now}
	g.evictLocked()
	g.mu.Unlock()
	return value, source
}

func (g *Governor) computeCorrelation(a, b string, ra, rb []float64) (float64, CorrelationSource) {
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n >= g.cfg.MinOverlap {
		x, y := ra[len(ra)-n:], rb[len(rb)-n:]
		if c := stat.Correlation(x, y, nil); !math.IsNaN(c) {
			return c, SourceReturns
		}
	}
	sa, okA := g.lookupSector(a)
	sb, okB := g.lookupSector(b)
	if !okA || !okB {
		return 0, SourceNone
	}
	if g.sectors != nil {
		if v, ok := g.sectors.SectorCorrelation(sa, sb); ok {
			return v, SourceSectorTable
		}
	}
	if sa == sb {
		return g.cfg.SameSectorEstimate, SourceSectorEstimate
	}
	return g.cfg.CrossSectorEstimate, SourceSectorEstimate
}

// evictLocked 超出容量时先清过期项，再淘汰最旧项。
func (g *Governor) evictLocked() {
	if len(g.cache) <= g.cfg.CorrelationCacheSize {
		return
	}
	now := g.nowFn()
	for k, e := range g.cache {
		if now.Sub(e.at) >= g.cfg.CorrelationTTL {
			delete(g.cache, k)
		}
	}
	for len(g.cache) > g.cfg.CorrelationCacheSize {
		var oldestKey [2]string
		var oldest time.Time
		first := true
		for k, e := range g.cache {
			if first || e.at.Before(oldest) {
				oldestKey, oldest, first = k, e.at, false
			}
		}
		delete(g.cache, oldestKey)
	}
}

// CanAddPosition 高相关持仓数达到上限时拒绝候选标的。
func (g *Governor) CanAddPosition(sym string, positions []types.PositionSnapshot) Decision {
	sym = symbol.Normalize(sym)
	var conflicting []string
	for _, p := range positions {
		held := symbol.Normalize(p.Symbol)
		if held == "" || held == sym || p.Quantity == 0 {
			continue
		}
		if c, _ := g.Correlation(sym, held); c >= g.cfg.CorrelationThreshold {
			conflicting = append(conflicting, held)
		}
	}
	sort.Strings(conflicting)
	if len(conflicting) >= g.cfg.MaxCorrelated {
		reason := fmt.Sprintf("%s correlated (>=%.2f) with %d holdings: %s", sym, g.cfg.CorrelationThreshold, len(conflicting), strings.Join(conflicting, ","))
		log.Infof("reject %s", reason)
		return Decision{Allowed: false, Reason: reason, Conflicting: conflicting}
	}
	reason := "correlation within limits"
	if len(conflicting) > 0 {
		reason = fmt.Sprintf("correlated with %s (%d/%d)", strings.Join(conflicting, ","), len(conflicting), g.cfg.MaxCorrelated)
	}
	return Decision{Allowed: true, Reason: reason, Conflicting: conflicting}
}

// PortfolioCorrelationReport 计算持仓两两相关性；equity<=0 时敞口为空。
func (g *Governor) PortfolioCorrelationReport(positions []types.PositionSnapshot, equity float64) CorrelationReport {
	held := make([]string, 0, len(positions))
	for _, p := range positions {
		if s := symbol.Normalize(p.Symbol); s != "" && p.Quantity != 0 {
			held = append(held, s)
		}
	}
	sort.Strings(held)
	rep := CorrelationReport{
		SectorExposure: g.SectorExposure(positions, equity),
		Threshold:      g.cfg.CorrelationThreshold,
	}
	sum := 0.0
	for i := 0; i < len(held); i++ {
		for j := i + 1; j < len(held); j++ {
			v, src := g.Correlation(held[i], held[j])
			pair := PairCorrelation{A: held[i], B: held[j], Value: v, Source: src}
			rep.Pairs = append(rep.Pairs, pair)
			if v >= g.cfg.CorrelationThreshold {
				rep.HighlyCorrelated = append(rep.HighlyCorrelated, pair)
			}
			sum += v
		}
	}
	if len(rep.Pairs) > 0 {
		rep.AverageCorrelation = sum / float64(len(rep.Pairs))
	}
	return rep
}

func (g *Governor) lookupSector(sym string) (string, bool) {
	if g.sectors != nil {
		if s, ok := g.sectors.SectorOf(sym); ok {
			return s, true
		}
	}
	if symbol.ClassOf(sym) == symbol.ClassCrypto {
		return string(symbol.ClassCrypto), true
	}
	return "", false
}

func (g *Governor) sectorOf(sym string) string {
	if s, ok := g.lookupSector(sym); ok {
		return s
	}
	return unknownSector
}
