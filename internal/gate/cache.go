package gate

import (
	"math"
	"time"

	"autotrade/internal/pkg/symbol"
	"autotrade/internal/types"
)

type cacheKey struct {
	symbol  string
	side    types.Side
	closing bool
	bucket  int
}

type cacheEntry struct {
	res Result
	at  time.Time
}

func (g *Gate) keyFor(p types.TradeProposal) cacheKey {
	return cacheKey{
		symbol:  symbol.Normalize(p.Symbol),
		side:    p.Side,
		closing: p.Closing,
		bucket:  int(math.Floor(p.Confidence / g.cfg.BucketWidth)),
	}
}

func (g *Gate) cached(key cacheKey, now time.Time) (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cfg.CacheEnabled {
		return Result{}, false
	}
	e, ok := g.cache[key]
	if !ok {
		return Result{}, false
	}
	if now.Sub(e.at) >= g.cfg.CacheTTL {
		delete(g.cache, key)
		return Result{}, false
	}
	return e.res, true
}

func (g *Gate) store(key cacheKey, res Result, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cfg.CacheEnabled {
		return
	}
	for k, e := range g.cache {
		if now.Sub(e.at) >= g.cfg.CacheTTL {
			delete(g.cache, k)
		}
	}
	g.cache[key] = cacheEntry{res: res, at: now}
}
