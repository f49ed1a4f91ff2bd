package market

import (
	"context"
	"fmt"

	"autotrade/internal/pkg/symbol"
)

// Router 按资产类别把行情请求分派给不同数据源。
type Router struct {
	sources map[symbol.AssetClass]Source
}

func NewRouter() *Router {
	return &Router{sources: make(map[symbol.AssetClass]Source)}
}

// Route 注册某个资产类别的数据源，返回自身便于链式调用。
func (r *Router) Route(class symbol.AssetClass, src Source) *Router {
	if src != nil {
		r.sources[class] = src
	}
	return r
}

func (r *Router) sourceFor(sym string) (Source, error) {
	class := symbol.ClassOf(sym)
	src, ok := r.sources[class]
	if !ok {
		return nil, fmt.Errorf("no market data source for %s (%s)", sym, class)
	}
	return src, nil
}

func (r *Router) GetBars(ctx context.Context, sym, timeframe string, limit int) ([]Bar, error) {
	src, err := r.sourceFor(sym)
	if err != nil {
		return nil, err
	}
	return src.GetBars(ctx, sym, timeframe, limit)
}

func (r *Router) GetLatestQuote(ctx context.Context, sym string) (Quote, error) {
	src, err := r.sourceFor(sym)
	if err != nil {
		return Quote{}, err
	}
	return src.GetLatestQuote(ctx, sym)
}
