package exchange

import (
	"context"

	"autotrade/internal/market"
	"autotrade/internal/types"
)

// Broker 是经纪商协作方。
type Broker interface {
	GetAccount(ctx context.Context) (types.AccountSnapshot, error)

	GetPositions(ctx context.Context) ([]types.PositionSnapshot, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)

	CancelOrder(ctx context.Context, orderID string) error

	GetOrder(ctx context.Context, orderID string) (OrderUpdate, error)

	IsMarketOpen(ctx context.Context) (bool, error)
}

// MarketData 是行情协作方。
type MarketData = market.Source
