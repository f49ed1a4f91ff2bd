package market

import "context"

// Source 是行情数据协作方，时间周期用 "1Min"/"5Min"/"1Hour"/"1Day" 或 "1m"/"1h"/"1d" 写法。
type Source interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
	GetLatestQuote(ctx context.Context, symbol string) (Quote, error)
}
