package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade/internal/execlog"
	"autotrade/internal/gateway/exchange"
	"autotrade/internal/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "k", APISecret: "s", TradingURL: srv.URL, DataURL: srv.URL})
	require.NoError(t, err)
	c.nowFn = func() time.Time { return time.Date(2024, 4, 2, 14, 7, 0, 0, time.UTC) }
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestGetAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "s", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"equity":"101234.5","cash":"5000","buying_power":"20000","last_equity":"100000"}`))
	})
	acct, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 101234.5, acct.Equity, 1e-9)
	assert.InDelta(t, 20000, acct.BuyingPower, 1e-9)
	assert.InDelta(t, 100000, acct.LastEquity, 1e-9)
}

func TestAPIErrorIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"forbidden"}`))
	})
	_, err := c.GetAccount(context.Background())
	var apiErr *exchange.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "40310000", apiErr.Code)
	assert.Equal(t, execlog.KindAPIPermission, execlog.Classify(err))
}

func TestAPIError_EmptyBodyFallsBackToStatusText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.IsMarketOpen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many requests")
	assert.Equal(t, execlog.KindRateLimited, execlog.Classify(err))
}

func TestGetPositions_CryptoSymbolsRestored(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"AAPL","qty":"10","avg_entry_price":"170","current_price":"175","market_value":"1750","unrealized_pl":"50","asset_class":"us_equity","side":"long"},
			{"symbol":"BTCUSD","qty":"0.5","avg_entry_price":"60000","current_price":"62000","market_value":"31000","unrealized_pl":"1000","asset_class":"crypto","side":"long"}
		]`))
	})
	pos, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 2)
	assert.Equal(t, "AAPL", pos[0].Symbol)
	assert.InDelta(t, 10, pos[0].Quantity, 1e-9)
	assert.Equal(t, "BTC/USD", pos[1].Symbol)
	assert.InDelta(t, 31000, pos[1].MarketValue, 1e-9)
}

func TestSubmitOrder_Bracket(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		_, _ = w.Write([]byte(`{"id":"ord-9","status":"accepted"}`))
	})
	id, err := c.SubmitOrder(context.Background(), exchange.OrderRequest{
		ClientOrderID: "cid-1",
		Symbol:        "aapl",
		Side:          types.SideBuy,
		Type:          exchange.OrderTypeLimit,
		Quantity:      12,
		LimitPrice:    170.5,
		TakeProfit:    180,
		StopLoss:      165,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-9", id)
	got := <-bodies
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, "12", got["qty"])
	assert.Equal(t, "170.5", got["limit_price"])
	assert.Equal(t, "day", got["time_in_force"])
	assert.Equal(t, "bracket", got["order_class"])
	assert.Equal(t, map[string]any{"limit_price": "180"}, got["take_profit"])
	assert.Equal(t, map[string]any{"stop_price": "165"}, got["stop_loss"])
}

func TestSubmitOrder_InvalidRequestNeverSent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	})
	_, err := c.SubmitOrder(context.Background(), exchange.OrderRequest{Symbol: "AAPL", Side: types.SideBuy, Quantity: 0})
	assert.ErrorContains(t, err, "order too small")
}

func TestGetOrderAndCancel(t *testing.T) {
	var cancelled atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			cancelled.Store(r.URL.Path == "/v2/orders/ord-1")
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = w.Write([]byte(`{"id":"ord-1","symbol":"AAPL","status":"partially_filled","qty":"10","filled_qty":"4","filled_avg_price":"101.25","filled_at":null,"updated_at":"2024-04-02T14:05:00Z"}`))
		}
	})
	upd, err := c.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "partially_filled", upd.Status)
	assert.InDelta(t, 4, upd.FilledQty, 1e-9)
	assert.InDelta(t, 101.25, upd.FilledAvgPrice, 1e-9)
	assert.True(t, upd.FilledAt.IsZero())
	assert.Equal(t, time.Date(2024, 4, 2, 14, 5, 0, 0, time.UTC), upd.UpdatedAt)

	require.NoError(t, c.CancelOrder(context.Background(), "ord-1"))
	assert.True(t, cancelled.Load())
}

func TestIsMarketOpen(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/clock", r.URL.Path)
		_, _ = w.Write([]byte(`{"is_open":true}`))
	})
	open, err := c.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}
