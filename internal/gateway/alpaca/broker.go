package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"autotrade/internal/gateway/exchange"
	"autotrade/internal/pkg/symbol"
	"autotrade/internal/types"
)

func (c *Client) GetAccount(ctx context.Context) (types.AccountSnapshot, error) {
	data, err := c.do(ctx, c.tradingURL, http.MethodGet, "/v2/account", nil, nil)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	r := gjson.ParseBytes(data)
	if r.Get("trading_blocked").Bool() || r.Get("account_blocked").Bool() {
		return types.AccountSnapshot{}, &exchange.APIError{Status: http.StatusForbidden, Message: "account is blocked, trading not allowed"}
	}
	return types.AccountSnapshot{
		Equity:      num(r.Get("equity")),
		Cash:        num(r.Get("cash")),
		BuyingPower: num(r.Get("buying_power")),
		LastEquity:  num(r.Get("last_equity")),
		UpdatedAt:   c.nowFn(),
	}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]types.PositionSnapshot, error) {
	data, err := c.do(ctx, c.tradingURL, http.MethodGet, "/v2/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []types.PositionSnapshot
	gjson.ParseBytes(data).ForEach(func(_, p gjson.Result) bool {
		sym := p.Get("symbol").String()
		if p.Get("asset_class").String() == "crypto" {
			sym = symbol.FromAlpacaCrypto(sym)
		}
		qty := num(p.Get("qty"))
		if p.Get("side").String() == "short" && qty > 0 {
			qty = -qty
		}
		out = append(out, types.PositionSnapshot{
			Symbol:        sym,
			Quantity:      qty,
			EntryPrice:    num(p.Get("avg_entry_price")),
			CurrentPrice:  num(p.Get("current_price")),
			MarketValue:   num(p.Get("market_value")),
			UnrealizedPnL: num(p.Get("unrealized_pl")),
		})
		return true
	})
	return out, nil
}

type orderPayload struct {
	Symbol        string     `json:"symbol"`
	Qty           string     `json:"qty"`
	Side          string     `json:"side"`
	Type          string     `json:"type"`
	TimeInForce   string     `json:"time_in_force"`
	LimitPrice    string     `json:"limit_price,omitempty"`
	StopPrice     string     `json:"stop_price,omitempty"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	OrderClass    string     `json:"order_class,omitempty"`
	TakeProfit    *legPrice  `json:"take_profit,omitempty"`
	StopLoss      *stopPrice `json:"stop_loss,omitempty"`
}

type legPrice struct {
	LimitPrice string `json:"limit_price"`
}

type stopPrice struct {
	StopPrice string `json:"stop_price"`
}

func fmtNum(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = exchange.TimeInForceDay
	}
	payload := orderPayload{
		Symbol:        symbol.Alpaca.ToExchange(req.Symbol),
		Qty:           fmtNum(req.Quantity),
		Side:          string(req.Side),
		Type:          req.Type,
		TimeInForce:   tif,
		LimitPrice:    fmtNum(req.LimitPrice),
		StopPrice:     fmtNum(req.StopPrice),
		ClientOrderID: req.ClientOrderID,
	}
	if payload.Type == "" {
		payload.Type = exchange.OrderTypeMarket
	}
	if req.IsBracket() {
		payload.OrderClass = "bracket"
		payload.TakeProfit = &legPrice{LimitPrice: fmtNum(req.TakeProfit)}
		payload.StopLoss = &stopPrice{StopPrice: fmtNum(req.StopLoss)}
	}
	data, err := c.do(ctx, c.tradingURL, http.MethodPost, "/v2/orders", nil, payload)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(data, "id").String()
	if id == "" {
		return "", fmt.Errorf("alpaca 未返回 order id")
	}
	log.Infof("submitted %s %s %s qty=%s id=%s", payload.Side, payload.Symbol, payload.Type, payload.Qty, id)
	return id, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, c.tradingURL, http.MethodDelete, "/v2/orders/"+url.PathEscape(orderID), nil, nil)
	return err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (exchange.OrderUpdate, error) {
	data, err := c.do(ctx, c.tradingURL, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return exchange.OrderUpdate{}, err
	}
	r := gjson.ParseBytes(data)
	return exchange.OrderUpdate{
		ID:             r.Get("id").String(),
		ClientOrderID:  r.Get("client_order_id").String(),
		Symbol:         r.Get("symbol").String(),
		Status:         r.Get("status").String(),
		Quantity:       num(r.Get("qty")),
		FilledQty:      num(r.Get("filled_qty")),
		FilledAvgPrice: num(r.Get("filled_avg_price")),
		FilledAt:       ts(r.Get("filled_at")),
		UpdatedAt:      ts(r.Get("updated_at")),
	}, nil
}

func (c *Client) IsMarketOpen(ctx context.Context) (bool, error) {
	data, err := c.do(ctx, c.tradingURL, http.MethodGet, "/v2/clock", nil, nil)
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(data, "is_open").Bool(), nil
}
