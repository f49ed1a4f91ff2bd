package exchange

import (
	"fmt"
	"strings"
	"time"

	"autotrade/internal/types"
)

const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"

	TimeInForceDay = "day"
	TimeInForceGTC = "gtc"
	TimeInForceIOC = "ioc"
)

// OrderRequest 描述一笔待提交的订单；TakeProfit/StopLoss 非零时提交为 bracket 单。
type OrderRequest struct {
	ClientOrderID string     `json:"client_order_id,omitempty"`
	Symbol        string     `json:"symbol"`
	Side          types.Side `json:"side"`
	Type          string     `json:"type"`
	Quantity      float64    `json:"qty"`
	LimitPrice    float64    `json:"limit_price,omitempty"`
	StopPrice     float64    `json:"stop_price,omitempty"`
	TimeInForce   string     `json:"time_in_force,omitempty"`
	TakeProfit    float64    `json:"take_profit,omitempty"`
	StopLoss      float64    `json:"stop_loss,omitempty"`
}

// Validate 在提交前做基本校验，错误文本会被执行日志分类。
func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("invalid symbol: empty")
	}
	if r.Side != types.SideBuy && r.Side != types.SideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order too small: qty=%v", r.Quantity)
	}
	switch r.Type {
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("limit order requires limit price")
		}
	case OrderTypeStop:
		if r.StopPrice <= 0 {
			return fmt.Errorf("stop order requires stop price")
		}
	case OrderTypeStopLimit:
		if r.LimitPrice <= 0 || r.StopPrice <= 0 {
			return fmt.Errorf("stop_limit order requires limit and stop price")
		}
	case OrderTypeMarket, "":
	default:
		return fmt.Errorf("unsupported order type %q", r.Type)
	}
	return nil
}

func (r OrderRequest) IsBracket() bool {
	return r.TakeProfit > 0 || r.StopLoss > 0
}

// OrderUpdate 是经纪商返回的订单状态，Status 为经纪商原始状态字符串。
type OrderUpdate struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id,omitempty"`
	Symbol         string    `json:"symbol"`
	Status         string    `json:"status"`
	Quantity       float64   `json:"qty"`
	FilledQty      float64   `json:"filled_qty"`
	FilledAvgPrice float64   `json:"filled_avg_price"`
	FilledAt       time.Time `json:"filled_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// APIError 是 HTTP 适配器返回的结构化错误，Error() 文本供错误分类使用。
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status=%d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status=%d: %s", e.Status, e.Message)
}
