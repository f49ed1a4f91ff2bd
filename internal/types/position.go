package types

import (
	"math"
	"strings"
	"time"
)

// AccountSnapshot 是经纪商账户在某一时刻的资金视图。
type AccountSnapshot struct {
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	BuyingPower float64   `json:"buying_power"`
	LastEquity  float64   `json:"last_equity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PositionSnapshot 描述一笔持仓。
type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"qty"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Exposure 返回持仓绝对市值；缺失 market value 时用数量×现价估算。
func (p PositionSnapshot) Exposure() float64 {
	if p.MarketValue != 0 {
		return math.Abs(p.MarketValue)
	}
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return math.Abs(p.Quantity * price)
}

// HasPosition reports whether symbol is already held.
func HasPosition(positions []PositionSnapshot, symbol string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range positions {
		if strings.ToUpper(p.Symbol) == symbol && p.Quantity != 0 {
			return true
		}
	}
	return false
}

// TotalExposure sums Exposure over all positions.
func TotalExposure(positions []PositionSnapshot) float64 {
	total := 0.0
	for _, p := range positions {
		total += p.Exposure()
	}
	return total
}
