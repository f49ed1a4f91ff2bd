package market

import "time"

// Bar 是一根 K 线，时间为开盘时间（UTC）。
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Quote 是最新报价。
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

// Mid 优先取买卖中间价，缺失时回落到最新成交价。
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Closes 抽取收盘价序列。
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Columns 拆分为 OHLCV 列，供指标库使用。
func Columns(bars []Bar) (opens, highs, lows, closes, volumes []float64) {
	n := len(bars)
	opens, highs, lows = make([]float64, n), make([]float64, n), make([]float64, n)
	closes, volumes = make([]float64, n), make([]float64, n)
	for i, b := range bars {
		opens[i] = b.Open
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	return
}

// DropUnclosed 去掉仍在形成中的最后一根 K 线。
func DropUnclosed(bars []Bar, interval time.Duration, now time.Time) []Bar {
	if len(bars) == 0 || interval <= 0 {
		return bars
	}
	last := bars[len(bars)-1]
	if last.Time.IsZero() {
		return bars
	}
	if now.Before(last.Time.Add(interval)) {
		return bars[:len(bars)-1]
	}
	return bars
}
