package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"autotrade/internal/market"
	"autotrade/internal/pkg/symbol"
)

// GetBars 按时间倒序取最近 limit 根再翻转为升序；start 向前多留余量以覆盖休市时段。
func (c *Client) GetBars(ctx context.Context, sym, timeframe string, limit int) ([]market.Bar, error) {
	if limit <= 0 {
		limit = 100
	}
	step, err := timeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	sym = symbol.Normalize(sym)
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "desc")
	q.Set("start", c.nowFn().Add(-step*time.Duration(limit)*4).UTC().Format(time.RFC3339))

	var (
		path  string
		array string
	)
	if symbol.ClassOf(sym) == symbol.ClassCrypto {
		path = "/v1beta3/crypto/" + c.cryptoLoc + "/bars"
		q.Set("symbols", sym)
		array = "bars." + escapeKey(sym)
	} else {
		path = "/v2/stocks/" + url.PathEscape(sym) + "/bars"
		q.Set("feed", c.feed)
		q.Set("adjustment", "split")
		array = "bars"
	}
	data, err := c.do(ctx, c.dataURL, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	var bars []market.Bar
	gjson.GetBytes(data, array).ForEach(func(_, b gjson.Result) bool {
		bars = append(bars, market.Bar{
			Time:   ts(b.Get("t")),
			Open:   b.Get("o").Float(),
			High:   b.Get("h").Float(),
			Low:    b.Get("l").Float(),
			Close:  b.Get("c").Float(),
			Volume: b.Get("v").Float(),
		})
		return true
	})
	slices.SortFunc(bars, func(a, b market.Bar) int { return a.Time.Compare(b.Time) })
	return market.DropUnclosed(bars, step, c.nowFn()), nil
}

func (c *Client) GetLatestQuote(ctx context.Context, sym string) (market.Quote, error) {
	sym = symbol.Normalize(sym)
	var (
		path string
		key  string
		q    = url.Values{}
	)
	if symbol.ClassOf(sym) == symbol.ClassCrypto {
		path = "/v1beta3/crypto/" + c.cryptoLoc + "/latest/quotes"
		q.Set("symbols", sym)
		key = "quotes." + escapeKey(sym)
	} else {
		path = "/v2/stocks/" + url.PathEscape(sym) + "/quotes/latest"
		q.Set("feed", c.feed)
		key = "quote"
	}
	data, err := c.do(ctx, c.dataURL, http.MethodGet, path, q, nil)
	if err != nil {
		return market.Quote{}, err
	}
	r := gjson.GetBytes(data, key)
	if !r.Exists() {
		return market.Quote{}, fmt.Errorf("symbol not found: %s", sym)
	}
	quote := market.Quote{
		Symbol: sym,
		Bid:    r.Get("bp").Float(),
		Ask:    r.Get("ap").Float(),
		Time:   ts(r.Get("t")),
	}
	quote.Last = quote.Mid()
	return quote, nil
}

// escapeKey 转义 gjson 路径中的特殊字符（"BTC/USD" 中的 "/" 无需转义，"." 需要）。
func escapeKey(k string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(k)
}

// timeframeDuration 解析 Alpaca 周期写法，如 "1Min"、"15Min"、"1Hour"、"1Day"。
func timeframeDuration(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	units := []struct {
		suffix string
		d      time.Duration
	}{
		{"Min", time.Minute}, {"T", time.Minute},
		{"Hour", time.Hour}, {"H", time.Hour},
		{"Day", 24 * time.Hour}, {"D", 24 * time.Hour},
		{"Week", 7 * 24 * time.Hour}, {"W", 7 * 24 * time.Hour},
	}
	for _, u := range units {
		if n, ok := strings.CutSuffix(tf, u.suffix); ok {
			v, err := strconv.Atoi(n)
			if err != nil || v <= 0 {
				break
			}
			return time.Duration(v) * u.d, nil
		}
	}
	return 0, fmt.Errorf("unsupported timeframe %q", tf)
}
