package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"autotrade/internal/logger"
	"autotrade/internal/market"
	symbolpkg "autotrade/internal/pkg/symbol"
	"autotrade/internal/scheduler"
)

const maxHistoryLimit = 1000

var log = logger.Component("Binance")

// Config 为空字段取默认值；ProxyURL 为空时直连。
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	ProxyURL string
}

// Source 基于 go-binance 现货 REST 实现 market.Source，用于加密货币行情。
type Source struct {
	client *gobinance.Client
	nowFn  func() time.Time
}

func New(cfg Config) (*Source, error) {
	client := gobinance.NewClient("", "")
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if raw := strings.TrimSpace(cfg.ProxyURL); raw != "" {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{client: client, nowFn: time.Now}, nil
}

// GetBars 拉取 K 线并丢弃尚未收盘的最后一根。timeframe 兼容 "15Min"/"1Hour"/"1Day" 写法。
func (s *Source) GetBars(ctx context.Context, sym, timeframe string, limit int) ([]market.Bar, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if strings.TrimSpace(sym) == "" {
		return nil, fmt.Errorf("invalid symbol: empty")
	}
	// Binance 交易对不带斜杠（BTC/USD -> BTCUSDT）
	clean := symbolpkg.Binance.ToExchange(sym)
	interval, err := Interval(timeframe)
	if err != nil {
		return nil, err
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", clean, interval, err)
	}
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Bar{
			Time:   time.UnixMilli(kl.OpenTime).UTC(),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = market.DropUnclosed(out, dur, s.nowFn())
	}
	log.Debugf("%s %s bars=%d", clean, interval, len(out))
	return out, nil
}

// GetLatestQuote 使用 bookTicker 的最优买卖价，Last 取中间价。
func (s *Source) GetLatestQuote(ctx context.Context, sym string) (market.Quote, error) {
	clean := symbolpkg.Binance.ToExchange(sym)
	res, err := s.client.NewListBookTickersService().Symbol(clean).Do(ctx)
	if err != nil {
		return market.Quote{}, fmt.Errorf("binance bookTicker %s: %w", clean, err)
	}
	for _, t := range res {
		if t == nil || !strings.EqualFold(t.Symbol, clean) {
			continue
		}
		q := market.Quote{
			Symbol: symbolpkg.Normalize(sym),
			Bid:    parseFloat(t.BidPrice),
			Ask:    parseFloat(t.AskPrice),
			Time:   s.nowFn(),
		}
		q.Last = q.Mid()
		return q, nil
	}
	return market.Quote{}, fmt.Errorf("symbol not found: %s", clean)
}

// Interval 把 Alpaca 风格的周期转为 Binance 写法。
func Interval(timeframe string) (string, error) {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	if tf == "" {
		return "", fmt.Errorf("interval is required")
	}
	for _, unit := range []struct{ long, short string }{
		{"min", "m"}, {"hour", "h"}, {"day", "d"}, {"week", "w"},
	} {
		if strings.HasSuffix(tf, unit.long) {
			tf = strings.TrimSuffix(tf, unit.long) + unit.short
			break
		}
	}
	if _, ok := scheduler.ParseIntervalDuration(tf); !ok {
		return "", fmt.Errorf("unsupported interval %q", timeframe)
	}
	return tf, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
