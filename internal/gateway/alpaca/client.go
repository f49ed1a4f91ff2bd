package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"autotrade/internal/gateway/exchange"
	"autotrade/internal/logger"
)

var log = logger.Component("Alpaca")

const (
	defaultTradingURL = "https://paper-api.alpaca.markets"
	defaultDataURL    = "https://data.alpaca.markets"
	defaultFeed       = "iex"
	defaultCryptoLoc  = "us"
)

type Config struct {
	APIKey     string
	APISecret  string
	TradingURL string
	DataURL    string
	Feed       string
	CryptoLoc  string
	Timeout    time.Duration
}

// Client 同时实现 exchange.Broker 与 market.Source（股票与加密货币）。
type Client struct {
	tradingURL *url.URL
	dataURL    *url.URL
	httpClient *http.Client
	key        string
	secret     string
	feed       string
	cryptoLoc  string
	nowFn      func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.APISecret)
	if key == "" || secret == "" {
		return nil, fmt.Errorf("alpaca api key/secret 不能为空")
	}
	trading, err := parseBase(cfg.TradingURL, defaultTradingURL)
	if err != nil {
		return nil, fmt.Errorf("解析 trading_url 失败: %w", err)
	}
	data, err := parseBase(cfg.DataURL, defaultDataURL)
	if err != nil {
		return nil, fmt.Errorf("解析 data_url 失败: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	feed := strings.TrimSpace(cfg.Feed)
	if feed == "" {
		feed = defaultFeed
	}
	loc := strings.TrimSpace(cfg.CryptoLoc)
	if loc == "" {
		loc = defaultCryptoLoc
	}
	return &Client{
		tradingURL: trading,
		dataURL:    data,
		httpClient: &http.Client{Timeout: timeout},
		key:        key,
		secret:     secret,
		feed:       feed,
		cryptoLoc:  loc,
		nowFn:      time.Now,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func parseBase(raw, fallback string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = fallback
	}
	return url.Parse(raw)
}

// do 发起请求并返回原始响应体；非 2xx 转为 *exchange.APIError。
func (c *Client) do(ctx context.Context, base *url.URL, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := *base
	endpoint.Path = strings.TrimRight(base.Path, "/") + path
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("APCA-API-KEY-ID", c.key)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, data)
	}
	return data, nil
}

func apiError(status int, body []byte) *exchange.APIError {
	e := &exchange.APIError{Status: status}
	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		e.Code = r.Get("code").String()
		e.Message = r.Get("message").String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = strings.ToLower(http.StatusText(status))
	}
	return e
}

// num 兼容 Alpaca 把数值编码为字符串的写法。
func num(r gjson.Result) float64 {
	if r.Type == gjson.String {
		return gjson.Parse(r.Str).Float()
	}
	return r.Float()
}

func ts(r gjson.Result) time.Time {
	if !r.Exists() || r.Type == gjson.Null {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, r.String())
	if err != nil {
		return time.Time{}
	}
	return t
}
