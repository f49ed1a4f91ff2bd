package execlog

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind 是对协作方错误文本的分类结果，不是异常类型。
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindAPIPermission     ErrorKind = "ApiPermissionError"
	KindInsufficientFunds ErrorKind = "InsufficientFunds"
	KindOrderTooSmall     ErrorKind = "OrderTooSmall"
	KindInvalidSymbol     ErrorKind = "InvalidSymbolFormat"
	KindRateLimited       ErrorKind = "RateLimited"
	KindMarketClosed      ErrorKind = "MarketClosed"
	KindNetwork           ErrorKind = "NetworkError"
	KindTimeout           ErrorKind = "Timeout"
	KindUnknown           ErrorKind = "Unknown"
)

// Recoverable 只有权限错误需要人工介入。
func (k ErrorKind) Recoverable() bool {
	return k != KindAPIPermission
}

type kindRule struct {
	kind     ErrorKind
	keywords []string
}

// 顺序即优先级：permission → funds → size → symbol → rate → market closed → timeout → network。
var kindRules = []kindRule{
	{KindAPIPermission, []string{"forbidden", "permission", "unauthorized", "not authorized", "access denied", "invalid api key", "api key", "not allowed"}},
	{KindInsufficientFunds, []string{"insufficient", "buying power", "not enough", "exceeds available", "balance too low"}},
	{KindOrderTooSmall, []string{"too small", "min notional", "minimum notional", "below minimum", "minimum order", "qty must be >", "cost basis must be"}},
	{KindInvalidSymbol, []string{"invalid symbol", "unknown symbol", "symbol not found", "asset not found", "not tradable", "could not find asset", "invalid pair"}},
	{KindRateLimited, []string{"rate limit", "too many requests", "status=429", "throttl"}},
	{KindMarketClosed, []string{"market closed", "market is closed", "outside market hours", "trading halted", "market hours"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindNetwork, []string{"connection refused", "connection reset", "no such host", "network", "eof", "dial tcp", "broken pipe", "tls handshake", "status=502", "status=503", "status=504"}},
}

// Classify 将协作方错误映射为 ErrorKind；nil 返回 KindNone。
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	kind := ClassifyText(err.Error())
	if kind != KindUnknown {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// ClassifyText 按固定优先级匹配关键字。
func ClassifyText(text string) ErrorKind {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return KindUnknown
	}
	for _, rule := range kindRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}
