package symbol

import (
	"regexp"
	"strings"
)

// AssetClass 区分股票与加密货币，决定行情源与交易时段规则。
type AssetClass string

const (
	ClassEquity AssetClass = "equity"
	ClassCrypto AssetClass = "crypto"
)

type Format string

const (
	FormatInternal Format = "internal"
	FormatBinance  Format = "binance"
	FormatAlpaca   Format = "alpaca"
)

type Converter interface {
	ToExchange(internal string) string

	FromExchange(raw string) string

	Format() Format
}

// Symbol 是加密货币交易对；股票代码只填 Base。
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" {
		return ""
	}
	if s.Quote == "" {
		return s.Base
	}
	return s.Base + "/" + s.Quote
}

var cryptoQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

var equityPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}([.-][A-Z])?$`)

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	return Symbol{Base: s}
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// ClassOf: "BTC/USD" 为加密货币，其余视为股票。
func ClassOf(s string) AssetClass {
	if Parse(s).Quote != "" {
		return ClassCrypto
	}
	return ClassEquity
}

// IsValid 校验股票代码或 BASE/QUOTE 交易对格式。
func IsValid(s string) bool {
	sym := Parse(s)
	if sym.Base == "" {
		return false
	}
	if sym.Quote == "" {
		return equityPattern.MatchString(sym.Base)
	}
	for _, q := range cryptoQuotes {
		if sym.Quote == q {
			return sym.Base != "" && !strings.ContainsAny(sym.Base, "/ ")
		}
	}
	return false
}
