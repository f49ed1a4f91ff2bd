package symbol

import "strings"

// BinanceConverter 把 "BTC/USD" 映射为 "BTCUSDT"（Binance 现货以 USDT 计价）。
type BinanceConverter struct{}

func (BinanceConverter) ToExchange(internal string) string {
	sym := Parse(internal)
	quote := sym.Quote
	if quote == "USD" {
		quote = "USDT"
	}
	return strings.ReplaceAll(sym.Base+quote, "/", "")
}

func (BinanceConverter) FromExchange(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, quote := range cryptoQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			base := s[:len(s)-len(quote)]
			if quote == "USDT" {
				quote = "USD"
			}
			return base + "/" + quote
		}
	}
	return s
}

func (BinanceConverter) Format() Format {
	return FormatBinance
}

var Binance = BinanceConverter{}

// AlpacaConverter: Alpaca 的加密货币下单接口接受 "BTC/USD"，股票原样传递。
type AlpacaConverter struct{}

func (AlpacaConverter) ToExchange(internal string) string {
	return Normalize(internal)
}

func (AlpacaConverter) FromExchange(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// FromAlpacaCrypto 把 positions 接口返回的 "BTCUSD" 还原为 "BTC/USD"。
func FromAlpacaCrypto(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if strings.Contains(s, "/") {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}

func (AlpacaConverter) Format() Format {
	return FormatAlpaca
}

var Alpaca = AlpacaConverter{}
