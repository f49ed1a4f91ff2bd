package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassCrypto, ClassOf("btc/usd"))
	assert.Equal(t, ClassEquity, ClassOf("AAPL"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("AAPL"))
	assert.True(t, IsValid("BRK.B"))
	assert.True(t, IsValid("ETH/USD"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("aapl$"))
	assert.False(t, IsValid("ETH/XYZ"))
}

func TestBinanceConverter(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Binance.ToExchange("BTC/USD"))
	assert.Equal(t, "ETHBTC", Binance.ToExchange("eth/btc"))
	assert.Equal(t, "BTC/USD", Binance.FromExchange("BTCUSDT"))
}

func TestNormalizeList(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "BTC/USD"}, NormalizeList([]string{" aapl", "btc/usd", "AAPL", ""}))
}

func TestFromAlpacaCrypto(t *testing.T) {
	assert.Equal(t, "BTC/USD", FromAlpacaCrypto("BTCUSD"))
	assert.Equal(t, "ETH/USDT", FromAlpacaCrypto("ETH/USDT"))
}
