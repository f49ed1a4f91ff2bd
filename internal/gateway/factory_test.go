package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade/internal/config"
)

func TestNewBrokerFromConfig(t *testing.T) {
	b, err := NewBrokerFromConfig(config.BrokerConfig{Name: "alpaca", APIKey: "k", APISecret: "s"})
	require.NoError(t, err)
	assert.NotNil(t, b)

	_, err = NewBrokerFromConfig(config.BrokerConfig{Name: "ibkr", APIKey: "k", APISecret: "s"})
	assert.ErrorContains(t, err, "unsupported broker")
}

func TestNewMarketRouter(t *testing.T) {
	b, err := NewBrokerFromConfig(config.BrokerConfig{APIKey: "k", APISecret: "s"})
	require.NoError(t, err)

	for _, crypto := range []string{"binance", "alpaca", "none"} {
		r, err := NewMarketRouter(config.MarketConfig{Equity: "alpaca", Crypto: crypto}, b)
		require.NoError(t, err, crypto)
		assert.NotNil(t, r)
	}

	_, err = NewMarketRouter(config.MarketConfig{Equity: "alpaca"}, nil)
	assert.Error(t, err)
	_, err = NewMarketRouter(config.MarketConfig{Equity: "alpaca", Crypto: "kraken"}, b)
	assert.ErrorContains(t, err, "unsupported crypto")
}
