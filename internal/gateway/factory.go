package gateway

import (
	"fmt"

	"autotrade/internal/config"
	"autotrade/internal/gateway/alpaca"
	"autotrade/internal/gateway/binance"
	"autotrade/internal/market"
	"autotrade/internal/pkg/symbol"
)

// NewBrokerFromConfig 构造经纪商客户端；Alpaca 同时提供股票行情。
func NewBrokerFromConfig(cfg config.BrokerConfig) (*alpaca.Client, error) {
	switch cfg.Name {
	case "", "alpaca":
		return alpaca.NewClient(alpaca.Config{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			TradingURL: cfg.TradingURL,
			DataURL:    cfg.DataURL,
			Feed:       cfg.Feed,
			CryptoLoc:  cfg.CryptoLoc,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported broker: %s", cfg.Name)
	}
}

// NewMarketRouter 按资产类别组装行情源。
func NewMarketRouter(cfg config.MarketConfig, broker *alpaca.Client) (*market.Router, error) {
	router := market.NewRouter()
	switch cfg.Equity {
	case "", "alpaca":
		if broker == nil {
			return nil, fmt.Errorf("equity market source alpaca requires broker client")
		}
		router.Route(symbol.ClassEquity, broker)
	default:
		return nil, fmt.Errorf("unsupported equity market source: %s", cfg.Equity)
	}
	switch cfg.Crypto {
	case "", "binance":
		bc := binance.Config{BaseURL: cfg.Binance.RESTBaseURL, Timeout: cfg.Binance.Timeout}
		if cfg.Binance.Proxy.Enabled {
			bc.ProxyURL = cfg.Binance.Proxy.RESTURL
		}
		src, err := binance.New(bc)
		if err != nil {
			return nil, err
		}
		router.Route(symbol.ClassCrypto, src)
	case "alpaca":
		router.Route(symbol.ClassCrypto, broker)
	case "none":
	default:
		return nil, fmt.Errorf("unsupported crypto market source: %s", cfg.Crypto)
	}
	return router, nil
}
