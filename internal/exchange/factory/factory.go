// Package factory выбирает конкретный адаптер по сохраненному имени биржи.
package factory

import (
	"fmt"
	"strings"

	"copytrade/internal/exchange"
	"copytrade/internal/exchange/binance"
	"copytrade/internal/exchange/bybit"
)

// New возвращает exchange.Factory по поддерживаемым адаптерам. proxyAddr
// пробрасывается адаптерам, которые сами ходят по HTTP.
func New(proxyAddr string) exchange.Factory {
	return func(name string, creds exchange.Credentials) (exchange.Adapter, error) {
		switch strings.ToLower(name) {
		case "binance":
			return binance.New(creds), nil
		case "bybit":
			return bybit.New(creds, proxyAddr), nil
		default:
			return nil, fmt.Errorf("unsupported exchange: %s", name)
		}
	}
}
