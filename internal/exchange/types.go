// Package exchange — единая модель, в которую нормализуются все адаптеры
// бирж. Числовые поля везде float64; отсутствующие значения адаптеры
// приводят к нулю, а не тащат null дальше.
package exchange

import (
	"context"
	"time"
)

const (
	SideLong  = "long"
	SideShort = "short"

	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Credentials — расшифрованные API-ключи пользователя для одной биржи.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

type Balance struct {
	TotalBalance     float64
	AvailableBalance float64
	UnrealizedPnl    float64
	Equity           float64
	MarginUsed       float64
	MarginAvailable  float64
}

type Position struct {
	Symbol               string
	Side                 string // long | short
	Size                 float64
	EntryPrice           float64
	MarkPrice            float64
	Leverage             int
	UnrealizedPnl        float64
	UnrealizedPnlPercent float64
	LiquidationPrice     float64
	Margin               float64
}

type Order struct {
	ID             string
	Symbol         string
	Side           string // buy | sell
	Type           string
	Status         string
	Price          float64
	Quantity       float64
	FilledQuantity float64
	CreatedAt      time.Time
}

type OrderParams struct {
	Symbol     string
	Side       string // buy | sell
	Type       string // market | limit
	Quantity   float64
	Price      float64
	Leverage   int
	ReduceOnly bool
}

type Ticker struct {
	Symbol           string
	LastPrice        float64
	High24h          float64
	Low24h           float64
	Volume24h        float64
	ChangePercent24h float64
}

// Adapter — общий интерфейс над разношерстными API бирж. Каждая ошибка
// заворачивается в *OpError, чтобы вызывающие классифицировали их одинаково.
type Adapter interface {
	Name() string
	GetBalance(ctx context.Context) (*Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CreateOrder(ctx context.Context, params OrderParams) (*Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	ClosePosition(ctx context.Context, symbol string) (*Order, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetStopLoss(ctx context.Context, symbol, side string, price float64) error
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// Factory собирает адаптер по сохраненному имени биржи ("binance", "bybit",
// регистр не важен). Инжектится в движок и реконсилятор ради фейков в тестах.
type Factory func(name string, creds Credentials) (Adapter, error)
