// Package portfolio хранит представление системы о состоянии биржи по
// пользователям: открытые позиции, журнал ордеров, историю закрытых
// сделок и снапшоты баланса.
package portfolio

import (
	"fmt"
	"time"
)

// Position — сохраненный вид одной биржевой позиции. На пару (user, symbol)
// может быть не больше одной открытой позиции; id строки кодирует
// концептуальный ключ.
type Position struct {
	ID                   string
	UserID               string
	Exchange             string
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
	StopLoss             float64
	TakeProfit           float64
	IsOpen               bool
	OpenedAt             time.Time
	ClosedAt             *time.Time
}

// PositionID строит id строки по концептуальному ключу (user, symbol, side).
func PositionID(userID, symbol, side string) string {
	return fmt.Sprintf("%s-%s-%s", userID, symbol, side)
}

// Order — одна попытка выставить биржевой ордер. Строки только добавляются.
type Order struct {
	ID              string
	UserID          string
	Exchange        string
	ExchangeOrderID string
	Symbol          string
	Side            string // buy | sell
	Type            string
	Status          string
	Price           float64
	Quantity        float64
	FilledQuantity  float64
	Leverage        int
	ExecutedAt      time.Time
	CreatedAt       time.Time
}

// TradeHistory — журнал реализованных результатов. Ровно одна строка
// пишется при переходе позиции из открытой в закрытую; строки не меняются.
type TradeHistory struct {
	ID              string
	UserID          string
	Exchange        string
	Symbol          string
	Side            string // long | short
	EntryPrice      float64
	ExitPrice       float64
	Quantity        float64
	Leverage        int
	Pnl             float64
	PnlPercent      float64
	DurationSeconds int64
	OpenedAt        time.Time
	ClosedAt        time.Time
}

// Snapshot — снапшот баланса пользователя, обновляется реконсиляцией.
type Snapshot struct {
	UserID           string
	TotalBalance     float64
	AvailableBalance float64
	UnrealizedPnl    float64
	Equity           float64
	MarginUsed       float64
	MarginAvailable  float64
	LastUpdated      time.Time
}
