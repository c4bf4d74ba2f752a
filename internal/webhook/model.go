// Package webhook — прием сигналов: валидация payload, логи исполнения,
// персональные конфиги вебхуков и fan-out по пользователям.
package webhook

import "time"

// Жизненный цикл лога. PROCESSING-строки принадлежат воркеру; ретраи
// проходят через PROCESSING на каждой попытке.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
)

// Действия сигнала. ActionBuy и ActionSell — устаревшие синонимы open,
// принимаются только на персональных эндпоинтах.
const (
	ActionOpen    = "open"
	ActionClose   = "close"
	ActionSLClose = "slclose"
	ActionTPClose = "tpclose"
	ActionBep     = "bep"
	ActionBuy     = "buy"
	ActionSell    = "sell"
)

// SystemUserID помечает логи broadcast-сигналов.
const SystemUserID = "system"

// Payload — входящее тело сигнала. Обязательны только Action и Symbol.
// Leverage принимается для совместимости, в расчете размера не участвует.
type Payload struct {
	Action     string  `json:"action" validate:"required,oneof=open close slclose tpclose bep buy sell"`
	Symbol     string  `json:"symbol" validate:"required"`
	Side       string  `json:"side,omitempty" validate:"omitempty,oneof=long short"`
	EntryPrice float64 `json:"entryPrice,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	Leverage   int     `json:"leverage,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

// Job — конверт в очереди, один на пару (сигнал, пользователь).
type Job struct {
	LogID           string  `json:"logId"`
	UserID          string  `json:"userId"`
	Payload         Payload `json:"payload"`
	IsSystemWebhook bool    `json:"isSystemWebhook"`
	Timestamp       int64   `json:"timestamp"`
}

// Log — одна запись исполнения. В Response либо детали успеха, либо текст
// финальной ошибки.
type Log struct {
	ID          string
	UserID      string
	Action      string
	Symbol      string
	Payload     []byte // сырой JSON сигнала как пришел
	Status      string
	Response    string
	IsSystem    bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Config — персональный эндпоинт вебхука пользователя.
type Config struct {
	ID            string
	UserID        string
	Token         string
	IsActive      bool
	TriggerCount  int64
	LastTriggered *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
