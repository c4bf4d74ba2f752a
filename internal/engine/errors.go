// Package engine превращает задания из очереди в биржевые ордера: state
// machine задания, расчет размера позиции и политика ретраев.
package engine

import "strings"

// nonRetryablePatterns — ошибки, которые сами не рассосутся: бизнес-отказы,
// кривая настройка аккаунта, проблемы авторизации. Сравнение без учета
// регистра по всему тексту цепочки ошибок.
var nonRetryablePatterns = []string{
	"insufficient",
	"balance",
	"minimum",
	"not enough",
	"disabled",
	"blacklisted",
	"not in allowed",
	"already has open",
	"max positions",
	"no valid api key",
	"invalid api",
	"api key",
	"permission",
	"unauthorized",
	"no open position",
}

// IsNonRetryable решает, бросать задание или вернуть в очередь. Все, что не
// совпало (таймауты, 5xx, рейт-лимиты), ретраится.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// isBenignCloseError — закрытие упало только потому, что на бирже позиции
// нет; для вызывающих это идемпотентный no-op.
func isBenignCloseError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no position") || strings.Contains(msg, "not found")
}
