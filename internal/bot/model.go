// Package bot хранит риск-настройки по пользователям. Движок исполнения
// считает размер каждого ордера из этих настроек; входящий сигнал их
// не переопределяет.
package bot

import (
	"fmt"
	"slices"
)

// Settings — конфигурация бота одного пользователя.
type Settings struct {
	UserID             string
	IsEnabled          bool
	MaxPositions       int
	DefaultLeverage    int
	MaxLeverage        int
	RiskPerTrade       float64 // процент от доступного баланса
	StopLossPercent    float64
	TakeProfitPercent  float64
	AllowedSymbols     []string // пустой список разрешает все символы
	BlacklistedSymbols []string
}

// Validate проверяет инварианты конфигурации с учетом потолка плеча платформы.
func (s *Settings) Validate(platformLeverageCap int) error {
	if s.MaxPositions < 1 {
		return fmt.Errorf("maxPositions must be at least 1")
	}
	if s.DefaultLeverage < 1 || s.MaxLeverage < 1 {
		return fmt.Errorf("leverage must be at least 1")
	}
	if s.DefaultLeverage > s.MaxLeverage {
		return fmt.Errorf("defaultLeverage (%d) exceeds maxLeverage (%d)", s.DefaultLeverage, s.MaxLeverage)
	}
	if s.MaxLeverage > platformLeverageCap {
		return fmt.Errorf("maxLeverage (%d) exceeds platform cap (%d)", s.MaxLeverage, platformLeverageCap)
	}
	if s.RiskPerTrade <= 0 || s.RiskPerTrade > 100 {
		return fmt.Errorf("riskPerTrade must be in (0, 100], got %v", s.RiskPerTrade)
	}
	return nil
}

// Leverage — действующее плечо для новых ордеров.
func (s *Settings) Leverage() int {
	if s.DefaultLeverage < s.MaxLeverage {
		return s.DefaultLeverage
	}
	return s.MaxLeverage
}

// AllowsSymbol сначала применяет черный список, затем белый, если тот задан.
func (s *Settings) AllowsSymbol(symbol string) error {
	if slices.Contains(s.BlacklistedSymbols, symbol) {
		return fmt.Errorf("symbol %s is blacklisted", symbol)
	}
	if len(s.AllowedSymbols) > 0 && !slices.Contains(s.AllowedSymbols, symbol) {
		return fmt.Errorf("symbol %s is not in allowed list", symbol)
	}
	return nil
}
