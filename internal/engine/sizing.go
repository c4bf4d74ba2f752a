package engine

import (
	"fmt"
	"math"
)

// Минимальная стоимость ордера; ниже биржи отклоняют маркет-ордера.
const minNotionalUSD = 5.0

// QuantityPrecision выбирает число знаков по порядку цены: дорогие символы
// торгуются долями, дешевые целыми.
func QuantityPrecision(price float64) int {
	switch {
	case price >= 10000:
		return 4
	case price >= 1000:
		return 3
	case price >= 100:
		return 2
	case price >= 10:
		return 1
	default:
		return 0
	}
}

// OrderQuantity считает размер маркет-ордера из доступного баланса, процента
// риска, плеча и цены. Результат округляется вниз до точности символа, чтобы
// не выйти за выделенную риском маржу.
func OrderQuantity(availableBalance, riskPercent float64, leverage int, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	margin := availableBalance * riskPercent / 100
	raw := margin * float64(leverage) / price

	factor := math.Pow(10, float64(QuantityPrecision(price)))
	qty := math.Floor(raw*factor) / factor

	if qty*price < minNotionalUSD {
		return 0, fmt.Errorf("order value %.2f USD is below the minimum of %.0f USD", qty*price, minNotionalUSD)
	}
	return qty, nil
}
