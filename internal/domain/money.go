package domain

import "github.com/shopspring/decimal"

// MoneyScale: количество знаков после запятой при сравнении и округлении денег.
const MoneyScale = 2

// RoundMoney округляет сумму до копеек.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// MoneyEqual сравнивает суммы после округления до двух знаков.
func MoneyEqual(a, b decimal.Decimal) bool {
	return a.Round(MoneyScale).Equal(b.Round(MoneyScale))
}
