// Package money содержит чистые денежные примитивы платформы:
// округление, расчёт комиссии и разбиение смешанной оплаты.
// Все расчёты выполняются через decimal, чтобы исключить дрейф float64;
// доли считаются один раз при создании записи и никогда не пересчитываются.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
)

// CommissionRate — комиссия платформы: 10% от согласованной цены.
const CommissionRate = 0.10

// Round2 округляет сумму до двух знаков (банковские центы).
func Round2(amount float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(2).Float64()
	return f
}

// Commission возвращает комиссию платформы от базовой цены.
func Commission(base float64) float64 {
	f, _ := decimal.NewFromFloat(base).
		Mul(decimal.NewFromFloat(CommissionRate)).
		Round(2).Float64()
	return f
}

// TotalWithCommission возвращает полную сумму к оплате клиентом (цена + 10%).
func TotalWithCommission(base float64) float64 {
	f, _ := decimal.NewFromFloat(base).
		Mul(decimal.NewFromFloat(1 + CommissionRate)).
		Round(2).Float64()
	return f
}

// PrinterShare возвращает долю исполнителя. Исполнитель получает
// согласованную цену целиком: комиссию платит клиент сверху.
func PrinterShare(base float64) float64 {
	return Round2(base)
}

// PaymentSplit описывает разбиение платежа между балансом клиента и шлюзом.
type PaymentSplit struct {
	Method        string
	BalanceUsed   float64
	GatewayAmount float64
}

// Способы оплаты.
const (
	MethodCard    = "card"
	MethodBalance = "balance"
	MethodMixed   = "mixed"
	MethodOther   = "other"
)

// SplitPayment разбивает полную сумму на балансовую и шлюзовую части.
// Инвариант: BalanceUsed + GatewayAmount == total с точностью до цента.
func SplitPayment(total, balanceUsed float64) (PaymentSplit, error) {
	t := decimal.NewFromFloat(total).Round(2)
	b := decimal.NewFromFloat(balanceUsed).Round(2)

	if b.IsNegative() {
		return PaymentSplit{}, apperror.New(apperror.ErrCodeValidation, "сумма с баланса не может быть отрицательной")
	}
	if b.GreaterThan(t) {
		return PaymentSplit{}, apperror.New(apperror.ErrCodeValidation, "сумма с баланса превышает сумму платежа")
	}

	g := t.Sub(b)
	split := PaymentSplit{
		BalanceUsed:   mustFloat(b),
		GatewayAmount: mustFloat(g),
	}

	switch {
	case b.IsZero():
		split.Method = MethodCard
	case g.IsZero():
		split.Method = MethodBalance
	default:
		split.Method = MethodMixed
	}

	return split, nil
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
