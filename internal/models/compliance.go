package models

import (
	"fmt"
	"time"
)

// ComplianceDecision — итог проверки потолков продавца перед транзакцией.
type ComplianceDecision struct {
	Allowed bool
	Blocked bool
	// Warning выставляется при использовании >= 80% любого потолка.
	Warning                bool
	BlockReason            string
	YearlyRevenue          float64
	YearlyTransactionCount int
	PotentialRevenue       float64
	PotentialCount         int
	// Frozen сообщает, что именно эта проверка заморозила аккаунт
	// и заморозку нужно персистить.
	Frozen bool
}

// RolloverIfNewYear сбрасывает годовые счётчики при смене календарного года.
// Заморозка при этом не снимается: разблокирует только явный апгрейд статуса.
// Возвращает true, если сброс произошёл и его нужно персистить.
func (u *User) RolloverIfNewYear(now time.Time) bool {
	year := now.Year()
	if u.RevenueYear >= year {
		return false
	}
	u.YearlyRevenue = 0
	u.YearlyTransactionCount = 0
	u.RevenueYear = year
	return true
}

// DecideTransaction проверяет потолки продавца для транзакции amount.
// Счётчики продавца не инкрементируются: решение оперирует потенциальными
// итогами, фактический прирост происходит только при подтверждении доставки.
// Проваленная проверка замораживает аккаунт (Frozen в решении).
func (u *User) DecideTransaction(amount float64) ComplianceDecision {
	decision := ComplianceDecision{
		YearlyRevenue:          u.YearlyRevenue,
		YearlyTransactionCount: u.YearlyTransactionCount,
		PotentialRevenue:       u.YearlyRevenue + amount,
		PotentialCount:         u.YearlyTransactionCount + 1,
	}

	// Заблокированный аккаунт отклоняет любые авторизации до явного апгрейда.
	if u.AccountBlocked {
		decision.Blocked = true
		if u.BlockReason != nil {
			decision.BlockReason = *u.BlockReason
		}
		return decision
	}

	// Потолки применяются только к незарегистрированным продавцам.
	if u.BusinessStatus != BusinessStatusParticulier {
		decision.Allowed = true
		return decision
	}

	if decision.PotentialRevenue > MaxAnnualRevenueParticulier ||
		decision.PotentialCount > MaxAnnualTransactionsParticulier {
		reason := fmt.Sprintf(
			"превышение годового потолка particulier: выручка %.2f/%.2f, сделок %d/%d",
			decision.PotentialRevenue, MaxAnnualRevenueParticulier,
			decision.PotentialCount, MaxAnnualTransactionsParticulier,
		)
		u.AccountBlocked = true
		u.BlockReason = &reason
		decision.Blocked = true
		decision.Frozen = true
		decision.BlockReason = reason
		return decision
	}

	decision.Allowed = true
	decision.Warning = decision.PotentialRevenue >= ComplianceWarningThreshold*MaxAnnualRevenueParticulier ||
		float64(decision.PotentialCount) >= ComplianceWarningThreshold*MaxAnnualTransactionsParticulier

	return decision
}
