package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newParticulier() *User {
	return &User{
		ID:             uuid.New(),
		Role:           RolePrinter,
		BusinessStatus: BusinessStatusParticulier,
		RevenueYear:    2026,
	}
}

func TestUser_DecideTransactionWithinCeilings(t *testing.T) {
	u := newParticulier()
	u.YearlyRevenue = 1000
	u.YearlyTransactionCount = 5

	d := u.DecideTransaction(200)
	assert.True(t, d.Allowed)
	assert.False(t, d.Blocked)
	assert.False(t, d.Warning)
	assert.Equal(t, 1200.0, d.PotentialRevenue)
	assert.Equal(t, 6, d.PotentialCount)
}

func TestUser_DecideTransactionRevenueCeilingFreezes(t *testing.T) {
	u := newParticulier()
	u.YearlyRevenue = 2900

	// Потенциальная выручка 3050 выше потолка 3000: отказ и заморозка,
	// счётчики при этом не растут — сделка не состоялась.
	d := u.DecideTransaction(150)
	assert.False(t, d.Allowed)
	assert.True(t, d.Blocked)
	assert.True(t, d.Frozen)
	assert.NotEmpty(t, d.BlockReason)
	assert.True(t, u.AccountBlocked)
	assert.Equal(t, 2900.0, u.YearlyRevenue)
	assert.Equal(t, 0, u.YearlyTransactionCount)
}

func TestUser_DecideTransactionCountCeilingFreezes(t *testing.T) {
	u := newParticulier()
	u.YearlyTransactionCount = MaxAnnualTransactionsParticulier

	d := u.DecideTransaction(10)
	assert.True(t, d.Blocked)
	assert.True(t, d.Frozen)
	assert.Equal(t, MaxAnnualTransactionsParticulier+1, d.PotentialCount)
	assert.True(t, u.AccountBlocked)
}

func TestUser_DecideTransactionWarningAtEightyPercent(t *testing.T) {
	u := newParticulier()
	u.YearlyRevenue = 2300

	// Потенциальная выручка 2450 >= 80% потолка: сделка проходит,
	// но с предупреждением.
	d := u.DecideTransaction(150)
	assert.True(t, d.Allowed)
	assert.False(t, d.Blocked)
	assert.True(t, d.Warning)
	assert.False(t, u.AccountBlocked)
}

func TestUser_DecideTransactionBlockedAccount(t *testing.T) {
	u := newParticulier()
	reason := "превышение годового потолка"
	u.AccountBlocked = true
	u.BlockReason = &reason

	d := u.DecideTransaction(1)
	assert.False(t, d.Allowed)
	assert.True(t, d.Blocked)
	assert.False(t, d.Frozen)
	assert.Equal(t, reason, d.BlockReason)
}

func TestUser_DecideTransactionProfessionnelNoCeilings(t *testing.T) {
	u := newParticulier()
	u.BusinessStatus = BusinessStatusProfessionnel
	u.YearlyRevenue = 50000
	u.YearlyTransactionCount = 500

	d := u.DecideTransaction(10000)
	assert.True(t, d.Allowed)
	assert.False(t, d.Warning)
}

func TestUser_RolloverIfNewYear(t *testing.T) {
	u := newParticulier()
	u.RevenueYear = 2025
	u.YearlyRevenue = 2999
	u.YearlyTransactionCount = 19

	changed := u.RolloverIfNewYear(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, changed)
	assert.Equal(t, 2026, u.RevenueYear)
	assert.Zero(t, u.YearlyRevenue)
	assert.Zero(t, u.YearlyTransactionCount)

	// Повторный вызов в том же году — no-op.
	assert.False(t, u.RolloverIfNewYear(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestUser_FreezeStickyAcrossRollover(t *testing.T) {
	u := newParticulier()
	u.RevenueYear = 2025
	u.YearlyRevenue = 3000
	reason := "превышение годового потолка"
	u.AccountBlocked = true
	u.BlockReason = &reason

	// Новый год обнуляет счётчики, но заморозку снимает только апгрейд статуса.
	assert.True(t, u.RolloverIfNewYear(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)))
	assert.Zero(t, u.YearlyRevenue)

	d := u.DecideTransaction(10)
	assert.False(t, d.Allowed)
	assert.True(t, d.Blocked)
}
