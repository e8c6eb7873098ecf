package models

import (
	"time"

	"github.com/google/uuid"
)

// User описывает пользователя платформы: клиента, печатника или администратора.
// Балансовые и комплаенс-поля относятся к продавцу (печатнику).
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	DisplayName  string     `db:"display_name" json:"display_name"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         string     `db:"role" json:"role"`
	Country      string     `db:"country" json:"country"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`

	// Баланс продавца. pending — начислено, но не доступно до подтверждения
	// доставки; available — доступно к выводу; total уменьшается только после
	// фактического завершения выплаты.
	BalanceAvailable float64 `db:"balance_available" json:"balance_available"`
	BalancePending   float64 `db:"balance_pending" json:"balance_pending"`
	BalanceTotal     float64 `db:"balance_total" json:"balance_total"`

	// Банковские реквизиты для выплат.
	BankName      *string `db:"bank_name" json:"bank_name,omitempty"`
	IBANLast4     *string `db:"iban_last4" json:"iban_last4,omitempty"`
	AccountHolder *string `db:"account_holder" json:"account_holder,omitempty"`
	// GatewayAccountID — счёт получателя во внешнем платёжном шлюзе.
	GatewayAccountID *string `db:"gateway_account_id" json:"-"`

	// Комплаенс-счётчики: отражают завершённые сделки, не попытки.
	BusinessStatus         string  `db:"business_status" json:"business_status"`
	SIRET                  *string `db:"siret" json:"siret,omitempty"`
	YearlyRevenue          float64 `db:"yearly_revenue" json:"yearly_revenue"`
	YearlyTransactionCount int     `db:"yearly_transaction_count" json:"yearly_transaction_count"`
	RevenueYear            int     `db:"revenue_year" json:"revenue_year"`
	AccountBlocked         bool    `db:"account_blocked" json:"account_blocked"`
	BlockReason            *string `db:"block_reason" json:"block_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Balance — снимок баланса продавца для ответов API.
type Balance struct {
	Available float64 `json:"available"`
	Pending   float64 `json:"pending"`
	Total     float64 `json:"total"`
}

// BalanceSnapshot возвращает снимок баланса.
func (u *User) BalanceSnapshot() Balance {
	return Balance{
		Available: u.BalanceAvailable,
		Pending:   u.BalancePending,
		Total:     u.BalanceTotal,
	}
}

// HasBankDetails проверяет наличие реквизитов для выплат.
func (u *User) HasBankDetails() bool {
	return u.BankName != nil && u.IBANLast4 != nil && u.AccountHolder != nil
}

// BankDetails — реквизиты продавца.
type BankDetails struct {
	BankName      string `json:"bank_name"`
	IBANLast4     string `json:"iban_last4"`
	AccountHolder string `json:"account_holder"`
}

// SalesStatistics — использование годовых потолков продавцом.
type SalesStatistics struct {
	UserID                 uuid.UUID `json:"user_id"`
	BusinessStatus         string    `json:"business_status"`
	YearlyRevenue          float64   `json:"yearly_revenue"`
	YearlyTransactionCount int       `json:"yearly_transaction_count"`
	RevenueYear            int       `json:"revenue_year"`
	RevenueCeiling         float64   `json:"revenue_ceiling"`
	TransactionCeiling     int       `json:"transaction_ceiling"`
	RevenueUsagePercent    float64   `json:"revenue_usage_percent"`
	CountUsagePercent      float64   `json:"count_usage_percent"`
	AccountBlocked         bool      `json:"account_blocked"`
	BlockReason            *string   `json:"block_reason,omitempty"`
}
