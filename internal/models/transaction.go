package models

import (
	"time"

	"github.com/google/uuid"
)

// Способы оплаты транзакции.
const (
	PaymentMethodCard    = "card"
	PaymentMethodBalance = "balance"
	PaymentMethodMixed   = "mixed"
	PaymentMethodOther   = "other"
)

// Transaction — денежная запись, обеспечивающая контракт.
// Разбиение комиссии вычисляется при создании и неизменно:
// commission = 10% от amount, printer_payout = amount без комиссии клиента.
// При mixed-оплате balance_used + gateway_amount == total_amount точно.
type Transaction struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ContractID uuid.UUID `db:"contract_id" json:"contract_id"`
	ClientID   uuid.UUID `db:"client_id" json:"client_id"`
	PrinterID  uuid.UUID `db:"printer_id" json:"printer_id"`

	// Amount — согласованная цена (база), TotalAmount — с комиссией платформы.
	Amount        float64 `db:"amount" json:"amount"`
	Commission    float64 `db:"commission" json:"commission"`
	PrinterPayout float64 `db:"printer_payout" json:"printer_payout"`
	TotalAmount   float64 `db:"total_amount" json:"total_amount"`

	PaymentMethod string  `db:"payment_method" json:"payment_method"`
	BalanceUsed   float64 `db:"balance_used" json:"balance_used"`
	GatewayAmount float64 `db:"gateway_amount" json:"gateway_amount"`

	// GatewayIntentID — идентификатор авторизации во внешнем шлюзе.
	GatewayIntentID *string `db:"gateway_intent_id" json:"gateway_intent_id,omitempty"`
	ClientSecret    *string `db:"-" json:"client_secret,omitempty"`

	Status        string  `db:"status" json:"status"`
	FailureReason *string `db:"failure_reason" json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
