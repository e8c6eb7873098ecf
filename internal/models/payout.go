package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UUIDList хранится в JSONB колонке.
type UUIDList []uuid.UUID

func (l UUIDList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(UUIDList{})
	}
	return json.Marshal(l)
}

func (l *UUIDList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Payout — заявка продавца на вывод доступного баланса.
// Банковские реквизиты снимаются на момент заявки и дальше не меняются.
// Инвариант: не более одной заявки в статусе pending/processing на продавца.
type Payout struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PrinterID uuid.UUID `db:"printer_id" json:"printer_id"`
	Amount    float64   `db:"amount" json:"amount"`

	BankName      string `db:"bank_name" json:"bank_name"`
	IBANLast4     string `db:"iban_last4" json:"iban_last4"`
	AccountHolder string `db:"account_holder" json:"account_holder"`

	Status string `db:"status" json:"status"`

	// ContractIDs — контракты delivered_confirmed, закрываемые этой выплатой.
	ContractIDs UUIDList `db:"contract_ids" json:"contract_ids"`

	TransferID   *string `db:"transfer_id" json:"transfer_id,omitempty"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
	ErrorCode    *string `db:"error_code" json:"error_code,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}
