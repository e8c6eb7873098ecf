package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
)

// Contract — денежный договор, порождённый принятым и подписанным предложением.
// Ровно один не отменённый контракт на переговоры. Комиссия считается один раз
// при создании и никогда не перевычисляется из сохранённых сумм.
type Contract struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversation_id"`
	ProjectID      uuid.UUID `db:"project_id" json:"project_id"`
	ClientID       uuid.UUID `db:"client_id" json:"client_id"`
	PrinterID      uuid.UUID `db:"printer_id" json:"printer_id"`

	Quote Quote `db:"quote" json:"quote"`

	AgreedPrice        float64 `db:"agreed_price" json:"agreed_price"`
	PlatformCommission float64 `db:"platform_commission" json:"platform_commission"`
	TotalPaid          float64 `db:"total_paid" json:"total_paid"`
	PrinterEarnings    float64 `db:"printer_earnings" json:"printer_earnings"`

	Status string `db:"status" json:"status"`

	SignedAt            *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	PrintingStartedAt   *time.Time `db:"printing_started_at" json:"printing_started_at,omitempty"`
	PrintingCompletedAt *time.Time `db:"printing_completed_at" json:"printing_completed_at,omitempty"`
	PhotosSentAt        *time.Time `db:"photos_sent_at" json:"photos_sent_at,omitempty"`
	ShippedAt           *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt         *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt         *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	PrinterPaid bool       `db:"printer_paid" json:"printer_paid"`
	PayoutID    *uuid.UUID `db:"payout_id" json:"payout_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// contractTransitions задаёт обязательного предшественника каждого перехода.
var contractTransitions = map[string]string{
	ContractStatusSigned:             ContractStatusPendingSignature,
	ContractStatusPrintingStarted:    ContractStatusSigned,
	ContractStatusPrintingCompleted:  ContractStatusPrintingStarted,
	ContractStatusPhotosSent:         ContractStatusPrintingCompleted,
	ContractStatusShipped:            ContractStatusPhotosSent,
	ContractStatusDeliveredConfirmed: ContractStatusShipped,
	ContractStatusCompleted:          ContractStatusDeliveredConfirmed,
}

func (ct *Contract) transition(to string, now time.Time) *apperror.AppError {
	required := contractTransitions[to]
	if ct.Status != required {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("переход в %s возможен только из %s, текущий статус %s", to, required, ct.Status))
	}
	ct.Status = to
	switch to {
	case ContractStatusSigned:
		ct.SignedAt = &now
	case ContractStatusPrintingStarted:
		ct.PrintingStartedAt = &now
	case ContractStatusPrintingCompleted:
		ct.PrintingCompletedAt = &now
	case ContractStatusPhotosSent:
		ct.PhotosSentAt = &now
	case ContractStatusShipped:
		ct.ShippedAt = &now
	case ContractStatusDeliveredConfirmed:
		ct.DeliveredAt = &now
	case ContractStatusCompleted:
		ct.CompletedAt = &now
	}
	return nil
}

// MarkSigned переводит контракт в signed после подтверждения оплаты.
func (ct *Contract) MarkSigned(now time.Time) *apperror.AppError {
	return ct.transition(ContractStatusSigned, now)
}

// StartPrinting — печатник начал производство.
func (ct *Contract) StartPrinting(now time.Time) *apperror.AppError {
	return ct.transition(ContractStatusPrintingStarted, now)
}

// CompletePrinting — производство завершено.
func (ct *Contract) CompletePrinting(now time.Time) *apperror.AppError {
	return ct.transition(ContractStatusPrintingCompleted, now)
}

// SendPhotos — фотографии результата отправлены клиенту.
func (ct *Contract) SendPhotos(now time.Time) *apperror.AppError {
	return ct.transition(ContractStatusPhotosSent, now)
}

// MarkAsShipped — заказ передан в доставку.
func (ct *Contract) MarkAsShipped(now time.Time) *apperror.AppError {
	return ct.transition(ContractStatusShipped, now)
}

// ConfirmDelivery — клиент подтвердил получение. Единственная точка,
// после которой средства продавца переходят из pending в available.
func (ct *Contract) ConfirmDelivery(now time.Time) *apperror.AppError {
	return ct.transition(ContractStatusDeliveredConfirmed, now)
}

// Complete закрывает контракт после успешной выплаты продавцу.
func (ct *Contract) Complete(payoutID uuid.UUID, now time.Time) *apperror.AppError {
	if ct.PrinterPaid {
		return apperror.New(apperror.ErrCodeInvalidState, "контракт уже оплачен продавцу")
	}
	if err := ct.transition(ContractStatusCompleted, now); err != nil {
		return err
	}
	ct.PrinterPaid = true
	ct.PayoutID = &payoutID
	return nil
}

// Cancel отменяет контракт из любого незавершённого состояния.
func (ct *Contract) Cancel(now time.Time) *apperror.AppError {
	if ct.Status == ContractStatusCompleted || ct.Status == ContractStatusCancelled {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("контракт в статусе %s нельзя отменить", ct.Status))
	}
	ct.Status = ContractStatusCancelled
	ct.CancelledAt = &now
	return nil
}
