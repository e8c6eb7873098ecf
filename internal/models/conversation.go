package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/money"
	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
)

// Quote — снимок коммерческого предложения внутри переговоров.
// После архивации в историю снимок не изменяется.
type Quote struct {
	UnitPrice    float64           `json:"unit_price"`
	Quantity     int               `json:"quantity"`
	TotalPrice   float64           `json:"total_price"`
	Materials    []string          `json:"materials,omitempty"`
	DeliveryDays int               `json:"delivery_days"`
	ShippingCost float64           `json:"shipping_cost"`
	Options      map[string]string `json:"options,omitempty"`
	SentAt       time.Time         `json:"sent_at"`
	SentBy       uuid.UUID         `json:"sent_by"`
	Version      int               `json:"version"`
	// RejectedReason заполняется при архивации отклонённого предложения.
	RejectedReason *string `json:"rejected_reason,omitempty"`
}

// Value сериализует снимок в JSONB.
func (q Quote) Value() (driver.Value, error) {
	return json.Marshal(q)
}

// Scan читает снимок из JSONB.
func (q *Quote) Scan(src interface{}) error {
	return scanJSON(src, q)
}

// QuoteHistory — append-only история вытесненных предложений.
type QuoteHistory []Quote

func (h QuoteHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal(QuoteHistory{})
	}
	return json.Marshal(h)
}

func (h *QuoteHistory) Scan(src interface{}) error {
	return scanJSON(src, h)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("models: неподдерживаемый тип JSONB %T", src)
	}
}

// Conversation описывает переговоры между клиентом и печатником по одному проекту.
// Все переходы состояний выполняются методами; репозиторий сохраняет запись
// с проверкой версии, поэтому конкурирующие переходы не могут пройти оба.
type Conversation struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`
	ClientID  uuid.UUID `db:"client_id" json:"client_id"`
	PrinterID uuid.UUID `db:"printer_id" json:"printer_id"`
	Status    string    `db:"status" json:"status"`

	CurrentQuote      *Quote       `db:"current_quote" json:"current_quote,omitempty"`
	QuoteHistory      QuoteHistory `db:"quote_history" json:"quote_history"`
	CounterOfferCount int          `db:"counter_offer_count" json:"counter_offer_count"`

	ClientSignedAt  *time.Time `db:"client_signed_at" json:"client_signed_at,omitempty"`
	PrinterSignedAt *time.Time `db:"printer_signed_at" json:"printer_signed_at,omitempty"`

	// Производственные вехи: каждая открывается только после предыдущей.
	PrintingStartedAt   *time.Time `db:"printing_started_at" json:"printing_started_at,omitempty"`
	PrintingCompletedAt *time.Time `db:"printing_completed_at" json:"printing_completed_at,omitempty"`
	PhotosSharedAt      *time.Time `db:"photos_shared_at" json:"photos_shared_at,omitempty"`
	OrderShippedAt      *time.Time `db:"order_shipped_at" json:"order_shipped_at,omitempty"`

	PausedBy          *uuid.UUID `db:"paused_by" json:"paused_by,omitempty"`
	PausedAt          *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	PauseExpiresAt    *time.Time `db:"pause_expires_at" json:"pause_expires_at,omitempty"`
	StatusBeforePause *string    `db:"status_before_pause" json:"-"`

	CancelledBy  *uuid.UUID `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	MediationRequestedBy *uuid.UUID `db:"mediation_requested_by" json:"mediation_requested_by,omitempty"`
	MediationReason      *string    `db:"mediation_reason" json:"mediation_reason,omitempty"`
	MediationRequestedAt *time.Time `db:"mediation_requested_at" json:"mediation_requested_at,omitempty"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal сообщает, достигли ли переговоры конечного состояния.
// Конечные состояния неизменяемы: ни одна операция их больше не принимает.
func (c *Conversation) IsTerminal() bool {
	switch c.Status {
	case ConversationStatusCompleted,
		ConversationStatusCancelledByClient,
		ConversationStatusCancelledByPrinter,
		ConversationStatusCancelledMutual,
		ConversationStatusCancelledMediation:
		return true
	}
	return false
}

// BothSigned сообщает, подписали ли договор обе стороны.
func (c *Conversation) BothSigned() bool {
	return c.ClientSignedAt != nil && c.PrinterSignedAt != nil
}

// IsParty проверяет принадлежность пользователя к переговорам.
func (c *Conversation) IsParty(userID uuid.UUID) bool {
	return c.ClientID == userID || c.PrinterID == userID
}

func (c *Conversation) guardMutable() *apperror.AppError {
	if c.IsTerminal() {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("переговоры завершены (статус %s), изменения невозможны", c.Status))
	}
	return nil
}

// SendQuote выставляет новое предложение. Прежнее (если было) уходит в историю.
func (c *Conversation) SendQuote(q Quote, sentBy uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if c.Status == ConversationStatusPaused {
		return apperror.New(apperror.ErrCodeInvalidState, "переговоры на паузе")
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState, "договор уже подписан, новые предложения не принимаются")
	}

	c.archiveCurrentQuote(nil)
	q.SentAt = now
	q.SentBy = sentBy
	q.Version = len(c.QuoteHistory) + 1
	q.TotalPrice = money.Round2(q.TotalPrice)
	c.CurrentQuote = &q
	c.Status = ConversationStatusQuoteSent
	return nil
}

// CounterQuote выставляет встречное предложение. Четвёртая попытка всегда
// отклоняется: стороны обязаны принять, отменить или запросить медиацию.
func (c *Conversation) CounterQuote(q Quote, sentBy uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if c.Status == ConversationStatusPaused {
		return apperror.New(apperror.ErrCodeInvalidState, "переговоры на паузе")
	}
	if c.CurrentQuote == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "нет предложения для встречного")
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState, "договор уже подписан")
	}
	if c.CounterOfferCount >= MaxCounterOffers {
		return apperror.New(apperror.ErrCodeLimitExceeded,
			"лимит встречных предложений исчерпан").
			WithDetails(map[string]interface{}{
				"counter_offer_count": c.CounterOfferCount,
				"max_counter_offers":  MaxCounterOffers,
			})
	}

	c.archiveCurrentQuote(nil)
	q.SentAt = now
	q.SentBy = sentBy
	q.Version = len(c.QuoteHistory) + 1
	q.TotalPrice = money.Round2(q.TotalPrice)
	c.CurrentQuote = &q
	c.CounterOfferCount++
	c.Status = ConversationStatusNegotiating
	return nil
}

// AcceptQuote принимает текущее предложение. Вызвать может любая сторона:
// клиент принимает предложение печатника либо печатник — встречное клиента.
func (c *Conversation) AcceptQuote() *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if c.CurrentQuote == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "нет предложения для принятия")
	}
	if c.Status != ConversationStatusQuoteSent && c.Status != ConversationStatusNegotiating {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("предложение нельзя принять в статусе %s", c.Status))
	}
	c.Status = ConversationStatusQuoteAccepted
	return nil
}

// RejectQuote отклоняет текущее предложение с аннотацией причины.
func (c *Conversation) RejectQuote(reason string) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if c.CurrentQuote == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "нет предложения для отклонения")
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState, "договор уже подписан")
	}
	c.archiveCurrentQuote(&reason)
	c.Status = ConversationStatusNegotiating
	return nil
}

// Sign фиксирует подпись стороны. Повторная подпись той же стороны — no-op.
// Статус становится signed только когда подписали обе стороны.
func (c *Conversation) Sign(signedBy uuid.UUID, now time.Time) (becameSigned bool, err *apperror.AppError) {
	if e := c.guardMutable(); e != nil {
		return false, e
	}
	if c.Status != ConversationStatusQuoteAccepted && c.Status != ConversationStatusSigned {
		return false, apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("подписание недоступно в статусе %s", c.Status))
	}

	switch signedBy {
	case c.ClientID:
		if c.ClientSignedAt == nil {
			c.ClientSignedAt = &now
		}
	case c.PrinterID:
		if c.PrinterSignedAt == nil {
			c.PrinterSignedAt = &now
		}
	default:
		return false, apperror.ErrForbidden
	}

	if c.BothSigned() && c.Status != ConversationStatusSigned {
		c.Status = ConversationStatusSigned
		return true, nil
	}
	return false, nil
}

// Cancel отменяет переговоры до обоюдного подписания. После подписания
// расторжение возможно только через медиацию.
func (c *Conversation) Cancel(cancelledBy uuid.UUID, reason string, mutual bool, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState,
			"после подписания отмена возможна только через медиацию")
	}

	switch {
	case mutual:
		c.Status = ConversationStatusCancelledMutual
	case cancelledBy == c.ClientID:
		c.Status = ConversationStatusCancelledByClient
	case cancelledBy == c.PrinterID:
		c.Status = ConversationStatusCancelledByPrinter
	default:
		return apperror.ErrForbidden
	}

	c.CancelledBy = &cancelledBy
	c.CancelReason = &reason
	c.CancelledAt = &now
	return nil
}

// CancelByMediation — привилегированное расторжение по итогу медиации.
func (c *Conversation) CancelByMediation(mediatorID uuid.UUID, reason string, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	c.Status = ConversationStatusCancelledMediation
	c.CancelledBy = &mediatorID
	c.CancelReason = &reason
	c.CancelledAt = &now
	return nil
}

// Withdraw — отзыв предложения печатником до подписания. Снимок полностью
// очищается (печатник может зайти заново со свежим предложением), переговоры
// закрываются со стороны печатника.
func (c *Conversation) Withdraw(printerID uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if printerID != c.PrinterID {
		return apperror.ErrForbidden
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState, "после подписания отзыв невозможен")
	}
	c.CurrentQuote = nil
	c.Status = ConversationStatusCancelledByPrinter
	reason := "предложение отозвано печатником"
	c.CancelledBy = &printerID
	c.CancelReason = &reason
	c.CancelledAt = &now
	return nil
}

// Reopen возвращает отменённые печатником переговоры в исходное состояние:
// печатник вправе зайти заново со свежим предложением. Отказ клиента так не
// снимается — его фиксирует список отказов проекта. История предложений и
// счётчик встречных сохраняются.
func (c *Conversation) Reopen() *apperror.AppError {
	if c.Status != ConversationStatusCancelledByPrinter {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("переговоры в статусе %s нельзя открыть заново", c.Status))
	}
	c.Status = ConversationStatusPending
	c.CurrentQuote = nil
	c.ClientSignedAt = nil
	c.PrinterSignedAt = nil
	c.CancelledBy = nil
	c.CancelReason = nil
	c.CancelledAt = nil
	return nil
}

// Refuse — клиент отказывается от услуг этого печатника. Сам печатник
// дополнительно попадает в список отказов проекта (делает репозиторий проекта).
func (c *Conversation) Refuse(clientID uuid.UUID, reason string, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if clientID != c.ClientID {
		return apperror.ErrForbidden
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState, "после подписания отказ невозможен")
	}
	c.Status = ConversationStatusCancelledByClient
	c.CancelledBy = &clientID
	c.CancelReason = &reason
	c.CancelledAt = &now
	return nil
}

// Pause ставит переговоры на паузу со сроком ровно 30 дней.
func (c *Conversation) Pause(pausedBy uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if c.Status == ConversationStatusPaused {
		return apperror.New(apperror.ErrCodeInvalidState, "переговоры уже на паузе")
	}
	if c.BothSigned() {
		return apperror.New(apperror.ErrCodeInvalidState, "после подписания пауза недоступна")
	}
	prev := c.Status
	expires := now.Add(PauseTTL)
	c.StatusBeforePause = &prev
	c.PausedBy = &pausedBy
	c.PausedAt = &now
	c.PauseExpiresAt = &expires
	c.Status = ConversationStatusPaused
	return nil
}

// Resume снимает паузу и возвращает переговоры в состояние, в котором они
// были до паузы.
func (c *Conversation) Resume() *apperror.AppError {
	if c.Status != ConversationStatusPaused {
		return apperror.New(apperror.ErrCodeInvalidState, "переговоры не на паузе")
	}
	restored := ConversationStatusActive
	if c.StatusBeforePause != nil {
		restored = *c.StatusBeforePause
	}
	c.PausedBy = nil
	c.PausedAt = nil
	c.PauseExpiresAt = nil
	c.StatusBeforePause = nil
	c.Status = restored
	return nil
}

// ExpirePause отменяет переговоры с истёкшей паузой. Вызывается метлой;
// для не истёкшей паузы возвращает ошибку, что делает операцию идемпотентной.
func (c *Conversation) ExpirePause(now time.Time) *apperror.AppError {
	if c.Status != ConversationStatusPaused || c.PauseExpiresAt == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "переговоры не на паузе")
	}
	if now.Before(*c.PauseExpiresAt) {
		return apperror.New(apperror.ErrCodeInvalidState, "пауза ещё не истекла")
	}
	reason := "pause expired"
	c.Status = ConversationStatusCancelledMutual
	c.CancelReason = &reason
	c.CancelledAt = &now
	return nil
}

// RequestMediation поднимает флаг медиации. Статус не меняется: медиация —
// совещательная эскалация, финальное решение принимает внешняя привилегированная
// операция.
func (c *Conversation) RequestMediation(requestedBy uuid.UUID, reason string, now time.Time) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if !c.IsParty(requestedBy) {
		return apperror.ErrForbidden
	}
	c.MediationRequestedBy = &requestedBy
	c.MediationReason = &reason
	c.MediationRequestedAt = &now
	return nil
}

// StartPrinting открывает производство. Только печатник, только после подписания.
func (c *Conversation) StartPrinting(printerID uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMilestone(printerID); err != nil {
		return err
	}
	if c.Status != ConversationStatusSigned {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("печать нельзя начать в статусе %s", c.Status))
	}
	c.PrintingStartedAt = &now
	c.Status = ConversationStatusInProduction
	return nil
}

// CompletePrinting фиксирует завершение печати.
func (c *Conversation) CompletePrinting(printerID uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMilestone(printerID); err != nil {
		return err
	}
	if c.PrintingStartedAt == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "печать ещё не начата")
	}
	if c.PrintingCompletedAt != nil {
		return apperror.New(apperror.ErrCodeInvalidState, "печать уже завершена")
	}
	c.PrintingCompletedAt = &now
	return nil
}

// SharePhotos фиксирует отправку фотографий результата.
func (c *Conversation) SharePhotos(printerID uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMilestone(printerID); err != nil {
		return err
	}
	if c.PrintingCompletedAt == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "печать ещё не завершена")
	}
	if c.PhotosSharedAt != nil {
		return apperror.New(apperror.ErrCodeInvalidState, "фотографии уже отправлены")
	}
	c.PhotosSharedAt = &now
	return nil
}

// ShipOrder фиксирует отправку заказа и переводит переговоры в ready.
func (c *Conversation) ShipOrder(printerID uuid.UUID, now time.Time) *apperror.AppError {
	if err := c.guardMilestone(printerID); err != nil {
		return err
	}
	if c.PhotosSharedAt == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "фотографии ещё не отправлены")
	}
	if c.OrderShippedAt != nil {
		return apperror.New(apperror.ErrCodeInvalidState, "заказ уже отправлен")
	}
	c.OrderShippedAt = &now
	c.Status = ConversationStatusReady
	return nil
}

// ConfirmReceipt — клиент подтверждает получение, переговоры завершаются.
func (c *Conversation) ConfirmReceipt(clientID uuid.UUID) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if clientID != c.ClientID {
		return apperror.ErrForbidden
	}
	if c.Status != ConversationStatusReady {
		return apperror.New(apperror.ErrCodeInvalidState,
			fmt.Sprintf("получение нельзя подтвердить в статусе %s", c.Status))
	}
	c.Status = ConversationStatusCompleted
	return nil
}

func (c *Conversation) guardMilestone(printerID uuid.UUID) *apperror.AppError {
	if err := c.guardMutable(); err != nil {
		return err
	}
	if printerID != c.PrinterID {
		return apperror.New(apperror.ErrCodeForbidden, "производственные вехи отмечает только печатник")
	}
	return nil
}

func (c *Conversation) archiveCurrentQuote(rejectedReason *string) {
	if c.CurrentQuote == nil {
		return
	}
	archived := *c.CurrentQuote
	archived.RejectedReason = rejectedReason
	c.QuoteHistory = append(c.QuoteHistory, archived)
	c.CurrentQuote = nil
}
