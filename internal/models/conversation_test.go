package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/makerlink/print3d-backend/internal/pkg/apperror"
)

func newTestConversation() *Conversation {
	return &Conversation{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		ClientID:  uuid.New(),
		PrinterID: uuid.New(),
		Status:    ConversationStatusActive,
	}
}

func testQuote(total float64) Quote {
	return Quote{
		UnitPrice:    total,
		Quantity:     1,
		TotalPrice:   total,
		DeliveryDays: 7,
	}
}

func TestConversation_SendQuote(t *testing.T) {
	c := newTestConversation()
	now := time.Now()

	err := c.SendQuote(testQuote(100), c.PrinterID, now)
	assert.Nil(t, err)
	assert.Equal(t, ConversationStatusQuoteSent, c.Status)
	assert.Equal(t, 1, c.CurrentQuote.Version)
	assert.Empty(t, c.QuoteHistory)

	// Повторное предложение вытесняет прежнее в историю.
	err = c.SendQuote(testQuote(90), c.PrinterID, now)
	assert.Nil(t, err)
	assert.Equal(t, 2, c.CurrentQuote.Version)
	assert.Len(t, c.QuoteHistory, 1)
	assert.Equal(t, 100.0, c.QuoteHistory[0].TotalPrice)
}

func TestConversation_CounterQuoteCap(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))

	// Ровно три встречных проходят, четвёртое всегда отклоняется.
	parties := []uuid.UUID{c.ClientID, c.PrinterID, c.ClientID}
	for i, p := range parties {
		err := c.CounterQuote(testQuote(100-float64(i)), p, now)
		assert.Nil(t, err, "counter %d", i+1)
	}
	assert.Equal(t, 3, c.CounterOfferCount)
	assert.Equal(t, ConversationStatusNegotiating, c.Status)

	err := c.CounterQuote(testQuote(80), c.PrinterID, now)
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeLimitExceeded, err.Code)
	assert.Equal(t, 3, err.Details["counter_offer_count"])
	assert.Equal(t, 3, c.CounterOfferCount)
}

func TestConversation_BilateralSignature(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.AcceptQuote())

	became, err := c.Sign(c.ClientID, now)
	assert.Nil(t, err)
	assert.False(t, became)
	assert.NotNil(t, c.ClientSignedAt)
	assert.NotEqual(t, ConversationStatusSigned, c.Status)

	// Повторная подпись той же стороны — no-op.
	first := *c.ClientSignedAt
	became, err = c.Sign(c.ClientID, now.Add(time.Hour))
	assert.Nil(t, err)
	assert.False(t, became)
	assert.Equal(t, first, *c.ClientSignedAt)

	became, err = c.Sign(c.PrinterID, now)
	assert.Nil(t, err)
	assert.True(t, became)
	assert.Equal(t, ConversationStatusSigned, c.Status)
}

func TestConversation_SignRequiresAcceptedQuote(t *testing.T) {
	c := newTestConversation()
	_, err := c.Sign(c.ClientID, time.Now())
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, err.Code)
}

func TestConversation_SignByStranger(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.AcceptQuote())

	_, err := c.Sign(uuid.New(), now)
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, err.Code)
}

func TestConversation_CancelAfterBothSigned(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.AcceptQuote())
	c.Sign(c.ClientID, now)
	c.Sign(c.PrinterID, now)

	err := c.Cancel(c.ClientID, "передумал", false, now)
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, err.Code)
}

func TestConversation_CancelVariants(t *testing.T) {
	now := time.Now()

	c := newTestConversation()
	assert.Nil(t, c.Cancel(c.ClientID, "", false, now))
	assert.Equal(t, ConversationStatusCancelledByClient, c.Status)

	c = newTestConversation()
	assert.Nil(t, c.Cancel(c.PrinterID, "", false, now))
	assert.Equal(t, ConversationStatusCancelledByPrinter, c.Status)

	c = newTestConversation()
	assert.Nil(t, c.Cancel(c.ClientID, "", true, now))
	assert.Equal(t, ConversationStatusCancelledMutual, c.Status)

	// Конечное состояние неизменяемо.
	err := c.SendQuote(testQuote(10), c.PrinterID, now)
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, err.Code)
}

func TestConversation_RejectQuote(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))

	assert.Nil(t, c.RejectQuote("слишком дорого"))
	assert.Nil(t, c.CurrentQuote)
	assert.Equal(t, ConversationStatusNegotiating, c.Status)
	assert.Len(t, c.QuoteHistory, 1)
	assert.Equal(t, "слишком дорого", *c.QuoteHistory[0].RejectedReason)
}

func TestConversation_Withdraw(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))

	// Клиент отозвать не может.
	err := c.Withdraw(c.ClientID, now)
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, err.Code)

	assert.Nil(t, c.Withdraw(c.PrinterID, now))
	assert.Nil(t, c.CurrentQuote)
	assert.Equal(t, ConversationStatusCancelledByPrinter, c.Status)
}

func TestConversation_ReopenAfterWithdraw(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.Withdraw(c.PrinterID, now))

	// Отозвавший предложение печатник заходит заново со свежим предложением.
	assert.Nil(t, c.Reopen())
	assert.Equal(t, ConversationStatusPending, c.Status)
	assert.Nil(t, c.CancelledBy)
	assert.Nil(t, c.CancelReason)
	assert.Nil(t, c.CancelledAt)

	assert.Nil(t, c.SendQuote(testQuote(80), c.PrinterID, now))
	assert.Equal(t, ConversationStatusQuoteSent, c.Status)
}

func TestConversation_ReopenOnlyAfterPrinterCancel(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.Refuse(c.ClientID, "не устраивает качество", now))

	// Отказ клиента так не снимается.
	err := c.Reopen()
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidState, err.Code)
}

func TestConversation_PauseAndExpiry(t *testing.T) {
	c := newTestConversation()
	now := time.Now()

	assert.Nil(t, c.Pause(c.ClientID, now))
	assert.Equal(t, ConversationStatusPaused, c.Status)
	assert.Equal(t, now.Add(30*24*time.Hour), *c.PauseExpiresAt)

	// До истечения метла не трогает переговоры.
	err := c.ExpirePause(now.Add(29 * 24 * time.Hour))
	assert.NotNil(t, err)

	assert.Nil(t, c.ExpirePause(now.Add(31*24*time.Hour)))
	assert.Equal(t, ConversationStatusCancelledMutual, c.Status)
	assert.Equal(t, "pause expired", *c.CancelReason)
}

func TestConversation_Resume(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.Pause(c.PrinterID, now))
	assert.Nil(t, c.Resume())
	assert.Equal(t, ConversationStatusActive, c.Status)
	assert.Nil(t, c.PauseExpiresAt)
}

func TestConversation_ResumeRestoresPrePauseStatus(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))

	assert.Nil(t, c.Pause(c.ClientID, now))
	assert.Nil(t, c.Resume())

	// Пауза не откатывает переговоры: выставленное предложение остаётся в силе.
	assert.Equal(t, ConversationStatusQuoteSent, c.Status)
	assert.Nil(t, c.StatusBeforePause)
}

func TestConversation_MediationDoesNotChangeStatus(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))

	assert.Nil(t, c.RequestMediation(c.ClientID, "спор о качестве", now))
	assert.Equal(t, ConversationStatusQuoteSent, c.Status)
	assert.NotNil(t, c.MediationRequestedAt)
}

func TestConversation_ProductionMilestoneOrder(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.AcceptQuote())
	c.Sign(c.ClientID, now)
	c.Sign(c.PrinterID, now)

	// Вне очереди — отказ.
	err := c.CompletePrinting(c.PrinterID, now)
	assert.NotNil(t, err)
	err = c.ShipOrder(c.PrinterID, now)
	assert.NotNil(t, err)

	assert.Nil(t, c.StartPrinting(c.PrinterID, now))
	assert.Equal(t, ConversationStatusInProduction, c.Status)
	assert.Nil(t, c.CompletePrinting(c.PrinterID, now))
	assert.Nil(t, c.SharePhotos(c.PrinterID, now))
	assert.Nil(t, c.ShipOrder(c.PrinterID, now))
	assert.Equal(t, ConversationStatusReady, c.Status)

	// Вехи отмечает только печатник, приёмку подтверждает только клиент.
	err = c.ConfirmReceipt(c.PrinterID)
	assert.NotNil(t, err)
	assert.Nil(t, c.ConfirmReceipt(c.ClientID))
	assert.Equal(t, ConversationStatusCompleted, c.Status)
}

func TestConversation_MilestonesPrinterOnly(t *testing.T) {
	c := newTestConversation()
	now := time.Now()
	assert.Nil(t, c.SendQuote(testQuote(100), c.PrinterID, now))
	assert.Nil(t, c.AcceptQuote())
	c.Sign(c.ClientID, now)
	c.Sign(c.PrinterID, now)

	err := c.StartPrinting(c.ClientID, now)
	assert.NotNil(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, err.Code)
}
