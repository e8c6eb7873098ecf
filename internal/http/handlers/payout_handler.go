package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/service"
)

// PayoutHandler обслуживает баланс печатника, банковские реквизиты и выплаты.
type PayoutHandler struct {
	payouts *service.PayoutService
}

// NewPayoutHandler создаёт хэндлер.
func NewPayoutHandler(payouts *service.PayoutService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

// GetBalance обрабатывает GET /balance.
func (h *PayoutHandler) GetBalance(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	balance, err := h.payouts.GetBalance(c.Request.Context(), printerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

// UpdateBankDetails обрабатывает PUT /bank-details.
func (h *PayoutHandler) UpdateBankDetails(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		BankName      string `json:"bank_name" binding:"required"`
		IBAN          string `json:"iban" binding:"required"`
		AccountHolder string `json:"account_holder" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	err = h.payouts.UpdateBankDetails(c.Request.Context(), printerID, service.BankDetailsInput{
		BankName:      req.BankName,
		IBAN:          req.IBAN,
		AccountHolder: req.AccountHolder,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "реквизиты сохранены"})
}

// RequestPayout обрабатывает POST /payouts.
func (h *PayoutHandler) RequestPayout(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Amount float64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payout, err := h.payouts.RequestPayout(c.Request.Context(), printerID, req.Amount)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, payout)
}

// ProcessPayout обрабатывает POST /payouts/:id/process.
// Запускается административно или фоновым воркером.
func (h *PayoutHandler) ProcessPayout(c *gin.Context) {
	payoutID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payout, err := h.payouts.ProcessPayout(c.Request.Context(), payoutID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payout)
}

// CancelPayout обрабатывает POST /payouts/:id/cancel.
func (h *PayoutHandler) CancelPayout(c *gin.Context) {
	printerID, payoutID, ok := h.identify(c)
	if !ok {
		return
	}

	payout, err := h.payouts.CancelPayout(c.Request.Context(), printerID, payoutID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payout)
}

// GetPayout обрабатывает GET /payouts/:id.
func (h *PayoutHandler) GetPayout(c *gin.Context) {
	printerID, payoutID, ok := h.identify(c)
	if !ok {
		return
	}

	payout, err := h.payouts.GetPayout(c.Request.Context(), printerID, payoutID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payout)
}

// ListPayouts обрабатывает GET /payouts.
func (h *PayoutHandler) ListPayouts(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	payouts, err := h.payouts.ListPayouts(c.Request.Context(), printerID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payouts)
}

func (h *PayoutHandler) identify(c *gin.Context) (printerID, payoutID uuid.UUID, ok bool) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	payoutID, err = common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	return printerID, payoutID, true
}
