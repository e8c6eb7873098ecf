package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/service"
)

// ContractHandler обслуживает контракты: оплату, производственные вехи
// и подтверждение доставки.
type ContractHandler struct {
	contracts    *service.ContractService
	webhookToken string
}

// NewContractHandler создаёт хэндлер.
func NewContractHandler(contracts *service.ContractService, webhookToken string) *ContractHandler {
	return &ContractHandler{contracts: contracts, webhookToken: webhookToken}
}

// GetContract обрабатывает GET /contracts/:id.
func (h *ContractHandler) GetContract(c *gin.Context) {
	userID, contractID, ok := h.identify(c)
	if !ok {
		return
	}

	contract, err := h.contracts.GetContract(c.Request.Context(), userID, contractID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// ListContracts обрабатывает GET /contracts.
func (h *ContractHandler) ListContracts(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	contracts, err := h.contracts.ListContracts(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contracts)
}

// ListTransactions обрабатывает GET /transactions.
func (h *ContractHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	transactions, err := h.contracts.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, transactions)
}

// InitiatePayment обрабатывает POST /contracts/:id/pay.
// Клиент выбирает, какую часть покрыть внутренним балансом; остаток
// уходит в платёжный шлюз.
func (h *ContractHandler) InitiatePayment(c *gin.Context) {
	clientID, contractID, ok := h.identify(c)
	if !ok {
		return
	}

	var req struct {
		UseBalance float64 `json:"use_balance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	transaction, err := h.contracts.InitiatePayment(c.Request.Context(), clientID, contractID, req.UseBalance)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, transaction)
}

// ConfirmPayment обрабатывает POST /transactions/:id/confirm.
func (h *ContractHandler) ConfirmPayment(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	transactionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	transaction, err := h.contracts.ConfirmPayment(c.Request.Context(), clientID, transactionID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, transaction)
}

// GatewayWebhook обрабатывает POST /payments/webhook.
// Шлюз сообщает об итоге авторизации платежа по intent ID.
func (h *ContractHandler) GatewayWebhook(c *gin.Context) {
	if h.webhookToken == "" || c.GetHeader("X-Webhook-Token") != h.webhookToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "невалидный webhook токен"})
		return
	}

	var req struct {
		IntentID string `json:"intent_id" binding:"required"`
		Status   string `json:"status" binding:"required"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	switch req.Status {
	case "succeeded":
		transaction, err := h.contracts.ConfirmPaymentByIntent(c.Request.Context(), req.IntentID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, transaction)
	case "failed", "canceled":
		if err := h.contracts.FailPayment(c.Request.Context(), req.IntentID, req.Reason); err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "failed"})
	default:
		common.RespondBadRequest(c, "неизвестный статус платежа: "+req.Status)
	}
}

// StartPrinting обрабатывает POST /contracts/:id/start-printing.
func (h *ContractHandler) StartPrinting(c *gin.Context) {
	h.runMilestone(c, h.contracts.StartPrinting)
}

// CompletePrinting обрабатывает POST /contracts/:id/complete-printing.
func (h *ContractHandler) CompletePrinting(c *gin.Context) {
	h.runMilestone(c, h.contracts.CompletePrinting)
}

// SharePhotos обрабатывает POST /contracts/:id/share-photos.
func (h *ContractHandler) SharePhotos(c *gin.Context) {
	h.runMilestone(c, h.contracts.SharePhotos)
}

// ShipOrder обрабатывает POST /contracts/:id/ship.
func (h *ContractHandler) ShipOrder(c *gin.Context) {
	h.runMilestone(c, h.contracts.ShipOrder)
}

// ConfirmDelivery обрабатывает POST /contracts/:id/confirm-delivery.
// Финальный шаг клиента: освобождает деньги печатнику.
func (h *ContractHandler) ConfirmDelivery(c *gin.Context) {
	h.runMilestone(c, h.contracts.ConfirmDelivery)
}

func (h *ContractHandler) runMilestone(c *gin.Context, op func(ctx context.Context, userID, contractID uuid.UUID) (*models.Contract, error)) {
	userID, contractID, ok := h.identify(c)
	if !ok {
		return
	}

	contract, err := op(c.Request.Context(), userID, contractID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// identify достаёт пользователя из контекста и ID контракта из URL.
func (h *ContractHandler) identify(c *gin.Context) (userID, contractID uuid.UUID, ok bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	contractID, err = common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	return userID, contractID, true
}
