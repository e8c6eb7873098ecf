package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/service"
)

// NegotiationHandler обслуживает переговоры клиента и печатника:
// предложения, подписание, паузы и медиацию.
type NegotiationHandler struct {
	negotiations *service.NegotiationService
}

// NewNegotiationHandler создаёт хэндлер.
func NewNegotiationHandler(negotiations *service.NegotiationService) *NegotiationHandler {
	return &NegotiationHandler{negotiations: negotiations}
}

type quoteRequest struct {
	UnitPrice    float64           `json:"unit_price" binding:"required"`
	Quantity     int               `json:"quantity" binding:"required"`
	TotalPrice   float64           `json:"total_price" binding:"required"`
	Materials    []string          `json:"materials"`
	DeliveryDays int               `json:"delivery_days"`
	ShippingCost float64           `json:"shipping_cost"`
	Options      map[string]string `json:"options"`
}

func (r quoteRequest) toInput() service.QuoteInput {
	return service.QuoteInput{
		UnitPrice:    r.UnitPrice,
		Quantity:     r.Quantity,
		TotalPrice:   r.TotalPrice,
		Materials:    r.Materials,
		DeliveryDays: r.DeliveryDays,
		ShippingCost: r.ShippingCost,
		Options:      r.Options,
	}
}

// StartConversation обрабатывает POST /conversations.
func (h *NegotiationHandler) StartConversation(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		ProjectID string `json:"project_id" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	projectID, _ := uuid.Parse(req.ProjectID)
	conversation, err := h.negotiations.StartConversation(c.Request.Context(), printerID, projectID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, conversation)
}

// GetConversation обрабатывает GET /conversations/:id.
func (h *NegotiationHandler) GetConversation(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	conversation, err := h.negotiations.GetConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// ListConversations обрабатывает GET /conversations.
func (h *NegotiationHandler) ListConversations(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	conversations, err := h.negotiations.ListConversations(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// SendQuote обрабатывает POST /conversations/:id/quote.
func (h *NegotiationHandler) SendQuote(c *gin.Context) {
	printerID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.SendQuote(c.Request.Context(), printerID, conversationID, req.toInput())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// CounterQuote обрабатывает POST /conversations/:id/counter.
func (h *NegotiationHandler) CounterQuote(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.CounterQuote(c.Request.Context(), userID, conversationID, req.toInput())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// AcceptQuote обрабатывает POST /conversations/:id/accept.
func (h *NegotiationHandler) AcceptQuote(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	conversation, err := h.negotiations.AcceptQuote(c.Request.Context(), userID, conversationID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// RejectQuote обрабатывает POST /conversations/:id/reject.
func (h *NegotiationHandler) RejectQuote(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.RejectQuote(c.Request.Context(), userID, conversationID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// Sign обрабатывает POST /conversations/:id/sign.
// Когда подписывают обе стороны, в ответе появляется контракт.
func (h *NegotiationHandler) Sign(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	conversation, contract, err := h.negotiations.Sign(c.Request.Context(), userID, conversationID)
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{"conversation": conversation}
	if contract != nil {
		resp["contract"] = contract
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel обрабатывает POST /conversations/:id/cancel.
func (h *NegotiationHandler) Cancel(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
		Mutual bool   `json:"mutual"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.Cancel(c.Request.Context(), userID, conversationID, req.Reason, req.Mutual)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// Withdraw обрабатывает POST /conversations/:id/withdraw.
func (h *NegotiationHandler) Withdraw(c *gin.Context) {
	printerID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	conversation, err := h.negotiations.Withdraw(c.Request.Context(), printerID, conversationID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// Refuse обрабатывает POST /conversations/:id/refuse.
// Клиент отказывает печатнику и закрывает для него проект.
func (h *NegotiationHandler) Refuse(c *gin.Context) {
	clientID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.Refuse(c.Request.Context(), clientID, conversationID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// Pause обрабатывает POST /conversations/:id/pause.
func (h *NegotiationHandler) Pause(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	conversation, err := h.negotiations.Pause(c.Request.Context(), userID, conversationID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// Resume обрабатывает POST /conversations/:id/resume.
func (h *NegotiationHandler) Resume(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	conversation, err := h.negotiations.Resume(c.Request.Context(), userID, conversationID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// RequestMediation обрабатывает POST /conversations/:id/mediation.
func (h *NegotiationHandler) RequestMediation(c *gin.Context) {
	userID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.RequestMediation(c.Request.Context(), userID, conversationID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// CancelByMediation обрабатывает POST /conversations/:id/mediation/cancel.
// Доступен только медиатору платформы.
func (h *NegotiationHandler) CancelByMediation(c *gin.Context) {
	mediatorID, conversationID, ok := h.identify(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	conversation, err := h.negotiations.CancelByMediation(c.Request.Context(), mediatorID, conversationID, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// identify достаёт пользователя из контекста и ID переговоров из URL.
func (h *NegotiationHandler) identify(c *gin.Context) (userID, conversationID uuid.UUID, ok bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	conversationID, err = common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	return userID, conversationID, true
}
