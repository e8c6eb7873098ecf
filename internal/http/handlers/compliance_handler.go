package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/service"
)

// ComplianceHandler обслуживает годовые потолки продаж и смену бизнес-статуса.
type ComplianceHandler struct {
	compliance *service.ComplianceService
}

// NewComplianceHandler создаёт хэндлер.
func NewComplianceHandler(compliance *service.ComplianceService) *ComplianceHandler {
	return &ComplianceHandler{compliance: compliance}
}

// GetSalesStatistics обрабатывает GET /compliance/stats.
func (h *ComplianceHandler) GetSalesStatistics(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	stats, err := h.compliance.GetSalesStatistics(c.Request.Context(), printerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// CheckTransaction обрабатывает GET /compliance/check?amount=...
// Позволяет печатнику заранее узнать, пройдёт ли сделка.
func (h *ComplianceHandler) CheckTransaction(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	amount := common.ParseFloatQuery(c, "amount", 0)
	decision, err := h.compliance.CheckTransaction(c.Request.Context(), printerID, amount)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// UpgradeBusinessStatus обрабатывает POST /compliance/upgrade.
func (h *ComplianceHandler) UpgradeBusinessStatus(c *gin.Context) {
	printerID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		SIRET          string `json:"siret" binding:"required"`
		BusinessStatus string `json:"business_status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	user, err := h.compliance.UpgradeBusinessStatus(c.Request.Context(), printerID, req.SIRET, req.BusinessStatus)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// AtRiskReport обрабатывает GET /compliance/at-risk (только администратор).
func (h *ComplianceHandler) AtRiskReport(c *gin.Context) {
	users, err := h.compliance.AtRiskReport(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, users)
}
