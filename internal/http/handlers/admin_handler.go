package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/service"
)

// AdminHandler обслуживает служебные операции: плановую уборку
// истёкших пауз и прочие фоновые задачи, запускаемые по расписанию.
type AdminHandler struct {
	negotiations *service.NegotiationService
	sweepToken   string
}

// NewAdminHandler создаёт хэндлер.
func NewAdminHandler(negotiations *service.NegotiationService, sweepToken string) *AdminHandler {
	return &AdminHandler{negotiations: negotiations, sweepToken: sweepToken}
}

// SweepExpiredPauses обрабатывает POST /admin/sweep/pauses.
// Вызывается планировщиком; защищён служебным токеном.
func (h *AdminHandler) SweepExpiredPauses(c *gin.Context) {
	if h.sweepToken == "" || c.GetHeader("X-Sweep-Token") != h.sweepToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "невалидный служебный токен"})
		return
	}

	limit := common.ParseIntQuery(c, "limit", 100)
	swept, err := h.negotiations.SweepExpiredPauses(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"swept": swept})
}
