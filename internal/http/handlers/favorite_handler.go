package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/service"
)

// FavoriteHandler обслуживает избранных печатников клиента.
type FavoriteHandler struct {
	svc *service.FavoriteService
}

// NewFavoriteHandler создаёт хэндлер.
func NewFavoriteHandler(s *service.FavoriteService) *FavoriteHandler {
	return &FavoriteHandler{svc: s}
}

// AddFavorite POST /favorites
func (h *FavoriteHandler) AddFavorite(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		PrinterID string `json:"printer_id" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	printerID, _ := uuid.Parse(req.PrinterID)
	fav, err := h.svc.Add(c.Request.Context(), userID, printerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, fav)
}

// RemoveFavorite DELETE /favorites/:id
func (h *FavoriteHandler) RemoveFavorite(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	printerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.svc.Remove(c.Request.Context(), userID, printerID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

// ListFavorites GET /favorites
func (h *FavoriteHandler) ListFavorites(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	favorites, err := h.svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, favorites)
}

// CheckFavorite GET /favorites/:id
func (h *FavoriteHandler) CheckFavorite(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	printerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	isFav, err := h.svc.IsFavorite(c.Request.Context(), userID, printerID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_favorite": isFav})
}
