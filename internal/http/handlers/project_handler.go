package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/service"
)

// ProjectHandler обслуживает заявки клиентов на печать.
type ProjectHandler struct {
	projects *service.ProjectService
}

// NewProjectHandler создаёт хэндлер.
func NewProjectHandler(projects *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// CreateProject обрабатывает POST /projects.
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Title         string  `json:"title" binding:"required"`
		Description   string  `json:"description" binding:"required"`
		Quantity      int     `json:"quantity" binding:"required"`
		Material      *string `json:"material"`
		ModelFileURL  *string `json:"model_file_url"`
		ModelFileSize *int64  `json:"model_file_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	project, err := h.projects.CreateProject(c.Request.Context(), clientID, service.CreateProjectInput{
		Title:         req.Title,
		Description:   req.Description,
		Quantity:      req.Quantity,
		Material:      req.Material,
		ModelFileURL:  req.ModelFileURL,
		ModelFileSize: req.ModelFileSize,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// GetProject обрабатывает GET /projects/:id.
func (h *ProjectHandler) GetProject(c *gin.Context) {
	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	project, err := h.projects.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// ListMyProjects обрабатывает GET /projects/my.
func (h *ProjectHandler) ListMyProjects(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	projects, err := h.projects.ListClientProjects(c.Request.Context(), clientID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, projects)
}

// ListOpenProjects обрабатывает GET /projects.
func (h *ProjectHandler) ListOpenProjects(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	projects, err := h.projects.ListOpenProjects(c.Request.Context(), limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, projects)
}

// MarkPrinterFound обрабатывает POST /projects/:id/printer-found.
func (h *ProjectHandler) MarkPrinterFound(c *gin.Context) {
	clientID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	projectID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	project, err := h.projects.MarkPrinterFound(c.Request.Context(), clientID, projectID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, project)
}
