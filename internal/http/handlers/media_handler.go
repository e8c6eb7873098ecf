package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"

	"github.com/makerlink/print3d-backend/internal/http/handlers/common"
	"github.com/makerlink/print3d-backend/internal/models"
	"github.com/makerlink/print3d-backend/internal/repository"
	"github.com/makerlink/print3d-backend/internal/storage"
)

// Разрешённые типы изображений (фото производства).
var allowedImageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var allowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Расширения 3D-моделей. Магических байтов у STL/OBJ нет,
// поэтому проверяем только расширение и размер.
var allowedModelExtensions = map[string]bool{
	".stl":  true,
	".obj":  true,
	".3mf":  true,
	".step": true,
}

// MediaHandler управляет загрузкой 3D-моделей и фото производства.
type MediaHandler struct {
	repo    *repository.MediaRepository
	storage *storage.PhotoStorage
}

// NewMediaHandler создаёт новый хэндлер.
func NewMediaHandler(repo *repository.MediaRepository, storage *storage.PhotoStorage) *MediaHandler {
	return &MediaHandler{repo: repo, storage: storage}
}

// UploadPhoto обрабатывает POST /media/photos.
func (h *MediaHandler) UploadPhoto(c *gin.Context) {
	h.upload(c, true)
}

// UploadModel обрабатывает POST /media/models.
func (h *MediaHandler) UploadModel(c *gin.Context) {
	h.upload(c, false)
}

func (h *MediaHandler) upload(c *gin.Context, isPhoto bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "поле file обязательно")
		return
	}

	if file.Size == 0 {
		common.RespondBadRequest(c, "файл не может быть пустым")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if isPhoto && !allowedImageExtensions[ext] {
		common.RespondBadRequest(c, "неподдерживаемый формат изображения: "+ext)
		return
	}
	if !isPhoto && !allowedModelExtensions[ext] {
		common.RespondBadRequest(c, "неподдерживаемый формат модели: "+ext)
		return
	}

	src, err := file.Open()
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer src.Close()

	contentType := "application/octet-stream"
	if isPhoto {
		// Для изображений сверяем магические байты с заявленным расширением.
		buffer := make([]byte, 512)
		n, err := src.Read(buffer)
		if err != nil && err != io.EOF {
			common.RespondBadRequest(c, "не удалось прочитать файл")
			return
		}

		kind, err := filetype.Match(buffer[:n])
		if err != nil || kind == filetype.Unknown {
			common.RespondBadRequest(c, "не удалось определить тип файла")
			return
		}

		contentType = kind.MIME.Value
		if !allowedImageMimeTypes[contentType] {
			common.RespondBadRequest(c, fmt.Sprintf("тип файла %s не является изображением", contentType))
			return
		}

		expectedExt := "." + kind.Extension
		if ext != expectedExt && !(ext == ".jpg" && expectedExt == ".jpeg") && !(ext == ".jpeg" && expectedExt == ".jpg") {
			common.RespondBadRequest(c, fmt.Sprintf("расширение файла (%s) не соответствует реальному типу (%s)", ext, expectedExt))
			return
		}

		if seeker, ok := src.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				common.RespondError(c, http.StatusInternalServerError, "не удалось сбросить позицию файла")
				return
			}
		}
	}

	relativePath, size, err := h.storage.Save(c.Request.Context(), userID, file.Filename, src)
	if err != nil {
		common.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	media := &models.MediaFile{
		UserID:   &userID,
		FilePath: filepath.ToSlash(relativePath),
		FileType: contentType,
		FileSize: size,
		IsPublic: isPhoto,
	}

	if err := h.repo.Create(c.Request.Context(), media); err != nil {
		common.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusCreated, media)
}

// DeleteMedia обрабатывает DELETE /media/:id.
func (h *MediaHandler) DeleteMedia(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	mediaID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	media, err := h.repo.GetByID(c.Request.Context(), mediaID)
	if err != nil {
		if errors.Is(err, repository.ErrMediaNotFound) {
			common.RespondError(c, http.StatusNotFound, "файл не найден")
			return
		}
		c.Error(err)
		return
	}

	// Пользователь может удалять только свои файлы.
	if media.UserID == nil || *media.UserID != userID {
		common.RespondError(c, http.StatusForbidden, "у вас нет прав на удаление этого файла")
		return
	}

	if err := h.repo.Delete(c.Request.Context(), mediaID); err != nil {
		c.Error(err)
		return
	}

	if err := h.storage.Delete(c.Request.Context(), media.FilePath); err != nil {
		common.RespondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}
