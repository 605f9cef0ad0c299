package handler

import (
	"errors"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-oral/internal/response"
	"github.com/stemsi/exstem-oral/internal/service"
)

// MediaHandler handles audio uploads.
type MediaHandler struct {
	mediaService MediaService
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(mediaService MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaService}
}

// UploadAudio godoc
// POST /api/v1/student/media/audio
// Stores one recorded answer and returns its URL.
func (h *MediaHandler) UploadAudio(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	url, err := h.mediaService.SaveAudio(file, header)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.FailWithMessage(c, http.StatusBadRequest, response.ErrUnsupportedFile, err.Error())
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		default:
			_ = c.Error(err)
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"filename": path.Base(url), "url": url})
}
