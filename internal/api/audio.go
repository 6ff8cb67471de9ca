package api

import (
	"net/http"

	"mindgarden/backend/internal/service"
	apperrors "mindgarden/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AudioHandler serves stored recordings and synthesized replies
type AudioHandler struct {
	audio *service.AudioService
}

// NewAudioHandler creates a new audio handler
func NewAudioHandler(audio *service.AudioService) *AudioHandler {
	return &AudioHandler{audio: audio}
}

// Serve streams /audio/:file with range support
func (h *AudioHandler) Serve(c *gin.Context) {
	f, info, err := h.audio.Open(c.Param("file"))
	if err != nil {
		c.Error(apperrors.NewNotFoundOrForbiddenError("Audio not found"))
		return
	}
	defer f.Close()

	c.Header("Cache-Control", "private, max-age=3600")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}
