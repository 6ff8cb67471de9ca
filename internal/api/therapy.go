package api

import (
	"io"
	"net/http"

	"mindgarden/backend/internal/service"
	apperrors "mindgarden/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TherapyHandler serves text and voice therapy sessions
type TherapyHandler struct {
	therapy  *service.TherapyService
	voice    *service.VoiceService
	maxAudio int64
}

// NewTherapyHandler creates a new therapy handler. maxAudio bounds uploaded
// recordings.
func NewTherapyHandler(therapy *service.TherapyService, voice *service.VoiceService, maxAudio int64) *TherapyHandler {
	if maxAudio <= 0 {
		maxAudio = 10 << 20
	}
	return &TherapyHandler{therapy: therapy, voice: voice, maxAudio: maxAudio}
}

type startSessionRequest struct {
	Approach string `json:"approach"`
}

type continueRequest struct {
	Message string `json:"message"`
}

// RegisterTherapyRoutes registers the text session routes on a feature-gated group
func (h *TherapyHandler) RegisterTherapyRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.StartSession)
	rg.GET("/sessions/:id", h.GetSession)
	rg.POST("/sessions/:id/messages", h.Continue)
}

// RegisterVoiceRoutes registers the voice session routes on a feature-gated group
func (h *TherapyHandler) RegisterVoiceRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.StartVoice)
	rg.POST("/sessions/:id/turns", h.VoiceTurn)
	rg.POST("/sessions/:id/stop", h.StopVoice)
	rg.GET("/sessions/:id/playback", h.Playback)
}

// Approaches lists the therapy approaches
func (h *TherapyHandler) Approaches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"approaches": h.therapy.ListApproaches()})
}

// StartSession opens a text therapy session
func (h *TherapyHandler) StartSession(c *gin.Context) {
	approach, ok := h.bindApproach(c)
	if !ok {
		return
	}

	result, err := h.therapy.Start(c.Request.Context(), approach)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetSession resumes a session with its transcript
func (h *TherapyHandler) GetSession(c *gin.Context) {
	session, err := h.therapy.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Continue sends one message in a text session
func (h *TherapyHandler) Continue(c *gin.Context) {
	var req continueRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.therapy.Continue(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StartVoice opens a voice session and returns the spoken introduction
func (h *TherapyHandler) StartVoice(c *gin.Context) {
	approach, ok := h.bindApproach(c)
	if !ok {
		return
	}

	result, err := h.voice.Start(c.Request.Context(), approach)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// VoiceTurn accepts a multipart recording in the "audio" field and an
// optional "text" field used when transcription fails
func (h *TherapyHandler) VoiceTurn(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAudio+1<<20)

	in := service.VoiceTurnInput{
		ConversationID: c.Param("id"),
		FallbackText:   c.PostForm("text"),
	}

	file, header, err := c.Request.FormFile("audio")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, h.maxAudio+1))
		if err != nil {
			c.Error(apperrors.NewInvalidArgumentError("Failed to read recording").WithCause(err))
			return
		}
		if int64(len(data)) > h.maxAudio {
			c.Error(apperrors.NewInvalidArgumentError("Recording is too large"))
			return
		}
		in.Audio = data
		in.ContentType = header.Header.Get("Content-Type")
	case err == http.ErrMissingFile:
	default:
		c.Error(apperrors.NewInvalidArgumentError("Invalid multipart request").WithCause(err))
		return
	}

	result, err := h.voice.Turn(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StopVoice stops playback and cancels the turn in flight
func (h *TherapyHandler) StopVoice(c *gin.Context) {
	view, err := h.voice.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Playback returns the session's playback state
func (h *TherapyHandler) Playback(c *gin.Context) {
	view, err := h.voice.PlaybackState(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TherapyHandler) bindApproach(c *gin.Context) (service.Approach, bool) {
	var req startSessionRequest
	if !bindJSON(c, &req) {
		return "", false
	}
	approach, ok := service.ParseApproach(req.Approach)
	if !ok {
		c.Error(apperrors.NewInvalidArgumentError("Unknown therapy approach").
			WithDetails(gin.H{"approach": req.Approach}))
		return "", false
	}
	return approach, true
}
