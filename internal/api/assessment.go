package api

import (
	"net/http"

	"mindgarden/backend/internal/assessment"
	"mindgarden/backend/internal/garden"

	"github.com/gin-gonic/gin"
)

// AssessmentHandler runs mood assessments and serves the garden they feed
type AssessmentHandler struct {
	assessments *assessment.Service
	garden      *garden.Projector
}

// NewAssessmentHandler creates a new assessment handler
func NewAssessmentHandler(assessments *assessment.Service, projector *garden.Projector) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments, garden: projector}
}

type startAssessmentRequest struct {
	ConversationID string `json:"conversationId"`
}

type answerRequest struct {
	Value *int `json:"value"`
}

// RegisterRoutes registers the assessment and garden routes
func (h *AssessmentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/assessment")
	{
		group.POST("", h.Start)
		group.GET("", h.Current)
		group.DELETE("", h.Cancel)
		group.POST("/answer", h.Answer)
		group.GET("/questions", h.Questions)
	}
	rg.GET("/garden", h.Garden)
}

// Start begins an assessment, optionally writing into an existing conversation
func (h *AssessmentHandler) Start(c *gin.Context) {
	var req startAssessmentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	session, err := h.assessments.Start(c.Request.Context(), req.ConversationID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Current returns the assessment in progress
func (h *AssessmentHandler) Current(c *gin.Context) {
	session, err := h.assessments.Current(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Cancel abandons the assessment in progress
func (h *AssessmentHandler) Cancel(c *gin.Context) {
	if err := h.assessments.Cancel(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Answer records one answer. The response carries either the next question
// or the completed assessment.
func (h *AssessmentHandler) Answer(c *gin.Context) {
	var req answerRequest
	if !bindJSON(c, &req) {
		return
	}
	value := 0
	if req.Value != nil {
		value = *req.Value
	}

	result, err := h.assessments.Answer(c.Request.Context(), value)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Questions lists the questionnaire
func (h *AssessmentHandler) Questions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"questions": assessment.Questions()})
}

// Garden projects the caller's mood garden
func (h *AssessmentHandler) Garden(c *gin.Context) {
	g, err := h.garden.Project(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}
