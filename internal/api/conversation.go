package api

import (
	"net/http"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/subscription"

	"github.com/gin-gonic/gin"
)

// ConversationHandler exposes the conversation store
type ConversationHandler struct {
	conversations *service.ConversationService
	dialogue      *service.DialogueService
	features      *subscription.Service
}

// NewConversationHandler creates a new conversation handler. Chat turns in a
// therapy role require the ai_therapy feature.
func NewConversationHandler(
	conversations *service.ConversationService,
	dialogue *service.DialogueService,
	features *subscription.Service,
) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, dialogue: dialogue, features: features}
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type saveMessageRequest struct {
	Content  string             `json:"content"`
	Type     models.MessageType `json:"type"`
	AudioURL string             `json:"audioUrl"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

type chatRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	Role           string `json:"role"`
}

// RegisterRoutes registers the conversation and chat routes on a protected group
func (h *ConversationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	conversations := rg.Group("/conversations")
	{
		conversations.POST("", h.Create)
		conversations.GET("", h.List)
		conversations.PATCH("/:id", h.UpdateTitle)
		conversations.DELETE("/:id", h.Delete)
		conversations.GET("/:id/messages", h.Messages)
		conversations.POST("/:id/messages", h.SaveMessage)
	}
	rg.POST("/chat", h.Chat)
}

// Create starts a conversation. An empty body is allowed.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req createConversationRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	conversation, err := h.conversations.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

// List returns the caller's conversations, most recent first
func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.conversations.GetUserConversations(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// Messages returns a conversation's messages in order
func (h *ConversationHandler) Messages(c *gin.Context) {
	messages, err := h.conversations.GetConversationMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": c.Param("id"),
		"messages":       messages,
	})
}

// SaveMessage appends a message
func (h *ConversationHandler) SaveMessage(c *gin.Context) {
	var req saveMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	message, err := h.conversations.SaveMessage(c.Request.Context(), service.SaveMessageInput{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Type:           req.Type,
		AudioURL:       req.AudioURL,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// UpdateTitle renames a conversation
func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	var req updateTitleRequest
	if !bindJSON(c, &req) {
		return
	}

	conversation, err := h.conversations.UpdateConversationTitle(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// Delete removes a conversation and its messages
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.conversations.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Chat runs one chat turn, creating the conversation when none is given
func (h *ConversationHandler) Chat(c *gin.Context) {
	var req chatRequest
	if !bindJSON(c, &req) {
		return
	}

	role := service.RoleGeneral
	if req.Role != "" {
		role = service.Role(req.Role)
	}
	if _, therapy := role.Approach(); therapy {
		if err := h.features.Require(c.Request.Context(), subscription.FeatureAITherapy); err != nil {
			c.Error(err)
			return
		}
	}

	result, err := h.dialogue.Chat(c.Request.Context(), service.ChatRequest{
		ConversationID: req.ConversationID,
		Utterance:      req.Message,
		Role:           role,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
