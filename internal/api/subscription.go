package api

import (
	"net/http"

	"mindgarden/backend/internal/subscription"
	apperrors "mindgarden/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SubscriptionHandler manages the caller's plan
type SubscriptionHandler struct {
	subscriptions *subscription.Service
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subscriptions *subscription.Service) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

type purchaseRequest struct {
	Level  string `json:"level"`
	Months int    `json:"months"`
}

// RegisterRoutes registers the subscription routes
func (h *SubscriptionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/subscription")
	{
		group.GET("", h.Details)
		group.POST("/purchase", h.Purchase)
		group.POST("/cancel", h.Cancel)
		group.GET("/features/:feature", h.Feature)
	}
}

// Details returns the caller's plan summary
func (h *SubscriptionHandler) Details(c *gin.Context) {
	details, err := h.subscriptions.Details(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Purchase activates a paid plan. Months defaults to one.
func (h *SubscriptionHandler) Purchase(c *gin.Context) {
	var req purchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	level, ok := subscription.ParseLevel(req.Level)
	if !ok {
		c.Error(apperrors.NewInvalidArgumentError("Unknown subscription level").
			WithDetails(gin.H{"level": req.Level}))
		return
	}
	if req.Months == 0 {
		req.Months = 1
	}

	details, err := h.subscriptions.Purchase(c.Request.Context(), level, req.Months)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Cancel deactivates the caller's plan
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	details, err := h.subscriptions.Cancel(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Feature reports whether the caller may use a feature
func (h *SubscriptionHandler) Feature(c *gin.Context) {
	feature, ok := subscription.ParseFeature(c.Param("feature"))
	if !ok {
		c.Error(apperrors.NewInvalidArgumentError("Unknown feature").
			WithDetails(gin.H{"feature": c.Param("feature")}))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"feature": feature,
		"access":  h.subscriptions.HasFeatureAccess(c.Request.Context(), feature),
	})
}
