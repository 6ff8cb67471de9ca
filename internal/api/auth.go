package api

import (
	"errors"
	"net/http"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/service"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	service *service.UserService
	logger  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *service.UserService, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// Signup handles user registration
func (h *AuthHandler) Signup(c *gin.Context) {
	var req models.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, token, err := h.service.CreateUser(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserAlreadyExists):
			c.Error(apperrors.NewConflictError("USER_EXISTS", "A user with this email already exists"))
		default:
			c.Error(apperrors.NewStoreError("Failed to create user account", err))
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":  user.ToResponse(),
		"token": token,
	})
}

// Login handles user authentication
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, token, err := h.service.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.Error(apperrors.NewUnauthenticatedError("Invalid email or password"))
		default:
			c.Error(apperrors.NewStoreError("An error occurred during login", err))
		}
		return
	}

	h.logger.Info("User logged in successfully", "userID", user.ID)

	c.JSON(http.StatusOK, gin.H{
		"user":  user.ToResponse(),
		"token": token,
	})
}

// Me returns the current authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := identity.UserID(c.Request.Context())
	if !ok {
		c.Error(apperrors.NewUnauthenticatedError("Authentication required"))
		return
	}

	user, err := h.service.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			c.Error(apperrors.NewNotFoundOrForbiddenError("User not found"))
		default:
			c.Error(apperrors.NewStoreError("Failed to retrieve user", err))
		}
		return
	}

	c.JSON(http.StatusOK, user.ToResponse())
}

// bindJSON binds the request body into req and reports INVALID_ARGUMENT on
// failure
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(apperrors.NewInvalidArgumentError("Invalid request format").
			WithDetails(gin.H{"reason": err.Error()}))
		return false
	}
	return true
}
