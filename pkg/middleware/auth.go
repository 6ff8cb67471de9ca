package middleware

import (
	"context"
	"strings"

	"mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/jwt"
	"mindgarden/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// JWTAuthMiddleware checks that the request has a valid JWT and places the
// caller's identity into the request context. Browsers cannot set headers on
// WebSocket upgrades, so a token query parameter is accepted as well.
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.Error(errors.NewUnauthenticatedError("Authorization header is required"))
			c.Abort()
			return
		}

		token = strings.TrimPrefix(token, "Bearer ")

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Warn("Invalid JWT token", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthenticatedError("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userID", claims.UserID)
		c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), claims.UserID))

		c.Next()
	}
}

// RequireFeature rejects the request with FEATURE_LOCKED unless allowed
// reports that the caller may use feature.
func RequireFeature(feature string, allowed func(ctx context.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.UserID(c.Request.Context()); !ok {
			c.Error(errors.NewUnauthenticatedError("Authentication required"))
			c.Abort()
			return
		}

		if !allowed(c.Request.Context()) {
			c.Error(errors.NewFeatureLockedError(feature))
			c.Abort()
			return
		}

		c.Next()
	}
}
