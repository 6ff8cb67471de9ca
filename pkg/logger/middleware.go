package logger

import (
	"time"

	"mindgarden/backend/pkg/identity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Middleware assigns a request ID and writes one access log line per request
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("requestID", requestID)
		c.Request = c.Request.WithContext(identity.WithRequestID(c.Request.Context(), requestID))

		reqLogger := logger.WithRequestID(requestID)
		c.Set("logger", reqLogger)

		start := time.Now()

		c.Next()

		// The auth middleware runs after this one, so the user is only known now.
		if userID, ok := identity.UserID(c.Request.Context()); ok {
			reqLogger = reqLogger.WithUserID(userID)
		}

		reqLogger.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// FromContext returns the request-scoped logger stored by Middleware, or the
// global logger when none is present.
func FromContext(c *gin.Context) *Logger {
	if l, ok := c.Get("logger"); ok {
		if log, ok := l.(*Logger); ok {
			return log
		}
	}
	if l := global.Load(); l != nil {
		return l
	}
	return New(DefaultConfig())
}
