package middleware

import (
	"mindgarden/backend/pkg/identity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextPropagationMiddleware carries X-Trace-ID and X-Correlation-ID
// through the request context and echoes them on the response. It expects
// logger.Middleware to have assigned the request ID already.
func ContextPropagationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Request = c.Request.WithContext(identity.WithTraceID(c.Request.Context(), traceID))
		c.Set("traceID", traceID)
		c.Header("X-Trace-ID", traceID)

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = identity.RequestID(c.Request.Context())
		}
		c.Header("X-Correlation-ID", correlationID)
		c.Set("correlationID", correlationID)

		c.Next()
	}
}
