package api

import (
	"time"

	"mindgarden/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the component health report
type HealthHandler struct {
	checker *health.Checker
	version string
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker *health.Checker, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version, started: time.Now()}
}

// Health reports the checker's status
func (h *HealthHandler) Health(c *gin.Context) {
	c.Header("X-App-Version", h.version)
	c.Header("X-Uptime", time.Since(h.started).Round(time.Second).String())
	h.checker.HTTPHandler()(c.Writer, c.Request)
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthHandler) RegisterHealthRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.Health)
}
