package router

import (
	"context"
	"fmt"

	"mindgarden/backend/internal/api"
	"mindgarden/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers the health endpoint and reports the socket
// count as an informational component
func (r *Router) setupHealthRoutes(rg *gin.RouterGroup) {
	r.Container.Health.RegisterCheck("websocket", func(context.Context) (health.Status, string, error) {
		return health.StatusUp, fmt.Sprintf("%d active connections", r.Hub.ActiveConnections()), nil
	})

	handler := api.NewHealthHandler(r.Container.Health, r.Config.Server.Version)
	handler.RegisterHealthRoutes(rg)
	r.Engine.GET("/health", handler.Health)
}
