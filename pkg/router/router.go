package router

import (
	"context"
	"net/http"

	"mindgarden/backend/internal/api"
	"mindgarden/backend/internal/subscription"
	"mindgarden/backend/internal/ws"
	"mindgarden/backend/pkg/config"
	"mindgarden/backend/pkg/di"
	"mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Hub       *ws.Hub
	Config    *config.Config

	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// The logger middleware goes first so every later middleware sees the
	// request-scoped logger.
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(middleware.ContextPropagationMiddleware())
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	hub := ws.NewHub(
		container.DialogueService,
		container.VoiceService,
		container.AudioService,
		container.Subscription,
		container.Logger,
	)
	hub.AllowOrigins(cfg.Security.AllowedOrigins)

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: middleware.DefaultRateLimiterOptions().ExpiryDuration,
		KeyFunc:        middleware.UserOrIPKey,
	})

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Hub:         hub,
		Config:      cfg,
		rateLimiter: rateLimiter,
	}
}

// Start runs the WebSocket hub and the rate limiter sweep until ctx is done
func (r *Router) Start(ctx context.Context) {
	go r.Hub.Run(ctx)
	go r.rateLimiter.Run(ctx)
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container
	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService, r.Logger)
	limit := r.rateLimiter.Middleware()

	authHandler := api.NewAuthHandler(c.UserService, r.Logger)
	conversationHandler := api.NewConversationHandler(c.ConversationService, c.DialogueService, c.Subscription)
	assessmentHandler := api.NewAssessmentHandler(c.AssessmentService, c.Garden)
	therapyHandler := api.NewTherapyHandler(c.TherapyService, c.VoiceService, r.Config.Security.MaxBodySize)
	subscriptionHandler := api.NewSubscriptionHandler(c.Subscription)
	audioHandler := api.NewAudioHandler(c.AudioService)

	validate := r.openAPIValidation()

	v1 := r.Engine.Group("/api/v1")
	r.setupHealthRoutes(v1)
	r.setupDocsRoutes(v1)

	// Public routes (no auth required)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/signup", limit, validate, authHandler.Signup)
		authRoutes.POST("/login", limit, validate, authHandler.Login)
		authRoutes.GET("/me", jwtAuth, limit, authHandler.Me)
	}

	// Protected routes. The limiter runs after auth so it can key by user.
	protected := v1.Group("")
	protected.Use(jwtAuth, limit, validate)
	{
		conversationHandler.RegisterRoutes(protected)
		assessmentHandler.RegisterRoutes(protected)
		subscriptionHandler.RegisterRoutes(protected)

		therapy := protected.Group("/therapy")
		therapy.GET("/approaches", therapyHandler.Approaches)
		gated := therapy.Group("")
		gated.Use(middleware.RequireFeature(
			string(subscription.FeatureAITherapy),
			c.Subscription.Allows(subscription.FeatureAITherapy),
		))
		therapyHandler.RegisterTherapyRoutes(gated)

		voice := protected.Group("/voice")
		voice.Use(middleware.RequireFeature(
			string(subscription.FeatureAITherapyPlus),
			c.Subscription.Allows(subscription.FeatureAITherapyPlus),
		))
		therapyHandler.RegisterVoiceRoutes(voice)
	}

	r.Engine.GET("/audio/:file", jwtAuth, audioHandler.Serve)

	// Browsers cannot set headers on the upgrade, so jwtAuth also accepts ?token=
	r.Engine.GET("/ws", jwtAuth, func(ctx *gin.Context) {
		ws.ServeWs(r.Hub, ctx)
	})
}

// corsMiddleware allows the configured origins, including WebSocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin != "" && origins[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
