package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/jwt"
	"mindgarden/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.GET("/", append(handlers, func(c *gin.Context) {
		userID, _ := identity.UserID(c.Request.Context())
		c.String(http.StatusOK, userID)
	})...)
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	svc := jwt.NewService("secret", time.Hour)
	token, err := svc.GenerateToken("user-7", "u@example.com")
	require.NoError(t, err)

	r := newEngine(JWTAuthMiddleware(svc, logger.Discard()))

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-7", w.Body.String())
	})

	t.Run("query", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?token="+token, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), apperrors.CodeUnauthenticated)
	})

	t.Run("invalid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireFeature(t *testing.T) {
	withUser := func(c *gin.Context) {
		c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), "u1"))
		c.Next()
	}

	locked := newEngine(withUser, RequireFeature("ai_therapy", func(context.Context) bool { return false }))
	w := httptest.NewRecorder()
	locked.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeFeatureLocked)

	open := newEngine(withUser, RequireFeature("ai_therapy", func(context.Context) bool { return true }))
	w = httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	anonymous := newEngine(RequireFeature("ai_therapy", func(context.Context) bool { return true }))
	w = httptest.NewRecorder()
	anonymous.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(logger.Discard(), RateLimiterOptions{
		Limit:          0.001,
		Burst:          1,
		ExpiryDuration: time.Minute,
		KeyFunc:        UserOrIPKey,
	})
	r := newEngine(limiter.Middleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1000", w.Header().Get("Retry-After"))
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	limiter := NewRateLimiter(logger.Discard(), RateLimiterOptions{
		Limit:          1,
		Burst:          1,
		ExpiryDuration: time.Minute,
	})
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	first := limiter.limiter("user:a")
	limiter.limiter("user:b")
	clock = clock.Add(45 * time.Second)
	limiter.limiter("user:b")
	clock = clock.Add(30 * time.Second)

	assert.Equal(t, 1, limiter.sweep())
	assert.NotSame(t, first, limiter.limiter("user:a"))
	assert.Equal(t, 0, limiter.sweep())
}

func TestContextPropagation(t *testing.T) {
	r := gin.New()
	r.Use(ContextPropagationMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, identity.TraceID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-1", w.Body.String())
	assert.Equal(t, "trace-1", w.Header().Get("X-Trace-ID"))
}
