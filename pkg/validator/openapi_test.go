package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "mindgarden/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := NewOpenAPIValidator()
	require.NoError(t, err)

	r := gin.New()
	r.Use(apperrors.ErrorHandler(), v.Middleware())
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/api/v1/assessment/answer", ok)
	r.POST("/api/v1/subscription/purchase", ok)
	r.GET("/api/v1/garden", ok)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidRequestsPass(t *testing.T) {
	r := newEngine(t)

	assert.Equal(t, http.StatusOK, post(r, "/api/v1/assessment/answer", `{"value":3}`).Code)
	assert.Equal(t, http.StatusOK, post(r, "/api/v1/subscription/purchase", `{"level":"premium","months":3}`).Code)
}

func TestInvalidRequestsAreRejected(t *testing.T) {
	r := newEngine(t)

	w := post(r, "/api/v1/assessment/answer", `{"value":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeInvalidArgument)

	w = post(r, "/api/v1/subscription/purchase", `{"level":"gold"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUndocumentedRoutesPassThrough(t *testing.T) {
	r := newEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/garden", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReloadRejectsBrokenDocument(t *testing.T) {
	v, err := NewOpenAPIValidator()
	require.NoError(t, err)
	assert.Error(t, v.Reload([]byte("openapi: [")))
	assert.NotEmpty(t, Schema())
}
