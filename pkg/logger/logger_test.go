package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mindgarden/backend/pkg/identity"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{Level: "debug", JSON: true, Output: buf, Service: "test"})
}

func TestLogErrorIncludesError(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	log.LogError(errors.New("boom"), "operation failed", "conversation_id", "c1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "operation failed", record["msg"])
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, "c1", record["conversation_id"])
	assert.Equal(t, "test", record["service"])
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	ctx := identity.WithUserID(identity.WithRequestID(context.Background(), "req-9"), "user-9")
	log.WithContext(ctx).Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-9", record["request_id"])
	assert.Equal(t, "user-9", record["user_id"])
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(Middleware(newBufferLogger(&buf)))
	r.GET("/ping", func(c *gin.Context) {
		assert.Equal(t, "abc", identity.RequestID(c.Request.Context()))
		assert.NotNil(t, FromContext(c))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), `"path":"/ping"`)
}
