package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/ws"
	"mindgarden/backend/pkg/config"
	"mindgarden/backend/pkg/di"
	"mindgarden/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoGenerator struct{}

func (echoGenerator) Generate(context.Context, string) (string, error) {
	return "Thank you for sharing that.", nil
}

func (echoGenerator) Provider() string { return "echo" }

type staticTranscriber struct{}

func (staticTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "I slept badly", nil
}

type staticSynthesizer struct{}

func (staticSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return bytes.Repeat([]byte{0x1}, 40<<10), nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.Database.Driver = "memory"
	cfg.Vault.Enabled = false
	cfg.Cache.RedisEnabled = false
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Security.AllowedOrigins = []string{"*"}
	cfg.Assessment.PromptDelay = 0
	cfg.Server.Env = "test"

	audio, err := service.NewAudioServiceWithFs(afero.NewMemMapFs(), service.AudioServiceConfig{Dir: "/audio"})
	require.NoError(t, err)

	container, err := di.New(context.Background(), cfg, logger.Discard(), di.Dependencies{
		Generator:   echoGenerator{},
		Transcriber: staticTranscriber{},
		Synthesizer: staticSynthesizer{},
		Audio:       audio,
	})
	require.NoError(t, err)
	t.Cleanup(container.Close)

	r := New(container)
	r.SetupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	return r
}

func do(t *testing.T, r *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return e["code"].(string)
}

func signup(t *testing.T, r *Router, email string) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"name":     "Ada",
		"email":    email,
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

func TestHealthIsPublic(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := do(t, r, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "ok", decode(t, w)["status"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, w))

	w = do(t, r, http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthFlow(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada@example.com", decode(t, w)["email"])

	w = do(t, r, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"name": "Ada", "email": "ada@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email": "ada@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"email": "ada@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["token"])
}

func TestConversationLifecycle(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/conversations", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "New Conversation", created["title"])
	id := created["id"].(string)

	w = do(t, r, http.MethodPost, "/api/v1/conversations/"+id+"/messages", token, gin.H{
		"content": "hello", "type": "question",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodPatch, "/api/v1/conversations/"+id, token, gin.H{"title": "Monday"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Monday", decode(t, w)["title"])

	w = do(t, r, http.MethodGet, "/api/v1/conversations/"+id+"/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"], 1)

	other := signup(t, r, "grace@example.com")
	w = do(t, r, http.MethodGet, "/api/v1/conversations/"+id+"/messages", other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND_OR_FORBIDDEN", errorCode(t, w))

	w = do(t, r, http.MethodDelete, "/api/v1/conversations/"+id, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/conversations/"+id+"/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestsAreValidatedAgainstSchema(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/chat", token, gin.H{"message": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/v1/assessment/answer", token, gin.H{"value": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCreatesConversation(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/chat", token, gin.H{"message": "I feel a bit low today"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, false, body["fallback"])
	assert.Equal(t, "Thank you for sharing that.", body["answer"].(map[string]any)["content"])

	w = do(t, r, http.MethodGet, "/api/v1/conversations", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	conversations := decode(t, w)["conversations"].([]any)
	require.Len(t, conversations, 1)
	assert.Equal(t, float64(2), conversations[0].(map[string]any)["messageCount"])
}

func TestAssessmentFeedsGarden(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/assessment", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var last map[string]any
	for i := 0; i < 5; i++ {
		w = do(t, r, http.MethodPost, "/api/v1/assessment/answer", token, gin.H{"value": 5})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		last = decode(t, w)
	}
	completion := last["completion"].(map[string]any)
	assert.Equal(t, "HAPPY", completion["mood"])

	w = do(t, r, http.MethodGet, "/api/v1/assessment", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/garden", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	garden := decode(t, w)
	assert.Len(t, garden["plants"], 1)
	assert.Equal(t, "HAPPY", garden["dominantMood"])
	assert.NotEmpty(t, garden["upgradePrompt"])
}

func TestTherapyIsFeatureGated(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodGet, "/api/v1/therapy/approaches", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["approaches"], 3)

	w = do(t, r, http.MethodPost, "/api/v1/therapy/sessions", token, gin.H{"approach": "cbt"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FEATURE_LOCKED", errorCode(t, w))

	// A therapy role on plain chat is the same feature.
	w = do(t, r, http.MethodPost, "/api/v1/chat", token, gin.H{"message": "I keep expecting the worst", "role": "cbt"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FEATURE_LOCKED", errorCode(t, w))

	w = do(t, r, http.MethodPost, "/api/v1/subscription/purchase", token, gin.H{"level": "premium", "months": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["isPremium"])

	w = do(t, r, http.MethodPost, "/api/v1/therapy/sessions", token, gin.H{"approach": "cbt"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["conversation"].(map[string]any)["id"].(string)

	w = do(t, r, http.MethodPost, "/api/v1/therapy/sessions/"+id+"/messages", token, gin.H{"message": "work is stressful"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cbt", decode(t, w)["approach"])

	// Premium does not include voice therapy.
	w = do(t, r, http.MethodPost, "/api/v1/voice/sessions", token, gin.H{"approach": "cbt"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/subscription/features/ai_therapy", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["access"])

	w = do(t, r, http.MethodPost, "/api/v1/subscription/cancel", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/therapy/sessions", token, gin.H{"approach": "cbt"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebSocketChatAndVoice(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/subscription/purchase", token, gin.H{"level": "premium_plus", "months": 1})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodPost, "/api/v1/voice/sessions", token, gin.H{"approach": "mindfulness"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	voiceID := decode(t, w)["conversation"].(map[string]any)["id"].(string)

	srv := httptest.NewServer(r.Engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(frameType string, content any) {
		data, err := json.Marshal(content)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(ws.Frame{Type: frameType, Content: data}))
	}
	next := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}
	waitFor := func(frameType string) map[string]any {
		for i := 0; i < 20; i++ {
			frame := next()
			if frame["type"] == frameType {
				return frame
			}
		}
		t.Fatalf("no %s frame", frameType)
		return nil
	}

	send(ws.TypePing, map[string]any{})
	assert.Equal(t, ws.TypePong, waitFor(ws.TypePong)["type"])

	send(ws.TypeChat, ws.ChatFrame{Message: "hello there"})
	chat := waitFor(ws.TypeChat)
	answer := chat["content"].(map[string]any)["answer"].(map[string]any)
	assert.Equal(t, "Thank you for sharing that.", answer["content"])

	send(ws.TypeVoice, ws.VoiceFrame{ConversationID: voiceID, Audio: []byte("recording"), ContentType: "audio/webm"})
	voice := waitFor(ws.TypeVoice)["content"].(map[string]any)
	assert.Equal(t, "I slept badly", voice["transcript"])
	assert.NotEmpty(t, voice["replyAudioUrl"])

	end := waitFor(ws.TypeAudioEnd)["content"].(map[string]any)
	assert.Equal(t, string(service.StopFinished), end["reason"])

	w = do(t, r, http.MethodGet, "/api/v1/voice/sessions/"+voiceID+"/playback", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", decode(t, w)["state"])

	send("bogus", map[string]any{})
	assert.Equal(t, "INVALID_ARGUMENT", waitFor(ws.TypeError)["content"].(map[string]any)["code"])
}

func TestWebSocketFramesAreFeatureGated(t *testing.T) {
	r := newTestRouter(t)
	token := signup(t, r, "ada@example.com")

	w := do(t, r, http.MethodPost, "/api/v1/conversations", token, gin.H{"title": "Evening check-in"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conversationID := decode(t, w)["id"].(string)

	srv := httptest.NewServer(r.Engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Frames run concurrently, so each one is sent after the previous reply.
	exchange := func(frameType string, content any) map[string]any {
		data, err := json.Marshal(content)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(ws.Frame{Type: frameType, Content: data}))
		for i := 0; i < 20; i++ {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			var frame map[string]any
			require.NoError(t, conn.ReadJSON(&frame))
			switch frame["type"] {
			case ws.TypeTyping, ws.TypeProcessing:
				continue
			}
			return frame
		}
		t.Fatalf("no reply to %s", frameType)
		return nil
	}
	locked := func(frame map[string]any) {
		t.Helper()
		require.Equal(t, ws.TypeError, frame["type"], frame)
		content := frame["content"].(map[string]any)
		assert.Equal(t, "FEATURE_LOCKED", content["code"])
	}

	locked(exchange(ws.TypeVoice, ws.VoiceFrame{ConversationID: conversationID, Text: "are you there"}))
	locked(exchange(ws.TypeStop, ws.StopFrame{ConversationID: conversationID}))
	locked(exchange(ws.TypeChat, ws.ChatFrame{ConversationID: conversationID, Message: "hi", Role: "act"}))

	frame := exchange(ws.TypeChat, ws.ChatFrame{ConversationID: conversationID, Message: "hi"})
	assert.Equal(t, ws.TypeChat, frame["type"])

	// Nothing but the plain chat turn was written.
	w = do(t, r, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"], 2)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
