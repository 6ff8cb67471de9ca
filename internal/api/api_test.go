package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mindgarden/backend/internal/repository"
	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/subscription"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/pkg/resilience"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type replyGenerator struct{ reply string }

func (g replyGenerator) Generate(context.Context, string) (string, error) { return g.reply, nil }
func (replyGenerator) Provider() string { return "test" }

type brokenTranscriber struct{}

func (brokenTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "", errors.New("deepgram unavailable")
}

type brokenSynthesizer struct{}

func (brokenSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return nil, errors.New("elevenlabs unavailable")
}

type fixture struct {
	engine        *gin.Engine
	conversations *service.ConversationService
	therapy       *service.TherapyService
	audio         *service.AudioService
}

// asUser stands in for the JWT middleware
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), userID))
		}
		c.Next()
	}
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	log := logger.Discard()

	conversations := service.NewConversationService(repository.NewMemoryConversationRepository(), log)
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("generation"), log)
	dialogue := service.NewDialogueService(conversations, replyGenerator{reply: "Let's breathe together."}, breaker, nil, 10, log)
	therapy := service.NewTherapyService(conversations, dialogue, log)
	audio, err := service.NewAudioServiceWithFs(afero.NewMemMapFs(), service.AudioServiceConfig{Dir: "/audio", MaxBytes: 1 << 20})
	require.NoError(t, err)
	voice := service.NewVoiceService(therapy, brokenTranscriber{}, brokenSynthesizer{}, audio, service.NewPlaybackRegistry(), nil, log)

	engine := gin.New()
	engine.Use(apperrors.ErrorHandler(), asUser(userID))

	subscriptions := subscription.NewService(repository.NewMemorySubscriptionRepository(), log)

	rg := engine.Group("/api/v1")
	NewConversationHandler(conversations, dialogue, subscriptions).RegisterRoutes(rg)
	therapyHandler := NewTherapyHandler(therapy, voice, 1<<20)
	therapyHandler.RegisterTherapyRoutes(rg.Group("/therapy"))
	therapyHandler.RegisterVoiceRoutes(rg.Group("/voice"))
	NewSubscriptionHandler(subscriptions).RegisterRoutes(rg)
	engine.GET("/audio/:file", NewAudioHandler(audio).Serve)

	return &fixture{engine: engine, conversations: conversations, therapy: therapy, audio: audio}
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	require.NotNil(t, body.Error, w.Body.String())
	return body.Error
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	f := newFixture(t, "")

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.CodeUnauthenticated, errorBody(t, w)["code"])
}

func TestMalformedJSONIsInvalidArgument(t *testing.T) {
	f := newFixture(t, "u1")

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/chat", "{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	e := errorBody(t, w)
	assert.Equal(t, apperrors.CodeInvalidArgument, e["code"])
	assert.NotEmpty(t, e["details"])
}

func TestCreateConversationWithTitle(t *testing.T) {
	f := newFixture(t, "u1")

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/conversations", `{"title":"Evening check-in"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Evening check-in", body["title"])
	assert.Equal(t, "u1", body["userId"])
}

func TestSaveMessageRejectsUnknownType(t *testing.T) {
	f := newFixture(t, "u1")
	conversation, err := f.conversations.CreateConversation(identity.WithUserID(context.Background(), "u1"), "")
	require.NoError(t, err)

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/conversations/"+conversation.ID+"/messages", `{"content":"hi","type":"shout"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartSessionRejectsUnknownApproach(t *testing.T) {
	f := newFixture(t, "u1")

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/therapy/sessions", `{"approach":"freud"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "freud", errorBody(t, w)["details"].(map[string]any)["approach"])
}

func TestVoiceTurnMultipartFallsBackToText(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := identity.WithUserID(context.Background(), "u1")
	started, err := f.therapy.Start(ctx, service.ApproachCBT)
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "turn.webm")
	require.NoError(t, err)
	_, err = part.Write([]byte("not really audio"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("text", "I could not sleep"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/voice/sessions/"+started.Conversation.ID+"/turns", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.serve(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "I could not sleep", body["transcript"])
	assert.Equal(t, false, body["transcribed"])
	assert.Empty(t, body["replyAudioUrl"])

	question := body["question"].(map[string]any)
	assert.Equal(t, true, question["hasAudio"])

	// The recording is served back from the audio store.
	w = f.serve(httptest.NewRequest(http.MethodGet, question["audioUrl"].(string), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not really audio", w.Body.String())

	w = f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/voice/sessions/"+started.Conversation.ID+"/playback", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
}

func TestVoiceTurnRequiresInput(t *testing.T) {
	f := newFixture(t, "u1")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/voice/sessions/abc/turns", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := f.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAudioServeRejectsTraversal(t *testing.T) {
	f := newFixture(t, "u1")

	w := f.serve(httptest.NewRequest(http.MethodGet, "/audio/..secret", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.serve(httptest.NewRequest(http.MethodGet, "/audio/missing.mp3", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionHandlers(t *testing.T) {
	f := newFixture(t, "u1")

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"planName":"Free Plan"`)

	w = f.serve(jsonRequest(http.MethodPost, "/api/v1/subscription/purchase", `{"level":"gold"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.serve(jsonRequest(http.MethodPost, "/api/v1/subscription/cancel", ``))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.serve(jsonRequest(http.MethodPost, "/api/v1/subscription/purchase", `{"level":"premium_plus"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var details map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &details))
	assert.Equal(t, "Premium+ Plan", details["planName"])
	expires, err := time.Parse(time.RFC3339, details["expiresAt"].(string))
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now().AddDate(0, 0, 27)))

	w = f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/subscription/features/crisis_protocol", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access":true`)

	w = f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/subscription/features/teleport", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTherapyRoleChatRequiresPlan(t *testing.T) {
	f := newFixture(t, "u1")

	w := f.serve(jsonRequest(http.MethodPost, "/api/v1/chat", `{"message":"I keep expecting the worst","role":"cbt"}`))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.CodeFeatureLocked, errorBody(t, w)["code"])

	conversations, err := f.conversations.GetUserConversations(identity.WithUserID(context.Background(), "u1"))
	require.NoError(t, err)
	assert.Empty(t, conversations)

	w = f.serve(jsonRequest(http.MethodPost, "/api/v1/chat", `{"message":"hello","role":"general"}`))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.serve(jsonRequest(http.MethodPost, "/api/v1/subscription/purchase", `{"level":"premium"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.serve(jsonRequest(http.MethodPost, "/api/v1/chat", `{"message":"I keep expecting the worst","role":"cbt"}`))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
