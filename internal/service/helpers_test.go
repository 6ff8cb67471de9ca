package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mindgarden/backend/internal/repository"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/pkg/resilience"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *fakeGenerator) Provider() string { return "fake" }

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return t.text, t.err
}

type fakeSynthesizer struct {
	audio []byte
	err   error
}

func (s *fakeSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return s.audio, s.err
}

var errUpstream = errors.New("upstream unavailable")

type testEnv struct {
	repo          *repository.MemoryConversationRepository
	conversations *ConversationService
	dialogue      *DialogueService
	therapy       *TherapyService
	generator     *fakeGenerator
	log           *logger.Logger
}

func newTestEnv(t *testing.T, window int) *testEnv {
	t.Helper()
	log := logger.Discard()
	repo := repository.NewMemoryConversationRepository()
	generator := &fakeGenerator{reply: "I hear you."}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "generation",
		FailureThreshold: 100,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		RetryTimeout:     time.Minute,
	}, log)

	conversations := NewConversationService(repo, log)
	dialogue := NewDialogueService(conversations, generator, breaker, nil, window, log)
	return &testEnv{
		repo:          repo,
		conversations: conversations,
		dialogue:      dialogue,
		therapy:       NewTherapyService(conversations, dialogue, log),
		generator:     generator,
		log:           log,
	}
}

func (e *testEnv) newVoice(t *testing.T, transcriber *fakeTranscriber, synthesizer *fakeSynthesizer) *VoiceService {
	t.Helper()
	audio, err := NewAudioServiceWithFs(afero.NewMemMapFs(), AudioServiceConfig{Dir: "/audio"})
	require.NoError(t, err)
	return NewVoiceService(e.therapy, transcriber, synthesizer, audio, NewPlaybackRegistry(), nil, e.log)
}

func userCtx(userID string) context.Context {
	return identity.WithUserID(context.Background(), userID)
}
