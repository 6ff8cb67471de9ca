package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"mindgarden/backend/internal/models"
	apperrors "mindgarden/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceStartSpeaksIntroduction(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{}, &fakeSynthesizer{audio: []byte("mp3")})
	ctx := userCtx("u1")

	result, err := voice.Start(ctx, ApproachCBT)
	require.NoError(t, err)
	assert.Equal(t, "Voice Cognitive Behavioral Therapy Session", result.Conversation.Title)
	assert.True(t, strings.HasPrefix(result.ReplyAudioURL, AudioURLPrefix))
	assert.Equal(t, "playing", result.Playback.State)
	assert.Equal(t, result.Answer.ID, result.Playback.MessageID)
	assert.Contains(t, env.generator.lastPrompt(), "keep responses under 3-4 paragraphs")

	messages, err := env.conversations.GetConversationMessages(ctx, result.Conversation.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(messages[0].Content, "AI Voice Therapy Session\napproach: cbt\n"))
}

func TestVoiceTurnTranscribes(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{text: "I feel tense"}, &fakeSynthesizer{audio: []byte("mp3")})
	ctx := userCtx("u1")

	started, err := voice.Start(ctx, ApproachACT)
	require.NoError(t, err)

	result, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: started.Conversation.ID, Audio: []byte("m4a"), ContentType: "audio/m4a"})
	require.NoError(t, err)
	assert.True(t, result.Transcribed)
	assert.Equal(t, "I feel tense", result.Transcript)
	assert.Equal(t, "I feel tense", result.Question.Content)
	assert.True(t, result.Question.HasAudio)
	assert.True(t, strings.HasSuffix(result.Question.AudioURL, ".m4a"))
	assert.True(t, result.Conversation.HasVoice)
	assert.NotEmpty(t, result.ReplyAudioURL)
	assert.Equal(t, result.Answer.ID, result.Playback.MessageID)
}

func TestVoiceTurnFallsBackToTypedText(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{err: errUpstream}, &fakeSynthesizer{audio: []byte("mp3")})
	ctx := userCtx("u1")

	started, err := voice.Start(ctx, ApproachACT)
	require.NoError(t, err)

	result, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: started.Conversation.ID, Audio: []byte("m4a"), FallbackText: "typed instead"})
	require.NoError(t, err)
	assert.False(t, result.Transcribed)
	assert.Equal(t, "typed instead", result.Question.Content)
}

func TestVoiceTurnUsesDefaultUtterance(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{err: errUpstream}, &fakeSynthesizer{audio: []byte("mp3")})
	ctx := userCtx("u1")

	started, err := voice.Start(ctx, ApproachMindfulness)
	require.NoError(t, err)

	result, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: started.Conversation.ID, Audio: []byte("m4a")})
	require.NoError(t, err)
	assert.Equal(t, "I'm finding it hard to stay present with my thoughts and feelings.", result.Question.Content)
}

func TestVoiceTurnWithoutSynthesis(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{text: "hello"}, &fakeSynthesizer{err: errUpstream})
	ctx := userCtx("u1")

	started, err := voice.Start(ctx, ApproachCBT)
	require.NoError(t, err)
	assert.Empty(t, started.ReplyAudioURL)
	assert.Equal(t, "idle", started.Playback.State)

	result, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: started.Conversation.ID, Audio: []byte("m4a")})
	require.NoError(t, err)
	assert.Empty(t, result.ReplyAudioURL)
	assert.Equal(t, "I hear you.", result.Answer.Content)
}

func TestVoiceTurnValidation(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{}, &fakeSynthesizer{})
	ctx := userCtx("u1")

	_, err := voice.Turn(ctx, VoiceTurnInput{Audio: []byte("x")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	_, err = voice.Turn(ctx, VoiceTurnInput{ConversationID: "c"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	_, err = voice.Turn(ctx, VoiceTurnInput{ConversationID: "missing", FallbackText: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFoundOrForbidden))
}

type blockingGenerator struct {
	once    sync.Once
	started chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ string) (string, error) {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return "second reply", nil
	}
	close(g.started)
	<-ctx.Done()
	return "", ctx.Err()
}

func (g *blockingGenerator) Provider() string { return "blocking" }

func TestVoiceTurnIsReplacedByNewerTurn(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := userCtx("u1")
	conv, err := env.conversations.CreateConversation(ctx, "Voice Therapy Session")
	require.NoError(t, err)

	generator := &blockingGenerator{started: make(chan struct{})}
	env.dialogue.generator = generator
	voice := env.newVoice(t, &fakeTranscriber{text: "hello"}, &fakeSynthesizer{audio: []byte("mp3")})

	errc := make(chan error, 1)
	go func() {
		_, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: conv.ID, FallbackText: "first"})
		errc <- err
	}()

	select {
	case <-generator.started:
	case <-time.After(time.Second):
		t.Fatal("first turn never reached generation")
	}

	second, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: conv.ID, FallbackText: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second reply", second.Answer.Content)

	select {
	case err := <-errc:
		assert.True(t, apperrors.HasCode(err, "TURN_REPLACED"))
	case <-time.After(time.Second):
		t.Fatal("first turn was not cancelled")
	}

	// The replaced turn keeps its question answered with the fallback, ahead
	// of the newer turn.
	messages, err := env.conversations.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, models.MessageTypeQuestion, messages[0].Type)
	assert.Equal(t, voiceFallback, messages[1].Content)
	assert.Equal(t, models.MessageTypeAnswer, messages[1].Type)
	assert.Equal(t, "second", messages[2].Content)
	assert.Equal(t, "second reply", messages[3].Content)
	assert.Equal(t, messages[3].ID, voice.Playback(conv.ID).View().MessageID)
}

func TestVoiceStopKeepsAnsweredHistory(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := userCtx("u1")
	conv, err := env.conversations.CreateConversation(ctx, "Voice Therapy Session")
	require.NoError(t, err)

	generator := &blockingGenerator{started: make(chan struct{})}
	env.dialogue.generator = generator
	voice := env.newVoice(t, &fakeTranscriber{}, &fakeSynthesizer{audio: []byte("mp3")})

	errc := make(chan error, 1)
	go func() {
		_, err := voice.Turn(ctx, VoiceTurnInput{ConversationID: conv.ID, FallbackText: "are you there"})
		errc <- err
	}()

	select {
	case <-generator.started:
	case <-time.After(time.Second):
		t.Fatal("turn never reached generation")
	}

	_, err = voice.Stop(ctx, conv.ID)
	require.NoError(t, err)

	select {
	case err := <-errc:
		assert.True(t, apperrors.HasCode(err, "TURN_REPLACED"))
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the turn")
	}

	messages, err := env.conversations.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.MessageTypeQuestion, messages[0].Type)
	assert.Equal(t, models.MessageTypeAnswer, messages[1].Type)
}

func TestVoiceStop(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{}, &fakeSynthesizer{audio: []byte("mp3")})
	ctx := userCtx("u1")

	started, err := voice.Start(ctx, ApproachCBT)
	require.NoError(t, err)

	view, err := voice.Stop(ctx, started.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", view.State)
	assert.Equal(t, StopRequested, view.Reason)

	_, err = voice.Stop(userCtx("u2"), started.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFoundOrForbidden))

	state, err := voice.PlaybackState(ctx, started.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, view, state)
}

func TestVoiceSessionDeletionDropsPlayback(t *testing.T) {
	env := newTestEnv(t, 10)
	voice := env.newVoice(t, &fakeTranscriber{}, &fakeSynthesizer{audio: []byte("mp3")})
	env.conversations.Observe(voice)
	ctx := userCtx("u1")

	started, err := voice.Start(ctx, ApproachCBT)
	require.NoError(t, err)
	playback := voice.Playback(started.Conversation.ID)
	require.Equal(t, "playing", playback.View().State)

	require.NoError(t, env.conversations.DeleteConversation(ctx, started.Conversation.ID))
	assert.Equal(t, "stopped", playback.View().State)
	assert.NotSame(t, playback, voice.Playback(started.Conversation.ID))
}
