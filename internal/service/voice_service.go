package service

import (
	"context"
	"strings"
	"sync"

	"mindgarden/backend/ai"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/shared/observability"
)

// VoiceTurnInput is one spoken turn. FallbackText is used when the
// recording cannot be transcribed.
type VoiceTurnInput struct {
	ConversationID string
	Audio          []byte
	ContentType    string
	FallbackText   string
}

// VoiceTurnResult extends TurnResult with the speech side of the turn
type VoiceTurnResult struct {
	TurnResult
	Transcript string `json:"transcript"`
	// Transcribed is false when the text came from the typed fallback
	Transcribed bool `json:"transcribed"`
	// ReplyAudioURL is empty when synthesis failed
	ReplyAudioURL string       `json:"replyAudioUrl,omitempty"`
	Playback      PlaybackView `json:"playback"`
}

// VoiceService runs voice therapy sessions: speech in, speech out
type VoiceService struct {
	therapy     *TherapyService
	transcriber ai.Transcriber
	synthesizer ai.Synthesizer
	audio       *AudioService
	playback    *PlaybackRegistry
	metrics     *observability.Metrics
	log         *logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflightTurn
}

type inflightTurn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewVoiceService creates a new voice service
func NewVoiceService(
	therapy *TherapyService,
	transcriber ai.Transcriber,
	synthesizer ai.Synthesizer,
	audio *AudioService,
	playback *PlaybackRegistry,
	metrics *observability.Metrics,
	log *logger.Logger,
) *VoiceService {
	return &VoiceService{
		therapy:     therapy,
		transcriber: transcriber,
		synthesizer: synthesizer,
		audio:       audio,
		playback:    playback,
		metrics:     metrics,
		log:         log,
		inflight:    make(map[string]*inflightTurn),
	}
}

// Start opens a voice session and speaks the introduction
func (s *VoiceService) Start(ctx context.Context, approach Approach) (*VoiceTurnResult, error) {
	turn, err := s.therapy.start(ctx, approach, true)
	if err != nil {
		return nil, err
	}
	return s.speak(context.WithoutCancel(ctx), turn), nil
}

// Turn handles one recording. A new turn for the same session cancels the
// one still in flight.
func (s *VoiceService) Turn(ctx context.Context, in VoiceTurnInput) (*VoiceTurnResult, error) {
	if in.ConversationID == "" {
		return nil, apperrors.NewInvalidArgumentError("Conversation ID is required")
	}
	if len(in.Audio) == 0 && strings.TrimSpace(in.FallbackText) == "" {
		return nil, apperrors.NewInvalidArgumentError("A recording or text is required")
	}

	// Ownership is checked before any audio is written.
	if _, err := s.therapy.conversations.GetConversation(ctx, in.ConversationID); err != nil {
		return nil, err
	}

	ctx, done, err := s.beginTurn(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	defer done()

	s.playback.For(in.ConversationID).Stop(StopReplaced)

	var recordingURL string
	if len(in.Audio) > 0 {
		url, err := s.audio.Save(in.Audio, ExtForContentType(in.ContentType))
		if err != nil {
			return nil, err
		}
		recordingURL = url
	}

	text, transcribed := s.transcribe(ctx, in)
	if ctx.Err() != nil {
		// Replaced before anything was written: the recording is dropped.
		return nil, turnReplacedError(in.ConversationID, "")
	}
	if !transcribed && strings.TrimSpace(in.FallbackText) == "" {
		session, err := s.therapy.Resume(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		text = defaultUtterance(session.Approach)
	}

	turn, err := s.therapy.continueWith(ctx, in.ConversationID, text, recordingURL, true)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// The question was already saved, so the fallback answer was kept
		// beside it. Nothing is spoken for a replaced turn.
		return nil, turnReplacedError(in.ConversationID, turn.Answer.ID)
	}

	result := s.speak(ctx, turn)
	result.Transcript = text
	result.Transcribed = transcribed
	return result, nil
}

func turnReplacedError(conversationID, answerID string) error {
	details := map[string]any{"conversationId": conversationID}
	if answerID != "" {
		details["answerId"] = answerID
	}
	return apperrors.NewConflictError("TURN_REPLACED", "A newer recording replaced this turn").WithDetails(details)
}

// Stop halts the session's playback and any turn in flight
func (s *VoiceService) Stop(ctx context.Context, conversationID string) (PlaybackView, error) {
	if _, err := s.therapy.conversations.GetConversation(ctx, conversationID); err != nil {
		return PlaybackView{}, err
	}

	s.mu.Lock()
	// The cancelled turn unregisters itself once its answer is saved.
	if turn, ok := s.inflight[conversationID]; ok {
		turn.cancel()
	}
	s.mu.Unlock()

	playback := s.playback.For(conversationID)
	playback.Stop(StopRequested)
	return playback.View(), nil
}

// ConversationChanged drops the playback of a deleted session and cancels
// its turn in flight
func (s *VoiceService) ConversationChanged(_ context.Context, event ConversationEvent) {
	if event.Change != ConversationDeleted {
		return
	}
	s.mu.Lock()
	if turn, ok := s.inflight[event.ConversationID]; ok {
		turn.cancel()
	}
	s.mu.Unlock()
	s.playback.Forget(event.ConversationID)
}

// PlaybackState returns the session's playback state
func (s *VoiceService) PlaybackState(ctx context.Context, conversationID string) (PlaybackView, error) {
	if _, err := s.therapy.conversations.GetConversation(ctx, conversationID); err != nil {
		return PlaybackView{}, err
	}
	return s.playback.For(conversationID).View(), nil
}

// Playback exposes the session's playback for streaming transports
func (s *VoiceService) Playback(conversationID string) *Playback {
	return s.playback.For(conversationID)
}

// beginTurn registers a turn for the session. A turn still in flight is
// cancelled and waited for, so its answer is saved before the new question.
func (s *VoiceService) beginTurn(parent context.Context, conversationID string) (context.Context, func(), error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	turn := &inflightTurn{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	previous := s.inflight[conversationID]
	s.inflight[conversationID] = turn
	s.mu.Unlock()

	if previous != nil {
		previous.cancel()
		select {
		case <-previous.done:
		case <-parent.Done():
			s.finishTurn(conversationID, turn)
			return nil, nil, parent.Err()
		}
	}

	return ctx, func() { s.finishTurn(conversationID, turn) }, nil
}

func (s *VoiceService) finishTurn(conversationID string, turn *inflightTurn) {
	s.mu.Lock()
	// A newer turn may have replaced this registration.
	if s.inflight[conversationID] == turn {
		delete(s.inflight, conversationID)
	}
	s.mu.Unlock()
	turn.cancel()
	close(turn.done)
}

func (s *VoiceService) transcribe(ctx context.Context, in VoiceTurnInput) (string, bool) {
	if len(in.Audio) > 0 {
		text, err := s.transcriber.Transcribe(ctx, in.Audio, in.ContentType)
		if err == nil {
			return text, true
		}
		s.log.WithContext(ctx).Warn("Transcription failed, using typed text",
			"conversation_id", in.ConversationID,
			"error", apperrors.NewTranscriptionError(err).Error(),
		)
	}
	s.metrics.ObserveSTTFallback()
	return strings.TrimSpace(in.FallbackText), false
}

// speak synthesizes the answer and starts its playback. Synthesis failure
// leaves the text-only answer in place.
func (s *VoiceService) speak(ctx context.Context, turn *TurnResult) *VoiceTurnResult {
	result := &VoiceTurnResult{TurnResult: *turn}
	playback := s.playback.For(turn.Conversation.ID)

	audio, err := s.synthesizer.Synthesize(ctx, turn.Answer.Content)
	if err != nil {
		s.log.WithContext(ctx).Warn("Speech synthesis failed, returning text only",
			"conversation_id", turn.Conversation.ID,
			"error", apperrors.NewSynthesisError(err).Error(),
		)
		result.Playback = playback.View()
		return result
	}

	url, err := s.audio.Save(audio, ".mp3")
	if err != nil {
		s.log.WithContext(ctx).LogError(err, "Failed to store synthesized reply",
			"conversation_id", turn.Conversation.ID,
		)
		result.Playback = playback.View()
		return result
	}

	result.ReplyAudioURL = url
	playback.Play(context.WithoutCancel(ctx), turn.Answer.ID, url)
	result.Playback = playback.View()
	return result
}
