package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"mindgarden/backend/ai"
	"mindgarden/backend/internal/models"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/pkg/resilience"
	"mindgarden/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const autoTitleLength = 30

var tracer = otel.Tracer("mindgarden/backend/internal/service")

// ChatRequest is one user turn of a chat
type ChatRequest struct {
	// ConversationID is optional; a conversation is created when empty
	ConversationID string
	Utterance      string
	Role           Role
}

// ChatResult holds the two messages a turn persisted
type ChatResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Question     *models.Message      `json:"question"`
	Answer       *models.Message      `json:"answer"`
	// Fallback is set when the answer is the fixed fallback text
	Fallback bool `json:"fallback"`
}

// DialogueService builds prompts, calls the generator and persists both
// sides of a turn
type DialogueService struct {
	conversations *ConversationService
	generator     ai.Generator
	breaker       *resilience.CircuitBreaker
	metrics       *observability.Metrics
	historyWindow int
	log           *logger.Logger
}

// NewDialogueService creates a new dialogue service. A historyWindow of zero
// sends only the latest utterance.
func NewDialogueService(
	conversations *ConversationService,
	generator ai.Generator,
	breaker *resilience.CircuitBreaker,
	metrics *observability.Metrics,
	historyWindow int,
	log *logger.Logger,
) *DialogueService {
	return &DialogueService{
		conversations: conversations,
		generator:     generator,
		breaker:       breaker,
		metrics:       metrics,
		historyWindow: historyWindow,
		log:           log,
	}
}

// Chat persists the utterance, generates a reply and persists it. Generation
// problems never fail the turn: the fallback text is saved instead.
func (s *DialogueService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return nil, apperrors.NewInvalidArgumentError("Message content is required")
	}

	// The reply is persisted even if the caller goes away mid-generation.
	ctx = context.WithoutCancel(ctx)

	conversationID := req.ConversationID
	if conversationID == "" {
		conversation, err := s.conversations.CreateConversation(ctx, AutoTitle(utterance))
		if err != nil {
			return nil, err
		}
		conversationID = conversation.ID
	}

	history, err := s.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	question, err := s.conversations.SaveMessage(ctx, SaveMessageInput{
		ConversationID: conversationID,
		Content:        utterance,
		Type:           models.MessageTypeQuestion,
	})
	if err != nil {
		return nil, err
	}

	var prompt, fallback string
	if approach, ok := req.Role.Approach(); ok {
		prompt = therapyContinuationPrompt(approach, utterance, history, false)
		fallback = therapyFallback
	} else {
		prompt = generalPrompt(utterance, history)
		fallback = generalFallback
	}

	reply, usedFallback := s.Reply(ctx, prompt, fallback)

	answer, err := s.conversations.SaveMessage(ctx, SaveMessageInput{
		ConversationID: conversationID,
		Content:        reply,
		Type:           models.MessageTypeAnswer,
	})
	if err != nil {
		return nil, err
	}

	conversation, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Conversation: conversation,
		Question:     question,
		Answer:       answer,
		Fallback:     usedFallback,
	}, nil
}

// Reply runs prompt through the generator. On any GenerationFailure it logs
// the cause and returns fallback with usedFallback set.
func (s *DialogueService) Reply(ctx context.Context, prompt, fallback string) (reply string, usedFallback bool) {
	provider := s.generator.Provider()
	ctx, span := tracer.Start(ctx, "dialogue.generate")
	span.SetAttributes(
		attribute.String("ai.provider", provider),
		attribute.Int("ai.prompt_chars", len(prompt)),
	)
	defer span.End()

	err := s.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		text, err := s.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		reply = text
		return nil
	})
	if err != nil {
		genErr := apperrors.NewGenerationError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, genErr.Message)
		s.metrics.ObserveGeneration(provider, "fallback")
		s.log.WithContext(ctx).Warn("Generation failed, using fallback reply",
			"provider", provider,
			"error", genErr.Error(),
		)
		return fallback, true
	}

	s.metrics.ObserveGeneration(provider, "success")
	return reply, false
}

// History returns the last historyWindow messages of a conversation
func (s *DialogueService) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	if s.historyWindow <= 0 {
		// Still enforces ownership before anything is written.
		_, err := s.conversations.GetConversation(ctx, conversationID)
		return nil, err
	}

	messages, err := s.conversations.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.Window(messages), nil
}

// Window trims messages to the configured transcript window
func (s *DialogueService) Window(messages []models.Message) []models.Message {
	if s.historyWindow <= 0 {
		return nil
	}
	if len(messages) > s.historyWindow {
		return messages[len(messages)-s.historyWindow:]
	}
	return messages
}

// Available reports whether the generator's circuit is accepting calls
func (s *DialogueService) Available() bool {
	return s.breaker.GetState() != resilience.StateOpen
}

// AutoTitle derives a conversation title from its first utterance
func AutoTitle(utterance string) string {
	utterance = strings.TrimSpace(utterance)
	if utf8.RuneCountInString(utterance) <= autoTitleLength {
		return utterance
	}
	runes := []rune(utterance)
	return string(runes[:autoTitleLength]) + "..."
}
