package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mindgarden/backend/internal/models"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/logger"
)

var approachPattern = regexp.MustCompile(`(?i)approach: (\w+)`)

// TurnResult is the outcome of one therapy exchange
type TurnResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Approach     Approach             `json:"approach"`
	// Question is nil for the opening turn of a session
	Question *models.Message `json:"question,omitempty"`
	Answer   *models.Message `json:"answer"`
	Fallback bool            `json:"fallback"`
}

// TherapySession is a resumed session with its full transcript
type TherapySession struct {
	Conversation *models.Conversation `json:"conversation"`
	Approach     Approach             `json:"approach"`
	Messages     []models.Message     `json:"messages"`
}

// TherapyService runs approach-specific therapy sessions on top of the
// conversation store
type TherapyService struct {
	conversations *ConversationService
	dialogue      *DialogueService
	log           *logger.Logger
	now           func() time.Time
}

// NewTherapyService creates a new therapy service
func NewTherapyService(conversations *ConversationService, dialogue *DialogueService, log *logger.Logger) *TherapyService {
	return &TherapyService{
		conversations: conversations,
		dialogue:      dialogue,
		log:           log,
		now:           time.Now,
	}
}

// ListApproaches returns the approach catalogue
func (s *TherapyService) ListApproaches() []ApproachInfo {
	return Approaches()
}

// Start opens a text therapy session and returns the therapist's introduction
func (s *TherapyService) Start(ctx context.Context, approach Approach) (*TurnResult, error) {
	return s.start(ctx, approach, false)
}

// Continue sends the user's input to an existing session
func (s *TherapyService) Continue(ctx context.Context, conversationID, input string) (*TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, apperrors.NewInvalidArgumentError("Message content is required")
	}
	return s.continueWith(context.WithoutCancel(ctx), conversationID, input, "", false)
}

// Resume loads a session and recovers its approach from the session header
func (s *TherapyService) Resume(ctx context.Context, conversationID string) (*TherapySession, error) {
	conversation, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.conversations.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &TherapySession{
		Conversation: conversation,
		Approach:     approachFromMessages(messages),
		Messages:     messages,
	}, nil
}

func (s *TherapyService) start(ctx context.Context, approach Approach, voice bool) (*TurnResult, error) {
	if _, ok := ParseApproach(string(approach)); !ok {
		return nil, apperrors.NewInvalidArgumentError("Unknown therapy approach").
			WithDetails(map[string]any{"approaches": Approaches()})
	}

	ctx = context.WithoutCancel(ctx)

	title, header := approach.Name()+" Session", "AI Therapy Session"
	fallback := therapyFallback
	if voice {
		title, header = "Voice "+title, "AI Voice Therapy Session"
		fallback = voiceFallback
	}

	conversation, err := s.conversations.CreateConversation(ctx, title)
	if err != nil {
		return nil, err
	}

	_, err = s.conversations.SaveMessage(ctx, SaveMessageInput{
		ConversationID: conversation.ID,
		Content:        fmt.Sprintf("%s\napproach: %s\nstarted: %s", header, approach, s.now().UTC().Format(time.RFC3339)),
		Type:           models.MessageTypeSystem,
	})
	if err != nil {
		return nil, err
	}

	reply, usedFallback := s.dialogue.Reply(ctx, therapyInitialPrompt(approach, voice), fallback)

	answer, err := s.conversations.SaveMessage(ctx, SaveMessageInput{
		ConversationID: conversation.ID,
		Content:        reply,
		Type:           models.MessageTypeAnswer,
	})
	if err != nil {
		return nil, err
	}

	conversation, err = s.conversations.GetConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("Therapy session started",
		"conversation_id", conversation.ID,
		"approach", string(approach),
		"voice", voice,
	)

	return &TurnResult{
		Conversation: conversation,
		Approach:     approach,
		Answer:       answer,
		Fallback:     usedFallback,
	}, nil
}

// continueWith saves input as a question (with audioURL when given), then
// generates and saves the reply. ctx cancellation is honored up to the
// point the reply is persisted.
func (s *TherapyService) continueWith(ctx context.Context, conversationID, input, audioURL string, voice bool) (*TurnResult, error) {
	// Only generation follows ctx. Once the question is written its answer is
	// written too, so a cancelled turn still leaves a complete pair.
	persist := context.WithoutCancel(ctx)

	messages, err := s.conversations.GetConversationMessages(persist, conversationID)
	if err != nil {
		return nil, err
	}
	approach := approachFromMessages(messages)
	history := s.dialogue.Window(messages)

	question, err := s.conversations.SaveMessage(persist, SaveMessageInput{
		ConversationID: conversationID,
		Content:        input,
		Type:           models.MessageTypeQuestion,
		AudioURL:       audioURL,
	})
	if err != nil {
		return nil, err
	}

	fallback := therapyFallback
	if voice {
		fallback = voiceFallback
	}
	reply, usedFallback := s.dialogue.Reply(ctx, therapyContinuationPrompt(approach, input, history, voice), fallback)

	answer, err := s.conversations.SaveMessage(persist, SaveMessageInput{
		ConversationID: conversationID,
		Content:        reply,
		Type:           models.MessageTypeAnswer,
	})
	if err != nil {
		return nil, err
	}

	conversation, err := s.conversations.GetConversation(persist, conversationID)
	if err != nil {
		return nil, err
	}

	return &TurnResult{
		Conversation: conversation,
		Approach:     approach,
		Question:     question,
		Answer:       answer,
		Fallback:     usedFallback,
	}, nil
}

// approachFromMessages reads the approach tag from the first system message
// that carries one. Sessions without a header use the generic instructions.
func approachFromMessages(messages []models.Message) Approach {
	for _, m := range messages {
		if m.Type != models.MessageTypeSystem {
			continue
		}
		if match := approachPattern.FindStringSubmatch(m.Content); match != nil {
			return Approach(strings.ToLower(match[1]))
		}
	}
	return ""
}
