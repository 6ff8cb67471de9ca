package assessment

import (
	"context"
	"sync"
	"time"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/service"
	"mindgarden/backend/pkg/cache"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/shared/observability"
)

// GardenInvalidator drops a user's cached garden projection
type GardenInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Config defines configuration for the assessment service
type Config struct {
	// PromptDelay separates the summary from the garden prompt
	PromptDelay time.Duration
	SessionTTL  time.Duration
	MaxSessions int
}

// Session is a user's assessment in progress
type Session struct {
	mu             sync.Mutex
	conversationID string
	startedAt      time.Time
	engine         Engine
}

// SessionView is the client-facing state of a session
type SessionView struct {
	ConversationID string    `json:"conversationId,omitempty"`
	Step           int       `json:"step"`
	Total          int       `json:"total"`
	Question       *Question `json:"question,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
}

// Completion is a persisted assessment
type Completion struct {
	Result
	Conversation        *models.Conversation `json:"conversation"`
	SummaryMessage      *models.Message      `json:"summaryMessage"`
	GardenPromptMessage *models.Message      `json:"gardenPromptMessage"`
}

// AnswerResult is either the next question or the completion
type AnswerResult struct {
	Session    *SessionView `json:"session,omitempty"`
	Completion *Completion  `json:"completion,omitempty"`
}

// Service runs one assessment per user and writes completed assessments
// into the conversation store
type Service struct {
	conversations *service.ConversationService
	sessions      *cache.Cache[*Session]
	garden        GardenInvalidator
	metrics       *observability.Metrics
	config        Config
	log           *logger.Logger
}

// NewService creates a new assessment service. garden may be nil.
func NewService(
	conversations *service.ConversationService,
	garden GardenInvalidator,
	metrics *observability.Metrics,
	config Config,
	log *logger.Logger,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = time.Hour
	}
	return &Service{
		conversations: conversations,
		sessions: cache.New[*Session](cache.Options{
			DefaultExpiration: config.SessionTTL,
			CleanupInterval:   config.SessionTTL / 2,
			MaxItems:          config.MaxSessions,
		}),
		garden:  garden,
		metrics: metrics,
		config:  config,
		log:     log,
	}
}

// Close stops the session cache janitor
func (s *Service) Close() {
	s.sessions.Close()
}

// Start begins a new assessment, replacing any in progress. Results go to
// conversationID when given, otherwise to a new "Mood Assessment"
// conversation created on completion.
func (s *Service) Start(ctx context.Context, conversationID string) (*SessionView, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}
	if conversationID != "" {
		if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
			return nil, err
		}
	}

	session := &Session{conversationID: conversationID, startedAt: time.Now().UTC()}
	s.sessions.Set(userID, session)

	s.log.WithContext(ctx).Debug("Assessment started", "conversation_id", conversationID)
	return session.view(), nil
}

// Current returns the caller's session
func (s *Service) Current(ctx context.Context) (*SessionView, error) {
	_, session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.view(), nil
}

// Cancel abandons the caller's session. Nothing has been persisted before
// completion, so there is nothing to undo.
func (s *Service) Cancel(ctx context.Context) error {
	userID, _, err := s.session(ctx)
	if err != nil {
		return err
	}
	s.sessions.Delete(userID)
	return nil
}

// Answer records the answer to the current question. The final answer
// persists the summary and the garden prompt; if that fails the answer is
// withdrawn so it can be resubmitted.
func (s *Service) Answer(ctx context.Context, value int) (*AnswerResult, error) {
	userID, session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	result, err := session.engine.Answer(value)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &AnswerResult{Session: session.view()}, nil
	}

	completion, err := s.complete(ctx, userID, session, result)
	if err != nil {
		return nil, err
	}
	return &AnswerResult{Completion: completion}, nil
}

func (s *Service) complete(ctx context.Context, userID string, session *Session, result *Result) (*Completion, error) {
	log := s.log.WithContext(ctx)
	// Both messages are attempted even if the caller goes away in between.
	persistCtx := context.WithoutCancel(ctx)

	if session.conversationID == "" {
		conversation, err := s.conversations.CreateConversation(persistCtx, ConversationTitle)
		if err != nil {
			session.engine.Undo()
			return nil, err
		}
		session.conversationID = conversation.ID
	}

	summary, err := s.conversations.SaveMessage(persistCtx, service.SaveMessageInput{
		ConversationID: session.conversationID,
		Content:        result.Summary,
		Type:           models.MessageTypeAnswer,
	})
	if err != nil {
		session.engine.Undo()
		return nil, err
	}

	// The summary is the assessment of record from here on.
	s.sessions.Delete(userID)
	s.metrics.ObserveAssessment(string(result.Mood))
	if s.garden != nil {
		s.garden.Invalidate(persistCtx, userID)
	}

	if s.config.PromptDelay > 0 {
		timer := time.NewTimer(s.config.PromptDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	prompt, err := s.conversations.SaveMessage(persistCtx, service.SaveMessageInput{
		ConversationID: session.conversationID,
		Content:        GardenPrompt,
		Type:           models.MessageTypeAnswer,
	})
	if err != nil {
		log.LogError(err, "Failed to save garden prompt", "conversation_id", session.conversationID)
		return nil, apperrors.FromError(err).WithDetails(map[string]any{
			"summarySaved":   true,
			"conversationId": session.conversationID,
		})
	}

	conversation, err := s.conversations.GetConversation(persistCtx, session.conversationID)
	if err != nil {
		return nil, err
	}

	log.Info("Assessment completed",
		"conversation_id", session.conversationID,
		"score", result.Score,
		"mood", string(result.Mood),
	)

	return &Completion{
		Result:              *result,
		Conversation:        conversation,
		SummaryMessage:      summary,
		GardenPromptMessage: prompt,
	}, nil
}

func (s *Service) session(ctx context.Context) (string, *Session, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return "", nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}
	session, ok := s.sessions.Get(userID)
	if !ok {
		return "", nil, apperrors.NewNotFoundError("NO_ASSESSMENT", "No assessment in progress")
	}
	return userID, session, nil
}

func (s *Session) view() *SessionView {
	v := &SessionView{
		ConversationID: s.conversationID,
		Step:           s.engine.Step(),
		Total:          QuestionCount(),
		StartedAt:      s.startedAt,
	}
	if q, ok := s.engine.Current(); ok {
		v.Question = &q
	}
	return v
}
