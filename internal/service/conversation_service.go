package service

import (
	"context"
	"errors"
	"strings"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/repository"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// deleteConcurrency bounds the parallel message deletes of one cascade
const deleteConcurrency = 8

// SaveMessageInput carries the fields of a message append
type SaveMessageInput struct {
	ConversationID string
	Content        string
	Type           models.MessageType
	AudioURL       string
}

// ConversationChange is what happened to a conversation
type ConversationChange string

const (
	ConversationRenamed  ConversationChange = "renamed"
	ConversationDeleted  ConversationChange = "deleted"
	ConversationAnswered ConversationChange = "answered"
)

// ConversationEvent is passed to observers after a successful write
type ConversationEvent struct {
	UserID         string
	ConversationID string
	Change         ConversationChange
}

// ConversationObserver is told about renames, deletions and saved answers
type ConversationObserver interface {
	ConversationChanged(ctx context.Context, event ConversationEvent)
}

// ConversationService owns conversation CRUD and message append/read. Every
// operation acts on behalf of the identity found in the context.
type ConversationService struct {
	repo      repository.ConversationRepository
	log       *logger.Logger
	observers []ConversationObserver
}

// NewConversationService creates a new conversation service
func NewConversationService(repo repository.ConversationRepository, log *logger.Logger) *ConversationService {
	return &ConversationService{repo: repo, log: log}
}

// Observe registers an observer. It must be called before the service is
// shared between goroutines.
func (s *ConversationService) Observe(o ConversationObserver) {
	s.observers = append(s.observers, o)
}

func (s *ConversationService) notify(ctx context.Context, userID, conversationID string, change ConversationChange) {
	event := ConversationEvent{UserID: userID, ConversationID: conversationID, Change: change}
	for _, o := range s.observers {
		o.ConversationChanged(ctx, event)
	}
}

// CreateConversation starts an empty conversation owned by the caller
func (s *ConversationService) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}

	if strings.TrimSpace(title) == "" {
		title = models.DefaultConversationTitle
	}

	conversation := &models.Conversation{
		UserID: userID,
		Title:  title,
	}
	if err := s.repo.CreateConversation(ctx, conversation); err != nil {
		return nil, s.storeError(ctx, "Failed to create conversation", err)
	}
	return conversation, nil
}

// SaveMessage appends a message to one of the caller's conversations
func (s *ConversationService) SaveMessage(ctx context.Context, in SaveMessageInput) (*models.Message, error) {
	switch {
	case in.ConversationID == "":
		return nil, apperrors.NewInvalidArgumentError("Conversation ID is required")
	case in.Content == "":
		return nil, apperrors.NewInvalidArgumentError("Message content is required")
	case in.Type == "":
		return nil, apperrors.NewInvalidArgumentError("Message type is required")
	case !in.Type.Valid():
		return nil, apperrors.NewInvalidArgumentError("Message type must be question, answer or system")
	}

	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}

	if _, err := s.ownedConversation(ctx, userID, in.ConversationID); err != nil {
		return nil, err
	}

	message := &models.Message{
		ConversationID: in.ConversationID,
		UserID:         userID,
		Content:        in.Content,
		Type:           in.Type,
	}
	if in.AudioURL != "" {
		message.AudioURL = in.AudioURL
		message.HasAudio = true
	}

	if _, err := s.repo.AppendMessage(ctx, message); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundOrForbidden()
		}
		return nil, s.storeError(ctx, "Failed to save message", err)
	}
	if in.Type == models.MessageTypeAnswer {
		s.notify(ctx, userID, in.ConversationID, ConversationAnswered)
	}
	return message, nil
}

// GetUserConversations lists the caller's conversations, most recent first
func (s *ConversationService) GetUserConversations(ctx context.Context) ([]models.Conversation, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}

	conversations, err := s.repo.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, s.storeError(ctx, "Failed to list conversations", err)
	}
	return conversations, nil
}

// GetConversation returns one of the caller's conversations
func (s *ConversationService) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}
	return s.ownedConversation(ctx, userID, conversationID)
}

// GetConversationMessages returns the messages of one of the caller's
// conversations by ascending timestamp
func (s *ConversationService) GetConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, s.storeError(ctx, "Failed to load messages", err)
	}
	return messages, nil
}

// UpdateConversationTitle renames one of the caller's conversations
func (s *ConversationService) UpdateConversationTitle(ctx context.Context, conversationID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		return nil, apperrors.NewInvalidArgumentError("Title is required")
	}
	existing, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	conversation, err := s.repo.UpdateTitle(ctx, conversationID, title)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundOrForbidden()
		}
		return nil, s.storeError(ctx, "Failed to update conversation", err)
	}
	s.notify(ctx, existing.UserID, conversationID, ConversationRenamed)
	return conversation, nil
}

// DeleteConversation removes one of the caller's conversations and all of
// its messages. The conversation row is only removed once every message is
// gone, so a failed cascade can be retried.
func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID string) error {
	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	ids, err := s.repo.ListMessageIDs(ctx, conversationID)
	if err != nil {
		return s.storeError(ctx, "Failed to delete conversation", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			return s.repo.DeleteMessage(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return s.storeError(ctx, "Failed to delete conversation messages", err)
	}

	if err := s.repo.DeleteConversation(ctx, conversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundOrForbidden()
		}
		return s.storeError(ctx, "Failed to delete conversation", err)
	}

	s.log.WithContext(ctx).Info("Conversation deleted",
		"conversation_id", conversationID,
		"messages", len(ids),
	)
	s.notify(ctx, conversation.UserID, conversationID, ConversationDeleted)
	return nil
}

func (s *ConversationService) ownedConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, apperrors.NewInvalidArgumentError("Conversation ID is required")
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundOrForbidden()
		}
		return nil, s.storeError(ctx, "Failed to load conversation", err)
	}
	if !conversation.OwnedBy(userID) {
		return nil, notFoundOrForbidden()
	}
	return conversation, nil
}

func (s *ConversationService) storeError(ctx context.Context, msg string, err error) error {
	s.log.WithContext(ctx).LogError(err, msg)
	return apperrors.NewStoreError(msg, err)
}

func notFoundOrForbidden() error {
	return apperrors.NewNotFoundOrForbiddenError("Conversation not found or user not authorized")
}
