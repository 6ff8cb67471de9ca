// Package repository persists conversations, messages, subscriptions and
// users. Every store has a gorm implementation backed by PostgreSQL and an
// in-memory implementation used by tests and the memory driver.
package repository

import (
	"context"
	"errors"
	"time"

	"mindgarden/backend/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = errors.New("record already exists")
)

// ConversationRepository stores conversations and their messages
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conversation *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListConversationsByUser returns the user's conversations, most recently updated first
	ListConversationsByUser(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage inserts the message and, in the same unit of work,
	// increments the parent's message count, advances its updatedAt to the
	// message timestamp and sets hasVoice when the message carries audio.
	// The message timestamp is assigned here and is strictly increasing
	// within a conversation.
	AppendMessage(ctx context.Context, message *models.Message) (*models.Conversation, error)
	// ListMessages returns the conversation's messages by ascending timestamp
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	ListMessageIDs(ctx context.Context, conversationID string) ([]string, error)
	DeleteMessage(ctx context.Context, id string) error
}

// SubscriptionRepository stores one subscription row per user
type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, subscription *models.Subscription) error
	// DeactivateExpired marks active subscriptions whose expiry is before now
	// as inactive and returns how many rows changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// UserRepository stores accounts
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// nextTimestamp returns now truncated to the store's microsecond precision,
// or one microsecond after prev when now does not advance past it.
func nextTimestamp(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.UTC().Add(time.Microsecond)
	}
	return now
}
