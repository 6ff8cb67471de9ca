package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultConversationTitle is used when a conversation is created without a title
const DefaultConversationTitle = "New Conversation"

// Conversation is a titled, ordered thread of messages owned by one user
type Conversation struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID       string    `json:"userId" gorm:"index:idx_conversations_user_updated,priority:1;not null"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"index:idx_conversations_user_updated,priority:2,sort:desc;autoUpdateTime:false"`
	MessageCount int       `json:"messageCount" gorm:"not null;default:0"`
	HasVoice     bool      `json:"hasVoice" gorm:"not null;default:false"`
}

// BeforeCreate assigns an ID and the initial timestamps
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return nil
}

// OwnedBy reports whether userID owns the conversation
func (c *Conversation) OwnedBy(userID string) bool {
	return c != nil && c.UserID == userID
}
