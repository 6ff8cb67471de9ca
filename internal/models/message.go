package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType tags who produced a message
type MessageType string

const (
	MessageTypeQuestion MessageType = "question"
	MessageTypeAnswer   MessageType = "answer"
	MessageTypeSystem   MessageType = "system"
)

// Valid reports whether t is one of the known message types
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeQuestion, MessageTypeAnswer, MessageTypeSystem:
		return true
	}
	return false
}

// Message is an immutable entry in a conversation
type Message struct {
	ID             string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ConversationID string      `json:"conversationId" gorm:"index:idx_messages_conversation_ts,priority:1;not null"`
	UserID         string      `json:"userId" gorm:"index;not null"`
	Content        string      `json:"content" gorm:"type:text;not null"`
	Type           MessageType `json:"type" gorm:"type:varchar(16);not null"`
	Timestamp      time.Time   `json:"timestamp" gorm:"index:idx_messages_conversation_ts,priority:2"`
	AudioURL       string      `json:"audioUrl,omitempty"`
	HasAudio       bool        `json:"hasAudio"`
}

// BeforeCreate assigns an ID when the caller did not
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
