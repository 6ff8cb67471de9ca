package repository

import (
	"context"
	"errors"
	"time"

	"mindgarden/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormConversationRepository implements ConversationRepository on gorm
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a new gorm backed conversation store
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

func (r *GormConversationRepository) CreateConversation(ctx context.Context, conversation *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

func (r *GormConversationRepository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).First(&conversation, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &conversation, nil
}

func (r *GormConversationRepository) ListConversationsByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *GormConversationRepository) UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conversation, "id = ?", id).Error; err != nil {
			return translate(err)
		}

		conversation.Title = title
		conversation.UpdatedAt = nextTimestamp(conversation.UpdatedAt, time.Now())
		return tx.Model(&models.Conversation{}).
			Where("id = ?", id).
			UpdateColumns(map[string]any{
				"title":      conversation.Title,
				"updated_at": conversation.UpdatedAt,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *GormConversationRepository) DeleteConversation(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Conversation{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormConversationRepository) AppendMessage(ctx context.Context, message *models.Message) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock serializes concurrent appends to the same conversation.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conversation, "id = ?", message.ConversationID).Error; err != nil {
			return translate(err)
		}

		message.Timestamp = nextTimestamp(conversation.UpdatedAt, time.Now())
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"message_count": gorm.Expr("message_count + ?", 1),
			"updated_at":    message.Timestamp,
		}
		if message.HasAudio {
			updates["has_voice"] = true
		}
		if err := tx.Model(&models.Conversation{}).
			Where("id = ?", conversation.ID).
			UpdateColumns(updates).Error; err != nil {
			return err
		}

		return tx.First(&conversation, "id = ?", conversation.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *GormConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormConversationRepository) ListMessageIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *GormConversationRepository) DeleteMessage(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Message{}).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}
