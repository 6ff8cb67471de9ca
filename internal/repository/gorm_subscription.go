package repository

import (
	"context"
	"time"

	"mindgarden/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSubscriptionRepository implements SubscriptionRepository on gorm
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new gorm backed subscription store
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

func (r *GormSubscriptionRepository) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.WithContext(ctx).First(&subscription, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &subscription, nil
}

func (r *GormSubscriptionRepository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(subscription).Error
}

func (r *GormSubscriptionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		UpdateColumns(map[string]any{
			"active":     false,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}
