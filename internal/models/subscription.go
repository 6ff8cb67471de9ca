package models

import (
	"time"

	"github.com/lib/pq"
)

// Subscription is the stored plan of a user. Absent rows mean the free plan.
type Subscription struct {
	UserID      string         `json:"userId" gorm:"primaryKey;type:varchar(36)"`
	Level       string         `json:"level" gorm:"type:varchar(32);not null;default:free"`
	Features    pq.StringArray `json:"features" gorm:"type:text[]"`
	Active      bool           `json:"active"`
	PurchasedAt *time.Time     `json:"purchasedAt,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty" gorm:"index"`
	CanceledAt  *time.Time     `json:"canceledAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Expired reports whether the subscription expired before now
func (s *Subscription) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}
