package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"mindgarden/backend/internal/models"

	"github.com/google/uuid"
)

// MemoryConversationRepository is a mutex guarded in-process ConversationRepository
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	messages      map[string]models.Message
	now           func() time.Time
}

// NewMemoryConversationRepository creates an empty in-memory conversation store
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string]models.Message),
		now:           time.Now,
	}
}

// WithClock replaces the time source used for timestamps
func (r *MemoryConversationRepository) WithClock(now func() time.Time) *MemoryConversationRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

func (r *MemoryConversationRepository) CreateConversation(ctx context.Context, conversation *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if _, exists := r.conversations[conversation.ID]; exists {
		return ErrDuplicate
	}
	now := r.now().UTC().Truncate(time.Microsecond)
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	if conversation.UpdatedAt.IsZero() {
		conversation.UpdatedAt = conversation.CreatedAt
	}
	r.conversations[conversation.ID] = *conversation
	return nil
}

func (r *MemoryConversationRepository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &conversation, nil
}

func (r *MemoryConversationRepository) ListConversationsByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Conversation, 0)
	for _, conversation := range r.conversations {
		if conversation.UserID == userID {
			result = append(result, conversation)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (r *MemoryConversationRepository) UpdateTitle(ctx context.Context, id, title string) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	conversation.Title = title
	conversation.UpdatedAt = nextTimestamp(conversation.UpdatedAt, r.now())
	r.conversations[id] = conversation
	return &conversation, nil
}

func (r *MemoryConversationRepository) DeleteConversation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(r.conversations, id)
	return nil
}

func (r *MemoryConversationRepository) AppendMessage(ctx context.Context, message *models.Message) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[message.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.Timestamp = nextTimestamp(conversation.UpdatedAt, r.now())
	r.messages[message.ID] = *message

	conversation.MessageCount++
	conversation.UpdatedAt = message.Timestamp
	if message.HasAudio {
		conversation.HasVoice = true
	}
	r.conversations[conversation.ID] = conversation
	return &conversation, nil
}

func (r *MemoryConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Message, 0)
	for _, message := range r.messages {
		if message.ConversationID == conversationID {
			result = append(result, message)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (r *MemoryConversationRepository) ListMessageIDs(ctx context.Context, conversationID string) ([]string, error) {
	messages, err := r.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	return ids, nil
}

func (r *MemoryConversationRepository) DeleteMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, id)
	return nil
}

// MemorySubscriptionRepository is an in-process SubscriptionRepository
type MemorySubscriptionRepository struct {
	mu            sync.RWMutex
	subscriptions map[string]models.Subscription
}

// NewMemorySubscriptionRepository creates an empty in-memory subscription store
func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subscriptions: make(map[string]models.Subscription)}
}

func (r *MemorySubscriptionRepository) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	subscription, ok := r.subscriptions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	subscription.Features = append([]string(nil), subscription.Features...)
	return &subscription, nil
}

func (r *MemorySubscriptionRepository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *subscription
	stored.Features = append([]string(nil), subscription.Features...)
	stored.UpdatedAt = time.Now().UTC()
	r.subscriptions[subscription.UserID] = stored
	return nil
}

func (r *MemorySubscriptionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var changed int64
	for userID, subscription := range r.subscriptions {
		if subscription.Active && subscription.Expired(now) {
			subscription.Active = false
			subscription.UpdatedAt = now
			r.subscriptions[userID] = subscription
			changed++
		}
	}
	return changed, nil
}

// MemoryUserRepository is an in-process UserRepository
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryUserRepository creates an empty in-memory user store
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]models.User)}
}

func (r *MemoryUserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return ErrDuplicate
		}
	}

	// Mirrors the gorm BeforeCreate hook.
	if err := user.BeforeCreate(nil); err != nil {
		return err
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	user.LastLogin = at
	r.users[id] = user
	return nil
}
