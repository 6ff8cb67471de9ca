package subscription

import (
	"context"
	"errors"
	"slices"
	"time"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/repository"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"
)

// Level is a subscription plan
type Level string

const (
	LevelFree        Level = "free"
	LevelPremium     Level = "premium"
	LevelPremiumPlus Level = "premium_plus"
)

// Feature is a capability gated by plan
type Feature string

const (
	FeatureAITherapy          Feature = "ai_therapy"
	FeatureAdvancedAssessment Feature = "advanced_assessment"
	FeatureCrisisProtocol     Feature = "crisis_protocol"
	FeatureUnlimitedChats     Feature = "unlimited_chats"
	// FeatureAITherapyPlus (voice therapy) is never listed in a feature set;
	// premium_plus is granted every feature.
	FeatureAITherapyPlus Feature = "ai_therapy_plus"
)

var knownFeatures = []Feature{
	FeatureAITherapy,
	FeatureAdvancedAssessment,
	FeatureCrisisProtocol,
	FeatureUnlimitedChats,
	FeatureAITherapyPlus,
}

var levelFeatures = map[Level][]Feature{
	LevelPremium:     {FeatureAITherapy, FeatureAdvancedAssessment},
	LevelPremiumPlus: {FeatureAITherapy, FeatureAdvancedAssessment, FeatureCrisisProtocol, FeatureUnlimitedChats},
}

var planNames = map[Level]string{
	LevelFree:        "Free Plan",
	LevelPremium:     "Premium Plan",
	LevelPremiumPlus: "Premium+ Plan",
}

// ParseLevel validates a level string
func ParseLevel(s string) (Level, bool) {
	l := Level(s)
	_, ok := planNames[l]
	return l, ok
}

// ParseFeature validates a feature tag
func ParseFeature(s string) (Feature, bool) {
	f := Feature(s)
	return f, slices.Contains(knownFeatures, f)
}

// FeaturesFor returns the feature set bundled with a level
func FeaturesFor(level Level) []Feature {
	return slices.Clone(levelFeatures[level])
}

// State is the effective subscription after the expiry rule is applied
type State struct {
	Level     Level      `json:"level"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Features  []Feature  `json:"features"`
}

// Has reports whether the state grants feature
func (s State) Has(feature Feature) bool {
	if s.Level == LevelPremiumPlus {
		return true
	}
	return slices.Contains(s.Features, feature)
}

// Details is the plan summary shown to the user
type Details struct {
	PlanName  string     `json:"planName"`
	Level     Level      `json:"level"`
	Active    bool       `json:"isActive"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Features  []Feature  `json:"features"`
	Premium   bool       `json:"isPremium"`
}

// Service manages the caller's subscription
type Service struct {
	repo repository.SubscriptionRepository
	log  *logger.Logger
	now  func() time.Time
}

// NewService creates a new subscription service
func NewService(repo repository.SubscriptionRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// CheckLevel returns the effective level. A missing, inactive or expired
// subscription is the free plan with no features.
func (s *Service) CheckLevel(ctx context.Context) (State, error) {
	sub, err := s.load(ctx)
	if err != nil {
		return State{Level: LevelFree, Features: []Feature{}}, err
	}
	return s.effective(sub), nil
}

// HasFeatureAccess reports whether the caller may use feature. Store
// failures deny access.
func (s *Service) HasFeatureAccess(ctx context.Context, feature Feature) bool {
	state, err := s.CheckLevel(ctx)
	if err != nil {
		s.log.WithContext(ctx).Warn("Subscription check failed, denying feature",
			"feature", string(feature),
			"error", err.Error(),
		)
		return false
	}
	return state.Has(feature)
}

// Require returns FEATURE_LOCKED unless the caller may use feature
func (s *Service) Require(ctx context.Context, feature Feature) error {
	if !s.HasFeatureAccess(ctx, feature) {
		return apperrors.NewFeatureLockedError(string(feature))
	}
	return nil
}

// IsPremium reports whether the caller is on a paid plan
func (s *Service) IsPremium(ctx context.Context) bool {
	state, err := s.CheckLevel(ctx)
	return err == nil && state.Level != LevelFree
}

// Allows adapts HasFeatureAccess to a context predicate for route gating
func (s *Service) Allows(feature Feature) func(context.Context) bool {
	return func(ctx context.Context) bool {
		return s.HasFeatureAccess(ctx, feature)
	}
}

// Purchase activates level for the given number of months. Payment is
// handled outside this service.
func (s *Service) Purchase(ctx context.Context, level Level, months int) (*Details, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}
	if level != LevelPremium && level != LevelPremiumPlus {
		return nil, apperrors.NewInvalidArgumentError("Level must be premium or premium_plus")
	}
	if months < 1 {
		return nil, apperrors.NewInvalidArgumentError("Months must be at least 1")
	}

	now := s.now().UTC()
	expires := now.AddDate(0, months, 0)
	features := make([]string, 0, len(levelFeatures[level]))
	for _, f := range levelFeatures[level] {
		features = append(features, string(f))
	}

	sub := &models.Subscription{
		UserID:      userID,
		Level:       string(level),
		Features:    features,
		Active:      true,
		PurchasedAt: &now,
		ExpiresAt:   &expires,
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		s.log.WithContext(ctx).LogError(err, "Failed to save subscription")
		return nil, apperrors.NewStoreError("Failed to save subscription", err)
	}

	s.log.WithContext(ctx).Info("Subscription purchased",
		"level", string(level),
		"months", months,
		"expires_at", expires.Format(time.RFC3339),
	)
	return s.details(sub), nil
}

// Cancel deactivates the caller's subscription
func (s *Service) Cancel(ctx context.Context) (*Details, error) {
	sub, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if sub.UserID == "" || !sub.Active {
		return nil, apperrors.NewConflictError("NO_ACTIVE_SUBSCRIPTION", "There is no active subscription to cancel")
	}

	now := s.now().UTC()
	sub.Active = false
	sub.CanceledAt = &now
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		s.log.WithContext(ctx).LogError(err, "Failed to cancel subscription")
		return nil, apperrors.NewStoreError("Failed to cancel subscription", err)
	}

	s.log.WithContext(ctx).Info("Subscription cancelled", "level", sub.Level)
	return s.details(sub), nil
}

// Details returns the caller's plan summary
func (s *Service) Details(ctx context.Context) (*Details, error) {
	sub, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.details(sub), nil
}

func (s *Service) details(sub *models.Subscription) *Details {
	state := s.effective(sub)
	return &Details{
		PlanName:  planNames[state.Level],
		Level:     state.Level,
		Active:    state.Level != LevelFree,
		ExpiresAt: sub.ExpiresAt,
		Features:  state.Features,
		Premium:   state.Level == LevelPremium || state.Level == LevelPremiumPlus,
	}
}

func (s *Service) effective(sub *models.Subscription) State {
	free := State{Level: LevelFree, Features: []Feature{}}
	level, ok := ParseLevel(sub.Level)
	if !ok || level == LevelFree || !sub.Active || sub.Expired(s.now()) {
		return free
	}

	features := make([]Feature, 0, len(sub.Features))
	for _, tag := range sub.Features {
		if f, ok := ParseFeature(tag); ok {
			features = append(features, f)
		}
	}
	return State{Level: level, ExpiresAt: sub.ExpiresAt, Features: features}
}

// load returns the caller's stored subscription, or an empty free one
func (s *Service) load(ctx context.Context) (*models.Subscription, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, apperrors.NewUnauthenticatedError("User not authenticated")
	}

	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.Subscription{Level: string(LevelFree)}, nil
		}
		return nil, apperrors.NewStoreError("Failed to load subscription", err)
	}
	return sub, nil
}
