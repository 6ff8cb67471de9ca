package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/repository"
	apperrors "mindgarden/backend/pkg/errors"
	"mindgarden/backend/pkg/identity"
	"mindgarden/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *repository.MemorySubscriptionRepository, *time.Time) {
	repo := repository.NewMemorySubscriptionRepository()
	svc := NewService(repo, logger.Discard())
	now := base
	svc.now = func() time.Time { return now }
	return svc, repo, &now
}

func userCtx(userID string) context.Context {
	return identity.WithUserID(context.Background(), userID)
}

func TestFreeByDefault(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := userCtx("u1")

	state, err := svc.CheckLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, LevelFree, state.Level)
	assert.Empty(t, state.Features)
	assert.False(t, svc.HasFeatureAccess(ctx, FeatureAITherapy))
	assert.False(t, svc.IsPremium(ctx))

	details, err := svc.Details(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Free Plan", details.PlanName)
	assert.False(t, details.Premium)
}

func TestPurchasePremium(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := userCtx("u1")

	details, err := svc.Purchase(ctx, LevelPremium, 1)
	require.NoError(t, err)
	assert.Equal(t, "Premium Plan", details.PlanName)
	assert.True(t, details.Active)
	assert.True(t, details.Premium)
	assert.Equal(t, base.AddDate(0, 1, 0), *details.ExpiresAt)
	assert.Equal(t, []Feature{FeatureAITherapy, FeatureAdvancedAssessment}, details.Features)

	assert.True(t, svc.HasFeatureAccess(ctx, FeatureAITherapy))
	assert.False(t, svc.HasFeatureAccess(ctx, FeatureAITherapyPlus))
	assert.False(t, svc.HasFeatureAccess(ctx, FeatureCrisisProtocol))
}

func TestPremiumPlusHasEveryFeature(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := userCtx("u1")

	details, err := svc.Purchase(ctx, LevelPremiumPlus, 12)
	require.NoError(t, err)
	assert.Equal(t, "Premium+ Plan", details.PlanName)
	assert.Len(t, details.Features, 4)
	for _, f := range knownFeatures {
		assert.True(t, svc.HasFeatureAccess(ctx, f), f)
	}
}

func TestExpiredSubscriptionIsFree(t *testing.T) {
	svc, _, now := newTestService()
	ctx := userCtx("u1")

	_, err := svc.Purchase(ctx, LevelPremiumPlus, 1)
	require.NoError(t, err)

	*now = base.AddDate(0, 2, 0)
	state, err := svc.CheckLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, LevelFree, state.Level)
	assert.Empty(t, state.Features)
	assert.False(t, svc.HasFeatureAccess(ctx, FeatureAITherapyPlus))
}

func TestCancel(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := userCtx("u1")

	_, err := svc.Cancel(ctx)
	assert.True(t, apperrors.HasCode(err, "NO_ACTIVE_SUBSCRIPTION"))

	_, err = svc.Purchase(ctx, LevelPremium, 3)
	require.NoError(t, err)

	details, err := svc.Cancel(ctx)
	require.NoError(t, err)
	assert.False(t, details.Active)
	assert.Equal(t, "Free Plan", details.PlanName)
	assert.False(t, svc.HasFeatureAccess(ctx, FeatureAITherapy))
}

func TestPurchaseValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Purchase(context.Background(), LevelPremium, 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthenticated))

	_, err = svc.Purchase(userCtx("u1"), LevelFree, 1)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	_, err = svc.Purchase(userCtx("u1"), LevelPremium, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))
}

type brokenRepo struct {
	repository.SubscriptionRepository
}

func (brokenRepo) GetSubscription(context.Context, string) (*models.Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestStoreErrorDeniesAccess(t *testing.T) {
	svc := NewService(brokenRepo{}, logger.Discard())
	ctx := userCtx("u1")

	assert.False(t, svc.HasFeatureAccess(ctx, FeatureAITherapy))
	assert.False(t, svc.Allows(FeatureAITherapy)(ctx))

	_, err := svc.CheckLevel(ctx)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStoreFailure))
}

func TestSweeperDeactivatesExpired(t *testing.T) {
	svc, repo, now := newTestService()

	_, err := svc.Purchase(userCtx("u1"), LevelPremium, 1)
	require.NoError(t, err)
	_, err = svc.Purchase(userCtx("u2"), LevelPremium, 6)
	require.NoError(t, err)

	sweeper, err := NewSweeper(repo, "*/15 * * * *", logger.Discard())
	require.NoError(t, err)
	sweeper.now = func() time.Time { return base.AddDate(0, 2, 0) }

	changed, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, changed)

	stored, err := repo.GetSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, stored.Active)

	*now = base.AddDate(0, 2, 0)
	assert.True(t, svc.HasFeatureAccess(userCtx("u2"), FeatureAITherapy))
}

func TestSweeperRejectsBadCron(t *testing.T) {
	_, err := NewSweeper(repository.NewMemorySubscriptionRepository(), "not a cron", logger.Discard())
	assert.Error(t, err)
}

func TestParseHelpers(t *testing.T) {
	_, ok := ParseLevel("gold")
	assert.False(t, ok)
	f, ok := ParseFeature("crisis_protocol")
	assert.True(t, ok)
	assert.Equal(t, FeatureCrisisProtocol, f)
	_, ok = ParseFeature("teleport")
	assert.False(t, ok)
}
