package service

import (
	"context"
	"testing"
	"time"

	"mindgarden/backend/internal/models"
	"mindgarden/backend/internal/repository"
	"mindgarden/backend/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserServiceSignupAndLogin(t *testing.T) {
	tokens := jwt.NewService("secret", time.Hour)
	svc := NewUserService(repository.NewMemoryUserRepository(), tokens)
	ctx := context.Background()

	user, token, err := svc.CreateUser(ctx, &models.CreateUserRequest{Name: "Ada", Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "password123", user.Password)

	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, _, err = svc.CreateUser(ctx, &models.CreateUserRequest{Name: "Ada", Email: "ada@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	logged, token, err := svc.Login(ctx, &models.LoginRequest{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.False(t, logged.LastLogin.IsZero())
	assert.NotEmpty(t, token)

	_, _, err = svc.Login(ctx, &models.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, &models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
