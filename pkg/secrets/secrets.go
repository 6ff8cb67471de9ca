package secrets

import (
	"context"
	"errors"

	"mindgarden/backend/pkg/config"
	"mindgarden/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Secret keys read from the secrets path
const (
	KeyJWTSecret        = "jwt_secret"
	KeyDBPassword       = "db_password"
	KeyGeminiAPIKey     = "gemini_api_key"
	KeyOpenAIAPIKey     = "openai_api_key"
	KeyDeepgramAPIKey   = "deepgram_api_key"
	KeyElevenLabsAPIKey = "elevenlabs_api_key"
	KeyRedisPassword    = "redis_password"
)

// ApplyTo overrides the credentials in cfg with values held by m. Keys the
// manager does not know keep their configured value.
func ApplyTo(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) error {
	targets := map[string]*string{
		KeyJWTSecret:        &cfg.JWT.Secret,
		KeyDBPassword:       &cfg.Database.Password,
		KeyGeminiAPIKey:     &cfg.AI.GeminiAPIKey,
		KeyOpenAIAPIKey:     &cfg.AI.OpenAIAPIKey,
		KeyDeepgramAPIKey:   &cfg.Speech.DeepgramAPIKey,
		KeyElevenLabsAPIKey: &cfg.Speech.ElevenLabsAPIKey,
		KeyRedisPassword:    &cfg.Cache.RedisPassword,
	}

	applied := 0
	for key, target := range targets {
		value, err := m.GetSecret(ctx, key)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				continue
			}
			return err
		}
		*target = value
		applied++
	}

	log.Info("Secrets applied", "count", applied)
	return nil
}

// Error represents a secrets management error
type Error string

// Error implements the error interface
func (e Error) Error() string {
	return string(e)
}
