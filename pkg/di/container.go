package di

import (
	"context"
	"fmt"
	"time"

	"mindgarden/backend/ai"
	"mindgarden/backend/internal/assessment"
	"mindgarden/backend/internal/garden"
	"mindgarden/backend/internal/repository"
	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/subscription"
	"mindgarden/backend/pkg/config"
	"mindgarden/backend/pkg/health"
	"mindgarden/backend/pkg/jwt"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/pkg/resilience"
	"mindgarden/backend/pkg/secrets"
	"mindgarden/backend/pkg/validator"
	"mindgarden/backend/shared/observability"
	"mindgarden/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	DB         *gorm.DB
	Logger     *logger.Logger
	Metrics    *observability.Metrics
	JWTService *jwt.Service
	Redis      *redis.RedisClient

	Conversations repository.ConversationRepository
	Subscriptions repository.SubscriptionRepository
	Users         repository.UserRepository

	Breaker             *resilience.CircuitBreaker
	UserService         *service.UserService
	ConversationService *service.ConversationService
	DialogueService     *service.DialogueService
	TherapyService      *service.TherapyService
	VoiceService        *service.VoiceService
	AudioService        *service.AudioService
	AssessmentService   *assessment.Service
	Garden              *garden.Projector
	Subscription        *subscription.Service
	Sweeper             *subscription.Sweeper
	Health              *health.Checker
	Validator           *validator.OpenAPIValidator
}

// Dependencies lets callers replace the outbound clients. Nil fields are
// built from the configuration.
type Dependencies struct {
	DB          *gorm.DB
	Generator   ai.Generator
	Transcriber ai.Transcriber
	Synthesizer ai.Synthesizer
	Audio       *service.AudioService
}

// New creates a new dependency injection container
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, deps Dependencies) (*Container, error) {
	if cfg.Vault.Enabled {
		manager, err := secrets.NewVaultManager(secrets.ConfigFromApp(cfg), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create secrets manager: %w", err)
		}
		err = secrets.ApplyTo(ctx, manager, cfg, log)
		manager.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	}

	c := &Container{
		Config:     cfg,
		Logger:     log,
		Metrics:    observability.NewMetrics(),
		JWTService: jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry),
		Health:     health.NewChecker(log, 30*time.Second),
	}

	if err := c.initStores(deps.DB); err != nil {
		return nil, err
	}

	if cfg.Cache.RedisEnabled {
		c.Redis = redis.NewRedisClient(cfg.Cache.RedisURL, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		c.Health.RegisterRedisCheck(c.Redis.Ping)
	}

	generator := deps.Generator
	if generator == nil {
		generator = newGenerator(cfg)
	}
	transcriber := deps.Transcriber
	if transcriber == nil {
		transcriber = ai.NewDeepgramTranscriber(cfg.Speech.DeepgramAPIKey, cfg.Speech.DeepgramURL, cfg.AI.Timeout)
	}
	synthesizer := deps.Synthesizer
	if synthesizer == nil {
		synthesizer = ai.NewElevenLabsSynthesizer(cfg.Speech.ElevenLabsAPIKey, cfg.Speech.ElevenLabsURL, cfg.Speech.ElevenLabsVoice, cfg.AI.Timeout)
	}
	c.AudioService = deps.Audio
	if c.AudioService == nil {
		audio, err := service.NewAudioService(service.AudioServiceConfig{
			Dir:      cfg.Speech.AudioDir,
			MaxBytes: cfg.Security.MaxBodySize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audio store: %w", err)
		}
		c.AudioService = audio
	}

	breakerConfig := resilience.DefaultCircuitBreakerConfig("generation")
	breakerConfig.Timeout = cfg.AI.Timeout
	c.Breaker = resilience.NewCircuitBreaker(breakerConfig, log)
	c.Health.RegisterCircuitCheck("generation", c.Breaker)

	c.UserService = service.NewUserService(c.Users, c.JWTService)
	c.ConversationService = service.NewConversationService(c.Conversations, log)
	c.DialogueService = service.NewDialogueService(c.ConversationService, generator, c.Breaker, c.Metrics, cfg.AI.HistoryWindow, log)
	c.TherapyService = service.NewTherapyService(c.ConversationService, c.DialogueService, log)
	c.VoiceService = service.NewVoiceService(
		c.TherapyService,
		transcriber,
		synthesizer,
		c.AudioService,
		service.NewPlaybackRegistry(),
		c.Metrics,
		log,
	)

	c.Subscription = subscription.NewService(c.Subscriptions, log)
	sweeper, err := subscription.NewSweeper(c.Subscriptions, cfg.Subscription.SweepCron, log)
	if err != nil {
		return nil, err
	}
	c.Sweeper = sweeper

	// A nil *RedisClient must not reach the interface.
	var store garden.Store
	if c.Redis != nil {
		store = c.Redis
	}
	c.Garden = garden.NewProjector(c.ConversationService, c.Subscription, store, garden.Config{
		Width:     cfg.Garden.Width,
		PlantSize: cfg.Garden.PlantSize,
		CacheTTL:  cfg.Garden.CacheTTL,
	}, log)
	c.ConversationService.Observe(c.Garden)
	c.ConversationService.Observe(c.VoiceService)

	c.AssessmentService = assessment.NewService(c.ConversationService, c.Garden, c.Metrics, assessment.Config{
		PromptDelay: cfg.Assessment.PromptDelay,
		SessionTTL:  cfg.Assessment.SessionTTL,
		MaxSessions: cfg.Cache.MaxSize,
	}, log)

	v, err := validator.NewOpenAPIValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	c.Validator = v

	return c, nil
}

func (c *Container) initStores(db *gorm.DB) error {
	if db == nil && c.Config.Database.Driver == "memory" {
		c.Logger.Warn("Using in-memory stores, data is lost on restart")
		c.Conversations = repository.NewMemoryConversationRepository()
		c.Subscriptions = repository.NewMemorySubscriptionRepository()
		c.Users = repository.NewMemoryUserRepository()
		return nil
	}

	if db == nil {
		var err error
		db, err = config.NewDB(c.Config, c.Logger)
		if err != nil {
			return err
		}
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	c.DB = db
	c.Conversations = repository.NewGormConversationRepository(db)
	c.Subscriptions = repository.NewGormSubscriptionRepository(db)
	c.Users = repository.NewGormUserRepository(db)

	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	return nil
}

func newGenerator(cfg *config.Config) ai.Generator {
	if cfg.AI.Provider == "openai" {
		return ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:   cfg.AI.OpenAIAPIKey,
			BaseURL:  cfg.AI.OpenAIBaseURL,
			Model:    cfg.AI.OpenAIModel,
			Timeout:  cfg.AI.Timeout,
			Moderate: cfg.AI.OpenAIModerate,
		})
	}
	return ai.NewGeminiClient(ai.GeminiConfig{
		APIKey:     cfg.AI.GeminiAPIKey,
		Model:      cfg.AI.GeminiModel,
		BaseURL:    cfg.AI.GeminiBaseURL,
		APIVersion: cfg.AI.GeminiVersion,
		Timeout:    cfg.AI.Timeout,
	})
}

// Start launches the background jobs: health checks and the expiry sweeper
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)
	c.Sweeper.Start(ctx)
}

// Close releases the caches and connections
func (c *Container) Close() {
	c.AssessmentService.Close()
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close redis client")
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
