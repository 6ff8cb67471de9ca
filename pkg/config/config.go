package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port        string
		Env         string
		Timeout     time.Duration
		BaseURL     string
		GRPCPort    string
		MetricsPort string
		Version     string
	}

	// Database configuration
	Database struct {
		// Driver is "postgres" or "memory"
		Driver   string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
		Retries  int
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Text generation
	AI struct {
		Provider       string
		GeminiAPIKey   string
		GeminiModel    string
		GeminiBaseURL  string
		GeminiVersion  string
		OpenAIAPIKey   string
		OpenAIBaseURL  string
		OpenAIModel    string
		OpenAIModerate bool
		Timeout        time.Duration
		HistoryWindow  int
	}

	// Speech-to-text and text-to-speech
	Speech struct {
		DeepgramAPIKey   string
		DeepgramURL      string
		ElevenLabsAPIKey string
		ElevenLabsURL    string
		ElevenLabsVoice  string
		AudioDir         string
	}

	Assessment struct {
		PromptDelay time.Duration
		SessionTTL  time.Duration
	}

	Garden struct {
		Width     float64
		PlantSize float64
		CacheTTL  time.Duration
	}

	Subscription struct {
		SweepCron string
	}

	// Cache settings
	Cache struct {
		Enabled       bool
		TTL           time.Duration
		MaxSize       int
		PurgeWindow   time.Duration
		RedisEnabled  bool
		RedisURL      string
		RedisPassword string
		RedisDB       int
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()

		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9091")
	cfg.Server.MetricsPort = getEnvString("METRICS_PORT", "2112")
	cfg.Server.Version = getEnvString("APP_VERSION", "dev")

	// Database config
	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "mindgarden")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.Database.Retries = getEnvInt("DB_RETRIES", 5)

	// JWT config
	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	// Security config
	cfg.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20) // 10MB

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Generation
	cfg.AI.Provider = getEnvString("AI_PROVIDER", "gemini")
	cfg.AI.GeminiAPIKey = getEnvString("GEMINI_API_KEY", "")
	cfg.AI.GeminiModel = getEnvString("GEMINI_MODEL", "gemini-1.5-flash-001-tuning")
	cfg.AI.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/")
	cfg.AI.GeminiVersion = getEnvString("GEMINI_API_VERSION", "v1beta")
	cfg.AI.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.AI.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.AI.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.AI.OpenAIModerate = getEnvBool("OPENAI_MODERATION", true)
	cfg.AI.Timeout = getEnvDuration("AI_TIMEOUT", 30*time.Second)
	cfg.AI.HistoryWindow = getEnvInt("AI_HISTORY_WINDOW", 10)

	// Speech
	cfg.Speech.DeepgramAPIKey = getEnvString("DEEPGRAM_API_KEY", "")
	cfg.Speech.DeepgramURL = getEnvString("DEEPGRAM_URL", "https://api.deepgram.com/v1/listen")
	cfg.Speech.ElevenLabsAPIKey = getEnvString("ELEVENLABS_API_KEY", "")
	cfg.Speech.ElevenLabsURL = getEnvString("ELEVENLABS_URL", "https://api.elevenlabs.io/v1/text-to-speech")
	cfg.Speech.ElevenLabsVoice = getEnvString("ELEVENLABS_VOICE", "21m00Tcm4TlvDq8ikWAM")
	cfg.Speech.AudioDir = getEnvString("AUDIO_DIR", "./uploads/audio")

	// Assessment
	cfg.Assessment.PromptDelay = getEnvDuration("ASSESSMENT_PROMPT_DELAY", time.Second)
	cfg.Assessment.SessionTTL = getEnvDuration("ASSESSMENT_SESSION_TTL", time.Hour)

	// Garden
	cfg.Garden.Width = getEnvFloat("GARDEN_WIDTH", 390)
	cfg.Garden.PlantSize = getEnvFloat("GARDEN_PLANT_SIZE", 120)
	cfg.Garden.CacheTTL = getEnvDuration("GARDEN_CACHE_TTL", 30*time.Second)

	// Subscription
	cfg.Subscription.SweepCron = getEnvString("SUBSCRIPTION_SWEEP_CRON", "*/15 * * * *")

	// Cache settings
	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)
	cfg.Cache.RedisEnabled = getEnvBool("REDIS_ENABLED", false)
	cfg.Cache.RedisURL = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Cache.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", 0)

	// Vault
	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "mindgarden")

	return cfg
}

// IsProduction reports whether the service runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
