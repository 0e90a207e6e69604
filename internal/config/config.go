package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port           string
	Environment    string
	MongoURI       string
	RedisURL       string
	AllowedOrigins string

	// Completion provider (OpenAI-compatible)
	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderModel   string
	ProviderTimeout time.Duration

	// Chat session settings
	ChatMaxMessageLen int           // longest accepted user message, in characters
	ChatHistoryCap    int           // messages retained per session
	ChatIdleTTL       time.Duration // idle time before a session is swept
	ChatSweepInterval time.Duration
	DefaultLanguage   string

	// Auth
	JWTSecret    string
	AdminUserIDs []string // user IDs with access to the analytics endpoint
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	// Parse admin user IDs (comma-separated)
	adminEnv := getEnv("ADMIN_USER_IDS", "")
	var adminUserIDs []string
	if adminEnv != "" {
		adminUserIDs = strings.Split(adminEnv, ",")
		for i := range adminUserIDs {
			adminUserIDs[i] = strings.TrimSpace(adminUserIDs[i])
		}
	}

	return &Config{
		Port:           getEnv("PORT", "3001"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		MongoURI:       getEnv("MONGODB_URI", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
		ProviderModel:   getEnv("PROVIDER_MODEL", "gpt-4o-mini"),
		ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT", 60*time.Second),

		ChatMaxMessageLen: getIntEnv("CHAT_MAX_MESSAGE_LEN", 500),
		ChatHistoryCap:    getIntEnv("CHAT_HISTORY_CAP", 20),
		ChatIdleTTL:       getDurationEnv("CHAT_IDLE_TTL", 1*time.Hour),
		ChatSweepInterval: getDurationEnv("CHAT_SWEEP_INTERVAL", 30*time.Minute),
		DefaultLanguage:   getEnv("CHAT_DEFAULT_LANGUAGE", "en"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		AdminUserIDs: adminUserIDs,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
