package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"kalem/internal/services"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP) across all API endpoints
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Chatbot limits (per IP) - every chat turn costs a provider call
	ChatMax        int
	ChatExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec - generous for normal use
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		// Chat: 15/min - provider calls are the expensive resource
		ChatMax:        15,
		ChatExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_CHAT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ChatMax = n
		}
	}

	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed global rate limit")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// ChatRateLimiter limits chat turns per IP. When Redis is available it uses
// a shared fixed window so the limit holds across instances; otherwise it
// falls back to the in-memory limiter. Rejections emit a rate-limit
// analytics event; the rejected call never reaches the session store.
func ChatRateLimiter(config *RateLimitConfig, redisService *services.RedisService, analytics *services.AnalyticsService) fiber.Handler {
	if redisService == nil {
		return limiter.New(limiter.Config{
			Max:        config.ChatMax,
			Expiration: config.ChatExpiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return "chat:" + c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return chatLimitReached(c, config, analytics)
			},
		})
	}

	return func(c *fiber.Ctx) error {
		key := "ratelimit:chat:" + c.IP()
		_, exceeded, err := redisService.CheckRateLimit(c.Context(), key, int64(config.ChatMax), config.ChatExpiration)
		if err != nil {
			// Fail open: a Redis outage must not take the chatbot down
			log.Printf("⚠️  [RATE-LIMIT] Redis check failed, allowing request: %v", err)
			return c.Next()
		}
		if exceeded {
			return chatLimitReached(c, config, analytics)
		}
		return c.Next()
	}
}

func chatLimitReached(c *fiber.Ctx, config *RateLimitConfig, analytics *services.AnalyticsService) error {
	userID, _ := c.Locals("user_id").(string)
	log.Printf("🚫 [RATE-LIMIT] Chat limit reached for IP: %s (user: %s)", c.IP(), userID)

	if analytics != nil {
		analytics.RecordRateLimited(c.Context(), userID, c.IP())
	}

	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       "Too many chat requests. Please wait before sending more messages.",
		"retry_after": int(config.ChatExpiration.Seconds()),
	})
}
