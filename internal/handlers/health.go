package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"kalem/internal/database"
	"kalem/internal/services"
)

// HealthHandler reports process liveness and collaborator status
type HealthHandler struct {
	sessions *services.SessionStore
	mongoDB  *database.MongoDB
	redis    *services.RedisService
}

// NewHealthHandler creates a new health handler. mongoDB and redis may be nil.
func NewHealthHandler(sessions *services.SessionStore, mongoDB *database.MongoDB, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{
		sessions: sessions,
		mongoDB:  mongoDB,
		redis:    redis,
	}
}

// Handle responds to GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	mongoStatus := "disabled"
	if h.mongoDB != nil {
		mongoStatus = "healthy"
		if err := h.mongoDB.Ping(c.Context()); err != nil {
			mongoStatus = "unreachable"
		}
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "healthy"
		if err := h.redis.Ping(c.Context()); err != nil {
			redisStatus = "unreachable"
		}
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"sessions":  h.sessions.Len(),
		"mongodb":   mongoStatus,
		"redis":     redisStatus,
		"timestamp": time.Now().UTC(),
	})
}
