package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"kalem/internal/models"
	"kalem/internal/services"
)

// ChatHandler handles chatbot HTTP requests
type ChatHandler struct {
	chatService *services.ChatService
	analytics   *services.AnalyticsService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *services.ChatService, analytics *services.AnalyticsService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		analytics:   analytics,
	}
}

// SendMessage handles one chat turn
// POST /api/chat
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No actor identity could be resolved",
		})
	}

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	reply, err := h.chatService.HandleMessage(c.Context(), actor, req.Message)
	if err != nil {
		return chatErrorResponse(c, err)
	}

	return c.JSON(models.ChatResponse{
		Success:   true,
		Reply:     reply.Reply,
		SessionID: reply.SessionID,
		Language:  reply.Language,
		UserType:  reply.UserType,
	})
}

// ClearHistory deletes the actor's conversation session
// DELETE /api/chat
func (h *ChatHandler) ClearHistory(c *fiber.Ctx) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No actor identity could be resolved",
		})
	}

	// Idempotent: clearing a non-existent session is still a success
	h.chatService.ClearHistory(actor.ID)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Chat history cleared",
	})
}

// GetAnalytics returns aggregated chat counters for a period
// GET /api/chat/analytics?days=N (admin only)
func (h *ChatHandler) GetAnalytics(c *fiber.Ctx) error {
	days := c.QueryInt("days", 7)
	if days < 1 || days > 365 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must be between 1 and 365",
		})
	}

	since := time.Now().AddDate(0, 0, -days)
	summary, err := h.analytics.Summary(c.Context(), since)
	if err != nil {
		if errors.Is(err, services.ErrAnalyticsDisabled) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Analytics storage is not configured",
			})
		}
		log.Printf("❌ Failed to aggregate chat analytics: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load analytics",
		})
	}

	return c.JSON(summary)
}

// actorFromContext reads the identity attached by the actor resolver
func actorFromContext(c *fiber.Ctx) (services.Actor, bool) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return services.Actor{}, false
	}
	userType, _ := c.Locals("user_type").(string)
	if userType == "" {
		userType = models.UserTypeGuest
	}
	return services.Actor{ID: userID, Type: userType}, true
}

// chatErrorResponse maps pipeline errors to HTTP statuses. Raw provider
// errors stay server-side; the client only ever sees the generic messages.
func chatErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message cannot be empty",
		})
	case errors.Is(err, services.ErrMessageTooLong):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is too long",
		})
	case errors.Is(err, services.ErrProviderQuota):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "The assistant is temporarily unavailable. Please try again later.",
		})
	case errors.Is(err, services.ErrProviderRateLimited):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "The assistant is busy right now. Please slow down and try again.",
		})
	case errors.Is(err, services.ErrProviderAuth):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "The assistant is not configured correctly.",
		})
	default:
		log.Printf("❌ [CHAT] Unclassified chat failure: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Something went wrong. Please try again.",
		})
	}
}
