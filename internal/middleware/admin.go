package middleware

import (
	"github.com/gofiber/fiber/v2"

	"kalem/internal/config"
	"kalem/internal/models"
)

// AdminMiddleware restricts a route to admin users: either the JWT role
// claim is "admin" or the user ID is in the configured admin list.
// Guests never pass.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("user_id").(string)
		if !ok || userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		if userType, _ := c.Locals("user_type").(string); userType != models.UserTypeAuthenticated {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		isAdmin := false
		if role, ok := c.Locals("user_role").(string); ok && role == "admin" {
			isAdmin = true
		}
		if !isAdmin {
			for _, adminID := range cfg.AdminUserIDs {
				if adminID == userID {
					isAdmin = true
					break
				}
			}
		}

		if !isAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		c.Locals("is_admin", true)
		return c.Next()
	}
}
