package handler

import (
	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/http/middleware"
)

// Logout is stateless: tokens expire on their own and clients drop them.
func (h *Handler) Logout(c *fiber.Ctx) error {
	h.log.Info().Int64("user_id", middleware.Principal(c).UserID).Msg("logout")
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out",
	})
}
