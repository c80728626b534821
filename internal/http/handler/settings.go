package handler

import (
	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/http/middleware"
)

func (h *Handler) GetSettings(c *fiber.Ctx) error {
	s, err := h.Settings.Current(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, s)
}

func (h *Handler) UpdateSettings(c *fiber.Ctx) error {
	next, err := h.Settings.Current(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	// Fields missing from the body keep their current value.
	if err := c.BodyParser(&next); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	saved, err := h.Settings.Update(c.UserContext(), next)
	if err != nil {
		return writeError(c, err)
	}
	h.log.Info().Int64("admin_id", middleware.Principal(c).UserID).Msg("system settings changed")
	return ok(c, saved)
}
