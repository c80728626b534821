package handler

import (
	"github.com/gofiber/fiber/v2"
)

// DisplayBoard is the public aggregate for screens that poll instead of
// subscribing. serviceId narrows it to one service.
func (h *Handler) DisplayBoard(c *fiber.Ctx) error {
	serviceID := int64(c.QueryInt("serviceId", 0))
	if serviceID < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid serviceId")
	}
	board, err := h.Engine.Display(c.UserContext(), serviceID)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, board)
}
