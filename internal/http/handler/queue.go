package handler

import (
	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/http/middleware"
)

type requestQueueBody struct {
	ServiceID int64 `json:"serviceId" validate:"required,min=1"`
}

// RequestQueue takes a number for the caller in the given service.
func (h *Handler) RequestQueue(c *fiber.Ctx) error {
	var req requestQueueBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "serviceId is required")
	}

	p := middleware.Principal(c)
	ticket, err := h.Engine.RequestQueue(c.UserContext(), p.UserID, req.ServiceID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"queueId":              ticket.QueueID,
			"queueNumber":          ticket.QueueNumber,
			"position":             ticket.Position,
			"estimatedWaitMinutes": ticket.EstimatedWaitMinutes,
			"entry":                ticket.Entry,
		},
	})
}

func (h *Handler) GetQueue(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.Engine.QueueStatus(c.UserContext(), middleware.Principal(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, view)
}

func (h *Handler) CancelQueue(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	entry, err := h.Engine.CancelQueue(c.UserContext(), id, middleware.Principal(c).UserID)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, entry)
}

func (h *Handler) History(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	entries, total, err := h.Engine.History(c.UserContext(), middleware.Principal(c).UserID, page, limit)
	if err != nil {
		return writeError(c, err)
	}
	if page < 1 {
		page = 1
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// ServiceStatus is the live snapshot of one service queue.
func (h *Handler) ServiceStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "serviceId")
	if err != nil {
		return err
	}
	snap, err := h.Engine.ServiceSnapshot(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, snap)
}

func (h *Handler) ListServices(c *fiber.Ctx) error {
	services, err := h.Store.ListServices(c.UserContext(), true)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, services)
}
