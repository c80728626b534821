package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/http/middleware"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

func (h *Handler) MyCounters(c *fiber.Ctx) error {
	views, err := h.Counters.MyCounters(c.UserContext(), middleware.Principal(c))
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, views)
}

func (h *Handler) CounterDetail(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.Counters.Detail(c.UserContext(), middleware.Principal(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, view)
}

type counterStatusBody struct {
	Status models.CounterStatus `json:"status" validate:"required,oneof=open closed break"`
}

func (h *Handler) SetCounterStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req counterStatusBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "status must be open, closed or break")
	}
	ct, err := h.Counters.SetStatus(c.UserContext(), middleware.Principal(c), id, req.Status)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, ct)
}

// CallNext answers an empty queue with success and no entry.
func (h *Handler) CallNext(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	entry, err := h.Counters.CallNext(c.UserContext(), middleware.Principal(c), id)
	if errors.Is(err, queue.ErrNoneWaiting) {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    nil,
			"message": kindErrors[queue.KindNoneWaiting].message,
		})
	}
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, fiber.Map{
		"queueId":     entry.ID,
		"queueNumber": entry.QueueNumber,
		"entry":       entry,
	})
}

func (h *Handler) StartServing(c *fiber.Ctx) error {
	return h.counterAction(c, h.Counters.StartServing)
}

func (h *Handler) Complete(c *fiber.Ctx) error {
	return h.counterAction(c, h.Counters.Complete)
}

func (h *Handler) Skip(c *fiber.Ctx) error {
	return h.counterAction(c, h.Counters.Skip)
}

type counterActionFunc func(ctx context.Context, p models.Principal, counterID, queueID int64) (models.QueueEntry, error)

func (h *Handler) counterAction(c *fiber.Ctx, action counterActionFunc) error {
	counterID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	queueID, err := paramID(c, "queueId")
	if err != nil {
		return err
	}
	entry, err := action(c.UserContext(), middleware.Principal(c), counterID, queueID)
	if err != nil {
		return writeError(c, err)
	}
	return ok(c, entry)
}
