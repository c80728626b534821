package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/queue"
	"qtech-backend/internal/settings"
)

type errorMapping struct {
	status  int
	message string
}

var kindErrors = map[queue.Kind]errorMapping{
	queue.KindInvalidTransition:  {fiber.StatusConflict, "The queue entry is not in a state that allows this action. Refresh and try again."},
	queue.KindForbidden:          {fiber.StatusForbidden, "You do not have access to this resource"},
	queue.KindCapacityExceeded:   {fiber.StatusConflict, "This service queue is full"},
	queue.KindUserLimitExceeded:  {fiber.StatusConflict, "You already hold the maximum number of active queue entries"},
	queue.KindServiceInactive:    {fiber.StatusConflict, "This service is not accepting queue requests right now"},
	queue.KindNotFound:           {fiber.StatusNotFound, "Not found"},
	queue.KindStorageUnavailable: {fiber.StatusServiceUnavailable, "Service temporarily unavailable, please retry"},
	queue.KindNoneWaiting:        {fiber.StatusOK, "No one is waiting"},
}

// writeError renders err as {"success": false, "error": {code, message}}.
func writeError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": codeFor(fe.Code), "message": fe.Message},
		})
	}

	var ve *settings.ValidationError
	var fields validator.ValidationErrors
	if errors.As(err, &ve) || errors.As(err, &fields) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "validation_failed", "message": err.Error()},
		})
	}

	kind := queue.KindOf(err)
	m, known := kindErrors[kind]
	if !known {
		logging.Ctx(c.UserContext()).Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "internal", "message": "Internal server error"},
		})
	}

	body := fiber.Map{"code": kind, "message": m.message}
	var qe *queue.Error
	if errors.As(err, &qe) && qe.Entity != "" {
		body["entity"] = qe.Entity
		body["id"] = qe.ID
	}
	return c.Status(m.status).JSON(fiber.Map{"success": false, "error": body})
}

func codeFor(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusUpgradeRequired:
		return "upgrade_required"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	}
	return "error"
}

// ErrorHandler is the fiber error handler for the whole app.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return writeError(c, err)
}
