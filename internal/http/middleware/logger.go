package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
)

// AccessLog writes one structured line per request and records its latency.
// It expects the requestid middleware to run first.
func AccessLog() fiber.Handler {
	log := logging.With("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqID, _ := c.Locals("requestid").(string)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), reqID))

		err := c.Next()
		if err != nil {
			// Let the error handler pick the status before it is recorded.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		elapsed := time.Since(start)
		route := c.Route().Path
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		ev := log.Info()
		if status >= fiber.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("request_id", reqID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", elapsed).
			Str("ip", c.IP()).
			Msg("request")
		return nil
	}
}
