// Package handler binds the queue core to HTTP and websocket routes.
package handler

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"qtech-backend/internal/config"
	"qtech-backend/internal/counter"
	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
	"qtech-backend/internal/realtime"
	"qtech-backend/internal/settings"
)

// UserFinder looks up login accounts.
type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
}

type Deps struct {
	Engine   *queue.Engine
	Counters *counter.Coordinator
	Store    queue.Store
	Settings *settings.Service
	Users    UserFinder
	Tokens   *config.TokenIssuer
	Hub      *realtime.Hub
	Display  *realtime.DisplayFeed
	// Base bounds the lifetime of websocket sessions.
	Base context.Context
}

type Handler struct {
	Deps
	validate *validator.Validate
	log      zerolog.Logger
}

func New(d Deps) *Handler {
	if d.Base == nil {
		d.Base = context.Background()
	}
	return &Handler{Deps: d, validate: validator.New(), log: logging.With("handler")}
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}
