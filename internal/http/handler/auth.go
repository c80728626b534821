package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

func (h *Handler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Email and password are required")
	}

	user, err := h.Users.FindUserByEmail(c.UserContext(), req.Email)
	if errors.Is(err, queue.ErrNotFound) {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	}
	if err != nil {
		return err
	}

	if !user.IsActive {
		return fiber.NewError(fiber.StatusForbidden, "Account is disabled")
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	}

	token, err := h.Tokens.GenerateToken(user)
	if err != nil {
		return err
	}

	h.log.Info().Int64("user_id", user.ID).Str("role", string(user.Role)).Msg("login")
	return ok(c, models.LoginResponse{
		Token: token,
		User:  models.ToUserResponse(user),
	})
}
