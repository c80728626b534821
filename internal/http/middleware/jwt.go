package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"qtech-backend/internal/config"
	"qtech-backend/internal/models"
)

// TokenValidator is satisfied by *config.TokenIssuer.
type TokenValidator interface {
	ValidateToken(token string) (*config.JWTClaims, error)
}

const (
	localUserID = "user_id"
	localEmail  = "email"
	localRole   = "role"

	// LocalPrincipal holds the models.Principal of the caller. It survives
	// the websocket upgrade through (*websocket.Conn).Locals.
	LocalPrincipal = "principal"
)

// JWTAuth accepts a bearer token, or a token query parameter for websocket
// upgrades where browsers cannot set headers.
func JWTAuth(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return unauthorized(c, "Invalid authorization format")
			}
			token = tokenParts[1]
		}
		if token == "" {
			return unauthorized(c, "Missing authorization header")
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(localUserID, claims.UserID)
		c.Locals(localEmail, claims.Email)
		c.Locals(localRole, claims.Role)
		c.Locals(LocalPrincipal, claims.Principal())

		return c.Next()
	}
}

func RoleAuth(allowedRoles ...models.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(localRole).(models.Role)

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   fiber.Map{"code": "forbidden", "message": "You do not have access to this resource"},
		})
	}
}

// Principal returns the authenticated caller set by JWTAuth.
func Principal(c *fiber.Ctx) models.Principal {
	p, _ := c.Locals(LocalPrincipal).(models.Principal)
	return p
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   fiber.Map{"code": "unauthorized", "message": msg},
	})
}
