package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/storyreel/jobsync/internal/config"
)

// BearerAuth checks the Authorization header against the configured token.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted as well.
func BearerAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := cfg.Auth.Token
		if token == "" {
			return c.Next()
		}

		headerToken := ""
		auth := c.Get(fiber.HeaderAuthorization)
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			headerToken = auth[len(prefix):]
		}
		if headerToken == "" {
			headerToken = c.Query("token")
		}

		if headerToken != token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		return c.Next()
	}
}
