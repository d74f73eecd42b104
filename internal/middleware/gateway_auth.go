package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/elecmate/api/pkg/response"
)

// Identity headers set by the fronting gateway after it verified the caller
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
)

// GatewayAuthMiddleware trusts the gateway's identity headers instead of
// verifying a token itself. Only mount it behind a gateway that strips
// these headers from client requests.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(HeaderUserID)
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, userID, c.Get(HeaderUserEmail))
		return c.Next()
	}
}

// setIdentity exposes the caller to handlers via GetUserID and GetUserEmail
func setIdentity(c *fiber.Ctx, userID, email string) {
	c.Locals(localsUserID, userID)
	c.Locals(localsEmail, email)
}
