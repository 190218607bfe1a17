package middleware

import (
	"strings"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/pdfconvert/convertd/internal/db/models"
	"github.com/pdfconvert/convertd/internal/services"
)

// UserContextKey is the fiber.Ctx locals key holding the authenticated user.
const UserContextKey = "auth_user"

// APIKeyAuth returns a middleware that resolves the caller's API key to an
// active account. The key is accepted as an X-API-Key header, a bearer token
// or an api_key query parameter (the latter for websocket clients that cannot
// set headers).
func APIKeyAuth(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := extractAPIKey(c)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "an API key is required",
			})
		}
		user, err := users.Authenticate(c.Context(), key)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid API key",
			})
		}
		c.Locals(UserContextKey, user)
		return c.Next()
	}
}

// RequireAdmin returns a middleware that rejects non-admin callers. It must
// run after APIKeyAuth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil || !user.IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin access required",
			})
		}
		return c.Next()
	}
}

// CurrentUser returns the authenticated user stored by APIKeyAuth, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(UserContextKey).(*models.User)
	return user
}

func extractAPIKey(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return c.Query("api_key")
}
