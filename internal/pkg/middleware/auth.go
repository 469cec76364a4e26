package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/StyleLoft/StyleLoft/internal/pkg/usercontext"
)

func isLoggedIn(c *fiber.Ctx) bool {
	if b, ok := c.Locals(usercontext.KeyFromProtected).(bool); ok {
		return b
	}
	return false
}

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !isLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdminAPI ensures a logged-in admin for API routes and returns JSON 401/403.
func RequireAdminAPI(c *fiber.Ctx) error {
	if !isLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if isAdmin, ok := c.Locals(usercontext.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
