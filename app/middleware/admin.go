package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// AdminMiddleware runs after AuthMiddleware and gates the management API on
// the profile role. Authenticated non-admins get a 403, not a 401.
func AdminMiddleware(c *fiber.Ctx) error {
	user := c.Locals("user").(CurrentUser)

	if !user.IsAdmin() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"error":   "admin access required",
		})
	}

	return c.Next()
}
