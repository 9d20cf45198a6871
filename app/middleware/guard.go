package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	loginPath     = "/login"
	dashboardPath = "/dashboard"
	adminPrefix   = "/admin"
)

// resetPaths always pass the guard so a user without a session can still
// finish a password recovery.
var resetPaths = []string{
	"/reset-password",
	"/update-password",
}

// GuardMiddleware gates page navigation on session presence and role. Rules
// run in order and the first match decides; the guard holds no state beyond
// what the session cookie encodes.
func GuardMiddleware(c *fiber.Ctx) error {
	path := c.Path()

	for _, p := range resetPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return c.Next()
		}
	}

	// An invitation callback lands with a type marker in the query; hand it
	// to the login page so the client can finish the invitation handshake.
	if c.Query("type") == "invite" && path != loginPath {
		query := string(c.Request().URI().QueryString())
		return c.Redirect(loginPath + "?" + query)
	}

	accountID, authenticated := sessionAccountID(c)

	if !authenticated {
		if path == loginPath {
			return c.Next()
		}
		return c.Redirect(loginPath)
	}

	if path == loginPath {
		return c.Redirect(dashboardPath)
	}

	if path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/") {
		user, err := loadCurrentUser(c, accountID)
		if err != nil || !user.IsAdmin() {
			return c.Redirect(dashboardPath)
		}
		c.Locals("user", *user)
	}

	return c.Next()
}
