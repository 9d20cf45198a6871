package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"userdesk/app/config"
	"userdesk/app/database"
	"userdesk/app/platform/identity"
	"userdesk/app/platform/profile"
)

const (
	AuthProviderJWT     = "jwt"
	AuthProviderSession = "session"
)

// CurrentUser is the per-request view model: the identity account joined
// with the application profile row. The join happens here once so handlers
// never reach across the two stores themselves.
type CurrentUser struct {
	Account database.Account
	Profile database.UserInfo
}

func (u *CurrentUser) IsAdmin() bool {
	return u.Profile.Role == database.RoleAdmin
}

// AuthMiddleware resolves the caller from a Bearer access token, falling
// back to the session cookie for browser navigation.
func AuthMiddleware(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	authHeader := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := identityService.VerifyAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Unauthorized",
			})
		}

		user, err := loadCurrentUser(c, claims.AccountID)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Unauthorized",
			})
		}

		c.Locals("auth_provider", AuthProviderJWT)
		c.Locals("user", *user)

		return c.Next()
	}

	accountID, ok := sessionAccountID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Unauthorized",
		})
	}

	user, err := loadCurrentUser(c, accountID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Unauthorized",
		})
	}

	c.Locals("auth_provider", AuthProviderSession)
	c.Locals("user", *user)

	return c.Next()
}

// loadCurrentUser joins both stores. The profile row is created lazily so an
// account invited through the identity store is usable on first request.
func loadCurrentUser(c *fiber.Ctx, accountID uuid.UUID) (*CurrentUser, error) {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)
	profileService := profile.NewService(db)

	account, err := identityService.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	info, err := profileService.Ensure(account.ID, account.Email)
	if err != nil {
		return nil, err
	}

	return &CurrentUser{Account: *account, Profile: *info}, nil
}

func sessionAccountID(c *fiber.Ctx) (uuid.UUID, bool) {
	store, ok := c.Locals("store").(*session.Store)
	if !ok {
		return uuid.Nil, false
	}

	sess, err := store.Get(c)
	if err != nil {
		return uuid.Nil, false
	}

	if sess.Get("authenticated") == nil {
		return uuid.Nil, false
	}

	raw, _ := sess.Get("account_id").(string)
	accountID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return accountID, true
}
