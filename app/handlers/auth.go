package handlers

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"userdesk/app/config"
	"userdesk/app/logger"
	"userdesk/app/mail"
	"userdesk/app/middleware"
	"userdesk/app/platform/identity"
	"userdesk/app/platform/profile"
)

// totpCodePattern is a shape check only; whether the code is correct is
// decided by the verify call against the factor secret.
var totpCodePattern = regexp.MustCompile(`^\d{6}$`)

func saveSession(c *fiber.Ctx, accountID uuid.UUID) error {
	store, ok := c.Locals("store").(*session.Store)
	if !ok {
		return nil
	}

	sess, err := store.Get(c)
	if err != nil {
		return err
	}

	sess.Set("authenticated", true)
	sess.Set("account_id", accountID.String())
	return sess.Save()
}

// finishLogin runs the profile side of a completed sign-in: ensure the row
// exists, capture the first-login flag before touching it, record activity.
func finishLogin(c *fiber.Ctx, accountID uuid.UUID, email string) (bool, error) {
	db := c.Locals("db").(*gorm.DB)
	profileService := profile.NewService(db)

	info, err := profileService.Ensure(accountID, email)
	if err != nil {
		return false, err
	}

	firstLogin := profileService.IsFirstTimeLogin(info)

	if err := profileService.TouchLastLogin(accountID); err != nil {
		return false, err
	}
	return firstLogin, nil
}

func SigninWithPassword(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type LoginInput struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	var input LoginInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	result, err := identityService.SignIn(input.Email, input.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid credentials"})
		case errors.Is(err, identity.ErrAccountLocked):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "account_locked"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
		}
	}

	if result.MFARequired {
		return c.JSON(fiber.Map{
			"mfa_required": true,
			"ticket":       result.Ticket,
			"factors":      result.Factors,
		})
	}

	firstLogin, err := finishLogin(c, result.AccountID, input.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	if err := saveSession(c, result.AccountID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	return c.JSON(fiber.Map{
		"mfa_required": false,
		"first_login":  firstLogin,
		"token":        result.Token,
	})
}

// CreateMFAChallenge opens a verification window against a factor during the
// MFA half of sign-in. The login ticket from the password step is required
// and scopes which factors may be challenged.
func CreateMFAChallenge(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type ChallengeInput struct {
		Ticket   string `json:"ticket" validate:"required"`
		FactorID string `json:"factor_id" validate:"required,uuid"`
	}

	var input ChallengeInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	factorID, err := uuid.Parse(input.FactorID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid factor ID"})
	}

	ticket, err := identityService.ResolveLoginTicket(input.Ticket)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrTicketInvalid), errors.Is(err, identity.ErrTicketExpired):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid credentials"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
		}
	}

	challenge, err := identityService.CreateChallenge(ticket.AccountID, factorID)
	if err != nil {
		if errors.Is(err, identity.ErrFactorNotFound) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Factor not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	return c.JSON(fiber.Map{
		"id":         challenge.ID,
		"expires_at": challenge.ExpiredAt,
	})
}

// VerifyMFASignin finishes a sign-in that required a second factor.
func VerifyMFASignin(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type VerifyInput struct {
		Ticket      string `json:"ticket" validate:"required"`
		FactorID    string `json:"factor_id" validate:"required,uuid"`
		ChallengeID string `json:"challenge_id" validate:"required,uuid"`
		Code        string `json:"code" validate:"required"`
	}

	var input VerifyInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	if !totpCodePattern.MatchString(input.Code) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Code must be 6 digits"})
	}

	factorID, err := uuid.Parse(input.FactorID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid factor ID"})
	}
	challengeID, err := uuid.Parse(input.ChallengeID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid challenge ID"})
	}

	result, err := identityService.ConfirmSignInMFA(input.Ticket, factorID, challengeID, input.Code)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrCodeInvalid), errors.Is(err, identity.ErrCodeReplayed):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid code"})
		case errors.Is(err, identity.ErrTicketInvalid), errors.Is(err, identity.ErrTicketExpired),
			errors.Is(err, identity.ErrChallengeInvalid), errors.Is(err, identity.ErrChallengeExpired),
			errors.Is(err, identity.ErrFactorNotFound):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid credentials"})
		case errors.Is(err, identity.ErrMFAAttemptsExceeded):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "too_many_attempts"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
		}
	}

	account, err := identityService.GetAccount(result.AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	firstLogin, err := finishLogin(c, account.ID, account.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	if err := saveSession(c, account.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	return c.JSON(fiber.Map{
		"mfa_required": false,
		"first_login":  firstLogin,
		"token":        result.Token,
	})
}

func RefreshToken(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type RefreshInput struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	var input RefreshInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	token, err := identityService.Refresh(input.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrRefreshInvalid):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid credentials"})
		case errors.Is(err, identity.ErrAccountLocked):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "account_locked"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
		}
	}

	return c.JSON(token)
}

// Signout destroys the session cookie and revokes the refresh token when the
// client hands it back.
func Signout(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type SignoutInput struct {
		RefreshToken string `json:"refresh_token"`
	}

	var input SignoutInput
	c.BodyParser(&input)

	if input.RefreshToken != "" {
		if err := identityService.RevokeRefreshToken(input.RefreshToken); err != nil {
			logger.Warn("failed to revoke refresh token", zap.Error(err))
		}
	}

	if store, ok := c.Locals("store").(*session.Store); ok {
		if sess, err := store.Get(c); err == nil {
			sess.Destroy()
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ForgotPassword always answers with the same generic message so the
// endpoint cannot be used to probe which emails have an account.
func ForgotPassword(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type ForgotPasswordInput struct {
		Email string `json:"email" validate:"required,email"`
	}

	var input ForgotPasswordInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	genericResponse := fiber.Map{"message": "If an account exists for this address, a reset link has been sent"}

	account, err := identityService.GetAccountByEmail(input.Email)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			return c.JSON(genericResponse)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_error"})
	}

	code, err := identityService.CreateRecoveryCode(account.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_error"})
	}

	message := mail.NewResetEmail(cfg.MailgunDomain, cfg.SiteURL, account.Email, code)
	mailer := mail.NewMailer(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase)
	if err := mailer.SendTemplatedMail(message); err != nil {
		logger.Warn("failed to send reset email", zap.Error(err))
	}

	return c.JSON(genericResponse)
}

// AuthCallback exchanges a one-time code from a mail link for a session and
// hands the browser back to the relevant page, forwarding any error as a
// query parameter.
func AuthCallback(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	code := c.Query("code")
	if code == "" {
		return c.Redirect("/login?error=missing_code")
	}

	account, purpose, _, err := identityService.ExchangeCode(code)
	if err != nil {
		if errors.Is(err, identity.ErrAccountCodeInvalid) {
			return c.Redirect("/login?error=invalid_code")
		}
		return c.Redirect("/login?error=server_error")
	}

	if err := saveSession(c, account.ID); err != nil {
		return c.Redirect("/login?error=server_error")
	}

	// Invited accounts have no password yet and a recovery landed here to
	// pick a new one; both continue on the password-update page.
	return c.Redirect(fmt.Sprintf("/update-password?type=%s", purpose))
}

// UpdatePassword sets a new password from a recovery or invite session.
func UpdatePassword(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type UpdatePasswordInput struct {
		NewPassword string `json:"new_password" validate:"required,min=6"`
	}

	var input UpdatePasswordInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	if err := identityService.UpdatePassword(user.Account.ID, input.NewPassword); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_error"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ChangePassword requires the current password; UpdatePassword does not
// because its session came from a recovery code exchange.
func ChangePassword(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	type ChangePasswordInput struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=6"`
	}

	var input ChangePasswordInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	if !identityService.VerifyAccountPassword(&user.Account, input.CurrentPassword) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid credentials"})
	}

	if err := identityService.UpdatePassword(user.Account.ID, input.NewPassword); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_error"})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
