package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"userdesk/app/config"
	"userdesk/app/logger"
	"userdesk/app/middleware"
	"userdesk/app/platform/identity"
	"userdesk/app/platform/profile"
)

func GetMFAFactors(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	factors, err := identityService.ListFactors(user.Account.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	views := make([]identity.FactorView, 0, len(factors))
	for _, f := range factors {
		views = append(views, identity.FactorView{ID: f.ID, Type: f.Type, Status: f.Status})
	}

	return c.JSON(views)
}

// EnrollMFA registers a pending TOTP factor and returns the provisioning URI
// rendered as a QR code. If rendering fails the raw secret is still usable
// for manual entry.
func EnrollMFA(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)

	result, err := identityService.EnrollFactor(user.Account.ID, user.Account.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	response := fiber.Map{
		"factor_id": result.Factor.ID,
		"secret":    result.Secret,
		"uri":       result.URI,
	}

	png, err := qrcode.Encode(result.URI, qrcode.Medium, 256)
	if err != nil {
		logger.Warn("failed to render enrollment QR code", zap.Error(err))
	} else {
		response["qr_code"] = fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(png))
	}

	return c.JSON(response)
}

// VerifyMFAEnrollment confirms a pending factor with its first code. Success
// marks the factor verified and mirrors the flag onto the profile.
func VerifyMFAEnrollment(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)
	profileService := profile.NewService(db)

	type VerifyEnrollmentInput struct {
		FactorID string `json:"factor_id" validate:"required,uuid"`
		Code     string `json:"code" validate:"required"`
	}

	var input VerifyEnrollmentInput
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

	// Both calls are scoped to the caller's account, so someone else's
	// pending factor can never be confirmed from here.
	challenge, err := identityService.CreateChallenge(user.Account.ID, factorID)
	if err != nil {
		if errors.Is(err, identity.ErrFactorNotFound) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Factor not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	factor, err := identityService.VerifyChallenge(user.Account.ID, factorID, challenge.ID, input.Code, c.Context().Time())
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrCodeInvalid), errors.Is(err, identity.ErrCodeReplayed):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid code"})
		case errors.Is(err, identity.ErrFactorNotFound), errors.Is(err, identity.ErrChallengeInvalid),
			errors.Is(err, identity.ErrChallengeExpired):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Factor not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
		}
	}

	if err := profileService.SetMFAEnabled(user.Account.ID, true); err != nil {
		logger.Warn("failed to mirror MFA flag onto profile", zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"factor_id": factor.ID,
		"status":    factor.Status,
	})
}

// UnenrollMFA removes a factor, verified or not. Cancelling an enrollment
// takes the same path. The profile flag is cleared once no verified factor
// remains.
func UnenrollMFA(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)
	profileService := profile.NewService(db)

	factorID, err := uuid.Parse(c.Params("factor_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid factor ID"})
	}

	if err := identityService.UnenrollFactor(user.Account.ID, factorID); err != nil {
		if errors.Is(err, identity.ErrFactorNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Factor not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	verified, err := identityService.HasVerifiedTOTP(user.Account.ID)
	if err == nil && !verified {
		if err := profileService.SetMFAEnabled(user.Account.ID, false); err != nil {
			logger.Warn("failed to mirror MFA flag onto profile", zap.Error(err))
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}
