package mngmt

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"userdesk/app/config"
	"userdesk/app/database"
	"userdesk/app/logger"
	"userdesk/app/mail"
	"userdesk/app/platform/identity"
	"userdesk/app/platform/outbox"
	"userdesk/app/platform/profile"
	"userdesk/pkg/utils"
)

// IdentityStore is the slice of the identity provider the management
// handlers touch. Tests swap in a fake through c.Locals.
type IdentityStore interface {
	InviteByEmail(email string) (*database.Account, string, error)
	DeleteAccount(accountID uuid.UUID) error
}

// ProfileStore is the slice of the profile accessor the management handlers
// touch.
type ProfileStore interface {
	GetByID(id uuid.UUID) (*database.UserInfo, error)
	GetByEmail(email string) (*database.UserInfo, error)
	List(limit, offset int) ([]database.UserInfo, error)
	Create(info *database.UserInfo) error
	Update(info *database.UserInfo) error
	Delete(id uuid.UUID) error
}

// IntentStore records cross-store intents for the reconciler.
type IntentStore interface {
	Enqueue(kind string, targetID uuid.UUID, payload database.JSONObject) (*database.PendingAction, error)
	MarkDone(id uuid.UUID) error
}

func identityStore(c *fiber.Ctx) IdentityStore {
	if s, ok := c.Locals("identity_service").(IdentityStore); ok {
		return s
	}
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	return identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)
}

func profileStore(c *fiber.Ctx) ProfileStore {
	if s, ok := c.Locals("profile_service").(ProfileStore); ok {
		return s
	}
	db := c.Locals("db").(*gorm.DB)
	return profile.NewService(db)
}

func intentStore(c *fiber.Ctx) IntentStore {
	if s, ok := c.Locals("outbox_service").(IntentStore); ok {
		return s
	}
	db := c.Locals("db").(*gorm.DB)
	return outbox.NewService(db)
}

func isValidRole(role string) bool {
	return role == database.RoleUser || role == database.RoleAdmin
}

func GetAllUsers(c *fiber.Ctx) error {
	profiles := profileStore(c)

	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	users, err := profiles.List(limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	return c.JSON(fiber.Map{"success": true, "data": users})
}

// CreateUser spans both stores: invite in the identity provider first, then
// upsert the profile row. A profile failure triggers a best-effort
// compensating delete of the just-created account; the pending intent lets
// the reconciler finish the job when even that fails.
func CreateUser(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)

	identities := identityStore(c)
	profiles := profileStore(c)
	intents := intentStore(c)

	type CreateUserInput struct {
		FirstName string `json:"first_name" validate:"required"`
		LastName  string `json:"last_name" validate:"required"`
		Email     string `json:"email" validate:"required,email"`
		Role      string `json:"role" validate:"required"`
	}

	var input CreateUserInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid input"})
	}

	err := config.Validate.Struct(input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	if !isValidRole(input.Role) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid role"})
	}

	email := utils.NormalizeEmail(input.Email)

	if existing, _ := profiles.GetByEmail(email); existing != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "email already in use"})
	}

	account, code, err := identities.InviteByEmail(email)
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "email already in use"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	intent, err := intents.Enqueue(outbox.ActionEnsureProfile, account.ID, database.JSONObject{
		"email":      email,
		"first_name": input.FirstName,
		"last_name":  input.LastName,
		"role":       input.Role,
	})
	if err != nil {
		logger.Warn("failed to record create intent", zap.Error(err))
	}

	info := database.UserInfo{
		ID:        account.ID,
		FirstName: &input.FirstName,
		LastName:  &input.LastName,
		Email:     email,
		Role:      input.Role,
	}

	if err := profiles.Create(&info); err != nil {
		logger.Error("profile write failed after identity create",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))

		if cerr := identities.DeleteAccount(account.ID); cerr != nil {
			// Both stores diverged; the reconciler picks the intent up.
			logger.Error("compensating account delete failed",
				zap.String("account_id", account.ID.String()),
				zap.Error(cerr))
		} else if intent != nil {
			intents.MarkDone(intent.ID)
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	if intent != nil {
		intents.MarkDone(intent.ID)
	}

	message := mail.NewInviteEmail(cfg.MailgunDomain, cfg.SiteURL, email, code)
	mailer := mail.NewMailer(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunAPIBase)
	if err := mailer.SendTemplatedMail(message); err != nil {
		logger.Warn("failed to send invite email", zap.Error(err))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": info})
}

// UpdateUser edits name and role on the profile row only; email and
// credentials are immutable through this path.
func UpdateUser(c *fiber.Ctx) error {
	profiles := profileStore(c)

	type UpdateUserInput struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Role      *string `json:"role"`
	}

	var input UpdateUserInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid input"})
	}

	if input.Role != nil && !isValidRole(*input.Role) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid role"})
	}

	uid, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid user ID"})
	}

	info, err := profiles.GetByID(uid)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	if input.FirstName != nil {
		info.FirstName = input.FirstName
	}
	if input.LastName != nil {
		info.LastName = input.LastName
	}
	if input.Role != nil {
		info.Role = *input.Role
	}

	if err := profiles.Update(info); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	return c.JSON(fiber.Map{"success": true, "data": info})
}

// DeleteUser removes the profile row, then the identity account. When the
// second delete fails a minimal profile row is reinserted as rollback; if
// the rollback fails too, the pending intent lets the reconciler finish the
// deletion instead.
func DeleteUser(c *fiber.Ctx) error {
	identities := identityStore(c)
	profiles := profileStore(c)
	intents := intentStore(c)

	uid, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid user ID"})
	}

	info, err := profiles.GetByID(uid)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	intent, err := intents.Enqueue(outbox.ActionDeleteAccount, uid, database.JSONObject{
		"email": info.Email,
	})
	if err != nil {
		logger.Warn("failed to record delete intent", zap.Error(err))
	}

	if err := profiles.Delete(uid); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	if err := identities.DeleteAccount(uid); err != nil {
		logger.Error("identity delete failed after profile delete",
			zap.String("account_id", uid.String()),
			zap.Error(err))

		rollback := database.UserInfo{
			ID:    info.ID,
			Email: info.Email,
			Role:  info.Role,
		}
		if rerr := profiles.Create(&rollback); rerr != nil {
			// Rollback failed as well; leave the intent pending so the
			// reconciler converges on deletion.
			logger.Error("profile rollback failed",
				zap.String("account_id", uid.String()),
				zap.Error(rerr))
		} else if intent != nil {
			intents.MarkDone(intent.ID)
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal server error"})
	}

	if intent != nil {
		intents.MarkDone(intent.ID)
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"id": uid}})
}
