package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"userdesk/app/config"
	"userdesk/app/middleware"
	"userdesk/app/platform/profile"
	"userdesk/app/platform/storage"
)

func GetCurrentUser(c *fiber.Ctx) error {
	user := c.Locals("user").(middleware.CurrentUser)

	return c.JSON(fiber.Map{
		"id":          user.Profile.ID,
		"email":       user.Profile.Email,
		"first_name":  user.Profile.FirstName,
		"last_name":   user.Profile.LastName,
		"role":        user.Profile.Role,
		"mfa_enabled": user.Profile.MFAEnabled,
		"avatar":      user.Profile.Avatar,
		"last_login":  user.Account.LastLogin,
	})
}

func UpdateCurrentUser(c *fiber.Ctx) error {
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	profileService := profile.NewService(db)

	type UpdateInput struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
	}

	var input UpdateInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid input"})
	}

	updateNullableString := func(target **string, value *string) {
		if value != nil {
			if *value != "" {
				*target = value
			} else {
				*target = nil
			}
		}
	}

	info := user.Profile
	updateNullableString(&info.FirstName, input.FirstName)
	updateNullableString(&info.LastName, input.LastName)

	if err := profileService.Update(&info); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	return c.JSON(info)
}

// UploadAvatar stores the image under a random key and records the key on
// the profile row.
func UploadAvatar(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	db := c.Locals("db").(*gorm.DB)
	user := c.Locals("user").(middleware.CurrentUser)

	profileService := profile.NewService(db)
	storageService := storage.NewStorageService(cfg.Storage())

	file, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Missing avatar file"})
	}

	if !storageService.IsImageExtensionAllowed(file.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "File type not allowed"})
	}

	key := fmt.Sprintf("avatar/%s", storageService.GenerateKeyName())
	if err := storageService.SaveFile(file, key, c); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	info := user.Profile
	info.Avatar = &key
	if err := profileService.Update(&info); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "Internal server error"})
	}

	return c.JSON(fiber.Map{"avatar": key})
}
