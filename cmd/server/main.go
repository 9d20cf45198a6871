package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/session"
	"go.uber.org/zap"

	"userdesk/app/config"
	"userdesk/app/database"
	"userdesk/app/handlers"
	mngmt "userdesk/app/handlers/management"
	"userdesk/app/logger"
	"userdesk/app/middleware"
	"userdesk/app/platform/identity"
	"userdesk/app/platform/outbox"
	"userdesk/app/platform/profile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info", "console")
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := database.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	identityService := identity.NewService(db, cfg.JWTSecret, cfg.TOTPIssuer)
	profileService := profile.NewService(db)

	outboxService := outbox.NewService(db)
	registerReconcilers(outboxService, identityService, profileService)
	go outboxService.Run(context.Background(), time.Minute)

	store := session.New(session.Config{
		Expiration:     24 * time.Hour,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})

	app := fiber.New()

	app.Use(compress.New())
	app.Use(helmet.New())
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(healthcheck.New())

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("db", db)
		c.Locals("store", store)
		return c.Next()
	})

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/signin", handlers.SigninWithPassword)
	auth.Post("/mfa/challenge", handlers.CreateMFAChallenge)
	auth.Post("/mfa/verify", handlers.VerifyMFASignin)
	auth.Post("/token-refresh", handlers.RefreshToken)
	auth.Post("/signout", handlers.Signout)
	auth.Post("/reset-password", handlers.ForgotPassword)
	auth.Get("/callback", handlers.AuthCallback)
	auth.Post("/update-password", middleware.AuthMiddleware, handlers.UpdatePassword)
	auth.Post("/change-password", middleware.AuthMiddleware, handlers.ChangePassword)

	user := api.Group("/user", middleware.AuthMiddleware)
	user.Get("/me", handlers.GetCurrentUser)
	user.Patch("/me", handlers.UpdateCurrentUser)
	user.Post("/me/avatar", handlers.UploadAvatar)
	user.Get("/me/factors", handlers.GetMFAFactors)
	user.Post("/me/factors", handlers.EnrollMFA)
	user.Post("/me/factors/verify", handlers.VerifyMFAEnrollment)
	user.Delete("/me/factors/:factor_id", handlers.UnenrollMFA)

	management := api.Group("/management", middleware.AuthMiddleware, middleware.AdminMiddleware)
	management.Get("/users", mngmt.GetAllUsers)
	management.Post("/users", mngmt.CreateUser)
	management.Patch("/users/:user_id", mngmt.UpdateUser)
	management.Delete("/users/:user_id", mngmt.DeleteUser)

	diag := api.Group("/diag")
	diag.Get("/ip", handlers.GetIP)
	diag.Get("/headers", handlers.GetHeaders)

	pages := app.Group("/", middleware.GuardMiddleware)
	pages.Get("/login", handlers.ServePage)
	pages.Get("/dashboard", handlers.ServePage)
	pages.Get("/admin", handlers.ServePage)
	pages.Get("/admin/*", handlers.ServePage)
	pages.Get("/reset-password", handlers.ServePage)
	pages.Get("/update-password", handlers.ServePage)

	app.Use(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})

	logger.Fatal("server stopped", zap.Error(app.Listen(fmt.Sprintf(":%d", cfg.ServerPort))))
}

// registerReconcilers binds the cross-store intents to their recovery
// actions. Creation recovers forward into a profile row; deletion converges
// on both stores being empty.
func registerReconcilers(outboxService *outbox.Service, identityService *identity.Service, profileService *profile.Service) {
	outboxService.Register(outbox.ActionEnsureProfile, func(ctx context.Context, action *database.PendingAction) error {
		if _, err := profileService.GetByID(action.TargetID); err == nil {
			return nil
		}

		if _, err := identityService.GetAccount(action.TargetID); err != nil {
			if errors.Is(err, identity.ErrAccountNotFound) {
				// The compensating delete already won; nothing to restore.
				return nil
			}
			return err
		}

		email, _ := action.Payload["email"].(string)
		role, _ := action.Payload["role"].(string)
		if role == "" {
			role = database.RoleUser
		}

		info := database.UserInfo{ID: action.TargetID, Email: email, Role: role}
		if firstName, ok := action.Payload["first_name"].(string); ok && firstName != "" {
			info.FirstName = &firstName
		}
		if lastName, ok := action.Payload["last_name"].(string); ok && lastName != "" {
			info.LastName = &lastName
		}
		return profileService.Create(&info)
	})

	outboxService.Register(outbox.ActionDeleteAccount, func(ctx context.Context, action *database.PendingAction) error {
		if err := identityService.DeleteAccount(action.TargetID); err != nil {
			return err
		}
		return profileService.Delete(action.TargetID)
	})
}
