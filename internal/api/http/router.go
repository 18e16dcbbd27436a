package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/http/handlers"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Accounts       *handlers.AccountsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/verify-email", cfg.Auth.VerifyEmail)
	authGroup.Post("/resend-verification", cfg.Auth.ResendVerification)

	anyRole := cfg.AuthMiddleware.Authorize(domain.RoleUser, domain.RoleAdmin)
	adminOnly := cfg.AuthMiddleware.Authorize(domain.RoleAdmin)

	users := app.Group("/users")
	users.Get("/me", anyRole, cfg.Accounts.GetMe)
	users.Patch("/me/language", anyRole, cfg.Accounts.ChangeLanguage)
	users.Patch("/me/theme", anyRole, cfg.Accounts.ChangeTheme)
	users.Post("/me/image", anyRole, cfg.Accounts.UploadImage)
	users.Post("/me/tokens/deduct", anyRole, cfg.Accounts.DeductTokens)

	users.Get("/", adminOnly, cfg.Accounts.List)
	users.Get("/:id", adminOnly, cfg.Accounts.GetByID)
	users.Patch("/:id/deleted", adminOnly, cfg.Accounts.ToggleDeleted)
	users.Patch("/:id", anyRole, cfg.Accounts.UpdateProfile)
}
