package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/workspace-service/internal/api/http/handlers"
	"github.com/spec-kit/workspace-service/internal/auth"
	"github.com/spec-kit/workspace-service/internal/domain"
	"github.com/spec-kit/workspace-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Auth        *handlers.AuthHandler
	Users       *handlers.UsersHandler
	Gate        *auth.AccessGate
	Metrics     *observability.Metrics
	AuthRateRPM int
}

// RegisterRoutes wires HTTP routes. Every API route declares its access rule
// explicitly.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	public := cfg.Gate.Middleware(domain.Public())
	authenticated := cfg.Gate.Middleware(domain.Authenticated())
	admin := cfg.Gate.Middleware(domain.RequireRoles(domain.RoleAdmin))

	api := app.Group("/api/v1")

	authGroup := api.Group("/auth", newAuthRateLimiter(cfg.AuthRateRPM).Handler())
	authGroup.Post("/login", public, cfg.Auth.Login)
	authGroup.Post("/register", public, cfg.Auth.Register)
	authGroup.Get("/logout", authenticated, cfg.Auth.Logout)
	authGroup.Post("/verify-email", authenticated, cfg.Auth.SendVerification)
	authGroup.Get("/verify-email", public, cfg.Auth.ConfirmVerification)
	authGroup.Post("/resend-email", authenticated, cfg.Auth.ResendVerification)
	authGroup.Post("/change-password", authenticated, cfg.Auth.ChangePassword)
	authGroup.Post("/reset-password", public, cfg.Auth.RequestReset)
	authGroup.Post("/reset-password/confirm", public, cfg.Auth.ConfirmReset)

	users := api.Group("/users")
	users.Get("/me", authenticated, cfg.Users.Me)
	users.Get("/:id", admin, cfg.Users.Get)
}
