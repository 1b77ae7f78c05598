package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ikhtibar/assessment-api/internal/config"
	"github.com/ikhtibar/assessment-api/internal/handler"
	"github.com/ikhtibar/assessment-api/internal/middleware"
	"github.com/ikhtibar/assessment-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AttemptHandler  *handler.AttemptHandler
	GradingHandler  *handler.GradingHandler
	ActivityHandler *handler.ActivityHandler
	JWTMiddleware   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Candidate-facing attempt lifecycle. The limiter is sized for answer
	// autosave traffic, not page loads.
	if deps.AttemptHandler != nil {
		attempts := api.Group("/attempts", jwtMiddleware, middleware.RateLimit("attempts", 120, time.Minute))
		deps.AttemptHandler.Register(attempts)
	}

	// Examiner-facing grading pipeline
	if deps.GradingHandler != nil {
		grading := api.Group("/admin/grading", jwtMiddleware, middleware.RequireRole("admin", "examiner"))
		deps.GradingHandler.Register(grading)
	}

	// Audit trail
	if deps.ActivityHandler != nil {
		activity := api.Group("/admin/activity", jwtMiddleware, middleware.RequireRole("admin", "examiner"))
		deps.ActivityHandler.Register(activity)
	}
}
