package routes

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/handlers"
)

// SetupRoutes mounts every API route under /api. identity guards the
// mutating endpoints that act on behalf of a user.
func SetupRoutes(app *fiber.App, h *handlers.Handler, identity fiber.Handler) {
	api := app.Group("/api")

	setupEscrowRoutes(api, h, identity)
	setupDisputeRoutes(api, h, identity)
	setupAIRoutes(api, h)
	setupUserRoutes(api, h, identity)

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "The MiddleMan API",
			"status":  "running",
		})
	})
}
