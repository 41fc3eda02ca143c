package routes

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/handlers"
)

func setupUserRoutes(api fiber.Router, h *handlers.Handler, identity fiber.Handler) {
	api.Post("/users/upsert", identity, h.UpsertUser)
}
