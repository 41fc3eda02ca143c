package routes

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/handlers"
)

func setupDisputeRoutes(api fiber.Router, h *handlers.Handler, identity fiber.Handler) {
	// Buyer only, within 24 hours of payment
	api.Post("/raise-dispute", identity, h.RaiseDispute)
}
