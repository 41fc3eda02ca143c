package routes

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/handlers"
)

func setupAIRoutes(api fiber.Router, h *handlers.Handler) {
	ai := api.Group("/ai")

	ai.Post("/fraud-detection", h.FraudDetection)
	ai.Post("/support-chat", h.SupportChat)
	ai.Post("/transaction-analysis", h.TransactionAnalysis)
}
