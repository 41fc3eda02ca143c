package routes

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/handlers"
)

func setupEscrowRoutes(api fiber.Router, h *handlers.Handler, identity fiber.Handler) {
	// Listing and lookup
	api.Post("/transactions", identity, h.CreateTransaction)
	api.Get("/transactions", h.GetTransactions)
	api.Get("/transactions/:transactionId/release", h.GetReleaseStatus)

	// Seller file upload, before listing
	api.Post("/uploads", identity, h.UploadFile)

	// Payment
	api.Post("/create-payment-intent", identity, h.CreatePaymentIntent)
	api.Post("/payment-success", identity, h.PaymentSuccess)

	// Signed by Stripe, not by a user token
	api.Post("/webhooks/stripe", h.StripeWebhook)
}
