package handlers

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/escrow"
	"middleman/internal/middleware"
)

// RaiseDispute lets the buyer freeze a paid transaction within 24 hours of
// payment.
//
//	@Summary	Raise a dispute
//	@Tags		disputes
//	@Accept		json
//	@Produce	json
//	@Param		body	body		escrow.DisputeRequest	true	"Dispute"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Failure	403		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Router		/raise-dispute [post]
func (h *Handler) RaiseDispute(c *fiber.Ctx) error {
	req := new(escrow.DisputeRequest)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if err := middleware.RequireActor(c, req.BuyerID); err != nil {
		return h.respondError(c, err)
	}

	if _, err := h.Escrow.RaiseDispute(c.UserContext(), *req); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Dispute raised successfully",
	})
}
