package handlers

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/escrow"
	"middleman/internal/middleware"
)

// CreateTransaction lists a file for sale.
//
//	@Summary	Create an escrow transaction
//	@Tags		transactions
//	@Accept		json
//	@Produce	json
//	@Param		body	body		escrow.CreateRequest	true	"Listing"
//	@Success	201		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Router		/transactions [post]
func (h *Handler) CreateTransaction(c *fiber.Ctx) error {
	req := new(escrow.CreateRequest)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if err := middleware.RequireActor(c, req.SellerID); err != nil {
		return h.respondError(c, err)
	}

	tx, err := h.Escrow.CreateTransaction(c.UserContext(), *req)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":       true,
		"transactionId": tx.TransactionID,
	})
}

// GetTransactions looks up one transaction by id, or lists a seller's or a
// buyer's transactions. The first query key present wins.
//
//	@Summary	Fetch transactions
//	@Tags		transactions
//	@Produce	json
//	@Param		transactionId	query		string	false	"Transaction id"
//	@Param		sellerId		query		string	false	"Seller id"
//	@Param		buyerId			query		string	false	"Buyer id"
//	@Success	200				{object}	map[string]any
//	@Failure	400				{object}	map[string]string
//	@Failure	404				{object}	map[string]string
//	@Router		/transactions [get]
func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if id := c.Query("transactionId"); id != "" {
		tx, err := h.Escrow.GetTransaction(ctx, id)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(fiber.Map{"transaction": tx})
	}

	if sellerID := c.Query("sellerId"); sellerID != "" {
		txs, err := h.Escrow.ListBySeller(ctx, sellerID)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(fiber.Map{"transactions": txs})
	}

	if buyerID := c.Query("buyerId"); buyerID != "" {
		txs, err := h.Escrow.ListByBuyer(ctx, buyerID)
		if err != nil {
			return h.respondError(c, err)
		}
		return c.JSON(fiber.Map{"transactions": txs})
	}

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Missing query parameters",
	})
}

// GetReleaseStatus reports the payout countdown for a transaction.
//
//	@Summary	Escrow release countdown
//	@Tags		transactions
//	@Produce	json
//	@Param		transactionId	path		string	true	"Transaction id"
//	@Success	200				{object}	escrow.Release
//	@Failure	404				{object}	map[string]string
//	@Router		/transactions/{transactionId}/release [get]
func (h *Handler) GetReleaseStatus(c *fiber.Ctx) error {
	release, err := h.Escrow.ReleaseStatus(c.UserContext(), c.Params("transactionId"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(release)
}
