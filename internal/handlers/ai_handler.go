package handlers

import (
	"github.com/gofiber/fiber/v2"
)

type transactionRef struct {
	TransactionID string `json:"transactionId"`
}

type SupportChatRequest struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

// FraudDetection scores a transaction and stores the result on it. The
// score is advisory and never changes the transaction's status.
//
//	@Summary	Run fraud detection
//	@Tags		ai
//	@Accept		json
//	@Produce	json
//	@Param		body	body		transactionRef	true	"Transaction"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Router		/ai/fraud-detection [post]
func (h *Handler) FraudDetection(c *fiber.Ctx) error {
	req := new(transactionRef)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if req.TransactionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Transaction ID is required",
		})
	}

	ctx := c.UserContext()
	tx, err := h.Escrow.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return h.respondError(c, err)
	}

	analysis := h.Advisor.ScoreTransaction(ctx, tx)
	if _, err := h.Escrow.RecordFraudAnalysis(ctx, tx.TransactionID, analysis); err != nil {
		h.Logger.Warn("failed to store fraud analysis", "transactionId", tx.TransactionID, "error", err)
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"fraudAnalysis": analysis,
	})
}

// SupportChat answers a support question.
//
//	@Summary	Ask the support assistant
//	@Tags		ai
//	@Accept		json
//	@Produce	json
//	@Param		body	body		SupportChatRequest	true	"Question"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Router		/ai/support-chat [post]
func (h *Handler) SupportChat(c *fiber.Ctx) error {
	req := new(SupportChatRequest)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"response": h.Advisor.AnswerSupportQuery(c.UserContext(), req.Message, req.Context),
	})
}

// TransactionAnalysis returns free-text advice about a transaction.
//
//	@Summary	Analyze a transaction
//	@Tags		ai
//	@Accept		json
//	@Produce	json
//	@Param		body	body		transactionRef	true	"Transaction"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Router		/ai/transaction-analysis [post]
func (h *Handler) TransactionAnalysis(c *fiber.Ctx) error {
	req := new(transactionRef)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if req.TransactionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Transaction ID is required",
		})
	}

	ctx := c.UserContext()
	tx, err := h.Escrow.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"analysis": h.Advisor.AnalyzeTransaction(ctx, tx),
	})
}
