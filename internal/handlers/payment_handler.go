package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"middleman/internal/apperr"
	"middleman/internal/escrow"
	"middleman/internal/metrics"
	"middleman/internal/middleware"
	"middleman/internal/models"
	"middleman/internal/services"
)

type CreatePaymentIntentRequest struct {
	TransactionID string `json:"transactionId"`
	BuyerID       string `json:"buyerId"`
	BuyerName     string `json:"buyerName"`
	BuyerEmail    string `json:"buyerEmail"`
}

// CreatePaymentIntent starts a card payment for a pending transaction. The
// buyer identity rides along in the intent metadata so the webhook can
// record the payment without the browser.
//
//	@Summary	Create a payment intent
//	@Tags		payments
//	@Accept		json
//	@Produce	json
//	@Param		body	body		CreatePaymentIntentRequest	true	"Transaction"
//	@Success	200		{object}	services.PaymentIntent
//	@Failure	400		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Failure	503		{object}	map[string]string
//	@Router		/create-payment-intent [post]
func (h *Handler) CreatePaymentIntent(c *fiber.Ctx) error {
	if h.Payments == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Payments are not configured",
		})
	}

	req := new(CreatePaymentIntentRequest)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if req.TransactionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Transaction ID is required",
		})
	}
	if req.BuyerID != "" {
		if err := middleware.RequireActor(c, req.BuyerID); err != nil {
			return h.respondError(c, err)
		}
	}

	ctx := c.UserContext()
	tx, err := h.Escrow.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return h.respondError(c, err)
	}
	if tx.Status != models.TransactionPending {
		return h.respondError(c, fmt.Errorf("%w: Transaction is not awaiting payment", apperr.ErrInvalidState))
	}

	intent, err := h.Payments.CreatePaymentIntent(ctx, tx.Price, h.Currency, map[string]string{
		services.MetaTransactionID: tx.TransactionID,
		services.MetaBuyerID:       req.BuyerID,
		services.MetaBuyerName:     req.BuyerName,
		services.MetaBuyerEmail:    req.BuyerEmail,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(intent)
}

// PaymentSuccess is the browser's confirmation after the card payment
// succeeds. Replays with the same payment intent are harmless.
//
//	@Summary	Record a completed payment
//	@Tags		payments
//	@Accept		json
//	@Produce	json
//	@Param		body	body		escrow.PaymentRequest	true	"Payment"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Failure	403		{object}	map[string]string
//	@Failure	404		{object}	map[string]string
//	@Router		/payment-success [post]
func (h *Handler) PaymentSuccess(c *fiber.Ctx) error {
	req := new(escrow.PaymentRequest)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if err := middleware.RequireActor(c, req.BuyerID); err != nil {
		return h.respondError(c, err)
	}

	if _, err := h.Escrow.RecordPayment(c.UserContext(), *req); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Payment processed successfully",
	})
}

// StripeWebhook records payments reported by Stripe. Events that can never
// apply are acknowledged so Stripe stops retrying; only internal failures
// return 5xx.
//
//	@Summary	Stripe webhook
//	@Tags		payments
//	@Accept		json
//	@Produce	json
//	@Param		Stripe-Signature	header		string	true	"Signature"
//	@Success	200					{object}	map[string]bool
//	@Failure	400					{object}	map[string]string
//	@Router		/webhooks/stripe [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	if h.Payments == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Payments are not configured",
		})
	}

	conf, err := h.Payments.ParseWebhook(c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		return h.respondError(c, err)
	}
	if conf == nil {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return c.JSON(fiber.Map{"received": true})
	}
	if conf.TransactionID == "" || conf.BuyerID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		h.Logger.Warn("payment event without escrow metadata",
			"eventId", conf.EventID,
			"paymentIntentId", conf.PaymentIntentID,
		)
		return c.JSON(fiber.Map{"received": true})
	}

	_, err = h.Escrow.RecordPayment(c.UserContext(), escrow.PaymentRequest{
		TransactionID:   conf.TransactionID,
		PaymentIntentID: conf.PaymentIntentID,
		PaymentEventID:  conf.EventID,
		BuyerID:         conf.BuyerID,
		BuyerName:       conf.BuyerName,
		BuyerEmail:      conf.BuyerEmail,
	})
	switch {
	case err == nil:
		metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	case apperr.IsKnown(err) && !errors.Is(err, apperr.ErrUpstream):
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		h.Logger.Warn("payment event rejected",
			"eventId", conf.EventID,
			"transactionId", conf.TransactionID,
			"error", err,
		)
	default:
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{"received": true})
}
