// Package handlers holds the HTTP endpoints. Each handler decodes the
// request, calls one service and maps failures with respondError.
package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"middleman/internal/apperr"
	"middleman/internal/escrow"
	"middleman/internal/services"
	"middleman/internal/users"
)

// Handler carries the services every endpoint needs. Payments and Uploads
// are nil when their provider is not configured.
type Handler struct {
	Escrow   *escrow.Service
	Users    *users.Service
	Payments *services.PaymentService
	Advisor  *services.Advisor
	Uploads  *services.CloudinaryService
	Currency string
	Logger   *slog.Logger
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrWindowExpired),
		errors.Is(err, apperr.ErrConflict):
		return fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, apperr.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes {"error": msg}. Unknown errors are logged and never
// shown to the client.
func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	msg := apperr.Message(err)
	if !apperr.IsKnown(err) {
		h.Logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"requestId", c.Locals("requestid"),
			"error", err,
		)
		msg = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid request body",
	})
}

// ErrorHandler is the app-wide fallback for errors returned by middleware,
// unmatched routes and recovered panics.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
			})
		}
		if apperr.IsKnown(err) {
			return c.Status(StatusFor(err)).JSON(fiber.Map{
				"error": apperr.Message(err),
			})
		}

		logger.Error("unhandled error", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}
