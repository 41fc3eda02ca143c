package handlers

import (
	"github.com/gofiber/fiber/v2"

	"middleman/internal/middleware"
	"middleman/internal/users"
)

// UpsertUser syncs a profile from the identity provider.
//
//	@Summary	Create or update a user
//	@Tags		users
//	@Accept		json
//	@Produce	json
//	@Param		body	body		users.UpsertRequest	true	"Profile"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Router		/users/upsert [post]
func (h *Handler) UpsertUser(c *fiber.Ctx) error {
	req := new(users.UpsertRequest)
	if err := c.BodyParser(req); err != nil {
		return invalidBody(c)
	}
	if err := middleware.RequireActor(c, req.UID); err != nil {
		return h.respondError(c, err)
	}

	if _, err := h.Users.Upsert(c.UserContext(), *req); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}
