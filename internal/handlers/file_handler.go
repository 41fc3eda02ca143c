package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

const maxUploadBytes = 50 << 20

// UploadFile stores the file a seller is about to list.
//
//	@Summary	Upload a file for sale
//	@Tags		uploads
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file	formData	file	true	"File"
//	@Success	200		{object}	map[string]any
//	@Failure	400		{object}	map[string]string
//	@Failure	503		{object}	map[string]string
//	@Router		/uploads [post]
func (h *Handler) UploadFile(c *fiber.Ctx) error {
	if h.Uploads == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "File uploads are not configured",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file provided",
		})
	}

	if file.Size > maxUploadBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large. Maximum size is %dMB", maxUploadBytes/(1024*1024)),
		})
	}

	result, err := h.Uploads.UploadFile(c.UserContext(), file)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"fileURL":  result.URL,
		"fileName": result.FileName,
		"publicId": result.PublicID,
	})
}
