package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/crosspost-io/crosspost/internal/service"
)

type MediaHandler struct {
	s service.MediaService
}

func NewMediaHandler(service service.MediaService) *MediaHandler {
	return &MediaHandler{s: service}
}

func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	userID := GetUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file form field is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to read uploaded file",
		})
	}

	asset, err := h.s.Upload(c.Context(), userID, fileHeader.Filename, data)
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(asset)
}

func (h *MediaHandler) GetAsset(c *fiber.Ctx) error {
	userID := GetUserID(c)

	assetID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid asset id",
		})
	}

	asset, err := h.s.Get(c.Context(), userID, int64(assetID))
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(asset)
}

func (h *MediaHandler) RemoveAsset(c *fiber.Ctx) error {
	userID := GetUserID(c)

	assetID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid asset id",
		})
	}

	if err := h.s.Remove(c.Context(), userID, int64(assetID)); err != nil {
		return sendError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
