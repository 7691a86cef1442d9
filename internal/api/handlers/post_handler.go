package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/crosspost-io/crosspost/internal/service"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	posts, err := h.s.List(c.Context(), userID)
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

// GetSchedulePost serves the publish record a settled schedule produced.
func (h *PostHandler) GetSchedulePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	scheduleID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid schedule id",
		})
	}

	post, err := h.s.GetForSchedule(c.Context(), userID, int64(scheduleID))
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(post)
}
