package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/crosspost-io/crosspost/internal/service"
	"github.com/crosspost-io/crosspost/internal/transfer"
)

type ScheduleHandler struct {
	s service.ScheduleService
}

func NewScheduleHandler(service service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{s: service}
}

// CreateSchedule fans one submission out to every selected account and
// returns the created schedule rows.
func (h *ScheduleHandler) CreateSchedule(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.ScheduleCreation
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	schedules, err := h.s.Create(c.Context(), userID, &req)
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedules)
}

// ListSchedules serves either ?ids=1,2,3 or ?date=YYYY-MM-DD.
func (h *ScheduleHandler) ListSchedules(c *fiber.Ctx) error {
	userID := GetUserID(c)

	if raw := c.Query("ids"); raw != "" {
		ids, err := parseIDList(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "ids must be a comma separated list of numbers",
			})
		}

		summaries, err := h.s.ListByIDs(c.Context(), userID, ids)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(summaries)
	}

	date := c.Query("date")
	if date == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "either ids or date is required",
		})
	}

	summaries, err := h.s.ListByDate(c.Context(), userID, date)
	if err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(summaries)
}

func (h *ScheduleHandler) ResumeSchedule(c *fiber.Ctx) error {
	userID := GetUserID(c)

	scheduleID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid schedule id",
		})
	}

	schedule, err := h.s.Resume(c.Context(), userID, int64(scheduleID))
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(schedule)
}
