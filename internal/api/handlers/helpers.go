package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/crosspost-io/crosspost/internal/errs"
)

func GetUserID(c *fiber.Ctx) int64 {
	userID, _ := strconv.Atoi(c.Locals("user_id").(string))
	return int64(userID)
}

// errorStatus maps service errors onto HTTP statuses. Anything unmapped is
// a 500 with a generic body so internals never leak.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation),
		errors.Is(err, errs.ErrInvalidState),
		errors.Is(err, errs.ErrMissingCode):
		return fiber.StatusBadRequest
	case errors.Is(err, errs.ErrAuth), errors.Is(err, errs.ErrRefresh):
		return fiber.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, errs.ErrNoActiveAccounts):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// errorCode renders the error kind as a short query-string token for the
// dashboard redirect.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errs.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, errs.ErrMissingCode):
		return "missing_code"
	case errors.Is(err, errs.ErrTokenExchange):
		return "token_exchange"
	case errors.Is(err, errs.ErrValidation):
		return "validation"
	default:
		return "connect_failed"
	}
}

func sendError(c *fiber.Ctx, err error) error {
	status := errorStatus(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "something went wrong"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// parseIDList splits a comma separated id query parameter.
func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
