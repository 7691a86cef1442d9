package handlers

import (
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	config "github.com/crosspost-io/crosspost/configs"
	"github.com/crosspost-io/crosspost/internal/service"
	"github.com/crosspost-io/crosspost/internal/transfer"
)

type ConnectHandler struct {
	s   service.ConnectService
	cfg config.Config
}

func NewConnectHandler(cfg config.Config, service service.ConnectService) *ConnectHandler {
	return &ConnectHandler{s: service, cfg: cfg}
}

// Connect redirects the browser to the provider's authorize page. Mastodon
// callers pass their instance origin as a query parameter.
func (h *ConnectHandler) Connect(c *fiber.Ctx) error {
	userID := GetUserID(c)
	provider := c.Params("provider")
	action := c.Query("action")
	origin := c.Query("origin")

	authURL, err := h.s.BeginConnect(c.Context(), userID, provider, action, origin)
	if err != nil {
		return sendError(c, err)
	}

	return c.Redirect(authURL)
}

// Callback lands the provider redirect. The browser always goes back to the
// dashboard; outcome rides in the query string.
func (h *ConnectHandler) Callback(c *fiber.Ctx) error {
	provider := c.Params("provider")
	code := c.Query("code")
	state := c.Query("state")

	dashboard := h.cfg.FrontendURL + "/dashboard"

	if providerErr := c.Query("error"); providerErr != "" {
		return c.Redirect(fmt.Sprintf("%s?error=provider_denied&message=%s", dashboard, url.QueryEscape(providerErr)), fiber.StatusTemporaryRedirect)
	}

	if err := h.s.CompleteConnect(c.Context(), provider, code, state); err != nil {
		return c.Redirect(fmt.Sprintf("%s?error=%s&message=%s", dashboard, errorCode(err), url.QueryEscape(err.Error())), fiber.StatusTemporaryRedirect)
	}

	return c.Redirect(fmt.Sprintf("%s?success=%s", dashboard, url.QueryEscape(provider)), fiber.StatusTemporaryRedirect)
}

// ConnectBluesky takes handle and app password in the body since the PDS
// has no redirect flow.
func (h *ConnectHandler) ConnectBluesky(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var creds transfer.BlueskyCredentials
	if err := c.BodyParser(&creds); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.s.ConnectBluesky(c.Context(), userID, &creds); err != nil {
		return sendError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *ConnectHandler) ListAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accounts, err := h.s.List(c.Context(), userID)
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(accounts)
}

func (h *ConnectHandler) Disconnect(c *fiber.Ctx) error {
	userID := GetUserID(c)
	provider := c.Params("provider")

	if err := h.s.Disconnect(c.Context(), userID, provider); err != nil {
		return sendError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
