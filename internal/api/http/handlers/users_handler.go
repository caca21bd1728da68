package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workspace-service/internal/api/dto"
	"github.com/spec-kit/workspace-service/internal/service"
)

// UsersHandler exposes account lookups.
type UsersHandler struct {
	sessions *service.SessionService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(sessions *service.SessionService) *UsersHandler {
	return &UsersHandler{sessions: sessions}
}

// Me handles GET /users/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	user, err := h.sessions.Profile(c.UserContext(), principal.UserID())
	if err != nil {
		return mapAuthError(err)
	}
	return c.JSON(fiber.Map{"data": dto.UserFromDomain(user)})
}

// Get handles GET /users/:id. The route is restricted to administrators.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	user, err := h.sessions.Profile(c.UserContext(), c.Params("id"))
	if err != nil {
		return mapAuthError(err)
	}
	return c.JSON(fiber.Map{"data": dto.UserFromDomain(user)})
}
