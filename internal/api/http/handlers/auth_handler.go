package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workspace-service/internal/api/dto"
	"github.com/spec-kit/workspace-service/internal/auth"
	"github.com/spec-kit/workspace-service/internal/service"
	apperrors "github.com/spec-kit/workspace-service/pkg/util/errorutil"
)

// AuthHandler exposes login, logout, registration and the email flows.
type AuthHandler struct {
	sessions *service.SessionService
	binder   *Binder
}

// NewAuthHandler constructs handler.
func NewAuthHandler(sessions *service.SessionService, binder *Binder) *AuthHandler {
	return &AuthHandler{sessions: sessions, binder: binder}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := h.binder.Bind(c, &req); err != nil {
		return err
	}

	session, err := h.sessions.Register(c.UserContext(), service.RegisterInput{
		Username: req.Username,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return mapAuthError(err)
	}
	return c.Status(http.StatusCreated).JSON(sessionResponse(session))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := h.binder.Bind(c, &req); err != nil {
		return err
	}

	session, err := h.sessions.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return mapAuthError(err)
	}
	return c.JSON(sessionResponse(session))
}

// Logout handles GET /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.sessions.Logout(c.UserContext(), principal.Token); err != nil {
		return mapAuthError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// ChangePassword handles POST /auth/change-password.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ChangePasswordRequest
	if err := h.binder.Bind(c, &req); err != nil {
		return err
	}

	if err := h.sessions.ChangePassword(c.UserContext(), principal.UserID(), req.OldPassword, req.NewPassword); err != nil {
		return mapAuthError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// RequestReset handles POST /auth/reset-password. The response does not
// reveal whether the email belongs to an account.
func (h *AuthHandler) RequestReset(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := h.binder.Bind(c, &req); err != nil {
		return err
	}

	h.sessions.SendResetEmail(c.UserContext(), req.Email)
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"data": fiber.Map{"message": "if the email is registered, a reset link has been sent"},
	})
}

// ConfirmReset handles POST /auth/reset-password/confirm.
func (h *AuthHandler) ConfirmReset(c *fiber.Ctx) error {
	var req dto.ConfirmResetRequest
	if err := h.binder.Bind(c, &req); err != nil {
		return err
	}

	if err := h.sessions.ConfirmReset(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return mapAuthError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// SendVerification handles POST /auth/verify-email.
func (h *AuthHandler) SendVerification(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	sent, err := h.sessions.SendVerification(c.UserContext(), principal.UserID())
	if err != nil {
		return mapAuthError(err)
	}
	return c.JSON(fiber.Map{"data": dto.SentResponse{Sent: sent}})
}

// ResendVerification handles POST /auth/resend-email.
func (h *AuthHandler) ResendVerification(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	sent, err := h.sessions.ResendVerification(c.UserContext(), principal.UserID())
	if err != nil {
		return mapAuthError(err)
	}
	return c.JSON(fiber.Map{"data": dto.SentResponse{Sent: sent}})
}

// ConfirmVerification handles GET /auth/verify-email?token=.
func (h *AuthHandler) ConfirmVerification(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return apperrors.NewBadRequest("VALIDATION_FAILED", "token is required")
	}

	userID, err := h.sessions.ConfirmVerification(c.UserContext(), token)
	if err != nil {
		return mapAuthError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user_id": userID, "verified": true}})
}

func sessionResponse(session *service.Session) fiber.Map {
	return fiber.Map{
		"data": fiber.Map{
			"user": dto.UserFromDomain(session.User),
			"auth": dto.AuthResponse{Token: session.Token, ExpiresAt: session.ExpiresAt},
		},
	}
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}
