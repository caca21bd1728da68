package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/domain"
	apperrors "github.com/spec-kit/workspace-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Gate decision outcomes, reported to the DecisionRecorder.
const (
	OutcomePublic      = "public"
	OutcomeAdmitted    = "admitted"
	OutcomeMissing     = "missing_token"
	OutcomeExpired     = "expired"
	OutcomeInvalid     = "invalid"
	OutcomeRevoked     = "revoked"
	OutcomeForbidden   = "forbidden"
	OutcomeUnavailable = "unavailable"
)

// Principal represents the authenticated caller.
type Principal struct {
	Token  string
	Claims *Claims
	// User is only resolved when the route required roles.
	User *domain.User
}

// UserID returns the authenticated subject.
func (p *Principal) UserID() string {
	return p.Claims.Subject
}

// DecisionRecorder observes gate outcomes.
type DecisionRecorder interface {
	RecordGateDecision(outcome string)
}

// AccessGate decides per request whether a caller may reach a route. Checks
// run in a fixed order: public bypass, token presence, signature and expiry,
// revocation, roles.
type AccessGate struct {
	tokens   *TokenManager
	revoked  *RevocationStore
	users    UserLookup
	logger   *zap.Logger
	recorder DecisionRecorder
}

// NewAccessGate constructs the gate. recorder may be nil.
func NewAccessGate(tokens *TokenManager, revoked *RevocationStore, users UserLookup, logger *zap.Logger, recorder DecisionRecorder) *AccessGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGate{tokens: tokens, revoked: revoked, users: users, logger: logger, recorder: recorder}
}

// CanActivate evaluates authorization (the raw Authorization header) against
// access. A nil error admits the request; the principal is nil for public routes.
func (g *AccessGate) CanActivate(ctx context.Context, authorization string, access domain.RouteAccess) (*Principal, error) {
	if access.Public {
		g.record(OutcomePublic)
		return nil, nil
	}

	token := BearerToken(authorization)
	if token == "" {
		g.record(OutcomeMissing)
		return nil, apperrors.Wrap(ErrTokenInvalid, "UNAUTHORIZED", "missing bearer token", http.StatusUnauthorized)
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			g.record(OutcomeExpired)
			return nil, apperrors.Wrap(ErrTokenExpired, "TOKEN_EXPIRED", "session has expired", http.StatusForbidden)
		}
		g.record(OutcomeInvalid)
		return nil, apperrors.Wrap(ErrTokenInvalid, "UNAUTHORIZED", "invalid token", http.StatusUnauthorized)
	}

	revoked, err := g.revoked.IsRevoked(ctx, token)
	if err != nil {
		g.record(OutcomeUnavailable)
		g.logger.Error("revocation check failed; rejecting request", zap.String("user_id", claims.Subject), zap.Error(err))
		return nil, apperrors.NewUnavailable("AUTH_UNAVAILABLE", "authentication temporarily unavailable", err)
	}
	if revoked {
		g.record(OutcomeRevoked)
		return nil, apperrors.Wrap(ErrTokenRevoked, "UNAUTHORIZED", "session has been revoked", http.StatusUnauthorized)
	}

	principal := &Principal{Token: token, Claims: claims}

	if len(access.RequiredRoles) > 0 {
		user, err := g.checkRoles(ctx, claims, access.RequiredRoles)
		if err != nil {
			return nil, err
		}
		principal.User = user
	}

	g.record(OutcomeAdmitted)
	return principal, nil
}

// Middleware enforces access for a single route.
func (g *AccessGate) Middleware(access domain.RouteAccess) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, err := g.CanActivate(c.UserContext(), c.Get(fiber.HeaderAuthorization), access)
		if err != nil {
			return err
		}
		if principal != nil {
			c.Locals(principalKey, principal)
		}
		return c.Next()
	}
}

func (g *AccessGate) record(outcome string) {
	if g.recorder != nil {
		g.recorder.RecordGateDecision(outcome)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
