package auth

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/domain"
	"github.com/spec-kit/workspace-service/internal/repository"
	apperrors "github.com/spec-kit/workspace-service/pkg/util/errorutil"
)

// checkRoles loads the caller's current roles and requires at least one of
// required. Roles are read fresh on every request rather than from the token,
// so a role change applies without re-login.
func (g *AccessGate) checkRoles(ctx context.Context, claims *Claims, required []domain.Role) (*domain.User, error) {
	user, err := g.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			g.record(OutcomeInvalid)
			return nil, apperrors.Wrap(ErrUserNotFound, "UNAUTHORIZED", "user not found", http.StatusUnauthorized)
		}
		g.record(OutcomeUnavailable)
		return nil, apperrors.MapError(err)
	}

	if !user.HasAnyRole(required...) {
		g.record(OutcomeForbidden)
		g.logger.Debug("role check failed",
			zap.String("user_id", user.ID),
			zap.Strings("required", domain.RoleNames(required)))
		return nil, apperrors.NewForbidden("insufficient role")
	}
	return user, nil
}
