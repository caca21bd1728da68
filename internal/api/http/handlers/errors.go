package handlers

import (
	"errors"
	"net/http"

	"github.com/spec-kit/workspace-service/internal/auth"
	apperrors "github.com/spec-kit/workspace-service/pkg/util/errorutil"
)

// mapAuthError turns session errors into HTTP-facing errors. Unknown errors
// pass through and surface as 500s.
func mapAuthError(err error) error {
	var domainErr *apperrors.DomainError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apperrors.Wrap(err, "INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrAlreadyExists):
		return apperrors.Wrap(err, "ALREADY_EXISTS", "email or username already registered", http.StatusConflict)
	case errors.Is(err, auth.ErrUserNotFound):
		return apperrors.Wrap(err, "NOT_FOUND", "user not found", http.StatusNotFound)
	case errors.Is(err, auth.ErrTokenExpired):
		return apperrors.Wrap(err, "TOKEN_EXPIRED", "token has expired", http.StatusForbidden)
	case errors.Is(err, auth.ErrTokenNotFound):
		return apperrors.Wrap(err, "TOKEN_NOT_FOUND", "token not found", http.StatusNotFound)
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrTokenRevoked):
		return apperrors.Wrap(err, "TOKEN_INVALID", "token is invalid", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrSamePassword):
		return apperrors.Wrap(err, "SAME_PASSWORD", err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrAlreadyVerified):
		return apperrors.Wrap(err, "ALREADY_VERIFIED", "email already verified", http.StatusConflict)
	case errors.Is(err, auth.ErrMissingInput):
		return apperrors.Wrap(err, "VALIDATION_FAILED", "missing required input", http.StatusBadRequest)
	case errors.Is(err, auth.ErrRevocationUnavailable):
		return apperrors.NewUnavailable("AUTH_UNAVAILABLE", "authentication temporarily unavailable", err)
	}
	return apperrors.NewInternalError(err)
}
