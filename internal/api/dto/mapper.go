package dto

import "github.com/spec-kit/workspace-service/internal/domain"

// UserFromDomain converts a domain user to its response view.
func UserFromDomain(u *domain.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		Name:          u.Name,
		Email:         u.Email,
		Roles:         domain.RoleNames(u.Roles),
		EmailVerified: u.EmailVerified(),
		VerifiedAt:    u.EmailVerifiedAt,
		CreatedAt:     u.CreatedAt,
	}
}
