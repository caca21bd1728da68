package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/workspace-service/internal/domain"
	"github.com/spec-kit/workspace-service/internal/repository"
)

// UserLookup is the read side of user storage the auth code needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// CredentialValidator checks an email/password pair against the stored digest.
type CredentialValidator struct {
	users  UserLookup
	hasher Hasher

	dummyOnce   sync.Once
	dummyDigest string
}

// NewCredentialValidator constructs the validator.
func NewCredentialValidator(users UserLookup, hasher Hasher) *CredentialValidator {
	return &CredentialValidator{users: users, hasher: hasher}
}

// Validate returns the user owning email when password matches. It fails with
// ErrUserNotFound for an unknown email and ErrPasswordMismatch otherwise.
func (v *CredentialValidator) Validate(ctx context.Context, email, password string) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, ErrMissingInput
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a comparison so unknown emails cost the same as wrong passwords.
			_, _ = v.hasher.Compare(password, v.dummy())
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	ok, err := v.hasher.Compare(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPasswordMismatch
	}
	return user, nil
}

func (v *CredentialValidator) dummy() string {
	v.dummyOnce.Do(func() {
		v.dummyDigest, _ = v.hasher.Hash("workspace-service-dummy-password")
	})
	return v.dummyDigest
}
