package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordMismatch is an ErrInvalidCredentials caused by a digest mismatch.
	ErrPasswordMismatch = fmt.Errorf("%w: password does not match", ErrInvalidCredentials)
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyExists    = errors.New("already exists")

	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("token invalid")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenRevoked  = errors.New("token revoked")

	ErrSamePassword    = errors.New("new password must differ from the current one")
	ErrAlreadyVerified = errors.New("email already verified")
	ErrMissingInput    = errors.New("missing required input")

	// ErrRevocationUnavailable means the revocation state could not be read.
	// Callers must reject the request.
	ErrRevocationUnavailable = errors.New("revocation store unavailable")
)
