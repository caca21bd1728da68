package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/auth"
	"github.com/spec-kit/workspace-service/internal/domain"
	"github.com/spec-kit/workspace-service/internal/events"
	"github.com/spec-kit/workspace-service/internal/mail"
	"github.com/spec-kit/workspace-service/internal/repository"
)

// Session is the result of a successful login or registration.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// RegisterInput carries a new account's details.
type RegisterInput struct {
	Username string
	Name     string
	Email    string
	Password string
}

// SessionService coordinates login, logout, registration and the password
// and email confirmation flows.
type SessionService struct {
	users       repository.UserRepository
	credentials *auth.CredentialValidator
	hasher      auth.Hasher
	tokens      *auth.TokenManager
	revocations *auth.RevocationStore
	ephemeral   *auth.EphemeralStore
	mailer      mail.Sender
	composer    mail.Composer
	dispatcher  events.Dispatcher
	logger      *zap.Logger
}

// SessionDependencies encapsulates collaborators of the session service.
type SessionDependencies struct {
	Users       repository.UserRepository
	Hasher      auth.Hasher
	Tokens      *auth.TokenManager
	Revocations *auth.RevocationStore
	Ephemeral   *auth.EphemeralStore
	Mailer      mail.Sender
	Composer    mail.Composer
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// NewSessionService builds the service.
func NewSessionService(deps SessionDependencies) *SessionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		users:       deps.Users,
		credentials: auth.NewCredentialValidator(deps.Users, deps.Hasher),
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		revocations: deps.Revocations,
		ephemeral:   deps.Ephemeral,
		mailer:      deps.Mailer,
		composer:    deps.Composer,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
	}
}

// Login authenticates by email and password. Unknown emails and wrong
// passwords both fail with auth.ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.credentials.Validate(ctx, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}

	session, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventUserLoggedIn, user.ID, events.LoginPayload{Email: user.Email, ExpiresAt: session.ExpiresAt})
	return session, nil
}

// Logout revokes token for the rest of its lifetime. Already expired tokens
// need no revocation and succeed without writing anything.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return err
	}

	ttl := s.tokens.Remaining(claims)
	if err := s.revocations.Revoke(ctx, token, ttl); err != nil {
		return err
	}
	s.publish(ctx, events.EventUserLoggedOut, claims.Subject, events.LogoutPayload{RevokedFor: ttl})
	return nil
}

// Register creates an account with the USER role and logs it in.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if in.Email == "" || in.Username == "" || in.Password == "" {
		return nil, auth.ErrMissingInput
	}

	if err := s.ensureUnique(ctx, in.Email, in.Username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        []domain.Role{domain.RoleUser},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, auth.ErrAlreadyExists
		}
		return nil, err
	}

	session, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventUserRegistered, user.ID, events.RegisteredPayload{Username: user.Username, Email: user.Email})
	return session, nil
}

// ChangePassword replaces the caller's password after checking the current
// one. The new password must differ from the current one.
func (s *SessionService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if userID == "" || oldPassword == "" || newPassword == "" {
		return auth.ErrMissingInput
	}

	user, err := s.lookupByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Compare(oldPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ErrPasswordMismatch
	}
	if newPassword == oldPassword {
		return auth.ErrSamePassword
	}

	if err := s.updatePassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	s.publish(ctx, events.EventPasswordChanged, user.ID, nil)
	return nil
}

// SendResetEmail issues a reset token for email and mails it. It reports
// false for any failure, including unknown emails, and logs the reason.
func (s *SessionService) SendResetEmail(ctx context.Context, email string) bool {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		s.logger.Info("password reset requested for unknown email", zap.Error(err))
		return false
	}

	token, err := s.ephemeral.IssueReset(ctx, user.Email)
	if err != nil {
		s.logger.Error("issue reset token", zap.String("user_id", user.ID), zap.Error(err))
		return false
	}

	msg := s.composer.PasswordReset(mail.Address{Name: user.Name, Email: user.Email}, token.Token)
	if !s.mailer.Send(ctx, msg) {
		s.logger.Warn("reset email rejected", zap.String("user_id", user.ID))
		return false
	}
	return true
}

// ConfirmReset consumes a reset token and sets newPassword on its owner.
func (s *SessionService) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return auth.ErrMissingInput
	}

	var userID string
	err := s.ephemeral.ConfirmReset(ctx, token, func(ctx context.Context, email string) error {
		user, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return auth.ErrUserNotFound
			}
			return err
		}
		userID = user.ID
		return s.updatePassword(ctx, user.ID, newPassword)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.EventPasswordReset, userID, nil)
	return nil
}

// SendVerification mails the verification link to userID. Repeated calls
// reuse the live token. Users that are unknown or already verified fail
// with an error; a rejected message reports false.
func (s *SessionService) SendVerification(ctx context.Context, userID string) (bool, error) {
	return s.sendVerification(ctx, userID, false)
}

// ResendVerification mails the verification link again. It behaves like
// SendVerification and exists for the separate resend endpoint.
func (s *SessionService) ResendVerification(ctx context.Context, userID string) (bool, error) {
	return s.sendVerification(ctx, userID, true)
}

// ConfirmVerification consumes a verification token and marks its owner's
// email verified. It returns the user id.
func (s *SessionService) ConfirmVerification(ctx context.Context, token string) (string, error) {
	userID, err := s.ephemeral.ConfirmVerification(ctx, token, func(ctx context.Context, userID string) error {
		if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return auth.ErrUserNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, events.EventEmailVerified, userID, nil)
	return userID, nil
}

// Profile returns the user identified by userID.
func (s *SessionService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.lookupByID(ctx, userID)
}

func (s *SessionService) sendVerification(ctx context.Context, userID string, resend bool) (bool, error) {
	user, err := s.lookupByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.EmailVerified() {
		return false, auth.ErrAlreadyVerified
	}

	token, err := s.ephemeral.IssueVerification(ctx, user.ID)
	if err != nil {
		return false, err
	}

	msg := s.composer.EmailVerification(mail.Address{Name: user.Name, Email: user.Email}, token.Token)
	if !s.mailer.Send(ctx, msg) {
		s.logger.Warn("verification email rejected", zap.String("user_id", user.ID), zap.Bool("resend", resend))
		return false, nil
	}
	return true, nil
}

func (s *SessionService) ensureUnique(ctx context.Context, email, username string) error {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return fmt.Errorf("email %w", auth.ErrAlreadyExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return fmt.Errorf("username %w", auth.ErrAlreadyExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

func (s *SessionService) lookupByID(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *SessionService) updatePassword(ctx context.Context, userID, plain string) error {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return auth.ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *SessionService) issue(user *domain.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *SessionService) publish(ctx context.Context, eventType events.EventType, userID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish session event", zap.String("type", string(eventType)), zap.Error(err))
	}
}
