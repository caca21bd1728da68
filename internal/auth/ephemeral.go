package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/cache"
	"github.com/spec-kit/workspace-service/internal/domain"
)

const (
	verifyTokenPrefix = "verify:token:"
	verifyUserPrefix  = "verify:user:"
	resetTokenPrefix  = "reset:token:"
	resetEmailPrefix  = "reset:email:"

	issueAttempts = 3
)

// EphemeralConfig holds the lifetimes of single-use tokens.
type EphemeralConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	// Retention keeps expired entries around so a late confirmation is
	// reported as expired rather than unknown.
	Retention time.Duration
}

// EphemeralStore manages single-use expiring tokens for email verification and
// password reset.
//
// Verification tokens are one per user and re-issuing returns the live token
// unchanged. Reset tokens are keyed by email; re-issuing drops expired tokens
// for that email but leaves live ones valid, so an email may briefly hold more
// than one usable reset token.
type EphemeralStore struct {
	store    cache.Store
	cfg      EphemeralConfig
	now      func() time.Time
	newToken func() string
	logger   *zap.Logger
}

// NewEphemeralStore constructs the store.
func NewEphemeralStore(store cache.Store, cfg EphemeralConfig, logger *zap.Logger) *EphemeralStore {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 72 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EphemeralStore{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
		logger:   logger,
	}
}

// WithClock replaces the store's clock.
func (s *EphemeralStore) WithClock(now func() time.Time) *EphemeralStore {
	if now != nil {
		s.now = now
	}
	return s
}

// IssueVerification returns the live verification token of userID, minting
// and persisting a new one when none exists or the previous one expired.
func (s *EphemeralStore) IssueVerification(ctx context.Context, userID string) (domain.EphemeralToken, error) {
	userKey := verifyUserPrefix + userID

	for attempt := 0; attempt < issueAttempts; attempt++ {
		current, raw, err := s.loadRaw(ctx, userKey)
		switch {
		case err == nil && !current.Expired(s.now()):
			return current, nil
		case err == nil:
			if _, err := s.store.DeleteIfEquals(ctx, userKey, raw); err != nil {
				return domain.EphemeralToken{}, err
			}
			if err := s.store.Delete(ctx, verifyTokenPrefix+current.Token); err != nil {
				return domain.EphemeralToken{}, err
			}
		case !errors.Is(err, cache.ErrMiss):
			return domain.EphemeralToken{}, err
		}

		entry, won, err := s.claimVerification(ctx, userKey, userID)
		if err != nil {
			return domain.EphemeralToken{}, err
		}
		if won {
			s.logger.Debug("verification token issued", zap.String("user_id", userID))
			return entry, nil
		}
		// Another request claimed the user first; its token is read on the next pass.
	}
	return domain.EphemeralToken{}, fmt.Errorf("issue verification token for %s: owner key kept changing", userID)
}

// claimVerification persists a fresh token and tries to make it the user's
// current one. It reports false, leaving nothing behind, when another token
// holds the owner key.
func (s *EphemeralStore) claimVerification(ctx context.Context, userKey, userID string) (domain.EphemeralToken, bool, error) {
	entry := s.mint(domain.EphemeralVerification, userID, s.cfg.VerificationTTL)
	payload, err := json.Marshal(entry)
	if err != nil {
		return domain.EphemeralToken{}, false, err
	}
	keep := s.keep(s.cfg.VerificationTTL)

	tokenKey := verifyTokenPrefix + entry.Token
	if err := s.store.Set(ctx, tokenKey, string(payload), keep); err != nil {
		return domain.EphemeralToken{}, false, fmt.Errorf("store verification token: %w", err)
	}
	won, err := s.store.SetNX(ctx, userKey, string(payload), keep)
	if err != nil || !won {
		_ = s.store.Delete(ctx, tokenKey)
	}
	if err != nil {
		return domain.EphemeralToken{}, false, fmt.Errorf("store verification token: %w", err)
	}
	return entry, won, nil
}

// ConfirmVerification consumes token and passes the owning user id to apply.
// The token is removed whatever the outcome; it fails with ErrTokenNotFound for
// unknown or already used tokens and ErrTokenExpired for expired ones. When
// apply fails the token is put back so the user can retry.
//
// The owner key is released before the token is consumed, so a concurrent
// IssueVerification either sees the token while it is still unused or mints
// a new one.
func (s *EphemeralStore) ConfirmVerification(ctx context.Context, token string, apply func(ctx context.Context, userID string) error) (string, error) {
	if token == "" {
		return "", ErrTokenNotFound
	}
	tokenKey := verifyTokenPrefix + token

	issued, raw, err := s.loadRaw(ctx, tokenKey)
	if errors.Is(err, cache.ErrMiss) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	userKey := verifyUserPrefix + issued.Identifier
	if _, err := s.store.DeleteIfEquals(ctx, userKey, raw); err != nil {
		return "", err
	}

	entry, err := s.consume(ctx, tokenKey)
	if errors.Is(err, cache.ErrMiss) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}

	if entry.Expired(s.now()) {
		return "", ErrTokenExpired
	}

	if apply != nil {
		if err := apply(ctx, entry.Identifier); err != nil {
			s.restore(ctx, entry, tokenKey, userKey)
			return "", err
		}
	}
	return entry.Identifier, nil
}

// IssueReset mints a reset token for email. Expired tokens previously issued
// for the same email are purged; live ones are left untouched.
func (s *EphemeralStore) IssueReset(ctx context.Context, email string) (domain.EphemeralToken, error) {
	email = normalizeEmail(email)
	emailKey := resetEmailPrefix + email

	outstanding, err := s.store.SMembers(ctx, emailKey)
	if err != nil {
		return domain.EphemeralToken{}, err
	}
	var stale []string
	for _, token := range outstanding {
		entry, err := s.load(ctx, resetTokenPrefix+token)
		if errors.Is(err, cache.ErrMiss) {
			stale = append(stale, token)
			continue
		}
		if err != nil {
			return domain.EphemeralToken{}, err
		}
		if entry.Expired(s.now()) {
			if err := s.store.Delete(ctx, resetTokenPrefix+token); err != nil {
				return domain.EphemeralToken{}, err
			}
			stale = append(stale, token)
		}
	}
	if err := s.store.SRem(ctx, emailKey, stale...); err != nil {
		return domain.EphemeralToken{}, err
	}

	entry := s.mint(domain.EphemeralReset, email, s.cfg.ResetTTL)
	payload, err := json.Marshal(entry)
	if err != nil {
		return domain.EphemeralToken{}, err
	}
	keep := s.keep(s.cfg.ResetTTL)

	if err := s.store.Set(ctx, resetTokenPrefix+entry.Token, string(payload), keep); err != nil {
		return domain.EphemeralToken{}, fmt.Errorf("store reset token: %w", err)
	}
	if err := s.store.SAdd(ctx, emailKey, entry.Token); err != nil {
		return domain.EphemeralToken{}, fmt.Errorf("index reset token: %w", err)
	}
	if err := s.store.Expire(ctx, emailKey, keep); err != nil {
		return domain.EphemeralToken{}, fmt.Errorf("index reset token: %w", err)
	}
	return entry, nil
}

// ConfirmReset consumes token and hands the owning email to apply, which
// performs the credential update. Unknown tokens fail with ErrTokenInvalid and
// expired ones with ErrTokenExpired; apply is not called in either case.
func (s *EphemeralStore) ConfirmReset(ctx context.Context, token string, apply func(ctx context.Context, email string) error) error {
	if token == "" {
		return ErrTokenInvalid
	}
	tokenKey := resetTokenPrefix + token

	entry, err := s.consume(ctx, tokenKey)
	if errors.Is(err, cache.ErrMiss) {
		return ErrTokenInvalid
	}
	if err != nil {
		return err
	}

	emailKey := resetEmailPrefix + entry.Identifier
	if err := s.store.SRem(ctx, emailKey, entry.Token); err != nil {
		s.logger.Warn("unindex reset token", zap.Error(err))
	}

	if entry.Expired(s.now()) {
		return ErrTokenExpired
	}

	if err := apply(ctx, entry.Identifier); err != nil {
		s.restore(ctx, entry, tokenKey, "")
		if err := s.store.SAdd(ctx, emailKey, entry.Token); err != nil {
			s.logger.Warn("reindex reset token", zap.Error(err))
		}
		return err
	}
	return nil
}

func (s *EphemeralStore) mint(kind domain.EphemeralKind, identifier string, ttl time.Duration) domain.EphemeralToken {
	return domain.EphemeralToken{
		Kind:       kind,
		Identifier: identifier,
		Token:      s.newToken(),
		ExpiresAt:  s.now().Add(ttl),
	}
}

func (s *EphemeralStore) keep(ttl time.Duration) time.Duration {
	return ttl + s.cfg.Retention
}

func (s *EphemeralStore) load(ctx context.Context, key string) (domain.EphemeralToken, error) {
	entry, _, err := s.loadRaw(ctx, key)
	return entry, err
}

func (s *EphemeralStore) loadRaw(ctx context.Context, key string) (domain.EphemeralToken, string, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return domain.EphemeralToken{}, "", err
	}
	entry, err := decodeEntry(raw)
	return entry, raw, err
}

func (s *EphemeralStore) consume(ctx context.Context, key string) (domain.EphemeralToken, error) {
	raw, err := s.store.GetDel(ctx, key)
	if err != nil {
		return domain.EphemeralToken{}, err
	}
	return decodeEntry(raw)
}

func (s *EphemeralStore) restore(ctx context.Context, entry domain.EphemeralToken, tokenKey, ownerKey string) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	keep := entry.ExpiresAt.Sub(s.now()) + s.cfg.Retention
	if keep <= 0 {
		return
	}
	if err := s.store.Set(ctx, tokenKey, string(payload), keep); err != nil {
		s.logger.Warn("restore ephemeral token", zap.String("kind", string(entry.Kind)), zap.Error(err))
		return
	}
	if ownerKey != "" {
		if _, err := s.store.SetNX(ctx, ownerKey, string(payload), keep); err != nil {
			s.logger.Warn("restore ephemeral owner", zap.Error(err))
		}
	}
}

func decodeEntry(raw string) (domain.EphemeralToken, error) {
	var entry domain.EphemeralToken
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return domain.EphemeralToken{}, fmt.Errorf("decode ephemeral token: %w", err)
	}
	return entry, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
