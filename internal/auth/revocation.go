package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/workspace-service/internal/cache"
)

const revokedKeyPrefix = "revoked:"

// RevocationStore is the set of logged-out tokens. Each token is its own
// cache entry with a TTL, so concurrent revocations never overwrite each other
// and no entry outlives the token it revokes.
type RevocationStore struct {
	store  cache.Store
	logger *zap.Logger
}

// NewRevocationStore constructs a store over the shared cache.
func NewRevocationStore(store cache.Store, logger *zap.Logger) *RevocationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationStore{store: store, logger: logger}
}

// Revoke marks token as revoked for ttl. A non-positive ttl means the token is
// already dead by its own expiry and nothing is written.
func (r *RevocationStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.store.Set(ctx, revokedKey(token), "1", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	r.logger.Debug("token revoked", zap.Duration("ttl", ttl))
	return nil
}

// IsRevoked reports whether token was revoked. Lookup failures are returned as
// ErrRevocationUnavailable together with true, so a careless caller still
// fails closed.
func (r *RevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	ok, err := r.store.Exists(ctx, revokedKey(token))
	if err != nil {
		r.logger.Warn("revocation lookup failed", zap.Error(err))
		return true, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return ok, nil
}

func revokedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + hex.EncodeToString(sum[:])
}
