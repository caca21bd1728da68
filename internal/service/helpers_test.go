package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/workspace-service/internal/auth"
	"github.com/spec-kit/workspace-service/internal/cache"
	"github.com/spec-kit/workspace-service/internal/domain"
	"github.com/spec-kit/workspace-service/internal/events"
	"github.com/spec-kit/workspace-service/internal/mail"
	"github.com/spec-kit/workspace-service/internal/repository"
)

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[string]*domain.User{}}
}

func (r *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) || u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memoryUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username })
}

func (r *memoryUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (r *memoryUserRepo) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	u.EmailVerifiedAt = &now
	return nil
}

func (r *memoryUserRepo) find(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memoryUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

type recordingSender struct {
	mu     sync.Mutex
	accept bool
	sent   []mail.Message
}

func (s *recordingSender) Send(_ context.Context, msg mail.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.accept
}

func (s *recordingSender) last() mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sessionFixture struct {
	svc        *SessionService
	users      *memoryUserRepo
	mailer     *recordingSender
	tokens     *auth.TokenManager
	gate       *auth.AccessGate
	clock      *testClock
	dispatcher events.Dispatcher
	redis      *miniredis.Miniredis
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, time.Second)

	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	users := newMemoryUserRepo()
	mailer := &recordingSender{accept: true}
	tokens := auth.NewTokenManager("secret", time.Hour, auth.WithClock(clock.Now))
	revocations := auth.NewRevocationStore(store, nil)
	ephemeral := auth.NewEphemeralStore(store, auth.EphemeralConfig{
		VerificationTTL: 72 * time.Hour,
		ResetTTL:        15 * time.Minute,
		Retention:       24 * time.Hour,
	}, nil).WithClock(clock.Now)
	dispatcher := events.NewInMemoryDispatcher()

	svc := NewSessionService(SessionDependencies{
		Users:       users,
		Hasher:      auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:      tokens,
		Revocations: revocations,
		Ephemeral:   ephemeral,
		Mailer:      mailer,
		Composer:    mail.Composer{From: mail.Address{Name: "Workspace", Email: "noreply@example.com"}, PublicURL: "https://app.example.com", ResetPath: "reset-password"},
		Dispatcher:  dispatcher,
	})

	return &sessionFixture{
		svc:        svc,
		users:      users,
		mailer:     mailer,
		tokens:     tokens,
		gate:       auth.NewAccessGate(tokens, revocations, users, nil, nil),
		clock:      clock,
		dispatcher: dispatcher,
		redis:      mr,
	}
}

func (f *sessionFixture) register(t *testing.T, username, email, password string) *Session {
	t.Helper()
	session, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Name:     username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return session
}

func tokenFromLink(t *testing.T, msg mail.Message) string {
	t.Helper()
	idx := strings.Index(msg.Text, "token=")
	require.GreaterOrEqual(t, idx, 0, "message carries no token link")
	return msg.Text[idx+len("token="):]
}
