package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/workspace-service/internal/api/http/handlers"
	"github.com/spec-kit/workspace-service/internal/auth"
	"github.com/spec-kit/workspace-service/internal/cache"
	"github.com/spec-kit/workspace-service/internal/domain"
	"github.com/spec-kit/workspace-service/internal/mail"
	"github.com/spec-kit/workspace-service/internal/observability"
	"github.com/spec-kit/workspace-service/internal/repository"
	"github.com/spec-kit/workspace-service/internal/service"
)

type stubUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (s *stubUsers) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email || u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return s.find(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *stubUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return s.find(func(u *domain.User) bool { return u.Username == username })
}

func (s *stubUsers) UpdatePassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *stubUsers) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	u.EmailVerifiedAt = &now
	return nil
}

func (s *stubUsers) find(match func(*domain.User) bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubUsers) promote(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			u.Roles = []domain.Role{domain.RoleUser, domain.RoleAdmin}
		}
	}
}

type capturingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (s *capturingSender) Send(_ context.Context, msg mail.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return true
}

func (s *capturingSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	text := s.sent[len(s.sent)-1].Text
	idx := strings.Index(text, "token=")
	require.GreaterOrEqual(t, idx, 0)
	return text[idx+len("token="):]
}

type testServer struct {
	app    *fiber.App
	users  *stubUsers
	mailer *capturingSender
	redis  *miniredis.Miniredis
	now    time.Time
	mu     sync.Mutex
}

func (s *testServer) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func newTestServer(t *testing.T, authRPM int) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, time.Second)

	srv := &testServer{
		users:  &stubUsers{users: map[string]*domain.User{}},
		mailer: &capturingSender{},
		redis:  mr,
		now:    time.Now().UTC().Truncate(time.Second),
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager("secret", time.Hour, auth.WithClock(srv.clock))
	revocations := auth.NewRevocationStore(store, logger)
	ephemeral := auth.NewEphemeralStore(store, auth.EphemeralConfig{
		VerificationTTL: 72 * time.Hour,
		ResetTTL:        15 * time.Minute,
		Retention:       24 * time.Hour,
	}, logger).WithClock(srv.clock)

	sessions := service.NewSessionService(service.SessionDependencies{
		Users:       srv.users,
		Hasher:      auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:      tokens,
		Revocations: revocations,
		Ephemeral:   ephemeral,
		Mailer:      srv.mailer,
		Composer:    mail.Composer{From: mail.Address{Email: "noreply@example.com"}, PublicURL: "http://localhost:3000", ResetPath: "reset-password"},
		Logger:      logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:      handlers.NewHealthHandler("workspace-service", "test", map[string]handlers.Pinger{}),
		Auth:        handlers.NewAuthHandler(sessions, handlers.NewBinder()),
		Users:       handlers.NewUsersHandler(sessions),
		Gate:        auth.NewAccessGate(tokens, revocations, srv.users, logger, metrics),
		Metrics:     metrics,
		AuthRateRPM: authRPM,
	})
	srv.app = app
	return srv
}

type apiError struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type sessionBody struct {
	Data struct {
		User struct {
			ID    string   `json:"id"`
			Email string   `json:"email"`
			Roles []string `json:"roles"`
		} `json:"user"`
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	} `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body apiError
	decode(t, resp, &body)
	return body.Error.Code
}

func (s *testServer) register(t *testing.T, username, email string) sessionBody {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": "pw123456",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body sessionBody
	decode(t, resp, &body)
	return body
}

func TestRouter_RegisterLoginMeLogout(t *testing.T) {
	srv := newTestServer(t, 100)
	registered := srv.register(t, "alice", "a@x.com")
	assert.Equal(t, []string{"USER"}, registered.Data.User.Roles)

	resp := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "pw123456"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login sessionBody
	decode(t, resp, &login)
	token := login.Data.Auth.Token
	require.NotEmpty(t, token)

	resp = srv.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, resp))

	resp = srv.do(t, http.MethodGet, "/api/v1/users/me", registered.Data.Auth.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "registration session is unaffected")
}

func TestRouter_LoginFailures(t *testing.T) {
	srv := newTestServer(t, 100)
	srv.register(t, "alice", "a@x.com")

	resp := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, resp))

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body apiError
	decode(t, resp, &body)
	assert.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	assert.Equal(t, "email", body.Error.Details["email"])
}

func TestRouter_RegisterConflict(t *testing.T) {
	srv := newTestServer(t, 100)
	srv.register(t, "bob", "bob@x.com")

	resp := srv.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "bobby",
		"email":    "bob@x.com",
		"password": "pw123456",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_EXISTS", errorCode(t, resp))
}

func TestRouter_ExpiredTokenIsForbidden(t *testing.T) {
	srv := newTestServer(t, 100)
	session := srv.register(t, "alice", "a@x.com")

	srv.advance(61 * time.Minute)
	resp := srv.do(t, http.MethodGet, "/api/v1/users/me", session.Data.Auth.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, resp))
}

func TestRouter_MissingTokenIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_AdminRoute(t *testing.T) {
	srv := newTestServer(t, 100)
	alice := srv.register(t, "alice", "a@x.com")
	admin := srv.register(t, "root", "root@x.com")

	path := "/api/v1/users/" + alice.Data.User.ID
	resp := srv.do(t, http.MethodGet, path, alice.Data.Auth.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(t, resp))

	srv.users.promote("root@x.com")
	resp = srv.do(t, http.MethodGet, path, admin.Data.Auth.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "role change applies without re-login")
}

func TestRouter_RevocationStoreDown(t *testing.T) {
	srv := newTestServer(t, 100)
	session := srv.register(t, "alice", "a@x.com")
	srv.redis.Close()

	resp := srv.do(t, http.MethodGet, "/api/v1/users/me", session.Data.Auth.Token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "AUTH_UNAVAILABLE", errorCode(t, resp))
}

func TestRouter_PasswordResetFlow(t *testing.T) {
	srv := newTestServer(t, 100)
	srv.register(t, "alice", "a@x.com")

	resp := srv.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	token := srv.mailer.lastToken(t)

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{"email": "ghost@x.com"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "unknown emails look the same")

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/reset-password/confirm", "", map[string]string{"token": token, "new_password": "brand-new"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "brand-new"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/reset-password/confirm", "", map[string]string{"token": token, "new_password": "again-new"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, resp))
}

func TestRouter_ExpiredResetToken(t *testing.T) {
	srv := newTestServer(t, 100)
	srv.register(t, "alice", "a@x.com")

	srv.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", map[string]string{"email": "a@x.com"})
	token := srv.mailer.lastToken(t)

	srv.advance(16 * time.Minute)
	resp := srv.do(t, http.MethodPost, "/api/v1/auth/reset-password/confirm", "", map[string]string{"token": token, "new_password": "brand-new"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "TOKEN_EXPIRED", errorCode(t, resp))
}

func TestRouter_VerificationFlow(t *testing.T) {
	srv := newTestServer(t, 100)
	session := srv.register(t, "alice", "a@x.com")
	token := session.Data.Auth.Token

	resp := srv.do(t, http.MethodPost, "/api/v1/auth/verify-email", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verifyToken := srv.mailer.lastToken(t)

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/resend-email", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, verifyToken, srv.mailer.lastToken(t))

	resp = srv.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+verifyToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+verifyToken, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TOKEN_NOT_FOUND", errorCode(t, resp))

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/verify-email", token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_VERIFIED", errorCode(t, resp))
}

func TestRouter_ChangePassword(t *testing.T) {
	srv := newTestServer(t, 100)
	session := srv.register(t, "alice", "a@x.com")
	token := session.Data.Auth.Token

	resp := srv.do(t, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{"old_password": "pw123456", "new_password": "pw123456"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "SAME_PASSWORD", errorCode(t, resp))

	resp = srv.do(t, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{"old_password": "pw123456", "new_password": "changed!"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	srv := newTestServer(t, 2)
	body := map[string]string{"email": "a@x.com", "password": "x"}

	for i := 0; i < 2; i++ {
		resp := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
	}
	resp := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestRouter_UnknownRoute(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, 100)

	resp := srv.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	resp = srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `auth_gate_decisions_total{outcome="missing_token"} 1`)
}
