package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/otpgate/adapters/identity"
	"github.com/layer-3/otpgate/adapters/store"
	"github.com/layer-3/otpgate/adapters/tokenizer"
	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/internal/metrics"
	"github.com/layer-3/otpgate/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type codeNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *codeNotifier) Send(ctx context.Context, identity, template string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[identity], _ = data["otp"].(string)
	return nil
}

func (n *codeNotifier) code(identity string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[identity]
}

type discardPublisher struct{}

func (discardPublisher) Publish(ctx context.Context, event core.Event) error { return nil }

type testServer struct {
	router   *gin.Engine
	notifier *codeNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	opts := service.Options{Metrics: metrics.New(reg)}
	policy := service.DefaultPolicy()

	challengeStore := store.NewMemoryStore()
	notifier := &codeNotifier{codes: make(map[string]string)}
	tok, err := tokenizer.NewJWTTokenizer([]byte("access-secret"), []byte("refresh-secret"), time.Now)
	require.NoError(t, err)

	limiter := service.NewRateLimiter(challengeStore, policy, opts)
	auth := service.NewAuthService(
		service.NewChallengeService(challengeStore, limiter, notifier, policy, opts),
		service.NewTokenService(tok, 15*time.Minute, 7*24*time.Hour, opts),
		identity.NewMemoryStore(),
		identity.NewBcryptHasher(bcrypt.MinCost),
		challengeStore,
		discardPublisher{},
		policy,
		"Acme",
		opts,
	)

	router := SetupRouter(auth, RouterConfig{
		Cookies: CookieConfig{Secure: true, AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{router: router, notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var signup = map[string]string{
	"name":     "Ada",
	"email":    "ada@example.com",
	"password": "correct horse",
}

func (s *testServer) registerUser(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/user-registration", signup)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := map[string]string{"otp": s.notifier.code(signup["email"])}
	for k, v := range signup {
		body[k] = v
	}
	rec = s.do(t, http.MethodPost, "/auth/verify-user", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/auth/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegistrationEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/user-registration", map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/user-registration", signup)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/user-registration", signup)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "cooldown-active", decode(t, rec)["reason"])

	wrong := map[string]string{"otp": "bad"}
	for k, v := range signup {
		wrong[k] = v
	}
	rec = s.do(t, http.MethodPost, "/auth/verify-user", wrong)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["remaining_attempts"])

	rec = s.do(t, http.MethodPost, "/auth/verify-user", wrong)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDuplicateRegistration(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t)

	rec := s.do(t, http.MethodPost, "/auth/user-registration", signup)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginAndSession(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t)

	rec := s.do(t, http.MethodPost, "/auth/login-user", map[string]string{"email": signup["email"], "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login-user", map[string]string{"email": signup["email"], "password": signup["password"]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	access := cookieNamed(rec, "access_token")
	refresh := cookieNamed(rec, "refresh_token")
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteNoneMode, access.SameSite)
	assert.Equal(t, 15*60, access.MaxAge)
	assert.Equal(t, 7*24*60*60, refresh.MaxAge)

	t.Run("cookie", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/auth/logged-in-user", nil, access)
		require.Equal(t, http.StatusOK, rec.Code)
		user, ok := decode(t, rec)["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, signup["email"], user["email"])
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/logged-in-user", nil)
		req.Header.Set("Authorization", "Bearer "+access.Value)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no token", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/auth/logged-in-user", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/auth/logged-in-seller", nil, access)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("refresh", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/auth/refresh-token-user", nil, refresh)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotEmpty(t, decode(t, rec)["access_token"])
		assert.NotNil(t, cookieNamed(rec, "access_token"))
	})

	t.Run("refresh from body", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/auth/refresh-token-user", map[string]string{"refresh_token": refresh.Value})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("refresh other role", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/auth/refresh-token-seller", nil, refresh)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("refresh with access token", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/auth/refresh-token-user", map[string]string{"refresh_token": access.Value})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.registerUser(t)
	email := signup["email"]

	rec := s.do(t, http.MethodPost, "/auth/forgot-password-user", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/reset-password-user", map[string]string{"email": email, "password": "new password"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/forgot-password-user", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/verify-forgot-password-user", map[string]string{"email": email, "otp": s.notifier.code(email)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/reset-password-user", map[string]string{"email": email, "password": signup["password"]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/reset-password-user", map[string]string{"email": email, "password": "new password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/login-user", map[string]string{"email": email, "password": "new password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerificationEndpoints(t *testing.T) {
	s := newTestServer(t)
	email := "grace@example.com"

	rec := s.do(t, http.MethodPost, "/auth/request-verification", map[string]string{"email": email, "name": "Grace"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/confirm-verification", map[string]string{"email": email, "otp": s.notifier.code(email)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/confirm-verification", map[string]string{"email": email, "otp": s.notifier.code(email)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/auth/request-verification", map[string]string{"email": "grace@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "otpgate_challenges_issued_total")
}
