package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/logging"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/liamwears/reelstream/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newGate(t *testing.T) (*auth.Gate, *auth.TokenIssuer, *testutil.Revocations) {
	t.Helper()
	tokens := auth.NewTokenIssuer(testSecret, time.Hour)
	revoked := testutil.NewRevocations()
	return auth.NewGate(tokens, revoked), tokens, revoked
}

func issue(t *testing.T, tokens *auth.TokenIssuer, role models.Role) string {
	t.Helper()
	token, _, err := tokens.Issue(&models.Account{ID: uuid.New(), Username: "nova", Role: role})
	require.NoError(t, err)
	return token
}

// echoLevel writes the caller level so tests can see what reached the handler.
var echoLevel = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(IdentityFromContext(r.Context()).Level().String()))
})

func TestRequireLevel(t *testing.T) {
	gate, tokens, revoked := newGate(t)
	m := NewAuthMiddleware(gate)
	admin := m.RequireLevel(auth.LevelAdmin)(echoLevel)

	revokedToken, claims, err := tokens.Issue(&models.Account{ID: uuid.New(), Username: "gone", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, revoked.Revoke(t.Context(), claims.ID, claims.ExpiresAt.Time))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + issue(t, tokens, models.RoleAdmin), http.StatusUnauthorized},
		{"revoked", "Bearer " + revokedToken, http.StatusUnauthorized},
		{"user role", "Bearer " + issue(t, tokens, models.RoleUser), http.StatusForbidden},
		{"admin", "Bearer " + issue(t, tokens, models.RoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/movies", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			admin.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "admin", rr.Body.String())
			} else {
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
				assert.Contains(t, rr.Body.String(), `"error"`)
			}
		})
	}
}

func TestResolve_NeverRejects(t *testing.T) {
	gate, tokens, _ := newGate(t)
	h := NewAuthMiddleware(gate).Resolve(echoLevel)

	tests := []struct {
		header string
		want   string
	}{
		{"", "anonymous"},
		{"Bearer junk", "anonymous"},
		{"Bearer " + issue(t, tokens, models.RoleUser), "user"},
	}

	for _, tt := range tests {
		header, want := tt.header, tt.want
		req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, want, rr.Body.String(), "header %q", header)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(echoLevel)

	req := httptest.NewRequest(http.MethodOptions, "/api/movies", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gate, tokens, _ := newGate(t)
	rl := NewRateLimiter(client, gate, 2, time.Minute, true, logging.Discard())
	h := rl.Limit(echoLevel)

	call := func(remote, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
		req.RemoteAddr = remote
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:5678", ""))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:9999", ""))

	// Other clients and authenticated accounts have their own windows.
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1234", ""))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234", issue(t, tokens, models.RoleUser)))
}

func TestRateLimiter_DisabledAndFailOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	disabled := NewRateLimiter(client, nil, 0, time.Minute, false, logging.Discard()).Limit(echoLevel)
	rr := httptest.NewRecorder()
	disabled.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	mr.Close()
	failing := NewRateLimiter(client, nil, 1, time.Minute, true, logging.Discard()).Limit(echoLevel)
	rr = httptest.NewRecorder()
	failing.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := RequestLogger(logrus.NewEntry(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/movies/x", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Equal(t, "/api/movies/x", entry.Data["path"])
	assert.Equal(t, "203.0.113.7", entry.Data["remote_addr"])
}
