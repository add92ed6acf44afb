package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/coursechat/internal/auth"
	"github.com/eldtechnologies/coursechat/internal/models"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAuth(t *testing.T) {
	secret := []byte("secret")
	token, err := auth.IssueToken(&models.User{ID: "u1", Name: "Grace", Type: models.UserStudent}, secret, time.Hour)
	require.NoError(t, err)

	var seen *auth.Identity
	h := NewAuthMiddleware(secret, zerolog.Nop()).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentityFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"header", "Bearer " + token, "", http.StatusOK},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK},
		{"query", "", "?token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/conversations"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, seen)
				require.Equal(t, "u1", seen.UserID)
				require.Equal(t, models.UserStudent, seen.UserType)
			} else {
				require.Nil(t, seen)
				require.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestIdentityContextHelpers(t *testing.T) {
	require.Nil(t, GetIdentityFromContext(context.Background()))
	ctx := WithIdentity(context.Background(), &auth.Identity{UserID: "u9"})
	require.Equal(t, "u9", GetIdentityFromContext(ctx).UserID)
}

func TestLocalRateLimit(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	rl.SetLimit("POST /auth/login", RateLimit{Requests: 3, Window: time.Minute})
	h := rl.Middleware(okHandler)

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		rec := do("10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := do("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other clients have their own bucket.
	require.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

func TestRateLimitWhitelistAndUnlimitedPaths(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"10.1.0.0/16", "127.0.0.2"}})
	rl.SetLimit("POST /auth/login", RateLimit{Requests: 1, Window: time.Minute})
	h := rl.Middleware(okHandler)

	for _, ip := range []string{"10.1.2.3", "127.0.0.2"} {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			req.RemoteAddr = ip + ":1"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	pattern, limit := rl.findLimit(httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", nil))
	require.Equal(t, "POST /conversations/", pattern)
	require.Equal(t, 120, limit.Requests)

	pattern, _ = rl.findLimit(httptest.NewRequest(http.MethodPost, "/conversations", nil))
	require.Equal(t, "POST /conversations", pattern)
}

func TestAutoBlockAfterRepeatedViolations(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{AutoBlockEnabled: true})
	rl.SetLimit("GET /users/", RateLimit{Requests: 1, Window: time.Hour})
	h := rl.Middleware(okHandler)

	var last int
	for i := 0; i < 12; i++ {
		req := httptest.NewRequest(http.MethodGet, "/users/u1", nil)
		req.RemoteAddr = "10.9.9.9:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	require.Equal(t, http.StatusForbidden, last)
	require.True(t, rl.blocker.IsBlocked(context.Background(), "10.9.9.9"))

	rl.blocker.Unblock(context.Background(), "10.9.9.9")
	require.False(t, rl.blocker.IsBlocked(context.Background(), "10.9.9.9"))
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	require.Equal(t, "192.0.2.1", RealIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, "198.51.100.7", RealIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", RealIP(req))
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/conversations/:id/messages", normalizePath("/conversations/0190a/messages"))
	require.Equal(t, "/conversations/:id/seen", normalizePath("/conversations/0190a/seen"))
	require.Equal(t, "/conversations/:id/*", normalizePath("/conversations/0190a/other"))
	require.Equal(t, "/conversations/:id", normalizePath("/conversations/0190a"))
	require.Equal(t, "/users/:id", normalizePath("/users/u1"))
	require.Equal(t, "/conversations", normalizePath("/conversations"))
	require.Equal(t, "/health", normalizePath("/health"))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	tests := []struct {
		name   string
		method string
		target string
		ctype  string
		body   string
		want   int
	}{
		{"plain text post", http.MethodPost, "/auth/login", "text/plain", `{}`, http.StatusUnsupportedMediaType},
		{"json post", http.MethodPost, "/auth/login", "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"empty post", http.MethodPost, "/auth/login", "", "", http.StatusOK},
		{"traversal", http.MethodGet, "/conversations/../stats", "", "", http.StatusBadRequest},
		{"double slash", http.MethodGet, "/conversations//messages", "", "", http.StatusBadRequest},
		{"long query", http.MethodGet, "/ws?token=" + strings.Repeat("a", maxQueryLength), "", "", http.StatusBadRequest},
		{"message query", http.MethodGet, "/conversations/c1/messages?limit=20&page=2", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, "/", body)
			req.URL.Path, req.URL.RawQuery, _ = strings.Cut(tt.target, "?")
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":"too long"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
	require.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	r := chi.NewRouter()
	r.Use(Logger(logger))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Zero(t, buf.Len(), "health polls log below info")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil))
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "/conversations/:id/messages", line["route"])
	require.EqualValues(t, http.StatusForbidden, line["status"])
}
