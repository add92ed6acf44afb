package middleware

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/eldtechnologies/coursechat/internal/metrics"
)

// maxQueryLength bounds the raw query string. The longest legitimate query
// is a socket upgrade carrying its token.
const maxQueryLength = 2048

// SecurityHeaders sets the headers for a JSON-only API. Responses carry
// private conversations, so nothing is cached.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits request body size.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequest rejects requests no route can serve: non-JSON POST
// bodies, malformed paths and oversized queries.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength != 0 {
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				jsonError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
				return
			}
		}

		if reason := badTarget(r); reason != "" {
			metrics.BlockedRequests.WithLabelValues(reason).Inc()
			jsonError(w, http.StatusBadRequest, "invalid request")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// badTarget names what is wrong with the request target, or returns "".
func badTarget(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.Contains(path, "..") || strings.Contains(path, "//"):
		return "path_traversal"
	case strings.IndexFunc(path, unicode.IsControl) >= 0:
		return "control_chars"
	case len(r.URL.RawQuery) > maxQueryLength:
		return "query_too_long"
	}
	return ""
}
