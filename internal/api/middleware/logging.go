package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// pollPaths are hit by health checks and scrapers; successful calls log at debug.
var pollPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Logger writes one zerolog line per request. A websocket is logged once,
// when it closes, with how long it stayed open.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				event := requestEvent(logger, r.URL.Path, status).
					Str("method", r.Method).
					Str("route", normalizePath(r.URL.Path)).
					Int("status", status).
					Str("request_id", middleware.GetReqID(r.Context()))

				if status == http.StatusSwitchingProtocols {
					event.Dur("open_for", time.Since(start)).Msg("socket closed")
					return
				}
				event.
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func requestEvent(logger zerolog.Logger, path string, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error()
	case status >= 400:
		return logger.Warn()
	case pollPaths[path]:
		return logger.Debug()
	default:
		return logger.Info()
	}
}
