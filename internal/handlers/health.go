package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check is the outcome of one dependency ping.
type Check struct {
	Status    string `json:"status"` // "pass" or "fail"
	LatencyMS int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}

// HealthResponse reports whether the instance can store and push messages.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Version     string           `json:"version"`
	Instance    string           `json:"instance,omitempty"`
	Fanout      string           `json:"fanout"` // "local" or "redis"
	Connections int              `json:"connections"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// ping runs fn under ctx and times it. The error itself is logged, not
// returned to unauthenticated callers.
func (h *Handler) ping(ctx context.Context, name string, fn func(context.Context) error) Check {
	start := time.Now()
	err := fn(ctx)
	c := Check{Status: "pass", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		h.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
		c.Status, c.Detail = "fail", "unreachable"
	}
	return c
}

// Health pings the message store and, when configured, redis. Without redis
// the instance fans out locally, which is healthy for a single node.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Instance:  os.Getenv("HOSTNAME"),
		Fanout:    "local",
		Checks:    make(map[string]Check),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	resp.Checks["store"] = h.ping(ctx, "store", h.db.Ping)
	if h.redis != nil {
		resp.Fanout = "redis"
		resp.Checks["redis"] = h.ping(ctx, "redis", h.redis.Ping)
	}
	if h.hub != nil {
		resp.Connections = h.hub.Connections()
	}

	code := http.StatusOK
	for _, c := range resp.Checks {
		if c.Status != "pass" {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	h.JSON(w, code, resp)
}

// RootResponse identifies the service.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{Name: "coursechat", Version: version})
}
