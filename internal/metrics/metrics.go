package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursechat_messages_sent_total",
			Help: "Total messages accepted by the backend",
		},
	)

	MessagesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursechat_messages_seen_total",
			Help: "Total messages marked as seen",
		},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"}, // "ok" or "denied"
	)

	// Realtime metrics
	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursechat_socket_connections",
			Help: "Open realtime connections",
		},
	)

	FramesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_frames_delivered_total",
			Help: "Realtime frames written to sockets",
		},
		[]string{"event"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Client pipeline metrics
	ClientReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursechat_client_reconnects_total",
			Help: "Socket reconnect attempts made by the client",
		},
	)

	ClientMessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_client_messages_ingested_total",
			Help: "Messages applied to the client window",
		},
		[]string{"result"}, // "inserted", "updated", "reconciled", "ignored"
	)

	ClientSeenBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursechat_client_seen_batches_total",
			Help: "Batched mark-as-seen requests issued by the client",
		},
		[]string{"outcome"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursechat_store_latency_seconds",
			Help:    "Store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"backend"},
	)
)
