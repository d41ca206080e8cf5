package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Total user messages answered and persisted",
		},
		[]string{"agent", "source"}, // source: "webhook" or "echo"
	)

	LimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_limit_rejections_total",
			Help: "Sends rejected because the per-agent message limit was reached",
		},
		[]string{"agent"},
	)

	SaveConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_save_conflicts_total",
			Help: "Conversation writes rejected by optimistic concurrency",
		},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_auth_attempts_total",
			Help: "Authentication attempts",
		},
		[]string{"method", "outcome"},
	)

	// Webhook metrics
	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_webhook_duration_seconds",
			Help:    "Outbound webhook latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	WebhookFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_webhook_failures_total",
			Help: "Failed webhook calls",
		},
		[]string{"reason"}, // "status" or "transport"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"path"},
	)
)
