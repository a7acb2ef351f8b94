package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Email and Telegram deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})

	DispatcherQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notification_dispatcher_queue_depth",
		Help: "Jobs waiting in each dispatcher partition.",
	}, []string{"channel"})

	AlertEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_events_total",
		Help: "Alert lifecycle events by type and service.",
	}, []string{"event", "service"})

	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "job_runs_total",
		Help: "Scheduled job runs by job and outcome.",
	}, []string{"job", "outcome"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Stripe webhook events by type and outcome.",
	}, []string{"type", "outcome"})
)

// Middleware records request latency keyed by the matched route template.
func Middleware(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestDuration.
		WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
		Observe(time.Since(start).Seconds())
}
