package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Метрики приема вебхуков
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Total number of inbound webhook signals",
		},
		[]string{"path", "status"},
	)
	WebhookFanoutUsers = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_fanout_users",
			Help:    "Number of users queued per system webhook",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Метрики исполнения
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_jobs_total",
			Help: "Total number of executed webhook jobs",
		},
		[]string{"action", "outcome"},
	)
	JobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execution_job_retries_total",
			Help: "Total number of job retry requeues",
		},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "execution_job_duration_seconds",
			Help: "Duration of job execution in seconds",
		},
		[]string{"action"},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Current length of the webhook job queue",
		},
	)

	// Метрики API бирж
	ExchangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_api_requests_total",
			Help: "Total number of exchange API requests",
		},
		[]string{"exchange", "op", "status"},
	)
	ExchangeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "exchange_api_request_duration_seconds",
			Help: "Duration of exchange API requests in seconds",
		},
		[]string{"exchange", "op"},
	)

	// Метрики реконсиляции
	ReconcileSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_sweeps_total",
			Help: "Total number of portfolio reconciliation sweeps",
		},
		[]string{"status"},
	)
	ReconcileUsersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_users_total",
			Help: "Total number of per-user reconciliation runs",
		},
		[]string{"status"},
	)
	StalePositionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_stale_positions_closed_total",
			Help: "Positions closed because the exchange no longer reports them",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	prometheus.MustRegister(WebhooksReceivedTotal)
	prometheus.MustRegister(WebhookFanoutUsers)

	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(JobRetriesTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(QueueDepth)

	prometheus.MustRegister(ExchangeRequestsTotal)
	prometheus.MustRegister(ExchangeRequestDuration)

	prometheus.MustRegister(ReconcileSweepsTotal)
	prometheus.MustRegister(ReconcileUsersTotal)
	prometheus.MustRegister(StalePositionsClosed)

	// Стандартные метрики Go
	prometheus.MustRegister(prometheus.NewGoCollector())
	prometheus.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
