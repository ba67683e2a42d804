package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SalesTotal counts sale attempts by outcome.
	SalesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "sales_total",
		Help:      "Sale attempts by outcome.",
	}, []string{"outcome"})

	// StockAdjustmentsTotal counts ledger writes other than sales.
	StockAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "stock_adjustments_total",
		Help:      "Stock set/adjust operations by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ConflictRetriesTotal counts transaction retries after a transient conflict.
	ConflictRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "conflict_retries_total",
		Help:      "Transaction retries after a transient storage conflict.",
	}, []string{"operation"})

	// WebhookEventsTotal counts payment webhook deliveries by outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "webhook_events_total",
		Help:      "Payment webhook deliveries by outcome.",
	}, []string{"outcome"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// ReportRequestsTotal counts report requests by tier and outcome.
	ReportRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "report_requests_total",
		Help:      "Report requests by tier and outcome.",
	}, []string{"tier", "outcome"})

	// InsightRequestsTotal counts premium insight requests by kind and outcome.
	InsightRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "core",
		Name:      "insight_requests_total",
		Help:      "Premium insight requests by kind and outcome.",
	}, []string{"kind", "outcome"})
)

var (
	// GRPCRequestsTotal counts unary gRPC calls by method and status code.
	GRPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saleszy",
		Subsystem: "grpc",
		Name:      "requests_total",
		Help:      "Unary gRPC calls by method and status code.",
	}, []string{"method", "code"})

	// HTTPRequestDuration tracks HTTP request latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "saleszy",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)
