package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts inbound requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)

	// DispatchAttempts counts dispatch attempts by outcome
	// (posted, failed, filtered, deduped).
	DispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_attempts_total", Help: "Order dispatch attempts by outcome."},
		[]string{"outcome"},
	)

	// WebhookReceipts counts inbound order-updated callbacks by result.
	WebhookReceipts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_receipts_total", Help: "Inbound webhook callbacks by result."},
		[]string{"result"},
	)

	// OutboundRequests counts backend calls by method and outcome.
	OutboundRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shipflo_requests_total", Help: "Outbound backend requests by outcome."},
		[]string{"method", "outcome"},
	)

	// OutboundDuration records backend call durations in seconds.
	OutboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "shipflo_request_duration_seconds", Help: "Outbound backend request duration.", Buckets: prometheus.DefBuckets},
		[]string{"method"},
	)

	// LogBytesPushed totals bytes shipped by the log pusher.
	LogBytesPushed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "log_bytes_pushed_total", Help: "Log bytes shipped to the backend."},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(DispatchAttempts)
		Registry.MustRegister(WebhookReceipts)
		Registry.MustRegister(OutboundRequests)
		Registry.MustRegister(OutboundDuration)
		Registry.MustRegister(LogBytesPushed)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
