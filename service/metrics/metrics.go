package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger API Metrics
	ledgerCallsTotal        *prometheus.CounterVec
	ledgerCallDuration      *prometheus.HistogramVec
	ledgerRecordsPerCall    *prometheus.HistogramVec
	ledgerRateLimitHitTotal *prometheus.CounterVec

	// Normalization Metrics
	transfersNormalizedTotal *prometheus.CounterVec
	recordsDroppedTotal      *prometheus.CounterVec

	// Reconciliation Metrics
	reconcileDuration        *prometheus.HistogramVec
	reconcileTotal           *prometheus.CounterVec
	refreshesCoalescedTotal  *prometheus.CounterVec
	snapshotTransfers        *prometheus.GaugeVec
	reconcileActivityLatency *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger API Metrics
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aptos_ledger_calls_total",
				Help: "Total number of ledger API calls by method and status",
			},
			[]string{"method", "status", "network"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aptos_ledger_call_duration_seconds",
				Help:    "Duration of ledger API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "network"},
		),
		ledgerRecordsPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aptos_ledger_records_per_call",
				Help:    "Number of transaction records returned per history call",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
			},
			[]string{"network"},
		),
		ledgerRateLimitHitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aptos_ledger_rate_limit_hits_total",
				Help: "Total number of ledger API rate limit responses (429)",
			},
			[]string{"network"},
		),

		// Normalization Metrics
		transfersNormalizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_normalized_total",
				Help: "Total number of raw records normalized into transfers, by detection path",
			},
			[]string{"source", "direction"},
		),
		recordsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_dropped_total",
				Help: "Total number of raw records that produced no transfer, by reason",
			},
			[]string{"reason"},
		),

		// Reconciliation Metrics
		reconcileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_duration_seconds",
				Help:    "Duration of balance/history reconciliation in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_total",
				Help: "Total number of reconciliations by status",
			},
			[]string{"status"},
		),
		refreshesCoalescedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refreshes_coalesced_total",
				Help: "Total number of refresh requests rejected because one was already in flight",
			},
			[]string{"address"},
		),
		snapshotTransfers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snapshot_transfers",
				Help: "Number of transfers in the latest snapshot of a watched account",
			},
			[]string{"address"},
		),
		reconcileActivityLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_activity_duration_seconds",
				Help:    "Duration of reconcile workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"address", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger API metric helpers

// RecordLedgerCall records a ledger API call with duration.
func (m *Metrics) RecordLedgerCall(method, status, network string, duration float64) {
	m.ledgerCallsTotal.WithLabelValues(method, status, network).Inc()
	m.ledgerCallDuration.WithLabelValues(method, network).Observe(duration)
}

// RecordLedgerRecords records how many transaction records one history call returned.
func (m *Metrics) RecordLedgerRecords(network string, count int) {
	m.ledgerRecordsPerCall.WithLabelValues(network).Observe(float64(count))
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(network string) {
	m.ledgerRateLimitHitTotal.WithLabelValues(network).Inc()
}

// Normalization metric helpers

// RecordTransferNormalized records a raw record that became a transfer.
func (m *Metrics) RecordTransferNormalized(source, direction string) {
	m.transfersNormalizedTotal.WithLabelValues(source, direction).Inc()
}

// RecordRecordDropped records a raw record that produced no transfer.
func (m *Metrics) RecordRecordDropped(reason string) {
	m.recordsDroppedTotal.WithLabelValues(reason).Inc()
}

// Reconciliation metric helpers

// RecordReconcile records one reconciliation run.
func (m *Metrics) RecordReconcile(status string, duration float64) {
	m.reconcileDuration.WithLabelValues(status).Observe(duration)
	m.reconcileTotal.WithLabelValues(status).Inc()
}

// RecordRefreshCoalesced records a refresh that was skipped because one was already running.
func (m *Metrics) RecordRefreshCoalesced(address string) {
	m.refreshesCoalescedTotal.WithLabelValues(address).Inc()
}

// RecordSnapshotSize records the transfer count of the latest snapshot for an address.
func (m *Metrics) RecordSnapshotSize(address string, transfers int) {
	m.snapshotTransfers.WithLabelValues(address).Set(float64(transfers))
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.reconcileActivityLatency.WithLabelValues(activity, status).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(address string, delta float64) {
	m.sseActiveConnections.WithLabelValues(address).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(address, eventType string) {
	m.sseEventsSent.WithLabelValues(address, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
