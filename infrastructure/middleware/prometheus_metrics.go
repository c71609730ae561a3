// Package middleware provides cross-cutting concerns for the
// pin-allocation service.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-pinwire/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of oracle usage, turn
// processing, and reconciliation outcomes.
type PrometheusMetrics struct {
	llmLatency     *prometheus.HistogramVec
	llmRequests    *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	llmToolCalls   *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	turnsTotal     *prometheus.CounterVec
	tiersTotal     *prometheus.CounterVec
	findingsTotal  *prometheus.CounterVec
	genericLatency *prometheus.HistogramVec
	systemGauges   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and
// registers all metrics with the given registerer. Pass
// prometheus.DefaultRegisterer for the standard global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "Latency of oracle requests by provider, model, and outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total oracle requests by provider, model, and outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total tokens exchanged with the oracle by direction.",
			},
			[]string{"provider", "model", "token_type"},
		),
		llmToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tool_calls_total",
				Help: "Total oracle responses that invoked the allocation tool.",
			},
			[]string{"provider", "model"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turn_duration_seconds",
				Help:    "End-to-end turn processing time by intent and outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent", "status"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turns_total",
				Help: "Total processed turns by intent and outcome.",
			},
			[]string{"intent", "status"},
		),
		tiersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_tier_total",
				Help: "Total extractions by the tier that produced candidates.",
			},
			[]string{"tier"},
		),
		findingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_findings_total",
				Help: "Total reconciliation conflicts and incompleteness warnings.",
			},
			[]string{"finding"},
		),
		genericLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinwire_operation_duration_seconds",
				Help:    "Latency of internal operations not covered by a dedicated metric.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pinwire_system_state",
				Help: "Current system state values, e.g. active session count.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// operation latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string, duration time.Duration, labels map[string]string,
) {
	pm.RecordHistogram(operation, duration.Seconds(), labels)
}

// RecordCounter implements the MetricsCollector interface by
// incrementing Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(
			labels["provider"], labels["model"], labels["status"],
		).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(
			labels["provider"], labels["model"], labels["token_type"],
		).Add(value)
	case "llm_tool_calls_total":
		pm.llmToolCalls.WithLabelValues(
			labels["provider"], labels["model"],
		).Add(value)
	case "turns_total":
		pm.turnsTotal.WithLabelValues(
			labels["intent"], labels["status"],
		).Add(value)
	case "extraction_tier_total":
		pm.tiersTotal.WithLabelValues(labels["tier"]).Add(value)
	case "allocation_conflicts_total":
		pm.findingsTotal.WithLabelValues("conflict").Add(value)
	case "incompleteness_warnings_total":
		pm.findingsTotal.WithLabelValues("incompleteness_warning").Add(value)
	default:
		pm.findingsTotal.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by
// recording values in the matching Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(
			labels["provider"], labels["model"], labels["status"],
		).Observe(value)
	case "turn_duration_seconds":
		pm.turnDuration.WithLabelValues(
			labels["intent"], labels["status"],
		).Observe(value)
	default:
		pm.genericLatency.WithLabelValues(metric).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
