// Package middleware provides the cross-cutting observability shared by the
// grading binaries: a Prometheus-backed metrics collector and an
// OpenTelemetry observer for grading runs.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/infrastructure/llm"
	"github.com/ahrav/go-rubric/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. Known metric names are routed to dedicated vectors; anything
// else lands in the generic operation vectors so no observation is lost.
type PrometheusMetrics struct {
	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	judgeLatency *prometheus.HistogramVec
	judgeRuns    *prometheus.CounterVec

	gradingLatency        *prometheus.HistogramVec
	gradingRuns           *prometheus.CounterVec
	gradingDisagreement   *prometheus.HistogramVec
	gradingReviewRequired prometheus.Counter

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collector and registers every vector with
// reg. A nil reg uses the default Prometheus registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Latency of LLM provider requests.",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "LLM provider requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by LLM requests.",
			},
			[]string{"provider", "model", "token_type"},
		),

		judgeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judge_duration_seconds",
				Help:    "Time for one judge to grade one transcript.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"model", "status"},
		),
		judgeRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judge_runs_total",
				Help: "Judge gradings by outcome.",
			},
			[]string{"model", "status"},
		),

		gradingLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grading_run_duration_seconds",
				Help:    "End-to-end time of an AI grading run.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
			},
			[]string{"status"},
		),
		gradingRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grading_runs_total",
				Help: "AI grading runs by outcome.",
			},
			[]string{"status"},
		),
		gradingDisagreement: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grading_disagreement_ratio",
				Help:    "Per-category judge disagreement as a fraction of max points.",
				Buckets: []float64{0, 0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.4, 0.5, 0.75, 1},
			},
			[]string{"category"},
		),
		gradingReviewRequired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "grading_review_required_total",
				Help: "Grading runs flagged for instructor review.",
			},
		),

		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rubric_operation_duration_seconds",
				Help:    "Duration of operations without a dedicated metric.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rubric_operations_total",
				Help: "Counters without a dedicated metric.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rubric_system_state",
				Help: "Current values reported through RecordGauge.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	switch operation {
	case judges.MetricJudgeDuration:
		pm.judgeLatency.WithLabelValues(labels["model"], status(labels)).Observe(duration.Seconds())
	case MetricGradingDuration:
		pm.gradingLatency.WithLabelValues(status(labels)).Observe(duration.Seconds())
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(labels["provider"], labels["model"], status(labels)).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(labels["provider"], labels["model"], labels["token_type"]).Add(value)
	case judges.MetricJudgeRuns:
		pm.judgeRuns.WithLabelValues(labels["model"], status(labels)).Add(value)
	case MetricGradingRuns:
		pm.gradingRuns.WithLabelValues(status(labels)).Add(value)
	case MetricGradingReviewRequired:
		pm.gradingReviewRequired.Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, status(labels)).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, _ map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(labels["provider"], labels["model"], status(labels)).Observe(value)
	case MetricGradingDisagreement:
		pm.gradingDisagreement.WithLabelValues(labels["category"]).Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric).Observe(value)
	}
}

func status(labels map[string]string) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "success"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
