package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

// Metric names recorded by OTelGradingObserver.
const (
	MetricGradingDuration       = "grading_run_duration"
	MetricGradingRuns           = "grading_runs_total"
	MetricGradingDisagreement   = "grading_disagreement_ratio"
	MetricGradingReviewRequired = "grading_review_required_total"
)

var _ ports.GradingObserver = (*OTelGradingObserver)(nil)

// OTelGradingObserver traces AI grading runs with OpenTelemetry and reports
// their outcome to a metrics collector. It keeps no per-run state: the span
// travels in the context PreRun returns, so one observer serves concurrent
// runs.
type OTelGradingObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// ObserverOption configures an OTelGradingObserver.
type ObserverOption func(*OTelGradingObserver)

// WithTracer replaces the global "grading" tracer.
func WithTracer(tracer trace.Tracer) ObserverOption {
	return func(o *OTelGradingObserver) { o.tracer = tracer }
}

// NewOTelGradingObserver creates an observer. metrics may be nil.
func NewOTelGradingObserver(metrics ports.MetricsCollector, opts ...ObserverOption) *OTelGradingObserver {
	o := &OTelGradingObserver{
		metrics: metrics,
		tracer:  otel.Tracer("grading"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PreRun implements the GradingObserver interface. It starts the
// "grading.run" span and records the panel composition.
func (o *OTelGradingObserver) PreRun(ctx context.Context, submissionID string, models []string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "grading.run", trace.WithAttributes(
		attribute.String("grading.submission_id", submissionID),
		attribute.StringSlice("grading.judges", models),
		attribute.Int("grading.judge_count", len(models)),
	))
	return ctx
}

// PostRun implements the GradingObserver interface. It ends the span
// started by PreRun, adds one event per flagged category, and records run
// metrics.
func (o *OTelGradingObserver) PostRun(
	ctx context.Context,
	grade *domain.AggregatedGrade,
	elapsed time.Duration,
	err error,
) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	status := runStatus(err)
	if o.metrics != nil {
		labels := map[string]string{"status": status}
		o.metrics.RecordLatency(MetricGradingDuration, elapsed, labels)
		o.metrics.RecordCounter(MetricGradingRuns, 1, labels)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if grade == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	span.SetAttributes(
		attribute.Float64("grading.total_score", grade.TotalScore),
		attribute.Float64("grading.max_score", grade.MaxScore),
		attribute.Int("grading.percentage", grade.PercentageScore),
		attribute.Bool("grading.requires_review", grade.RequiresReview),
	)
	o.recordDisagreement(span, grade)
	span.SetStatus(codes.Ok, "")
}

func (o *OTelGradingObserver) recordDisagreement(span trace.Span, grade *domain.AggregatedGrade) {
	flagged := make(map[string]bool, len(grade.FlaggedCategories))
	for _, c := range grade.FlaggedCategories {
		flagged[c] = true
	}

	for _, acs := range grade.AverageScores {
		if o.metrics != nil {
			o.metrics.RecordHistogram(MetricGradingDisagreement, acs.DisagreementPercent,
				map[string]string{"category": acs.Category})
		}
		if !flagged[acs.Category] {
			continue
		}
		scores := make([]string, 0, len(acs.JudgeScores))
		for _, js := range acs.JudgeScores {
			scores = append(scores, js.Model+"="+strconv.FormatFloat(js.Score, 'f', -1, 64))
		}
		span.AddEvent("grading.category.flagged", trace.WithAttributes(
			attribute.String("category", acs.Category),
			attribute.Float64("disagreement", acs.DisagreementPercent),
			attribute.Float64("threshold", grade.DisagreementThreshold),
			attribute.String("judge_scores", strings.Join(scores, ",")),
		))
	}

	if grade.RequiresReview && o.metrics != nil {
		o.metrics.RecordCounter(MetricGradingReviewRequired, 1, nil)
	}
}

// runStatus maps a run error to a low-cardinality metric label.
func runStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNoRubric):
		return "no_rubric"
	case errors.Is(err, judges.ErrTooFewJudges):
		return "too_few_judges"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
