package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/internal/domain"
)

type recordedMetric struct {
	kind   string
	name   string
	value  float64
	labels map[string]string
}

type recordingCollector struct {
	mu      sync.Mutex
	records []recordedMetric
}

func (r *recordingCollector) add(m recordedMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, m)
}

func (r *recordingCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	r.add(recordedMetric{"latency", op, d.Seconds(), labels})
}

func (r *recordingCollector) RecordCounter(metric string, v float64, labels map[string]string) {
	r.add(recordedMetric{"counter", metric, v, labels})
}

func (r *recordingCollector) RecordGauge(metric string, v float64, labels map[string]string) {
	r.add(recordedMetric{"gauge", metric, v, labels})
}

func (r *recordingCollector) RecordHistogram(metric string, v float64, labels map[string]string) {
	r.add(recordedMetric{"histogram", metric, v, labels})
}

func (r *recordingCollector) named(name string) []recordedMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedMetric
	for _, m := range r.records {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

func newRecordedObserver(t *testing.T) (*OTelGradingObserver, *tracetest.SpanRecorder, *recordingCollector) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	metrics := &recordingCollector{}
	return NewOTelGradingObserver(metrics, WithTracer(tp.Tracer("test"))), recorder, metrics
}

func flaggedGrade() *domain.AggregatedGrade {
	return &domain.AggregatedGrade{
		AverageScores: []domain.AggregatedCategoryScore{
			{
				Category: "History Taking", AverageScore: 8, MaxPoints: 10, DisagreementPercent: 0,
				JudgeScores: []domain.JudgeCategoryScore{{Model: "a", Score: 8}, {Model: "b", Score: 8}},
			},
			{
				Category: "Empathy", AverageScore: 5, MaxPoints: 10, DisagreementPercent: 0.4,
				JudgeScores: []domain.JudgeCategoryScore{{Model: "a", Score: 3}, {Model: "b", Score: 7}},
			},
		},
		TotalScore:            13,
		MaxScore:              20,
		PercentageScore:       65,
		RequiresReview:        true,
		FlaggedCategories:     []string{"Empathy"},
		DisagreementThreshold: 0.2,
	}
}

func TestOTelGradingObserver_SuccessfulRun(t *testing.T) {
	observer, recorder, metrics := newRecordedObserver(t)

	ctx := observer.PreRun(context.Background(), "sub-1", []string{"a", "b"})
	observer.PostRun(ctx, flaggedGrade(), 2*time.Second, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "grading.run", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := make(map[string]any)
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "sub-1", attrs["grading.submission_id"])
	assert.Equal(t, int64(2), attrs["grading.judge_count"])
	assert.Equal(t, true, attrs["grading.requires_review"])
	assert.Equal(t, int64(65), attrs["grading.percentage"])

	require.Len(t, span.Events(), 1)
	event := span.Events()[0]
	assert.Equal(t, "grading.category.flagged", event.Name)
	eventAttrs := make(map[string]any)
	for _, kv := range event.Attributes {
		eventAttrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "Empathy", eventAttrs["category"])
	assert.Equal(t, "a=3,b=7", eventAttrs["judge_scores"])

	runs := metrics.named(MetricGradingRuns)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].labels["status"])
	assert.Len(t, metrics.named(MetricGradingDisagreement), 2)
	assert.Len(t, metrics.named(MetricGradingReviewRequired), 1)
	assert.Len(t, metrics.named(MetricGradingDuration), 1)
}

func TestOTelGradingObserver_NoReviewSkipsReviewCounter(t *testing.T) {
	observer, recorder, metrics := newRecordedObserver(t)
	grade := flaggedGrade()
	grade.RequiresReview = false
	grade.FlaggedCategories = nil

	ctx := observer.PreRun(context.Background(), "sub-2", []string{"a", "b"})
	observer.PostRun(ctx, grade, time.Second, nil)

	require.Len(t, recorder.Ended(), 1)
	assert.Empty(t, recorder.Ended()[0].Events())
	assert.Empty(t, metrics.named(MetricGradingReviewRequired))
}

func TestOTelGradingObserver_FailedRun(t *testing.T) {
	observer, recorder, metrics := newRecordedObserver(t)

	ctx := observer.PreRun(context.Background(), "sub-3", []string{"a"})
	observer.PostRun(ctx, nil, time.Second, fmt.Errorf("grading could not be completed: %w", judges.ErrTooFewJudges))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	runs := metrics.named(MetricGradingRuns)
	require.Len(t, runs, 1)
	assert.Equal(t, "too_few_judges", runs[0].labels["status"])
	assert.Empty(t, metrics.named(MetricGradingDisagreement))
}

func TestOTelGradingObserver_NilMetrics(t *testing.T) {
	observer := NewOTelGradingObserver(nil)
	assert.NotPanics(t, func() {
		ctx := observer.PreRun(context.Background(), "sub-4", nil)
		observer.PostRun(ctx, flaggedGrade(), time.Second, nil)
	})
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{fmt.Errorf("wrap: %w", domain.ErrForbidden), "forbidden"},
		{domain.ErrNotFound, "not_found"},
		{domain.ErrNoRubric, "no_rubric"},
		{domain.NewInvalidInputError("aggregate", "empty", nil), "invalid_input"},
		{context.Canceled, "canceled"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, runStatus(tt.err))
		})
	}
}
