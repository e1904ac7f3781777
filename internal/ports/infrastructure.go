package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-rubric/internal/domain"
)

// LLMClient defines the interface for interacting with Large Language Models.
// Implementations should handle provider-specific details such as
// authentication, rate limiting, and error handling.
type LLMClient interface {
	// Complete sends a prompt to the LLM and returns the generated response.
	// The options map can include provider-specific parameters such as
	// "system", "temperature", "max_tokens" or "response_format".
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// EstimateTokens estimates the number of tokens in the given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier used by this client.
	GetModel() string
}

// MetricsCollector defines the interface for collecting operational metrics.
type MetricsCollector interface {
	// RecordLatency records the duration of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric by the given value.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets a gauge metric to the given value.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram metric.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// SubmissionStore persists submissions and the data a grading run reads.
// Missing rows are reported with domain.ErrNotFound.
type SubmissionStore interface {
	// GetSubmission loads one submission.
	GetSubmission(ctx context.Context, id string) (*domain.Submission, error)

	// GetGradingContext loads the submission together with its transcript,
	// patient actor, and rubric. Rubric is nil when none is configured.
	GetGradingContext(ctx context.Context, submissionID string) (*domain.GradingContext, error)

	// SaveAIGrade replaces the submission's AI grading fields atomically.
	SaveAIGrade(ctx context.Context, submissionID string, update domain.AIGradeUpdate) error

	// SaveFeedback records instructor feedback and the resulting status.
	SaveFeedback(ctx context.Context, submissionID string, update domain.FeedbackUpdate) error

	// HasRubric reports whether the patient actor has a grading rubric.
	HasRubric(ctx context.Context, patientActorID string) (bool, error)
}

// UserStore looks up authenticated callers.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// GradeArchive keeps an immutable snapshot of every grading run.
type GradeArchive interface {
	// Put stores grade and returns a reference to the stored object.
	Put(ctx context.Context, submissionID string, grade domain.AggregatedGrade) (string, error)
}

// GradingJob asks a background worker to run AI grading for a submission on
// behalf of a user.
type GradingJob struct {
	SubmissionID string `json:"submissionId"`
	UserID       string `json:"userId"`
}

// JobQueue hands grading work to background workers.
type JobQueue interface {
	EnqueueGrading(ctx context.Context, job GradingJob) (string, error)
}

// GradingObserver watches AI grading runs for tracing and metrics.
// PreRun returns the context the run continues with, so implementations can
// attach a span that PostRun later ends.
type GradingObserver interface {
	PreRun(ctx context.Context, submissionID string, models []string) context.Context
	PostRun(ctx context.Context, grade *domain.AggregatedGrade, elapsed time.Duration, err error)
}
