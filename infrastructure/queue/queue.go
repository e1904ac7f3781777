// Package queue runs AI grading in the background on asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

// TypeGradingRun is the asynq task type for one AI grading run.
const TypeGradingRun = "grading:run"

// QueueName is the asynq queue grading tasks go to.
const QueueName = "grading"

var _ ports.JobQueue = (*Enqueuer)(nil)

// taskEnqueuer is the subset of *asynq.Client the Enqueuer uses.
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueuerConfig tunes the tasks an Enqueuer creates.
type EnqueuerConfig struct {
	MaxRetry int
	Timeout  time.Duration
}

// Enqueuer implements ports.JobQueue on an asynq client.
type Enqueuer struct {
	client taskEnqueuer
	config EnqueuerConfig
}

// NewEnqueuer wraps client. Zero config values use three retries and a
// ten minute timeout.
func NewEnqueuer(client *asynq.Client, config EnqueuerConfig) *Enqueuer {
	return newEnqueuer(client, config)
}

func newEnqueuer(client taskEnqueuer, config EnqueuerConfig) *Enqueuer {
	if config.MaxRetry <= 0 {
		config.MaxRetry = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	return &Enqueuer{client: client, config: config}
}

// NewGradingTask builds the task for job.
func NewGradingTask(job ports.GradingJob) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGradingRun, payload), nil
}

// EnqueueGrading implements ports.JobQueue and returns the asynq task id.
func (e *Enqueuer) EnqueueGrading(ctx context.Context, job ports.GradingJob) (string, error) {
	task, err := NewGradingTask(job)
	if err != nil {
		return "", fmt.Errorf("encode grading job: %w", err)
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(e.config.MaxRetry),
		asynq.Timeout(e.config.Timeout),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TypeGradingRun, err)
	}
	return info.ID, nil
}

// GradingRunner is what the Handler calls for every task.
// *application.GradingService satisfies it.
type GradingRunner interface {
	RunAIGrading(ctx context.Context, userID, submissionID string) (domain.AggregatedGrade, error)
}

// Handler processes grading tasks.
type Handler struct {
	runner GradingRunner
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default.
func NewHandler(runner GradingRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, logger: logger}
}

// ProcessTask implements asynq.Handler. Malformed payloads and failures that
// a retry cannot fix (authorization, missing data, invalid input) skip
// asynq's retries.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var job ports.GradingJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeGradingRun, err, asynq.SkipRetry)
	}
	if job.SubmissionID == "" || job.UserID == "" {
		return fmt.Errorf("%s payload needs submissionId and userId: %w", TypeGradingRun, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	retry, _ := asynq.GetRetryCount(ctx)
	logger := h.logger.With("task_id", taskID, "submission_id", job.SubmissionID, "retry", retry)
	logger.InfoContext(ctx, "processing grading task")

	grade, err := h.runner.RunAIGrading(ctx, job.UserID, job.SubmissionID)
	if err != nil {
		if permanent(err) {
			logger.WarnContext(ctx, "grading task failed permanently", "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		logger.ErrorContext(ctx, "grading task failed", "error", err)
		return err
	}

	logger.InfoContext(ctx, "grading task completed",
		"percentage", grade.PercentageScore, "requires_review", grade.RequiresReview)
	return nil
}

// NewServeMux routes grading tasks to h.
func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeGradingRun, h)
	return mux
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrNoRubric) ||
		errors.Is(err, domain.ErrInvalidInput)
}

// SlogLogger adapts a *slog.Logger to asynq's Logger interface.
type SlogLogger struct {
	Logger *slog.Logger
}

var _ asynq.Logger = SlogLogger{}

func (l SlogLogger) Debug(args ...any) { l.Logger.Debug(fmt.Sprint(args...)) }
func (l SlogLogger) Info(args ...any)  { l.Logger.Info(fmt.Sprint(args...)) }
func (l SlogLogger) Warn(args ...any)  { l.Logger.Warn(fmt.Sprint(args...)) }
func (l SlogLogger) Error(args ...any) { l.Logger.Error(fmt.Sprint(args...)) }

// Fatal logs at error level and exits, as asynq expects.
func (l SlogLogger) Fatal(args ...any) {
	l.Logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
