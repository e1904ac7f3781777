package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

// ErrQueueNotConfigured is returned by EnqueueAIGrading when the service
// has no job queue.
var ErrQueueNotConfigured = errors.New("background grading is not configured")

// ServiceConfig holds the grading policy a GradingService applies to every
// run.
type ServiceConfig struct {
	// Judges lists the judge models in panel order. Empty uses the
	// invoker's default panel.
	Judges []string

	// Threshold is the disagreement threshold in [0, 1].
	Threshold float64

	// Policy is the missing-category policy. Empty means permissive.
	Policy domain.MissingCategoryPolicy

	// RunTimeout bounds one grading run. Zero means no extra bound.
	RunTimeout time.Duration
}

// ServiceConfigFrom derives the service policy from the grading section of
// a loaded Config.
func ServiceConfigFrom(c GradingConfig) ServiceConfig {
	return ServiceConfig{
		Judges:     append([]string(nil), c.Judges...),
		Threshold:  c.DisagreementThreshold,
		Policy:     c.MissingCategoryPolicy,
		RunTimeout: c.RunTimeout,
	}
}

// GradingService coordinates AI grading of submitted transcripts: it checks
// who may grade, runs the judge panel, aggregates, and persists the result.
// It is safe for concurrent use. Concurrent runs for one submission share a
// single panel run and a single store write.
type GradingService struct {
	submissions ports.SubmissionStore
	users       ports.UserStore
	invoker     ports.JudgeInvoker
	config      ServiceConfig

	archive  ports.GradeArchive
	queue    ports.JobQueue
	observer ports.GradingObserver
	logger   *slog.Logger
	now      func() time.Time

	flights singleflight.Group
}

// ServiceOption customizes a GradingService.
type ServiceOption func(*GradingService)

// WithArchive stores a snapshot of every successful run.
func WithArchive(archive ports.GradeArchive) ServiceOption {
	return func(s *GradingService) { s.archive = archive }
}

// WithJobQueue enables EnqueueAIGrading.
func WithJobQueue(queue ports.JobQueue) ServiceOption {
	return func(s *GradingService) { s.queue = queue }
}

// WithObserver traces and measures grading runs.
func WithObserver(observer ports.GradingObserver) ServiceOption {
	return func(s *GradingService) { s.observer = observer }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *GradingService) { s.logger = logger }
}

// WithServiceClock replaces time.Now for grading and review timestamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *GradingService) { s.now = now }
}

// NewGradingService creates a GradingService.
func NewGradingService(
	submissions ports.SubmissionStore,
	users ports.UserStore,
	invoker ports.JudgeInvoker,
	config ServiceConfig,
	opts ...ServiceOption,
) (*GradingService, error) {
	if submissions == nil || users == nil || invoker == nil {
		return nil, fmt.Errorf("submission store, user store and judge invoker are required")
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, domain.NewInvalidInputError("new grading service",
			fmt.Sprintf("disagreement threshold must be within [0, 1], got %v", config.Threshold), nil)
	}
	switch config.Policy {
	case "":
		config.Policy = domain.PolicyPermissive
	case domain.PolicyPermissive, domain.PolicyStrict:
	default:
		return nil, domain.NewInvalidInputError("new grading service",
			fmt.Sprintf("unknown missing category policy %q", config.Policy), nil)
	}

	s := &GradingService{
		submissions: submissions,
		users:       users,
		invoker:     invoker,
		config:      config,
		observer:    noopObserver{},
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunAIGrading grades a submission with the configured judge panel and
// persists the aggregated result. Only the instructor the submission is
// assigned to may run it. On failure the submission's earlier grading
// state is left untouched.
func (s *GradingService) RunAIGrading(ctx context.Context, userID, submissionID string) (domain.AggregatedGrade, error) {
	if _, err := s.authorizeGrader(ctx, userID, submissionID, "run AI grading"); err != nil {
		return domain.AggregatedGrade{}, err
	}

	// The shared run outlives any one caller; RunTimeout bounds it. Each
	// caller still stops waiting when its own ctx ends.
	runCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(submissionID, func() (any, error) {
		return s.run(runCtx, submissionID)
	})

	select {
	case <-ctx.Done():
		return domain.AggregatedGrade{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.AggregatedGrade{}, res.Err
		}
		if res.Shared {
			s.logger.DebugContext(ctx, "joined in-flight grading run",
				"submission_id", submissionID, "user_id", userID)
		}
		return res.Val.(domain.AggregatedGrade), nil
	}
}

// run performs one grading run. Its errors are wrapped so callers see
// "grading could not be completed".
func (s *GradingService) run(ctx context.Context, submissionID string) (domain.AggregatedGrade, error) {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	ctx = s.observer.PreRun(ctx, submissionID, s.config.Judges)
	grade, err := s.grade(ctx, submissionID)
	if err != nil {
		err = fmt.Errorf("grading could not be completed: %w", err)
		s.observer.PostRun(ctx, nil, time.Since(start), err)
		s.logger.ErrorContext(ctx, "AI grading failed",
			"submission_id", submissionID, "error", err)
		return domain.AggregatedGrade{}, err
	}
	s.observer.PostRun(ctx, &grade, time.Since(start), nil)

	s.logger.InfoContext(ctx, "AI grading completed",
		"submission_id", submissionID,
		"judges", len(grade.JudgeGrades),
		"total_score", grade.TotalScore,
		"max_score", grade.MaxScore,
		"percentage", grade.PercentageScore,
		"requires_review", grade.RequiresReview,
		"flagged_categories", grade.FlaggedCategories,
		"duration", time.Since(start),
	)
	return grade, nil
}

func (s *GradingService) grade(ctx context.Context, submissionID string) (domain.AggregatedGrade, error) {
	gc, err := s.submissions.GetGradingContext(ctx, submissionID)
	if err != nil {
		return domain.AggregatedGrade{}, err
	}
	input, err := gc.Input()
	if err != nil {
		return domain.AggregatedGrade{}, err
	}

	judgeGrades, err := s.invoker.RunAll(ctx, input, s.config.Judges)
	if err != nil {
		return domain.AggregatedGrade{}, err
	}

	aggregator := domain.Aggregator{
		Threshold:  s.config.Threshold,
		Categories: input.Rubric.CategoryNames(),
		Policy:     s.config.Policy,
		Now:        func() time.Time { return s.now().UTC() },
	}
	grade, err := aggregator.Aggregate(judgeGrades)
	if err != nil {
		return domain.AggregatedGrade{}, err
	}

	if err := s.submissions.SaveAIGrade(ctx, submissionID, domain.NewAIGradeUpdate(grade)); err != nil {
		return domain.AggregatedGrade{}, err
	}

	s.archiveGrade(ctx, submissionID, grade)
	return grade, nil
}

// archiveGrade stores the snapshot. The grade is already persisted, so a
// failure here is logged and never fails the run.
func (s *GradingService) archiveGrade(ctx context.Context, submissionID string, grade domain.AggregatedGrade) {
	if s.archive == nil {
		return
	}
	ref, err := s.archive.Put(ctx, submissionID, grade)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to archive grading snapshot",
			"submission_id", submissionID, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "archived grading snapshot",
		"submission_id", submissionID, "ref", ref)
}

// GetAIGradingResults returns the last AI grading result of a submission,
// or nil when it was never auto-graded. The assigned instructor and the
// submitting student may read it.
func (s *GradingService) GetAIGradingResults(ctx context.Context, userID, submissionID string) (*domain.AggregatedGrade, error) {
	sub, err := s.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.VisibleTo(userID) {
		return nil, fmt.Errorf("%w: you cannot view this grading result", domain.ErrForbidden)
	}
	if !sub.HasAIGrade() {
		return nil, nil
	}

	gradedAt := s.now().UTC()
	if sub.AIGradedAt != nil {
		gradedAt = *sub.AIGradedAt
	}
	grade := domain.RebuildAggregatedGrade(sub.RubricScores, sub.AIGrades, sub.RequiresReview, gradedAt, s.config.Threshold)
	return &grade, nil
}

// UpdateFeedback records instructor feedback and an optional final grade.
// Any non-empty grade, whitespace included, moves the submission to graded;
// an empty one moves it to reviewed.
func (s *GradingService) UpdateFeedback(ctx context.Context, userID, submissionID, feedback, grade string) error {
	if _, err := s.authorizeGrader(ctx, userID, submissionID, "provide feedback"); err != nil {
		return err
	}
	update := domain.NewFeedbackUpdate(feedback, grade, s.now().UTC())
	if err := s.submissions.SaveFeedback(ctx, submissionID, update); err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	s.logger.InfoContext(ctx, "submission feedback updated",
		"submission_id", submissionID, "status", update.Status)
	return nil
}

// HasGradingRubric reports whether a patient actor has a rubric. Lookup
// errors are logged and reported as false.
func (s *GradingService) HasGradingRubric(ctx context.Context, patientActorID string) bool {
	ok, err := s.submissions.HasRubric(ctx, patientActorID)
	if err != nil {
		s.logger.WarnContext(ctx, "error checking grading rubric",
			"patient_actor_id", patientActorID, "error", err)
		return false
	}
	return ok
}

// EnqueueAIGrading authorizes the caller like RunAIGrading and hands the run
// to a background worker. It returns the job id.
func (s *GradingService) EnqueueAIGrading(ctx context.Context, userID, submissionID string) (string, error) {
	if s.queue == nil {
		return "", ErrQueueNotConfigured
	}
	if _, err := s.authorizeGrader(ctx, userID, submissionID, "run AI grading"); err != nil {
		return "", err
	}
	id, err := s.queue.EnqueueGrading(ctx, ports.GradingJob{SubmissionID: submissionID, UserID: userID})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue grading: %w", err)
	}
	s.logger.InfoContext(ctx, "AI grading enqueued",
		"submission_id", submissionID, "job_id", id)
	return id, nil
}

// authorizeGrader checks that userID is an instructor or admin and that the
// submission is assigned to them.
func (s *GradingService) authorizeGrader(ctx context.Context, userID, submissionID, action string) (*domain.Submission, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: authentication required", domain.ErrForbidden)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %q not found", domain.ErrForbidden, userID)
		}
		return nil, err
	}
	if !user.CanGrade() {
		return nil, fmt.Errorf("%w: only instructors can %s", domain.ErrForbidden, action)
	}

	sub, err := s.submissions.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.InstructorID != user.ID {
		return nil, fmt.Errorf("%w: submission %q is not assigned to you", domain.ErrForbidden, submissionID)
	}
	return sub, nil
}

type noopObserver struct{}

func (noopObserver) PreRun(ctx context.Context, _ string, _ []string) context.Context { return ctx }

func (noopObserver) PostRun(context.Context, *domain.AggregatedGrade, time.Duration, error) {}
