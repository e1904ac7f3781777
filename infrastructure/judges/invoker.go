package judges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

var _ ports.JudgeInvoker = (*Invoker)(nil)

var (
	// ErrUnknownJudge is returned when the resolver cannot build a judge.
	ErrUnknownJudge = errors.New("unknown judge")

	// ErrTooFewJudges is returned under the tolerate policy when fewer
	// judges succeed than the configured minimum.
	ErrTooFewJudges = errors.New("too few judges succeeded")
)

// DefaultJudgeModels is the panel used when a run names no models.
var DefaultJudgeModels = []string{"gemini-2.5-flash", "gemini-2.5-pro"}

// DefaultMaxConcurrency bounds concurrent judge calls per run.
const DefaultMaxConcurrency = 4

// Metric names recorded by the invoker.
const (
	MetricJudgeDuration = "judge_duration"
	MetricJudgeRuns     = "judge_runs_total"
)

// FailureMode decides what a panel does when some judges fail.
type FailureMode string

const (
	// FailFast cancels the remaining judges on the first error and fails
	// the run.
	FailFast FailureMode = "fail_fast"

	// Tolerate drops failed judges and fails only when fewer than
	// MinJudges succeed.
	Tolerate FailureMode = "tolerate"
)

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	// DefaultModels replaces DefaultJudgeModels when set.
	DefaultModels []string

	// MaxConcurrency bounds concurrent judge calls. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// Mode is FailFast when empty.
	Mode FailureMode

	// MinJudges is the smallest acceptable panel under Tolerate. Values
	// below one are treated as one.
	MinJudges int
}

// Invoker runs a panel of judges concurrently over one input.
type Invoker struct {
	resolve ports.JudgeResolver
	config  InvokerConfig
	logger  *slog.Logger
	metrics ports.MetricsCollector
}

// InvokerOption customizes an Invoker.
type InvokerOption func(*Invoker)

// WithLogger sets the logger for dropped judges.
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(inv *Invoker) { inv.logger = logger }
}

// WithMetrics records per-judge latency and outcome.
func WithMetrics(metrics ports.MetricsCollector) InvokerOption {
	return func(inv *Invoker) { inv.metrics = metrics }
}

// NewInvoker creates an Invoker that builds judges with resolve.
func NewInvoker(resolve ports.JudgeResolver, config InvokerConfig, opts ...InvokerOption) (*Invoker, error) {
	if resolve == nil {
		return nil, fmt.Errorf("judge resolver cannot be nil")
	}
	switch config.Mode {
	case "":
		config.Mode = FailFast
	case FailFast, Tolerate:
	default:
		return nil, fmt.Errorf("unknown partial failure mode %q", config.Mode)
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}
	if config.MinJudges < 1 {
		config.MinJudges = 1
	}
	if len(config.DefaultModels) == 0 {
		config.DefaultModels = DefaultJudgeModels
	}

	inv := &Invoker{
		resolve: resolve,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// RunAll grades input with every model and returns the grades in the
// order of models. Every model is resolved before any judge runs, so an
// unknown model costs no LLM calls.
func (inv *Invoker) RunAll(ctx context.Context, input domain.GradingInput, models []string) ([]domain.JudgeGrade, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		models = inv.config.DefaultModels
	}

	panel := make([]ports.Judge, len(models))
	for i, model := range models {
		judge, err := inv.resolve(model)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrUnknownJudge, model, err)
		}
		if judge == nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownJudge, model)
		}
		panel[i] = judge
	}

	if inv.config.Mode == Tolerate {
		return inv.runTolerant(ctx, input, models, panel)
	}
	return inv.runFailFast(ctx, input, panel)
}

func (inv *Invoker) runFailFast(ctx context.Context, input domain.GradingInput, panel []ports.Judge) ([]domain.JudgeGrade, error) {
	grades := make([]domain.JudgeGrade, len(panel))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.config.MaxConcurrency)
	for i, judge := range panel {
		g.Go(func() error {
			grade, err := inv.gradeOne(gctx, judge, input)
			if err != nil {
				return err
			}
			grades[i] = grade
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return grades, nil
}

func (inv *Invoker) runTolerant(
	ctx context.Context,
	input domain.GradingInput,
	models []string,
	panel []ports.Judge,
) ([]domain.JudgeGrade, error) {
	grades := make([]domain.JudgeGrade, len(panel))
	errs := make([]error, len(panel))

	var g errgroup.Group
	g.SetLimit(inv.config.MaxConcurrency)
	for i, judge := range panel {
		g.Go(func() error {
			grades[i], errs[i] = inv.gradeOne(ctx, judge, input)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kept := make([]domain.JudgeGrade, 0, len(panel))
	var failed []error
	for i := range panel {
		if errs[i] != nil {
			inv.logger.WarnContext(ctx, "judge dropped from panel",
				"model", models[i],
				"error", errs[i],
			)
			failed = append(failed, errs[i])
			continue
		}
		kept = append(kept, grades[i])
	}

	if len(kept) < inv.config.MinJudges {
		return nil, fmt.Errorf("%w: %d of %d succeeded, need %d: %w",
			ErrTooFewJudges, len(kept), len(panel), inv.config.MinJudges, errors.Join(failed...))
	}
	return kept, nil
}

// gradeOne runs one judge and enforces the grade contract: scores within
// [0, maxPoints] and a total equal to their sum.
func (inv *Invoker) gradeOne(ctx context.Context, judge ports.Judge, input domain.GradingInput) (domain.JudgeGrade, error) {
	start := time.Now()
	grade, err := judge.Grade(ctx, input)
	inv.record(judge.Model(), time.Since(start), err)
	if err != nil {
		return domain.JudgeGrade{}, err
	}

	grade.CategoryScores = append([]domain.CategoryScore(nil), grade.CategoryScores...)
	var total float64
	for i := range grade.CategoryScores {
		cs := &grade.CategoryScores[i]
		cs.Score = clamp(cs.Score, 0, cs.MaxPoints)
		total += cs.Score
	}
	grade.TotalScore = total
	if grade.Model == "" {
		grade.Model = judge.Model()
	}
	return grade, nil
}

func (inv *Invoker) record(model string, elapsed time.Duration, err error) {
	if inv.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	labels := map[string]string{"model": model, "status": status}
	inv.metrics.RecordLatency(MetricJudgeDuration, elapsed, labels)
	inv.metrics.RecordCounter(MetricJudgeRuns, 1, labels)
}
