// Package judges turns LLM clients into rubric graders and runs panels of
// them concurrently over one transcript.
package judges

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-rubric/infrastructure/llm"
	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

var _ ports.Judge = (*LLMJudge)(nil)

// NoReasoning is recorded for categories a judge did not score.
const NoReasoning = "No reasoning provided"

// JudgeConfig tunes how an LLMJudge calls its model.
type JudgeConfig struct {
	// Temperature is sent with every request. Zero keeps grading as
	// repeatable as the provider allows.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`

	// MaxTokens caps the reply. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"min=0,max=65536"`

	// MaxCategoryEditDistance enables fuzzy category matching when positive.
	MaxCategoryEditDistance int `yaml:"max_category_edit_distance" json:"max_category_edit_distance" validate:"min=0,max=10"`

	// MissingCategoryPolicy decides what happens to rubric categories the
	// reply leaves out. Empty means permissive: they score zero.
	MissingCategoryPolicy domain.MissingCategoryPolicy `yaml:"missing_category_policy" json:"missing_category_policy" validate:"omitempty,oneof=permissive strict"`
}

// LLMJudge grades transcripts with a single model.
// It is safe for concurrent use.
type LLMJudge struct {
	model   string
	client  ports.LLMClient
	config  JudgeConfig
	matcher categoryMatcher
	now     func() time.Time
	tracer  trace.Tracer
}

// JudgeOption customizes an LLMJudge.
type JudgeOption func(*LLMJudge)

// WithClock sets the clock used for GradedAt.
func WithClock(now func() time.Time) JudgeOption {
	return func(j *LLMJudge) { j.now = now }
}

// WithTracer sets the tracer for grading spans.
func WithTracer(tracer trace.Tracer) JudgeOption {
	return func(j *LLMJudge) { j.tracer = tracer }
}

// NewLLMJudge creates a judge that records model on its grades and calls
// client for every transcript.
func NewLLMJudge(model string, client ports.LLMClient, config JudgeConfig, opts ...JudgeOption) (*LLMJudge, error) {
	if model == "" {
		return nil, fmt.Errorf("judge model cannot be empty")
	}
	if client == nil {
		return nil, fmt.Errorf("judge %s: LLM client cannot be nil", model)
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("judge %s: configuration validation failed: %w", model, err)
	}

	j := &LLMJudge{
		model:   model,
		client:  client,
		config:  config,
		matcher: categoryMatcher{maxDistance: config.MaxCategoryEditDistance},
		now:     time.Now,
		tracer:  otel.Tracer("github.com/ahrav/go-rubric/infrastructure/judges"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Model returns the judge identifier.
func (j *LLMJudge) Model() string { return j.model }

// Grade asks the model to score input and reconciles the reply with the
// rubric: categories come back in rubric order, scores are clamped to
// [0, maxPoints], and the total is recomputed. Unscored categories get zero,
// or fail the grade with domain.ErrMissingCategory under PolicyStrict.
func (j *LLMJudge) Grade(ctx context.Context, input domain.GradingInput) (domain.JudgeGrade, error) {
	ctx, span := j.tracer.Start(ctx, "judge.grade",
		trace.WithAttributes(
			attribute.String("judge.model", j.model),
			attribute.Int("rubric.categories", len(input.Rubric.Categories)),
			attribute.Int("transcript.messages", len(input.Transcript)),
		),
	)
	defer span.End()

	grade, err := j.grade(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.JudgeGrade{}, err
	}
	span.SetAttributes(attribute.Float64("judge.total_score", grade.TotalScore))
	return grade, nil
}

func (j *LLMJudge) grade(ctx context.Context, input domain.GradingInput) (domain.JudgeGrade, error) {
	prompt, err := BuildUserPrompt(input)
	if err != nil {
		return domain.JudgeGrade{}, fmt.Errorf("judge %s: %w", j.model, err)
	}

	options := map[string]any{
		llm.OptSystem:         SystemPrompt,
		llm.OptTemperature:    j.config.Temperature,
		llm.OptResponseFormat: llm.ResponseFormatJSON,
	}
	if j.config.MaxTokens > 0 {
		options[llm.OptMaxTokens] = j.config.MaxTokens
	}

	raw, err := j.client.Complete(ctx, prompt, options)
	if err != nil {
		return domain.JudgeGrade{}, fmt.Errorf("judge %s: %w", j.model, ports.NewLLMError(j.model, "grade", err))
	}

	resp, err := parseGradeResponse(raw)
	if err != nil {
		return domain.JudgeGrade{}, fmt.Errorf("judge %s: %w",
			j.model, ports.NewLLMError(j.model, "parse", fmt.Errorf("%w: %w", ports.ErrInvalidResponse, err)))
	}

	grade, missing := j.reconcile(input.Rubric, resp)
	if len(missing) > 0 && j.config.MissingCategoryPolicy == domain.PolicyStrict {
		return domain.JudgeGrade{}, fmt.Errorf("judge %s: %w", j.model,
			ports.NewLLMError(j.model, "parse", fmt.Errorf("%w: %w: %s",
				ports.ErrInvalidResponse, domain.ErrMissingCategory, strings.Join(missing, ", "))))
	}
	return grade, nil
}

// reconcile maps a judge reply onto the rubric and reports the rubric
// categories the reply did not score.
func (j *LLMJudge) reconcile(rubric domain.Rubric, resp gradeResponse) (domain.JudgeGrade, []string) {
	names := rubric.CategoryNames()
	matched := j.matcher.match(names, resp.CategoryScores)

	var missing []string
	scores := make([]domain.CategoryScore, len(rubric.Categories))
	var total float64
	for i, cat := range rubric.Categories {
		cs := domain.CategoryScore{
			Category:  cat.Name,
			MaxPoints: cat.MaxPoints,
			Reasoning: NoReasoning,
		}
		if idx := matched[i]; idx != -1 {
			r := resp.CategoryScores[idx]
			cs.Score = clamp(r.Score, 0, cat.MaxPoints)
			cs.Reasoning = r.Reasoning
		} else {
			missing = append(missing, cat.Name)
		}
		total += cs.Score
		scores[i] = cs
	}

	return domain.JudgeGrade{
		Model:           j.model,
		CategoryScores:  scores,
		TotalScore:      total,
		MaxScore:        rubric.TotalPoints,
		OverallFeedback: resp.OverallFeedback,
		GradedAt:        j.now().UTC(),
	}, missing
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
