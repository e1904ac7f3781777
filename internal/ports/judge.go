package ports

import (
	"context"

	"github.com/ahrav/go-rubric/internal/domain"
)

// Judge grades a transcript against a rubric with one model.
// Implementations must return a JudgeGrade whose CategoryScores enumerate
// the rubric's categories in rubric order and whose TotalScore is the sum
// of those scores.
type Judge interface {
	// Model returns the judge identifier recorded on every grade.
	Model() string

	// Grade scores the input. It must honor ctx cancellation.
	Grade(ctx context.Context, input domain.GradingInput) (domain.JudgeGrade, error)
}

// JudgeResolver maps a judge identifier such as "gemini-2.5-flash" to a
// Judge. Injecting the resolver keeps the model registry out of package
// state so tests can substitute deterministic judges.
type JudgeResolver func(model string) (Judge, error)

// JudgeInvoker runs a panel of judges over one input.
type JudgeInvoker interface {
	// RunAll grades input with every model and returns one JudgeGrade per
	// successful judge, in the order of models.
	RunAll(ctx context.Context, input domain.GradingInput, models []string) ([]domain.JudgeGrade, error)
}
