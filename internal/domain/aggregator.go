package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MissingCategoryPolicy decides what happens when a judge grade omits a
// category that the canonical category list contains.
type MissingCategoryPolicy string

const (
	// PolicyPermissive treats a missing category as score 0 with empty
	// reasoning. It is the default.
	PolicyPermissive MissingCategoryPolicy = "permissive"

	// PolicyStrict rejects the whole aggregation with ErrMissingCategory.
	PolicyStrict MissingCategoryPolicy = "strict"
)

// Aggregator combines independent judge grades into one AggregatedGrade.
// The zero value is usable: it flags any disagreement (threshold 0), takes
// categories from the first judge and applies the permissive policy.
// Aggregator is a value type with no internal state and is safe for
// concurrent use.
type Aggregator struct {
	// Threshold is the disagreement fraction in [0, 1] above which a
	// category is flagged. The comparison is strict.
	Threshold float64

	// Categories is the canonical category order, normally derived from the
	// rubric. When empty, the first judge's category order is used.
	Categories []string

	// Policy controls missing-category handling. Empty means permissive.
	Policy MissingCategoryPolicy

	// Now stamps GradedAt. Defaults to time.Now.
	Now func() time.Time
}

// NewAggregator returns an Aggregator with the default threshold and the
// permissive missing-category policy.
func NewAggregator() Aggregator {
	return Aggregator{
		Threshold: DefaultDisagreementThreshold,
		Policy:    PolicyPermissive,
	}
}

// Aggregate combines judgeGrades with the given disagreement threshold,
// using the first judge's categories as the canonical order.
//
// Example:
//
//	grade, err := domain.Aggregate(judgeGrades, domain.DefaultDisagreementThreshold)
//	if err != nil {
//		return err
//	}
//	fmt.Println(domain.Summarize(grade))
func Aggregate(judgeGrades []JudgeGrade, threshold float64) (AggregatedGrade, error) {
	return Aggregator{Threshold: threshold, Policy: PolicyPermissive}.Aggregate(judgeGrades)
}

// Aggregate combines judgeGrades into one AggregatedGrade. It fails with an
// *InvalidInputError when judgeGrades is empty, when the threshold is out of
// range, or when a category is missing under PolicyStrict. The inputs are
// never modified.
func (a Aggregator) Aggregate(judgeGrades []JudgeGrade) (AggregatedGrade, error) {
	const op = "aggregate"

	if len(judgeGrades) == 0 {
		return AggregatedGrade{}, NewInvalidInputError(op, "at least one judge grade is required", nil)
	}
	if math.IsNaN(a.Threshold) || a.Threshold < 0 || a.Threshold > 1 {
		return AggregatedGrade{}, NewInvalidInputError(op,
			"disagreement threshold must be within [0, 1], got "+formatNumber(a.Threshold), nil)
	}

	categories := a.Categories
	if len(categories) == 0 {
		categories = make([]string, 0, len(judgeGrades[0].CategoryScores))
		for _, cs := range judgeGrades[0].CategoryScores {
			categories = append(categories, cs.Category)
		}
	}

	averages := make([]AggregatedCategoryScore, 0, len(categories))
	flagged := make([]string, 0)
	var total float64
	for _, category := range categories {
		acs, err := a.aggregateCategory(category, judgeGrades)
		if err != nil {
			return AggregatedGrade{}, err
		}
		averages = append(averages, acs)
		total += acs.AverageScore
		if acs.DisagreementPercent > a.Threshold {
			flagged = append(flagged, category)
		}
	}

	grades := make([]JudgeGrade, len(judgeGrades))
	for i, g := range judgeGrades {
		grades[i] = g.clone()
	}

	total = Round2(total)
	maxScore := judgeGrades[0].MaxScore

	return AggregatedGrade{
		AverageScores:         averages,
		TotalScore:            total,
		MaxScore:              maxScore,
		PercentageScore:       Percentage(total, maxScore),
		RequiresReview:        len(flagged) > 0,
		FlaggedCategories:     flagged,
		JudgeGrades:           grades,
		DisagreementThreshold: a.Threshold,
		GradedAt:              a.now(),
	}, nil
}

func (a Aggregator) aggregateCategory(category string, judgeGrades []JudgeGrade) (AggregatedCategoryScore, error) {
	scores := make([]JudgeCategoryScore, 0, len(judgeGrades))
	maxPoints, maxKnown := 0.0, false

	for _, g := range judgeGrades {
		cs, ok := g.score(category)
		if !ok {
			if a.Policy == PolicyStrict {
				return AggregatedCategoryScore{}, NewInvalidInputError("aggregate",
					"judge "+g.Model+" has no score for category "+strconv.Quote(category), ErrMissingCategory)
			}
			cs = CategoryScore{Category: category}
		} else if !maxKnown {
			maxPoints, maxKnown = cs.MaxPoints, true
		}
		scores = append(scores, JudgeCategoryScore{
			Model:     g.Model,
			Score:     cs.Score,
			Reasoning: cs.Reasoning,
		})
	}

	return AggregatedCategoryScore{
		Category:            category,
		AverageScore:        Round2(mean(scores)),
		MaxPoints:           maxPoints,
		DisagreementPercent: disagreement(scores, maxPoints),
		JudgeScores:         scores,
	}, nil
}

func (a Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func mean(scores []JudgeCategoryScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s.Score
	}
	return sum / float64(len(scores))
}

// disagreement is the score range as a fraction of maxPoints. It is zero
// for a single judge or a category worth no points.
func disagreement(scores []JudgeCategoryScore, maxPoints float64) float64 {
	if maxPoints == 0 || len(scores) < 2 {
		return 0
	}
	lo, hi := scores[0].Score, scores[0].Score
	for _, s := range scores[1:] {
		lo = math.Min(lo, s.Score)
		hi = math.Max(hi, s.Score)
	}
	return Round2((hi - lo) / maxPoints)
}

// Round2 rounds x to two decimal places, halves rounding up.
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}

// Percentage returns total/max as a whole percentage, halves rounding up.
// A zero max yields 0.
func Percentage(total, maxScore float64) int {
	if maxScore == 0 {
		return 0
	}
	return int(math.Floor(total/maxScore*100 + 0.5))
}

// Summarize renders a one-line score summary with a review warning listing
// the flagged categories when the grade requires review.
func Summarize(grade AggregatedGrade) string {
	var b strings.Builder
	b.WriteString("Score: ")
	b.WriteString(formatNumber(grade.TotalScore))
	b.WriteString("/")
	b.WriteString(formatNumber(grade.MaxScore))
	b.WriteString(" (")
	b.WriteString(strconv.Itoa(grade.PercentageScore))
	b.WriteString("%)")

	if grade.RequiresReview {
		b.WriteString("\n⚠️ Requires Review - Judges disagreed on: ")
		b.WriteString(strings.Join(grade.FlaggedCategories, ", "))
	}
	return b.String()
}

// RebuildAggregatedGrade reconstructs an AggregatedGrade from the fields a
// submission persists. Totals are recomputed from the stored averages and
// the max score is the sum of stored category maximums; requiresReview is
// taken as stored.
func RebuildAggregatedGrade(
	averageScores []AggregatedCategoryScore,
	judgeGrades []JudgeGrade,
	requiresReview bool,
	gradedAt time.Time,
	threshold float64,
) AggregatedGrade {
	var total, maxScore float64
	flagged := make([]string, 0)
	for _, acs := range averageScores {
		total += acs.AverageScore
		maxScore += acs.MaxPoints
		if acs.DisagreementPercent > threshold {
			flagged = append(flagged, acs.Category)
		}
	}

	return AggregatedGrade{
		AverageScores:         averageScores,
		TotalScore:            Round2(total),
		MaxScore:              maxScore,
		PercentageScore:       Percentage(total, maxScore),
		RequiresReview:        requiresReview,
		FlaggedCategories:     flagged,
		JudgeGrades:           judgeGrades,
		DisagreementThreshold: threshold,
		GradedAt:              gradedAt,
	}
}

func formatNumber(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
