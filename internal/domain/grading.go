package domain

import (
	"time"
)

// DefaultDisagreementThreshold is the fraction of a category's max points
// that judges may spread across before the category is flagged for review.
const DefaultDisagreementThreshold = 0.2

// CategoryScore is one judge's score for one rubric category.
type CategoryScore struct {
	// Category names the rubric category being scored.
	Category string `json:"category"`

	// Score is the points awarded, between 0 and MaxPoints.
	Score float64 `json:"score"`

	// MaxPoints is the maximum the category allows.
	MaxPoints float64 `json:"maxPoints"`

	// Reasoning is the judge's evidence for the score.
	Reasoning string `json:"reasoning"`
}

// JudgeGrade is one judge's complete grading of a transcript.
// CategoryScores enumerates the rubric's categories in rubric order and
// TotalScore is always the sum of those scores.
type JudgeGrade struct {
	// Model identifies the judge that produced the grade.
	Model string `json:"model"`

	CategoryScores  []CategoryScore `json:"categoryScores"`
	TotalScore      float64         `json:"totalScore"`
	MaxScore        float64         `json:"maxScore"`
	OverallFeedback string          `json:"overallFeedback"`
	GradedAt        time.Time       `json:"gradedAt"`
}

// score returns the judge's entry for category.
func (g JudgeGrade) score(category string) (CategoryScore, bool) {
	for _, cs := range g.CategoryScores {
		if cs.Category == category {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// clone returns a deep copy so aggregated results never alias caller data.
func (g JudgeGrade) clone() JudgeGrade {
	out := g
	out.CategoryScores = append([]CategoryScore(nil), g.CategoryScores...)
	return out
}

// JudgeCategoryScore is one judge's contribution to an aggregated category.
type JudgeCategoryScore struct {
	Model     string  `json:"model"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// AggregatedCategoryScore summarizes every judge's score for one category.
type AggregatedCategoryScore struct {
	Category string `json:"category"`

	// AverageScore is the mean judge score rounded to two decimals.
	AverageScore float64 `json:"averageScore"`

	MaxPoints float64 `json:"maxPoints"`

	// DisagreementPercent is the spread between the highest and lowest judge
	// score as a fraction of MaxPoints, rounded to two decimals.
	DisagreementPercent float64 `json:"disagreementPercent"`

	JudgeScores []JudgeCategoryScore `json:"judgeScores"`
}

// AggregatedGrade is the final result of grading one submission.
type AggregatedGrade struct {
	AverageScores []AggregatedCategoryScore `json:"averageScores"`
	TotalScore    float64                   `json:"totalScore"`
	MaxScore      float64                   `json:"maxScore"`

	// PercentageScore is TotalScore/MaxScore as a rounded percentage.
	PercentageScore int `json:"percentageScore"`

	// RequiresReview is true when at least one category is flagged.
	RequiresReview bool `json:"requiresReview"`

	// FlaggedCategories lists categories whose disagreement strictly exceeds
	// DisagreementThreshold, in canonical category order.
	FlaggedCategories []string `json:"flaggedCategories"`

	JudgeGrades           []JudgeGrade `json:"judgeGrades"`
	DisagreementThreshold float64      `json:"disagreementThreshold"`
	GradedAt              time.Time    `json:"gradedAt"`
}
