package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAfterAIGrading(t *testing.T) {
	assert.Equal(t, StatusPending, StatusAfterAIGrading(true))
	assert.Equal(t, StatusReviewed, StatusAfterAIGrading(false))
}

func TestStatusAfterFeedback(t *testing.T) {
	assert.Equal(t, StatusGraded, StatusAfterFeedback("A-"))
	assert.Equal(t, StatusGraded, StatusAfterFeedback("  "))
	assert.Equal(t, StatusReviewed, StatusAfterFeedback(""))
}

func TestUserCanGrade(t *testing.T) {
	tests := []struct {
		role UserRole
		want bool
	}{
		{RoleInstructor, true},
		{RoleAdmin, true},
		{RoleStudent, false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, User{ID: "u", Role: tt.role}.CanGrade(), "role %q", tt.role)
	}
}

func TestSubmissionVisibleTo(t *testing.T) {
	s := Submission{InstructorID: "inst-1", StudentID: "stu-1"}

	assert.True(t, s.VisibleTo("inst-1"))
	assert.True(t, s.VisibleTo("stu-1"))
	assert.False(t, s.VisibleTo("inst-2"))
	assert.False(t, s.VisibleTo(""))
}

// TestAIGradeUpdateApply replaces an earlier AI result wholesale and never
// marks the submission graded.
func TestAIGradeUpdateApply(t *testing.T) {
	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Submission{
		Status:       StatusPending,
		RubricScores: []AggregatedCategoryScore{{Category: "old"}},
		AIGrades:     []JudgeGrade{{Model: "old"}},
		AIGradedAt:   &earlier,
	}

	grade := AggregatedGrade{
		AverageScores:  []AggregatedCategoryScore{{Category: "A", AverageScore: 7, MaxPoints: 10}},
		JudgeGrades:    []JudgeGrade{{Model: "gemini-2.5-flash"}},
		RequiresReview: false,
		GradedAt:       fixedNow,
	}

	NewAIGradeUpdate(grade).Apply(&s)

	assert.Equal(t, StatusReviewed, s.Status)
	assert.True(t, s.AutoGraded)
	assert.Equal(t, grade.AverageScores, s.RubricScores)
	assert.Equal(t, grade.JudgeGrades, s.AIGrades)
	require.NotNil(t, s.AIGradedAt)
	assert.Equal(t, fixedNow, *s.AIGradedAt)
	assert.True(t, s.HasAIGrade())

	grade.RequiresReview = true
	NewAIGradeUpdate(grade).Apply(&s)
	assert.Equal(t, StatusPending, s.Status)
}

func TestFeedbackUpdateApply(t *testing.T) {
	var s Submission
	NewFeedbackUpdate("Good history taking.", "", fixedNow).Apply(&s)

	assert.Equal(t, StatusReviewed, s.Status)
	assert.Equal(t, "Good history taking.", s.Feedback)
	require.NotNil(t, s.ReviewedAt)

	NewFeedbackUpdate("Final.", "B+", fixedNow).Apply(&s)
	assert.Equal(t, StatusGraded, s.Status)
	assert.Equal(t, "B+", s.Grade)
}

func TestGradingContextInput(t *testing.T) {
	c := GradingContext{
		Transcript: []TranscriptMessage{{Role: RoleUser, Content: "Hi"}},
		Patient:    PatientContext{Name: "Maria Lopez", Age: 54, ChiefComplaint: "chest pain"},
	}

	_, err := c.Input()
	assert.ErrorIs(t, err, ErrNoRubric)

	r := NewRubric(StandardOSCERubric())
	c.Rubric = &r
	in, err := c.Input()
	require.NoError(t, err)
	require.NotNil(t, in.PatientContext)
	assert.Equal(t, "Maria Lopez", in.PatientContext.Name)
	assert.Equal(t, 50.0, in.Rubric.TotalPoints)
}
