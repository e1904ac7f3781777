package domain

import (
	"time"
)

// SubmissionStatus is the review state of a submitted transcript.
type SubmissionStatus string

const (
	// StatusPending means an instructor still has to look at the submission.
	StatusPending SubmissionStatus = "pending"
	// StatusReviewed means the submission was reviewed without a final grade.
	StatusReviewed SubmissionStatus = "reviewed"
	// StatusGraded means an instructor entered a final grade.
	StatusGraded SubmissionStatus = "graded"
)

// StatusAfterAIGrading returns the status a submission moves to after an AI
// grading run. AI grading never produces StatusGraded; only a human grade
// does.
func StatusAfterAIGrading(requiresReview bool) SubmissionStatus {
	if requiresReview {
		return StatusPending
	}
	return StatusReviewed
}

// StatusAfterFeedback returns the status a submission moves to when an
// instructor saves feedback, graded only when a grade was entered.
func StatusAfterFeedback(grade string) SubmissionStatus {
	if grade != "" {
		return StatusGraded
	}
	return StatusReviewed
}

// UserRole is the access level of an application user.
type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
)

// User is an authenticated caller.
type User struct {
	ID   string   `json:"id" db:"id"`
	Name string   `json:"name" db:"name"`
	Role UserRole `json:"role" db:"role"`
}

// CanGrade reports whether the user may run AI grading or leave feedback.
func (u User) CanGrade() bool {
	return u.Role == RoleInstructor || u.Role == RoleAdmin
}

// Submission is a transcript a student sent to an instructor, together with
// its latest AI grading state and instructor feedback.
type Submission struct {
	ID             string           `json:"id"`
	ChatSessionID  string           `json:"chatSessionId"`
	StudentID      string           `json:"studentId"`
	InstructorID   string           `json:"instructorId"`
	PatientActorID string           `json:"patientActorId"`
	Status         SubmissionStatus `json:"status"`
	Feedback       string           `json:"feedback,omitempty"`
	Grade          string           `json:"grade,omitempty"`

	// RubricScores holds the aggregated per-category scores of the last run.
	RubricScores []AggregatedCategoryScore `json:"rubricScores,omitempty"`
	// AIGrades holds the individual judge grades of the last run.
	AIGrades       []JudgeGrade `json:"aiGrades,omitempty"`
	RequiresReview bool         `json:"requiresReview"`
	AutoGraded     bool         `json:"autoGraded"`
	AIGradedAt     *time.Time   `json:"aiGradedAt,omitempty"`
	ReviewedAt     *time.Time   `json:"reviewedAt,omitempty"`
	SubmittedAt    time.Time    `json:"submittedAt"`
}

// HasAIGrade reports whether the submission carries a complete AI grading
// result.
func (s Submission) HasAIGrade() bool {
	return s.AutoGraded && len(s.RubricScores) > 0 && len(s.AIGrades) > 0
}

// VisibleTo reports whether user may read the submission's grading result:
// the assigned instructor or the submitting student.
func (s Submission) VisibleTo(userID string) bool {
	return userID != "" && (s.InstructorID == userID || s.StudentID == userID)
}

// GradingContext is the data an AI grading run loads for one submission.
type GradingContext struct {
	Submission Submission
	Transcript []TranscriptMessage
	Patient    PatientContext

	// Rubric is nil when the patient actor has no rubric configured.
	Rubric *Rubric
}

// Input assembles the GradingInput for this context. It requires a rubric.
func (c GradingContext) Input() (GradingInput, error) {
	if c.Rubric == nil {
		return GradingInput{}, ErrNoRubric
	}
	patient := c.Patient
	return GradingInput{
		Transcript:     append([]TranscriptMessage(nil), c.Transcript...),
		Rubric:         *c.Rubric,
		PatientContext: &patient,
	}, nil
}

// AIGradeUpdate is the wholesale replacement of a submission's AI grading
// fields after a successful run.
type AIGradeUpdate struct {
	RubricScores   []AggregatedCategoryScore
	AIGrades       []JudgeGrade
	RequiresReview bool
	Status         SubmissionStatus
	GradedAt       time.Time
}

// NewAIGradeUpdate derives the persisted update from an aggregated grade.
func NewAIGradeUpdate(grade AggregatedGrade) AIGradeUpdate {
	return AIGradeUpdate{
		RubricScores:   grade.AverageScores,
		AIGrades:       grade.JudgeGrades,
		RequiresReview: grade.RequiresReview,
		Status:         StatusAfterAIGrading(grade.RequiresReview),
		GradedAt:       grade.GradedAt,
	}
}

// Apply writes the update onto s, replacing any earlier AI grading result.
func (u AIGradeUpdate) Apply(s *Submission) {
	gradedAt := u.GradedAt
	s.RubricScores = u.RubricScores
	s.AIGrades = u.AIGrades
	s.RequiresReview = u.RequiresReview
	s.AutoGraded = true
	s.AIGradedAt = &gradedAt
	s.Status = u.Status
}

// FeedbackUpdate records an instructor's review of a submission.
type FeedbackUpdate struct {
	Feedback   string
	Grade      string
	Status     SubmissionStatus
	ReviewedAt time.Time
}

// NewFeedbackUpdate builds a FeedbackUpdate with the status rule applied.
func NewFeedbackUpdate(feedback, grade string, now time.Time) FeedbackUpdate {
	return FeedbackUpdate{
		Feedback:   feedback,
		Grade:      grade,
		Status:     StatusAfterFeedback(grade),
		ReviewedAt: now,
	}
}

// Apply writes the feedback onto s.
func (u FeedbackUpdate) Apply(s *Submission) {
	reviewedAt := u.ReviewedAt
	s.Feedback = u.Feedback
	s.Grade = u.Grade
	s.Status = u.Status
	s.ReviewedAt = &reviewedAt
}
