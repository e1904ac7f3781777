package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rubric/infrastructure/store/migrations"
	"github.com/ahrav/go-rubric/internal/domain"
)

// newTestPostgres connects to TEST_DATABASE_URL, applies migrations, and
// seeds one submission under unique ids. It skips when the variable is
// unset.
func newTestPostgres(t *testing.T, withRubric bool) (*Postgres, string, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, migrations.Up(dsn))

	ctx := context.Background()
	db, err := Open(ctx, dsn, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	suffix := uuid.NewString()
	instructor, student := "inst-"+suffix, "stud-"+suffix
	actor, chat, sub := "actor-"+suffix, "chat-"+suffix, "sub-"+suffix

	db.MustExecContext(ctx, `INSERT INTO users (id, name, role) VALUES ($1, 'Dr. Reyes', 'instructor'), ($2, 'Sam', 'student')`, instructor, student)
	db.MustExecContext(ctx, `INSERT INTO patient_actors (id, name, age, chief_complaint) VALUES ($1, 'John Doe', 54, 'chest pain')`, actor)
	if withRubric {
		db.MustExecContext(ctx, `INSERT INTO grading_rubrics (id, patient_actor_id, categories, total_points) VALUES ($1, $2, $3, 20)`,
			"rubric-"+suffix, actor,
			[]byte(`[{"name":"History Taking","description":"","maxPoints":10,"criteria":""},{"name":"Empathy","description":"","maxPoints":10,"criteria":""}]`))
	}
	db.MustExecContext(ctx, `INSERT INTO chat_sessions (id, user_id, patient_actor_id, messages) VALUES ($1, $2, $3, $4)`,
		chat, student, actor, []byte(`[{"role":"user","content":"What brings you in?"},{"role":"assistant","content":"My chest hurts."}]`))
	db.MustExecContext(ctx, `INSERT INTO submitted_sessions (id, chat_session_id, instructor_id) VALUES ($1, $2, $3)`, sub, chat, instructor)

	return NewPostgres(db), sub, instructor
}

func TestPostgres_RoundTrip(t *testing.T) {
	p, sub, instructor := newTestPostgres(t, true)
	ctx := context.Background()

	user, err := p.GetUser(ctx, instructor)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInstructor, user.Role)

	gc, err := p.GetGradingContext(ctx, sub)
	require.NoError(t, err)
	require.NotNil(t, gc.Rubric)
	assert.Equal(t, []string{"History Taking", "Empathy"}, gc.Rubric.CategoryNames())
	assert.Len(t, gc.Transcript, 2)
	assert.Equal(t, "John Doe", gc.Patient.Name)

	ok, err := p.HasRubric(ctx, gc.Submission.PatientActorID)
	require.NoError(t, err)
	assert.True(t, ok)

	gradedAt := time.Now().UTC().Truncate(time.Millisecond)
	update := domain.AIGradeUpdate{
		RubricScores:   []domain.AggregatedCategoryScore{{Category: "Empathy", AverageScore: 6, MaxPoints: 10, DisagreementPercent: 0.4}},
		AIGrades:       []domain.JudgeGrade{{Model: "a", TotalScore: 6, MaxScore: 20}},
		RequiresReview: true,
		Status:         domain.StatusPending,
		GradedAt:       gradedAt,
	}
	require.NoError(t, p.SaveAIGrade(ctx, sub, update))

	got, err := p.GetSubmission(ctx, sub)
	require.NoError(t, err)
	assert.True(t, got.HasAIGrade())
	assert.True(t, got.RequiresReview)
	assert.Equal(t, update.RubricScores, got.RubricScores)
	require.NotNil(t, got.AIGradedAt)
	assert.True(t, gradedAt.Equal(*got.AIGradedAt))

	require.NoError(t, p.SaveFeedback(ctx, sub, domain.NewFeedbackUpdate("Nice work", "", gradedAt)))
	got, err = p.GetSubmission(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReviewed, got.Status)
	assert.Equal(t, "", got.Grade)
}

func TestPostgres_NoRubricAndNotFound(t *testing.T) {
	p, sub, _ := newTestPostgres(t, false)
	ctx := context.Background()

	gc, err := p.GetGradingContext(ctx, sub)
	require.NoError(t, err)
	assert.Nil(t, gc.Rubric)

	_, err = p.GetSubmission(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, p.SaveAIGrade(ctx, "missing", domain.AIGradeUpdate{}), domain.ErrNotFound)
	assert.ErrorIs(t, p.SaveFeedback(ctx, "missing", domain.FeedbackUpdate{}), domain.ErrNotFound)
}
