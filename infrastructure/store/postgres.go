package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

var (
	_ ports.SubmissionStore = (*Postgres)(nil)
	_ ports.UserStore       = (*Postgres)(nil)
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// WithTx runs fn inside a transaction, committing when fn succeeds.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Postgres stores submissions in the schema applied by the migrations
// package. JSON-shaped fields live in JSONB columns.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open database.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type submissionRow struct {
	ID             string     `db:"id"`
	ChatSessionID  string     `db:"chat_session_id"`
	StudentID      string     `db:"student_id"`
	InstructorID   string     `db:"instructor_id"`
	PatientActorID string     `db:"patient_actor_id"`
	Status         string     `db:"status"`
	Feedback       string     `db:"feedback"`
	Grade          string     `db:"grade"`
	RubricScores   []byte     `db:"rubric_scores"`
	AIGrades       []byte     `db:"ai_grades"`
	RequiresReview bool       `db:"requires_review"`
	AutoGraded     bool       `db:"auto_graded"`
	AIGradedAt     *time.Time `db:"ai_graded_at"`
	ReviewedAt     *time.Time `db:"reviewed_at"`
	SubmittedAt    time.Time  `db:"submitted_at"`
}

const selectSubmission = `
SELECT s.id, s.chat_session_id, c.user_id AS student_id, s.instructor_id,
       c.patient_actor_id, s.status, COALESCE(s.feedback, '') AS feedback,
       COALESCE(s.grade, '') AS grade, s.rubric_scores, s.ai_grades,
       s.requires_review, s.auto_graded, s.ai_graded_at, s.reviewed_at,
       s.submitted_at
FROM submitted_sessions s
JOIN chat_sessions c ON c.id = s.chat_session_id
WHERE s.id = $1`

func (r submissionRow) toDomain() (domain.Submission, error) {
	s := domain.Submission{
		ID:             r.ID,
		ChatSessionID:  r.ChatSessionID,
		StudentID:      r.StudentID,
		InstructorID:   r.InstructorID,
		PatientActorID: r.PatientActorID,
		Status:         domain.SubmissionStatus(r.Status),
		Feedback:       r.Feedback,
		Grade:          r.Grade,
		RequiresReview: r.RequiresReview,
		AutoGraded:     r.AutoGraded,
		AIGradedAt:     r.AIGradedAt,
		ReviewedAt:     r.ReviewedAt,
		SubmittedAt:    r.SubmittedAt,
	}
	if len(r.RubricScores) > 0 {
		if err := json.Unmarshal(r.RubricScores, &s.RubricScores); err != nil {
			return domain.Submission{}, fmt.Errorf("decode rubric_scores: %w", err)
		}
	}
	if len(r.AIGrades) > 0 {
		if err := json.Unmarshal(r.AIGrades, &s.AIGrades); err != nil {
			return domain.Submission{}, fmt.Errorf("decode ai_grades: %w", err)
		}
	}
	return s, nil
}

// GetUser implements ports.UserStore.
func (p *Postgres) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := p.db.GetContext(ctx, &u, `SELECT id, name, role FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, ports.NewStoreError("user", id, "get", notFound(err))
	}
	return &u, nil
}

// GetSubmission implements ports.SubmissionStore.
func (p *Postgres) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	var row submissionRow
	if err := p.db.GetContext(ctx, &row, selectSubmission, id); err != nil {
		return nil, ports.NewStoreError("submission", id, "get", notFound(err))
	}
	s, err := row.toDomain()
	if err != nil {
		return nil, ports.NewStoreError("submission", id, "get", err)
	}
	return &s, nil
}

type gradingContextRow struct {
	Messages         []byte   `db:"messages"`
	PatientName      string   `db:"patient_name"`
	PatientAge       int      `db:"patient_age"`
	ChiefComplaint   string   `db:"chief_complaint"`
	Categories       []byte   `db:"categories"`
	TotalPoints      *float64 `db:"total_points"`
	PassingThreshold *float64 `db:"passing_threshold"`
	AutoGradeEnabled *bool    `db:"auto_grade_enabled"`
}

const selectGradingContext = `
SELECT c.messages, p.name AS patient_name, p.age AS patient_age,
       p.chief_complaint, r.categories, r.total_points, r.passing_threshold,
       r.auto_grade_enabled
FROM chat_sessions c
JOIN patient_actors p ON p.id = c.patient_actor_id
LEFT JOIN grading_rubrics r ON r.patient_actor_id = p.id
WHERE c.id = $1`

// GetGradingContext implements ports.SubmissionStore.
func (p *Postgres) GetGradingContext(ctx context.Context, submissionID string) (*domain.GradingContext, error) {
	const op = "get grading context"

	sub, err := p.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	var row gradingContextRow
	if err := p.db.GetContext(ctx, &row, selectGradingContext, sub.ChatSessionID); err != nil {
		return nil, ports.NewStoreError("chat session", sub.ChatSessionID, op, notFound(err))
	}

	gc := &domain.GradingContext{
		Submission: *sub,
		Patient: domain.PatientContext{
			Name:           row.PatientName,
			Age:            row.PatientAge,
			ChiefComplaint: row.ChiefComplaint,
		},
	}
	if err := json.Unmarshal(row.Messages, &gc.Transcript); err != nil {
		return nil, ports.NewStoreError("chat session", sub.ChatSessionID, op, fmt.Errorf("decode messages: %w", err))
	}

	if row.TotalPoints != nil {
		rubric := domain.Rubric{
			TotalPoints:      *row.TotalPoints,
			PassingThreshold: row.PassingThreshold,
			AutoGradeEnabled: row.AutoGradeEnabled != nil && *row.AutoGradeEnabled,
		}
		if err := json.Unmarshal(row.Categories, &rubric.Categories); err != nil {
			return nil, ports.NewStoreError("grading rubric", sub.PatientActorID, op, fmt.Errorf("decode categories: %w", err))
		}
		gc.Rubric = &rubric
	}
	return gc, nil
}

// SaveAIGrade implements ports.SubmissionStore. The row is locked for the
// duration of the write so concurrent runs serialize.
func (p *Postgres) SaveAIGrade(ctx context.Context, submissionID string, update domain.AIGradeUpdate) error {
	const op = "save AI grade"

	scores, err := json.Marshal(update.RubricScores)
	if err != nil {
		return ports.NewStoreError("submission", submissionID, op, err)
	}
	grades, err := json.Marshal(update.AIGrades)
	if err != nil {
		return ports.NewStoreError("submission", submissionID, op, err)
	}

	err = WithTx(ctx, p.db, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id,
			`SELECT id FROM submitted_sessions WHERE id = $1 FOR UPDATE`, submissionID); err != nil {
			return notFound(err)
		}
		_, err := tx.ExecContext(ctx, `
UPDATE submitted_sessions
SET rubric_scores = $2, ai_grades = $3, requires_review = $4,
    auto_graded = TRUE, ai_graded_at = $5, status = $6
WHERE id = $1`,
			submissionID, scores, grades, update.RequiresReview, update.GradedAt, string(update.Status))
		return err
	})
	if err != nil {
		return ports.NewStoreError("submission", submissionID, op, err)
	}
	return nil
}

// SaveFeedback implements ports.SubmissionStore.
func (p *Postgres) SaveFeedback(ctx context.Context, submissionID string, update domain.FeedbackUpdate) error {
	const op = "save feedback"

	res, err := p.db.ExecContext(ctx, `
UPDATE submitted_sessions
SET feedback = $2, grade = NULLIF($3, ''), status = $4, reviewed_at = $5
WHERE id = $1`,
		submissionID, update.Feedback, update.Grade, string(update.Status), update.ReviewedAt)
	if err != nil {
		return ports.NewStoreError("submission", submissionID, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ports.NewStoreError("submission", submissionID, op, err)
	}
	if n == 0 {
		return ports.NewStoreError("submission", submissionID, op, domain.ErrNotFound)
	}
	return nil
}

// HasRubric implements ports.SubmissionStore.
func (p *Postgres) HasRubric(ctx context.Context, patientActorID string) (bool, error) {
	var ok bool
	err := p.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM grading_rubrics WHERE patient_actor_id = $1)`, patientActorID)
	if err != nil {
		return false, ports.NewStoreError("grading rubric", patientActorID, "exists", err)
	}
	return ok, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
