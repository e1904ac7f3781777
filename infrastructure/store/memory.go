// Package store implements the submission, user, and archive ports on
// Postgres, S3, and in memory.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

var (
	_ ports.SubmissionStore = (*Memory)(nil)
	_ ports.UserStore       = (*Memory)(nil)
)

// PatientActor is a simulated patient a student interviews.
type PatientActor struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	Age            int    `json:"age" db:"age"`
	ChiefComplaint string `json:"chiefComplaint" db:"chief_complaint"`
}

// ChatSession is a student's conversation with a patient actor.
type ChatSession struct {
	ID             string                     `json:"id"`
	UserID         string                     `json:"userId"`
	PatientActorID string                     `json:"patientActorId"`
	Messages       []domain.TranscriptMessage `json:"messages"`
}

// Memory is a mutex-guarded in-memory store. Reads and writes copy their
// slices so callers never share state with the store.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	actors      map[string]PatientActor
	rubrics     map[string]domain.Rubric
	sessions    map[string]ChatSession
	submissions map[string]domain.Submission
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]domain.User),
		actors:      make(map[string]PatientActor),
		rubrics:     make(map[string]domain.Rubric),
		sessions:    make(map[string]ChatSession),
		submissions: make(map[string]domain.Submission),
	}
}

// PutUser adds or replaces a user.
func (m *Memory) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutPatientActor adds or replaces a patient actor and its rubric. A nil
// rubric removes any existing one.
func (m *Memory) PutPatientActor(actor PatientActor, rubric *domain.Rubric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[actor.ID] = actor
	if rubric == nil {
		delete(m.rubrics, actor.ID)
		return
	}
	m.rubrics[actor.ID] = cloneRubric(*rubric)
}

// PutChatSession adds or replaces a chat session.
func (m *Memory) PutChatSession(s ChatSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Messages = append([]domain.TranscriptMessage(nil), s.Messages...)
	m.sessions[s.ID] = s
}

// PutSubmission adds or replaces a submission. StudentID and PatientActorID
// are filled from the chat session when it is known.
func (m *Memory) PutSubmission(s domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[s.ChatSessionID]
	if !ok {
		return fmt.Errorf("chat session %q: %w", s.ChatSessionID, domain.ErrNotFound)
	}
	s.StudentID = session.UserID
	s.PatientActorID = session.PatientActorID
	if s.Status == "" {
		s.Status = domain.StatusPending
	}
	m.submissions[s.ID] = cloneSubmission(s)
	return nil
}

// GetUser implements ports.UserStore.
func (m *Memory) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ports.NewStoreError("user", id, "get", domain.ErrNotFound)
	}
	return &u, nil
}

// GetSubmission implements ports.SubmissionStore.
func (m *Memory) GetSubmission(_ context.Context, id string) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, ports.NewStoreError("submission", id, "get", domain.ErrNotFound)
	}
	out := cloneSubmission(s)
	return &out, nil
}

// GetGradingContext implements ports.SubmissionStore.
func (m *Memory) GetGradingContext(_ context.Context, submissionID string) (*domain.GradingContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.submissions[submissionID]
	if !ok {
		return nil, ports.NewStoreError("submission", submissionID, "get grading context", domain.ErrNotFound)
	}
	session, ok := m.sessions[s.ChatSessionID]
	if !ok {
		return nil, ports.NewStoreError("chat session", s.ChatSessionID, "get grading context", domain.ErrNotFound)
	}
	actor, ok := m.actors[session.PatientActorID]
	if !ok {
		return nil, ports.NewStoreError("patient actor", session.PatientActorID, "get grading context", domain.ErrNotFound)
	}

	gc := &domain.GradingContext{
		Submission: cloneSubmission(s),
		Transcript: append([]domain.TranscriptMessage(nil), session.Messages...),
		Patient: domain.PatientContext{
			Name:           actor.Name,
			Age:            actor.Age,
			ChiefComplaint: actor.ChiefComplaint,
		},
	}
	if rubric, ok := m.rubrics[actor.ID]; ok {
		r := cloneRubric(rubric)
		gc.Rubric = &r
	}
	return gc, nil
}

// SaveAIGrade implements ports.SubmissionStore.
func (m *Memory) SaveAIGrade(_ context.Context, submissionID string, update domain.AIGradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return ports.NewStoreError("submission", submissionID, "save AI grade", domain.ErrNotFound)
	}
	update.Apply(&s)
	m.submissions[submissionID] = cloneSubmission(s)
	return nil
}

// SaveFeedback implements ports.SubmissionStore.
func (m *Memory) SaveFeedback(_ context.Context, submissionID string, update domain.FeedbackUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return ports.NewStoreError("submission", submissionID, "save feedback", domain.ErrNotFound)
	}
	update.Apply(&s)
	m.submissions[submissionID] = s
	return nil
}

// HasRubric implements ports.SubmissionStore.
func (m *Memory) HasRubric(_ context.Context, patientActorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rubrics[patientActorID]
	return ok, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func cloneRubric(r domain.Rubric) domain.Rubric {
	out := r
	out.Categories = append([]domain.RubricCategory(nil), r.Categories...)
	if r.PassingThreshold != nil {
		v := *r.PassingThreshold
		out.PassingThreshold = &v
	}
	return out
}

func cloneSubmission(s domain.Submission) domain.Submission {
	out := s
	if s.RubricScores != nil {
		out.RubricScores = make([]domain.AggregatedCategoryScore, len(s.RubricScores))
		for i, acs := range s.RubricScores {
			acs.JudgeScores = append([]domain.JudgeCategoryScore(nil), acs.JudgeScores...)
			out.RubricScores[i] = acs
		}
	}
	if s.AIGrades != nil {
		out.AIGrades = make([]domain.JudgeGrade, len(s.AIGrades))
		for i, g := range s.AIGrades {
			g.CategoryScores = append([]domain.CategoryScore(nil), g.CategoryScores...)
			out.AIGrades[i] = g
		}
	}
	if s.AIGradedAt != nil {
		t := *s.AIGradedAt
		out.AIGradedAt = &t
	}
	if s.ReviewedAt != nil {
		t := *s.ReviewedAt
		out.ReviewedAt = &t
	}
	return out
}
