package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/infrastructure/store"
	"github.com/ahrav/go-rubric/internal/application"
	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

type fakeService struct {
	grade    *domain.AggregatedGrade
	err      error
	feedback [2]string
	userID   string
}

func (f *fakeService) RunAIGrading(_ context.Context, userID, _ string) (domain.AggregatedGrade, error) {
	f.userID = userID
	if f.err != nil {
		return domain.AggregatedGrade{}, f.err
	}
	return *f.grade, nil
}

func (f *fakeService) EnqueueAIGrading(_ context.Context, userID, _ string) (string, error) {
	f.userID = userID
	return "job-1", f.err
}

func (f *fakeService) GetAIGradingResults(_ context.Context, userID, _ string) (*domain.AggregatedGrade, error) {
	f.userID = userID
	return f.grade, f.err
}

func (f *fakeService) UpdateFeedback(_ context.Context, userID, _, feedback, grade string) error {
	f.userID = userID
	f.feedback = [2]string{feedback, grade}
	return f.err
}

func (f *fakeService) HasGradingRubric(_ context.Context, id string) bool { return id == "actor-1" }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleGrade() *domain.AggregatedGrade {
	return &domain.AggregatedGrade{
		AverageScores: []domain.AggregatedCategoryScore{
			{Category: "Empathy", AverageScore: 5, MaxPoints: 10, DisagreementPercent: 0.4},
		},
		TotalScore:            5,
		MaxScore:              10,
		PercentageScore:       50,
		RequiresReview:        true,
		FlaggedCategories:     []string{"Empathy"},
		DisagreementThreshold: 0.2,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var asInstructor = map[string]string{UserHeader: "inst-1"}

func TestRouter_RunGrading(t *testing.T) {
	svc := &fakeService{grade: sampleGrade()}
	h := NewRouter(svc, Options{Logger: quietLogger()})

	rec := do(t, h, http.MethodPost, "/submissions/sub-1/ai-grading", "", asInstructor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inst-1", svc.userID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5.0, body["totalScore"])
	assert.Equal(t, true, body["requiresReview"])
	assert.Equal(t, "Score: 5/10 (50%)\n⚠️ Requires Review - Judges disagreed on: Empathy", body["summary"])
}

func TestRouter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("store: %w", domain.ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("%w: not assigned", domain.ErrForbidden), http.StatusForbidden},
		{"no rubric", fmt.Errorf("grading could not be completed: %w", domain.ErrNoRubric), http.StatusUnprocessableEntity},
		{"invalid input", domain.NewInvalidInputError("aggregate", "empty", nil), http.StatusBadRequest},
		{"llm failure", ports.NewLLMError("gemini-2.5-pro", "grade", ports.ErrServiceUnavailable), http.StatusBadGateway},
		{"too few judges", fmt.Errorf("x: %w", judges.ErrTooFewJudges), http.StatusBadGateway},
		{"timeout", fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeService{err: tt.err}, Options{Logger: quietLogger()})
			rec := do(t, h, http.MethodPost, "/submissions/sub-1/ai-grading", "", asInstructor)
			assert.Equal(t, tt.want, rec.Code)

			var body errResp
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "Internal Server Error", body.Error)
			} else {
				assert.NotEmpty(t, body.Error)
			}
		})
	}
}

func TestRouter_GetGrading(t *testing.T) {
	t.Run("graded", func(t *testing.T) {
		h := NewRouter(&fakeService{grade: sampleGrade()}, Options{Logger: quietLogger()})
		rec := do(t, h, http.MethodGet, "/submissions/sub-1/ai-grading", "", asInstructor)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("never graded", func(t *testing.T) {
		h := NewRouter(&fakeService{}, Options{Logger: quietLogger()})
		rec := do(t, h, http.MethodGet, "/submissions/sub-1/ai-grading", "", asInstructor)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_EnqueueGrading(t *testing.T) {
	h := NewRouter(&fakeService{}, Options{Logger: quietLogger()})
	rec := do(t, h, http.MethodPost, "/submissions/sub-1/ai-grading/jobs", "", asInstructor)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"job-1"}`, rec.Body.String())

	h = NewRouter(&fakeService{err: application.ErrQueueNotConfigured}, Options{Logger: quietLogger()})
	rec = do(t, h, http.MethodPost, "/submissions/sub-1/ai-grading/jobs", "", asInstructor)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_UpdateFeedback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"with grade", `{"feedback":"Nice","grade":"A"}`, http.StatusNoContent},
		{"without grade", `{"feedback":"Nice"}`, http.StatusNoContent},
		{"malformed", `{"feedback":`, http.StatusBadRequest},
		{"unknown field", `{"feedback":"x","score":3}`, http.StatusBadRequest},
		{"grade too long", `{"feedback":"x","grade":"` + strings.Repeat("A", 40) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			h := NewRouter(svc, Options{Logger: quietLogger()})
			rec := do(t, h, http.MethodPut, "/submissions/sub-1/feedback", tt.body, asInstructor)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "Nice", svc.feedback[0])
			}
		})
	}
}

func TestRouter_HasRubric(t *testing.T) {
	h := NewRouter(&fakeService{}, Options{Logger: quietLogger()})

	rec := do(t, h, http.MethodGet, "/patient-actors/actor-1/rubric", "", nil)
	assert.JSONEq(t, `{"hasRubric":true}`, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/patient-actors/actor-2/rubric", "", nil)
	assert.JSONEq(t, `{"hasRubric":false}`, rec.Body.String())
}

func TestRouter_Auth(t *testing.T) {
	h := NewRouter(&fakeService{grade: sampleGrade()}, Options{APIToken: "s3cret", Logger: quietLogger()})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no token", asInstructor, http.StatusUnauthorized},
		{"wrong token", map[string]string{"Authorization": "Bearer nope", UserHeader: "inst-1"}, http.StatusUnauthorized},
		{"no user", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusUnauthorized},
		{"ok", map[string]string{"Authorization": "Bearer s3cret", UserHeader: "inst-1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/submissions/sub-1/ai-grading", "", tt.headers)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	// Health and metrics stay open.
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	h := NewRouter(&fakeService{}, Options{
		Logger:  quietLogger(),
		Metrics: metrics,
		Health:  func(context.Context) error { return errors.New("db down") },
	})

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "# metrics\n", rec.Body.String())
}

// panelJudge returns fixed scores for a two-category rubric.
type panelJudge struct {
	model  string
	scores []float64
}

func (j panelJudge) Model() string { return j.model }

func (j panelJudge) Grade(_ context.Context, in domain.GradingInput) (domain.JudgeGrade, error) {
	g := domain.JudgeGrade{Model: j.model, MaxScore: in.Rubric.TotalPoints, GradedAt: time.Now().UTC()}
	for i, c := range in.Rubric.Categories {
		g.CategoryScores = append(g.CategoryScores, domain.CategoryScore{
			Category: c.Name, Score: j.scores[i], MaxPoints: c.MaxPoints, Reasoning: "ok",
		})
		g.TotalScore += j.scores[i]
	}
	return g, nil
}

func TestRouter_EndToEnd(t *testing.T) {
	mem := store.NewMemory()
	mem.PutUser(domain.User{ID: "inst-1", Role: domain.RoleInstructor})
	mem.PutUser(domain.User{ID: "stud-1", Role: domain.RoleStudent})
	rubric := domain.NewRubric([]domain.RubricCategory{
		{Name: "History Taking", MaxPoints: 10},
		{Name: "Empathy", MaxPoints: 10},
	})
	mem.PutPatientActor(store.PatientActor{ID: "actor-1", Name: "John Doe", Age: 54}, &rubric)
	mem.PutChatSession(store.ChatSession{ID: "chat-1", UserID: "stud-1", PatientActorID: "actor-1",
		Messages: []domain.TranscriptMessage{{Role: domain.RoleUser, Content: "Hi"}, {Role: domain.RoleAssistant, Content: "Hello"}}})
	require.NoError(t, mem.PutSubmission(domain.Submission{ID: "sub-1", ChatSessionID: "chat-1", InstructorID: "inst-1"}))

	invoker, err := judges.NewInvoker(judges.StaticResolver(
		panelJudge{model: "a", scores: []float64{8, 3}},
		panelJudge{model: "b", scores: []float64{8, 7}},
	), judges.InvokerConfig{})
	require.NoError(t, err)
	svc, err := application.NewGradingService(mem, mem, invoker,
		application.ServiceConfig{Judges: []string{"a", "b"}, Threshold: 0.2},
		application.WithServiceLogger(quietLogger()))
	require.NoError(t, err)

	h := NewRouter(svc, Options{Logger: quietLogger()})

	rec := do(t, h, http.MethodGet, "/submissions/sub-1/ai-grading", "", map[string]string{UserHeader: "stud-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/submissions/sub-1/ai-grading", "", map[string]string{UserHeader: "stud-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/submissions/sub-1/ai-grading", "", asInstructor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/submissions/sub-1/ai-grading", "", map[string]string{UserHeader: "stud-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.AggregatedGrade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 13.0, got.TotalScore)
	assert.Equal(t, []string{"Empathy"}, got.FlaggedCategories)
	assert.True(t, got.RequiresReview)

	rec = do(t, h, http.MethodPut, "/submissions/sub-1/feedback", `{"feedback":"Work on empathy","grade":"B"}`, asInstructor)
	require.Equal(t, http.StatusNoContent, rec.Code)
	sub, err := mem.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGraded, sub.Status)
}
