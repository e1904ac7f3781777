// Package httpapi exposes AI grading over HTTP with chi.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/internal/application"
	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

// UserHeader carries the authenticated caller's user id. The API token
// authenticates the calling application, which vouches for the user.
const UserHeader = "X-User-ID"

// GradingService is the application surface the API serves.
// *application.GradingService satisfies it.
type GradingService interface {
	RunAIGrading(ctx context.Context, userID, submissionID string) (domain.AggregatedGrade, error)
	EnqueueAIGrading(ctx context.Context, userID, submissionID string) (string, error)
	GetAIGradingResults(ctx context.Context, userID, submissionID string) (*domain.AggregatedGrade, error)
	UpdateFeedback(ctx context.Context, userID, submissionID, feedback, grade string) error
	HasGradingRubric(ctx context.Context, patientActorID string) bool
}

// Options configures the router.
type Options struct {
	// APIToken, when set, is required as "Authorization: Bearer <token>".
	APIToken string

	Logger *slog.Logger

	// Metrics serves GET /metrics when set, normally promhttp.Handler.
	Metrics http.Handler

	// Health backs GET /healthz. Nil always reports ok.
	Health func(ctx context.Context) error
}

type server struct {
	svc      GradingService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRouter builds the HTTP handler.
func NewRouter(svc GradingService, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{svc: svc, logger: logger, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, requestLogger(logger), m.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireAPIToken(opts.APIToken))

		r.Get("/patient-actors/{id}/rubric", s.hasRubric)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/submissions/{id}/ai-grading", s.runGrading)
			r.Post("/submissions/{id}/ai-grading/jobs", s.enqueueGrading)
			r.Get("/submissions/{id}/ai-grading", s.getGrading)
			r.Put("/submissions/{id}/feedback", s.updateFeedback)
		})
	})

	return r
}

type gradeResponse struct {
	domain.AggregatedGrade
	Summary string `json:"summary"`
}

type jobResponse struct {
	JobID string `json:"jobId"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback" validate:"max=20000"`
	Grade    string `json:"grade" validate:"max=32"`
}

type rubricResponse struct {
	HasRubric bool `json:"hasRubric"`
}

type errResp struct {
	Error string `json:"error"`
}

func (s *server) runGrading(w http.ResponseWriter, r *http.Request) {
	grade, err := s.svc.RunAIGrading(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{AggregatedGrade: grade, Summary: domain.Summarize(grade)})
}

func (s *server) enqueueGrading(w http.ResponseWriter, r *http.Request) {
	id, err := s.svc.EnqueueAIGrading(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: id})
}

func (s *server) getGrading(w http.ResponseWriter, r *http.Request) {
	grade, err := s.svc.GetAIGradingResults(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if grade == nil {
		writeJSON(w, http.StatusNotFound, errResp{"submission has not been AI graded"})
		return
	}
	writeJSON(w, http.StatusOK, gradeResponse{AggregatedGrade: *grade, Summary: domain.Summarize(*grade)})
}

func (s *server) updateFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{"invalid request body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{err.Error()})
		return
	}

	if err := s.svc.UpdateFeedback(r.Context(), userID(r), chi.URLParam(r, "id"), req.Feedback, req.Grade); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) hasRubric(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rubricResponse{HasRubric: s.svc.HasGradingRubric(r.Context(), chi.URLParam(r, "id"))})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var llmErr *ports.LLMError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoRubric):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrQueueNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &llmErr),
		errors.Is(err, judges.ErrTooFewJudges),
		errors.Is(err, judges.ErrUnknownJudge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", m.GetReqID(r.Context()), "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errResp{msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func requireAPIToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errResp{"unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeJSON(w, http.StatusUnauthorized, errResp{"missing " + UserHeader + " header"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := m.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.InfoContext(r.Context(), "http request",
				"request_id", m.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
