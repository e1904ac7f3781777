package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID returns a context carrying id. The logging middleware
// reuses it so an HTTP request id follows its LLM calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// LoggingConfig controls what the logging middleware records.
type LoggingConfig struct {
	// RedactPrompts logs prompt lengths instead of prompt text. Transcripts
	// contain student and simulated patient dialogue, so this defaults on
	// in the binaries.
	RedactPrompts bool
}

type loggedLLM struct {
	next   CoreLLM
	logger *slog.Logger
	config LoggingConfig
}

// LoggingMiddleware logs the start and outcome of every request with a
// request id, model, latency, and token usage.
func LoggingMiddleware(logger *slog.Logger, config LoggingConfig) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next CoreLLM) CoreLLM {
		return &loggedLLM{next: next, logger: logger, config: config}
	}
}

func (l *loggedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = WithRequestID(ctx, requestID)
	}

	fields := []any{
		"request_id", requestID,
		"model", l.next.GetModel(),
	}
	startFields := append([]any{}, fields...)
	if l.config.RedactPrompts {
		startFields = append(startFields, "prompt_length", len(prompt))
	} else {
		startFields = append(startFields, "prompt", prompt)
	}
	if system, ok := opts[OptSystem].(string); ok && system != "" {
		startFields = append(startFields, "system_prompt_length", len(system))
	}
	l.logger.DebugContext(ctx, "LLM request started", startFields...)

	start := time.Now()
	response, tokensIn, tokensOut, err := l.next.DoRequest(ctx, prompt, opts)
	fields = append(fields, "duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		fields = append(fields, "error_type", errorTypeLabel(err), "error", err.Error())
		l.logger.ErrorContext(ctx, "LLM request failed", fields...)
		return response, tokensIn, tokensOut, err
	}

	fields = append(fields,
		"tokens_in", tokensIn,
		"tokens_out", tokensOut,
		"response_length", len(response),
	)
	l.logger.InfoContext(ctx, "LLM request completed", fields...)
	return response, tokensIn, tokensOut, nil
}

func (l *loggedLLM) GetModel() string { return l.next.GetModel() }

func (l *loggedLLM) SetModel(m string) { l.next.SetModel(m) }

// errorTypeLabel names an error for logs and metric labels.
func errorTypeLabel(err error) string {
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &pe):
		if t := pe.typeString(); t != "" {
			return t
		}
		return "unknown"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
