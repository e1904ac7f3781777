package application

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/infrastructure/llm"
	"github.com/ahrav/go-rubric/internal/ports"
)

// Telemetry bundles the logger, metrics, and tracer attached to judge
// clients. Nil Metrics or Tracer leave that middleware out.
type Telemetry struct {
	Logger  *slog.Logger
	Metrics ports.MetricsCollector
	Tracer  trace.Tracer
}

// LLMMiddleware builds the client middleware chain from c, outermost first:
// logging, tracing, metrics, retry, circuit breaker, rate limiting, then the
// per-attempt timeout.
func LLMMiddleware(c LLMConfig, t Telemetry) []llm.Middleware {
	mw := []llm.Middleware{
		llm.LoggingMiddleware(t.Logger, llm.LoggingConfig{RedactPrompts: c.RedactPrompts}),
	}
	if t.Tracer != nil {
		mw = append(mw, llm.TracingMiddleware(t.Tracer))
	}
	if t.Metrics != nil {
		mw = append(mw, llm.MetricsMiddleware(t.Metrics))
	}
	if c.Retry.MaxRetries > 0 {
		mw = append(mw, llm.RetryMiddleware(c.Retry.MaxRetries, c.Retry.BaseDelay, c.Retry.MaxDelay))
	}
	if c.CircuitBreaker.MaxFailures > 0 {
		mw = append(mw, llm.CircuitBreakerMiddleware(c.CircuitBreaker.MaxFailures, c.CircuitBreaker.Cooldown))
	}
	if c.RateLimit.RequestsPerSecond > 0 {
		burst := c.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		mw = append(mw, llm.RateLimitMiddleware(rate.Limit(c.RateLimit.RequestsPerSecond), burst))
	}
	if c.Timeout > 0 {
		mw = append(mw, llm.TimeoutMiddleware(c.Timeout))
	}
	return mw
}

// NewJudgeRegistry creates the client registry judges draw from, with the
// default providers and the middleware chain from c. API keys are read
// with getenv; nil uses os.Getenv.
func NewJudgeRegistry(c LLMConfig, t Telemetry, getenv func(string) string) (*llm.Registry, error) {
	return llm.NewRegistry(llm.RegistryConfig{
		Providers:         llm.DefaultProviders,
		DefaultProvider:   "google",
		DefaultTimeout:    c.Timeout,
		DefaultMiddleware: LLMMiddleware(c, t),
		Getenv:            getenv,
	})
}

// NewJudgeInvoker builds the judge panel runner for c on top of source.
func NewJudgeInvoker(c GradingConfig, source judges.ClientSource, t Telemetry) (*judges.Invoker, error) {
	var judgeOpts []judges.JudgeOption
	if t.Tracer != nil {
		judgeOpts = append(judgeOpts, judges.WithTracer(t.Tracer))
	}
	resolver := judges.NewLLMResolver(source, judges.JudgeConfig{
		Temperature:             c.Temperature,
		MaxTokens:               c.MaxTokens,
		MaxCategoryEditDistance: c.MaxCategoryEditDistance,
		MissingCategoryPolicy:   c.MissingCategoryPolicy,
	}, judgeOpts...)

	invokerOpts := []judges.InvokerOption{}
	if t.Logger != nil {
		invokerOpts = append(invokerOpts, judges.WithLogger(t.Logger))
	}
	if t.Metrics != nil {
		invokerOpts = append(invokerOpts, judges.WithMetrics(t.Metrics))
	}
	return judges.NewInvoker(resolver, judges.InvokerConfig{
		DefaultModels:  c.Judges,
		MaxConcurrency: c.MaxConcurrency,
		Mode:           c.PartialFailure.Mode,
		MinJudges:      c.PartialFailure.MinJudges,
	}, invokerOpts...)
}
