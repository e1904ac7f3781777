package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-rubric/infrastructure/judges"
	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

// Config is the complete runtime configuration shared by the server, the
// worker, and the CLI.
// Use LoadConfig to read it from YAML with defaults and environment
// overrides applied.
type Config struct {
	// Grading controls the judge panel and how its grades are aggregated.
	Grading GradingConfig `yaml:"grading"`
	// LLM controls the client middleware shared by every judge.
	LLM LLMConfig `yaml:"llm"`
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`
	// Database configures the Postgres store. An empty URL selects the
	// in-memory store.
	Database DatabaseConfig `yaml:"database"`
	// Redis configures the background job queue.
	Redis RedisConfig `yaml:"redis"`
	// Archive configures the optional S3 snapshot archive.
	Archive ArchiveConfig `yaml:"archive"`
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// GradingConfig defines the judge panel and aggregation policy for AI
// grading runs.
type GradingConfig struct {
	// Judges lists judge identifiers in panel order. Each must resolve to a
	// known provider and model.
	Judges []string `yaml:"judges" validate:"required,min=1,max=10,dive,judgemodel"`
	// DisagreementThreshold is the fraction of a category's max points that
	// judges may spread across before the category is flagged.
	DisagreementThreshold float64 `yaml:"disagreement_threshold" validate:"min=0,max=1"`
	// MissingCategoryPolicy is permissive or strict.
	MissingCategoryPolicy domain.MissingCategoryPolicy `yaml:"missing_category_policy" validate:"oneof=permissive strict"`
	// PartialFailure decides what a run does when some judges fail.
	PartialFailure PartialFailureConfig `yaml:"partial_failure"`
	// MaxConcurrency bounds concurrent judge calls per run.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=32"`
	// MaxCategoryEditDistance enables fuzzy category matching when positive.
	MaxCategoryEditDistance int `yaml:"max_category_edit_distance" validate:"min=0,max=10"`
	// Temperature is sent with every judge request.
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	// MaxTokens caps each judge reply. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens" validate:"min=0,max=65536"`
	// RunTimeout bounds one grading run end to end. Zero disables it.
	RunTimeout time.Duration `yaml:"run_timeout" validate:"min=0"`
}

// PartialFailureConfig selects the judge panel failure policy.
type PartialFailureConfig struct {
	Mode      judges.FailureMode `yaml:"mode" validate:"oneof=fail_fast tolerate"`
	MinJudges int                `yaml:"min_judges" validate:"min=1"`
}

// LLMConfig holds the middleware settings applied to every judge client.
type LLMConfig struct {
	Timeout        time.Duration        `yaml:"timeout" validate:"min=0"`
	Retry          RetrySettings        `yaml:"retry"`
	RateLimit      RateLimitSettings    `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	// RedactPrompts keeps transcript text out of the logs.
	RedactPrompts bool `yaml:"redact_prompts"`
}

// RetrySettings configures exponential backoff for transient LLM failures.
type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay   time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// RateLimitSettings configures the token bucket shared by all judges.
// Zero requests per second disables rate limiting.
type RateLimitSettings struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
}

// CircuitBreakerConfig configures per-client circuit breaking.
// Zero max failures disables it.
type CircuitBreakerConfig struct {
	MaxFailures int           `yaml:"max_failures" validate:"min=0"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"min=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// APIToken, when set, is required as a bearer token on every request.
	APIToken        string        `yaml:"api_token"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL          string `yaml:"url" validate:"omitempty,url"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=0"`
}

// RedisConfig configures the asynq broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	// Concurrency is the number of grading jobs a worker runs at once.
	Concurrency int `yaml:"concurrency" validate:"min=1"`
}

// ArchiveConfig configures the S3 snapshot archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
	// Endpoint points at an S3-compatible store such as MinIO.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns the configuration used for any field a YAML file
// leaves out.
func DefaultConfig() Config {
	return Config{
		Grading: GradingConfig{
			Judges:                append([]string(nil), judges.DefaultJudgeModels...),
			DisagreementThreshold: domain.DefaultDisagreementThreshold,
			MissingCategoryPolicy: domain.PolicyPermissive,
			PartialFailure:        PartialFailureConfig{Mode: judges.FailFast, MinJudges: 2},
			MaxConcurrency:        judges.DefaultMaxConcurrency,
			RunTimeout:            5 * time.Minute,
		},
		LLM: LLMConfig{
			Timeout:        60 * time.Second,
			Retry:          RetrySettings{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
			RateLimit:      RateLimitSettings{RequestsPerSecond: 5, Burst: 10},
			CircuitBreaker: CircuitBreakerConfig{MaxFailures: 5, Cooldown: 30 * time.Second},
			RedactPrompts:  true,
		},
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		Redis:   RedisConfig{Addr: "localhost:6379", Concurrency: 4},
		Archive: ArchiveConfig{Region: "us-east-1", Prefix: "grades/"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads path, applies environment overrides from getenv, and
// validates the result. An empty path yields the defaults plus overrides.
// A nil getenv uses os.Getenv.
func LoadConfig(path string, getenv func(string) string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, ports.NewConfigError(path, err)
		}
	}
	return ParseConfig(bytes.NewReader(data), getenv)
}

// ParseConfig decodes YAML from r over DefaultConfig in strict mode, so a
// misspelled key fails instead of being ignored.
func ParseConfig(r io.Reader, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	config := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}

	if err := applyEnvOverrides(&config, getenv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every field constraint, including that each judge
// identifier resolves to a known provider and model.
func (c *Config) Validate() error {
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Grading.PartialFailure.Mode == judges.Tolerate &&
		c.Grading.PartialFailure.MinJudges > len(c.Grading.Judges) {
		return fmt.Errorf("config validation failed: partial_failure.min_judges %d exceeds %d configured judges",
			c.Grading.PartialFailure.MinJudges, len(c.Grading.Judges))
	}
	return nil
}

// envOverride binds an environment variable to a config field.
type envOverride struct {
	name  string
	apply func(c *Config, value string) error
}

var envOverrides = []envOverride{
	{"DATABASE_URL", func(c *Config, v string) error { c.Database.URL = v; return nil }},
	{"REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"API_TOKEN", func(c *Config, v string) error { c.Server.APIToken = v; return nil }},
	{"SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"ARCHIVE_BUCKET", func(c *Config, v string) error {
		c.Archive.Bucket = v
		c.Archive.Enabled = true
		return nil
	}},
	{"ARCHIVE_ENDPOINT", func(c *Config, v string) error { c.Archive.Endpoint = v; return nil }},
	{"GRADING_JUDGES", func(c *Config, v string) error {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		c.Grading.Judges = models
		return nil
	}},
	{"GRADING_DISAGREEMENT_THRESHOLD", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.Grading.DisagreementThreshold = f
		return nil
	}},
}

func applyEnvOverrides(c *Config, getenv func(string) string) error {
	for _, o := range envOverrides {
		value := getenv(o.name)
		if value == "" {
			continue
		}
		if err := o.apply(c, value); err != nil {
			return ports.NewConfigError(o.name, err)
		}
	}
	return nil
}
