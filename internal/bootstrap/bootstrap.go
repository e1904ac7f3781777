// Package bootstrap assembles the grading service from a Config. The
// server and the worker share it so both run the same judge panel over the
// same store.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/ahrav/go-rubric/infrastructure/middleware"
	"github.com/ahrav/go-rubric/infrastructure/store"
	"github.com/ahrav/go-rubric/infrastructure/store/migrations"
	"github.com/ahrav/go-rubric/internal/application"
	"github.com/ahrav/go-rubric/internal/ports"
)

// TracerName names the tracer every component of the service uses.
const TracerName = "github.com/ahrav/go-rubric"

// Runtime is a wired grading service plus the resources behind it.
type Runtime struct {
	Config   *application.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *middleware.PrometheusMetrics
	Service  *application.GradingService

	// Health pings the store.
	Health func(ctx context.Context) error

	closers []func() error
}

// NewLogger builds the slog logger described by c.
func NewLogger(c application.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Build wires the service. With a database URL it migrates and uses
// Postgres; without one it falls back to the in-memory store, which only
// suits local runs. extra options are applied after the defaults.
func Build(ctx context.Context, cfg *application.Config, logger *slog.Logger, extra ...application.ServiceOption) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = middleware.NewPrometheusMetrics(rt.Registry)

	submissions, users, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}

	tel := application.Telemetry{Logger: logger, Metrics: rt.Metrics, Tracer: otel.Tracer(TracerName)}
	registry, err := application.NewJudgeRegistry(cfg.LLM, tel, nil)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create judge registry: %w", err)
	}
	invoker, err := application.NewJudgeInvoker(cfg.Grading, registry, tel)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create judge invoker: %w", err)
	}

	opts := []application.ServiceOption{
		application.WithServiceLogger(logger),
		application.WithObserver(middleware.NewOTelGradingObserver(rt.Metrics, middleware.WithTracer(tel.Tracer))),
	}
	if cfg.Archive.Enabled {
		archive, err := store.NewS3Archive(ctx, store.S3ArchiveConfig{
			Bucket:   cfg.Archive.Bucket,
			Prefix:   cfg.Archive.Prefix,
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
		})
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		opts = append(opts, application.WithArchive(archive))
	}
	opts = append(opts, extra...)

	rt.Service, err = application.NewGradingService(submissions, users, invoker, application.ServiceConfigFrom(cfg.Grading), opts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Metrics.RecordGauge("judges_configured", float64(len(cfg.Grading.Judges)), nil)
	logger.InfoContext(ctx, "grading service ready",
		"judges", cfg.Grading.Judges,
		"disagreement_threshold", cfg.Grading.DisagreementThreshold,
		"partial_failure", cfg.Grading.PartialFailure.Mode,
		"archive", cfg.Archive.Enabled,
	)
	return rt, nil
}

type storeWithPing interface {
	ports.SubmissionStore
	ports.UserStore
	Ping(ctx context.Context) error
}

func (rt *Runtime) openStore(ctx context.Context) (ports.SubmissionStore, ports.UserStore, error) {
	var s storeWithPing
	if rt.Config.Database.URL == "" {
		rt.Logger.WarnContext(ctx, "no database configured, using in-memory store")
		s = store.NewMemory()
	} else {
		if err := migrations.Up(rt.Config.Database.URL); err != nil {
			return nil, nil, err
		}
		db, err := store.Open(ctx, rt.Config.Database.URL, rt.Config.Database.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		s = store.NewPostgres(db)
	}
	rt.Health = s.Ping
	return s, s, nil
}

// Close releases the store connection.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
