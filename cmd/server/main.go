// Command server serves the AI grading HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-rubric/infrastructure/httpapi"
	"github.com/ahrav/go-rubric/infrastructure/queue"
	"github.com/ahrav/go-rubric/internal/application"
	"github.com/ahrav/go-rubric/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", os.Getenv("RUBRIC_CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := application.LoadConfig(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := bootstrap.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *application.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var extra []application.ServiceOption
	if cfg.Redis.Addr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		extra = append(extra, application.WithJobQueue(queue.NewEnqueuer(client, queue.EnqueuerConfig{
			Timeout: cfg.Grading.RunTimeout,
		})))
	}

	rt, err := bootstrap.Build(ctx, cfg, logger, extra...)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(rt.Service, httpapi.Options{
			APIToken: cfg.Server.APIToken,
			Logger:   logger,
			Metrics:  promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
			Health:   rt.Health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
