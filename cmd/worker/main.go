// Command worker runs queued AI grading jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

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
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *application.Config, logger *slog.Logger) error {
	rt, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB},
		asynq.Config{
			Concurrency: cfg.Redis.Concurrency,
			Queues:      map[string]int{queue.QueueName: 1},
			Logger:      queue.SlogLogger{Logger: logger},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.ErrorContext(ctx, "grading task error",
					"type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
			}),
		},
	)

	logger.Info("grading worker starting", "redis", cfg.Redis.Addr, "concurrency", cfg.Redis.Concurrency)
	// Run blocks until SIGTERM or SIGINT.
	return srv.Run(queue.NewServeMux(queue.NewHandler(rt.Service, logger)))
}
