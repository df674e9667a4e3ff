package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jimdaga/reelpipe/internal/config"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Run starts the Asynq worker server and blocks until shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, logger *slog.Logger, executor *pipeline.Executor, reconciler *pipeline.Reconciler) error {
	srv, mux, err := newServer(cfg, logger, executor, reconciler)
	if err != nil {
		return err
	}
	// Run blocks and handles its own signal interception
	return srv.Run(mux)
}

// Start starts the Asynq worker in non-blocking mode and returns a stop function.
// Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, logger *slog.Logger, executor *pipeline.Executor, reconciler *pipeline.Reconciler) (stop func(), err error) {
	srv, mux, err := newServer(cfg, logger, executor, reconciler)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, logger *slog.Logger, executor *pipeline.Executor, reconciler *pipeline.Reconciler) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     cfg.WorkerConcurrency,
			Queues:          Queues,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	logger.Info("Worker starting", "concurrency", cfg.WorkerConcurrency, "redis", redactURL(cfg.RedisURL))
	return srv, NewMux(logger, executor, reconciler), nil
}

// NewMux routes every task type to its handler
func NewMux(logger *slog.Logger, executor *pipeline.Executor, reconciler *pipeline.Reconciler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDownload, handleWork(logger, executor.RunTask))
	mux.HandleFunc(TaskBurn, handleWork(logger, executor.RunTask))
	mux.HandleFunc(TaskWatermark, handleWork(logger, executor.RunTask))
	mux.HandleFunc(TaskGenerateSubtitle, handleWork(logger, executor.RunSubtitle))
	mux.HandleFunc(TaskReconcile, handleReconcile(logger, reconciler))
	return mux
}

// handleWork decodes a pipeline.WorkItem and runs its record. Failures the
// pipeline already recorded, and records that no longer exist, are not
// retried; anything else is an infrastructure error and asynq retries it.
func handleWork(logger *slog.Logger, run func(context.Context, uuid.UUID) error) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var item pipeline.WorkItem
		if err := json.Unmarshal(task.Payload(), &item); err != nil {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}
		if item.ID == uuid.Nil {
			return fmt.Errorf("payload has no id: %w", asynq.SkipRetry)
		}

		logger.Info("Processing "+task.Type()+" task", "id", item.ID, "attempt", item.Attempt)

		err := run(ctx, item.ID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pipeline.ErrTaskFailed):
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		case errors.Is(err, pipeline.ErrNotFound):
			logger.Warn("Work item refers to a deleted record", "task_type", task.Type(), "id", item.ID)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		default:
			return fmt.Errorf("run %s: %w", item.Key(), err)
		}
	}
}

// handleReconcile runs one reconciler pass
func handleReconcile(logger *slog.Logger, reconciler *pipeline.Reconciler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		report, err := reconciler.Run(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		logger.Debug("Reconcile pass finished",
			"requeued", report.Requeued,
			"exhausted", report.Exhausted,
			"reenqueued", report.Reenqueued,
		)
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
			logger.Error(
				"Task archived",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
