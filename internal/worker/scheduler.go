package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/reelpipe/internal/config"
)

// StartScheduler creates and starts an Asynq Scheduler that enqueues the
// reconciler on cfg.ReconcileSchedule. Returns a stop function for graceful
// shutdown.
func StartScheduler(cfg *config.Config, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	entryID, err := scheduler.Register(cfg.ReconcileSchedule, reconcileTask())
	if err != nil {
		return nil, fmt.Errorf("failed to register reconcile schedule: %w", err)
	}

	// Start scheduler (non-blocking)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info(
		"Scheduler started",
		"schedule", cfg.ReconcileSchedule,
		"entry_id", entryID,
	)
	return func() { scheduler.Shutdown() }, nil
}

// reconcileTask has no payload; the reconciler scans the store itself.
// Unique keeps overlapping schedulers from queuing the same pass twice.
func reconcileTask() *asynq.Task {
	return asynq.NewTask(
		TaskReconcile,
		nil,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(30*time.Second),
	)
}
