package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/store"
)

// ReconcilerConfig bounds automatic recovery of orphaned work
type ReconcilerConfig struct {
	// StaleAfter is how long a running record may go without a heartbeat
	StaleAfter time.Duration
	// MaxAttempts caps executions before a stale record is forced to failed
	MaxAttempts int
	// BatchSize limits rows handled per run; 0 means no limit
	BatchSize int
}

// ReconcileReport summarizes one reconciler run
type ReconcileReport struct {
	Requeued   int `json:"requeued"`
	Exhausted  int `json:"exhausted"`
	Reenqueued int `json:"reenqueued"`
}

// Reconciler recovers tasks and subtitles whose worker died mid-flight
type Reconciler struct {
	store    *store.Store
	enqueuer Enqueuer
	events   EventSink
	logger   *slog.Logger
	cfg      ReconcilerConfig
	metrics  *stageMetrics
	now      func() time.Time
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(s *store.Store, enqueuer Enqueuer, events EventSink, logger *slog.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Reconciler{
		store:    s,
		enqueuer: enqueuer,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		metrics:  newStageMetrics(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run makes one recovery pass.
//
// Running records older than StaleAfter go back to pending and are
// re-enqueued under a fresh key while attempts < MaxAttempts, otherwise they
// fail with retries_exhausted. Pending records older than StaleAfter are
// re-enqueued under their existing key, which is a no-op while the original
// item is still queued.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	cutoff := r.now().Add(-r.cfg.StaleAfter)

	stale, err := r.store.ListStaleTasks(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for i := range stale {
		r.recoverTask(ctx, &stale[i], &report)
	}

	pending, err := r.store.ListStalePendingTasks(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, t := range pending {
		if r.enqueue(ctx, WorkItem{Kind: WorkKindFor(t.Kind), ID: t.ID, Attempt: t.Attempts}) {
			report.Reenqueued++
		}
	}

	staleSubs, err := r.store.ListStaleSubtitles(ctx, models.SubtitleStatusProcessing, cutoff, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for i := range staleSubs {
		r.recoverSubtitle(ctx, &staleSubs[i], &report)
	}

	pendingSubs, err := r.store.ListStaleSubtitles(ctx, models.SubtitleStatusPending, cutoff, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, s := range pendingSubs {
		if r.enqueue(ctx, WorkItem{Kind: WorkSubtitle, ID: s.ID, Attempt: s.Attempts}) {
			report.Reenqueued++
		}
	}

	if report != (ReconcileReport{}) {
		r.logger.Info("Reconciled stale work",
			"requeued", report.Requeued,
			"exhausted", report.Exhausted,
			"reenqueued", report.Reenqueued,
		)
	}
	return report, nil
}

func (r *Reconciler) recoverTask(ctx context.Context, t *models.Task, report *ReconcileReport) {
	logger := r.logger.With("task_id", t.ID, "kind", t.Kind, "attempts", t.Attempts)

	if t.Attempts >= r.cfg.MaxAttempts {
		cause := fmt.Errorf("no heartbeat for %s after %d attempts", r.cfg.StaleAfter, t.Attempts)
		if err := failTask(ctx, r.store, t, models.FailureRetriesExhausted, cause); err != nil {
			if !errors.Is(err, store.ErrStale) {
				logger.Error("Failed to fail exhausted task", "error", err)
			}
			return
		}
		logger.Warn("Task retries exhausted")
		emit(ctx, r.events, logger, taskEvent(t))
		report.Exhausted++
		return
	}

	if err := r.store.TransitionTask(ctx, t, models.TaskStatusPending, nil); err != nil {
		if !errors.Is(err, store.ErrStale) {
			logger.Error("Failed to requeue task", "error", err)
		}
		return
	}
	r.metrics.requeue(ctx, string(t.Kind))
	logger.Warn("Requeued stale task")
	emit(ctx, r.events, logger, taskEvent(t))
	report.Requeued++
	// Attempts was bumped when the dead run claimed the row, so this key is new.
	r.enqueue(ctx, WorkItem{Kind: WorkKindFor(t.Kind), ID: t.ID, Attempt: t.Attempts})
}

func (r *Reconciler) recoverSubtitle(ctx context.Context, s *models.Subtitle, report *ReconcileReport) {
	logger := r.logger.With("subtitle_id", s.ID, "language", s.Language, "attempts", s.Attempts)

	if s.Attempts >= r.cfg.MaxAttempts {
		cause := fmt.Errorf("no heartbeat for %s after %d attempts", r.cfg.StaleAfter, s.Attempts)
		if err := failSubtitle(ctx, r.store, s, models.FailureRetriesExhausted, cause); err != nil {
			if !errors.Is(err, store.ErrStale) {
				logger.Error("Failed to fail exhausted subtitle", "error", err)
			}
			return
		}
		logger.Warn("Subtitle retries exhausted")
		emit(ctx, r.events, logger, subtitleEvent(s))
		report.Exhausted++
		return
	}

	if err := r.store.TransitionSubtitle(ctx, s, models.SubtitleStatusPending, nil); err != nil {
		if !errors.Is(err, store.ErrStale) {
			logger.Error("Failed to requeue subtitle", "error", err)
		}
		return
	}
	r.metrics.requeue(ctx, StageSubtitle)
	logger.Warn("Requeued stale subtitle")
	emit(ctx, r.events, logger, subtitleEvent(s))
	report.Requeued++
	r.enqueue(ctx, WorkItem{Kind: WorkSubtitle, ID: s.ID, Attempt: s.Attempts})
}

// enqueue reports whether a new item was actually queued
func (r *Reconciler) enqueue(ctx context.Context, item WorkItem) bool {
	err := r.enqueuer.Enqueue(ctx, item)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrAlreadyQueued):
		return false
	default:
		// Left pending; the next run will pick it up again.
		r.logger.Error("Failed to enqueue recovered work", "kind", item.Kind, "id", item.ID, "error", err)
		return false
	}
}
