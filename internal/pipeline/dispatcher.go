package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/store"
)

// Dispatcher validates stage starts, persists the pending record and hands
// the work to the queue.
type Dispatcher struct {
	store    *store.Store
	enqueuer Enqueuer
	events   EventSink
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. events may be nil.
func NewDispatcher(s *store.Store, enqueuer Enqueuer, events EventSink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: s, enqueuer: enqueuer, events: events, logger: logger}
}

// Start creates and enqueues a task of kind for the content.
//
// Preconditions are evaluated and the pending row inserted inside one
// transaction. A concurrent start that slips past the read loses on the
// partial unique index and gets a PreconditionError, so exactly one task is
// ever created. When enqueueing fails after commit the task is returned in
// failed state together with the error.
func (d *Dispatcher) Start(ctx context.Context, contentID uuid.UUID, kind models.TaskKind, params StageParams) (*models.Task, error) {
	return d.start(ctx, contentID, kind, params, nil)
}

func (d *Dispatcher) start(ctx context.Context, contentID uuid.UUID, kind models.TaskKind, params StageParams, onCreate func(tx *store.Store, content *models.Content) error) (*models.Task, error) {
	if !kind.Valid() {
		return nil, precondition(string(kind), RuleInvalid, "unknown stage kind %q", kind)
	}
	stage := string(kind)

	var task *models.Task
	err := d.store.Transaction(ctx, func(tx *store.Store) error {
		content, err := tx.LockContent(ctx, contentID)
		if err != nil {
			return notFound(err, "content", contentID)
		}

		taskParams := models.TaskParams{}
		if params.retryOf != nil {
			taskParams.RetryOfTaskID = params.retryOf.String()
		}
		var subtitleID *uuid.UUID

		switch kind {
		case models.TaskKindDownload:
			err = checkDownload(ctx, tx, content)
		case models.TaskKindBurn:
			var sub *models.Subtitle
			sub, err = checkBurn(ctx, tx, content, params)
			if err == nil {
				subtitleID = &sub.ID
				taskParams.SubtitleID = sub.ID.String()
				taskParams.FontSize = params.FontSize
			}
		case models.TaskKindWatermark:
			err = checkWatermark(ctx, tx, content, &params)
			taskParams.OverlayPath = params.OverlayPath
			taskParams.Position = params.Position
		}
		if err != nil {
			return err
		}

		raw, err := models.EncodeJSON(taskParams)
		if err != nil {
			return fmt.Errorf("failed to encode task params: %w", err)
		}
		task = &models.Task{
			ContentID:  content.ID,
			Kind:       kind,
			Params:     raw,
			SubtitleID: subtitleID,
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return precondition(stage, RuleInProgress, "another %s task for content %s was started concurrently", kind, content.ID)
			}
			return err
		}
		if kind == models.TaskKindDownload {
			if err := tx.SetContentDownloadTask(ctx, content.ID, task.ID); err != nil {
				return err
			}
		}
		if onCreate != nil {
			return onCreate(tx, content)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Task created", "task_id", task.ID, "content_id", task.ContentID, "kind", task.Kind)
	emit(ctx, d.events, d.logger, taskEvent(task))

	item := WorkItem{Kind: WorkKindFor(kind), ID: task.ID, Attempt: task.Attempts}
	if err := d.enqueuer.Enqueue(ctx, item); err != nil && !errors.Is(err, ErrAlreadyQueued) {
		d.logger.Error("Failed to enqueue task", "task_id", task.ID, "kind", task.Kind, "error", err)
		cause := fmt.Errorf("enqueue: %w", err)
		if ferr := failTask(ctx, d.store, task, models.FailureEnqueue, cause); ferr != nil {
			d.logger.Error("Failed to record enqueue failure", "task_id", task.ID, "error", ferr)
		}
		emit(ctx, d.events, d.logger, taskEvent(task))
		return task, cause
	}
	return task, nil
}

// StartSubtitle creates and enqueues generation of the "original" subtitle
func (d *Dispatcher) StartSubtitle(ctx context.Context, contentID uuid.UUID) (*models.Subtitle, error) {
	var sub *models.Subtitle
	err := d.store.Transaction(ctx, func(tx *store.Store) error {
		content, err := tx.LockContent(ctx, contentID)
		if err != nil {
			return notFound(err, "content", contentID)
		}
		if err := checkSubtitle(ctx, tx, content); err != nil {
			return err
		}
		sub = &models.Subtitle{ContentID: content.ID, Language: models.OriginalLanguage}
		if err := tx.CreateSubtitle(ctx, sub); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return precondition(StageSubtitle, RuleInProgress, "original subtitle for content %s was started concurrently", content.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Subtitle generation created", "subtitle_id", sub.ID, "content_id", sub.ContentID)
	emit(ctx, d.events, d.logger, subtitleEvent(sub))

	item := WorkItem{Kind: WorkSubtitle, ID: sub.ID, Attempt: sub.Attempts}
	if err := d.enqueuer.Enqueue(ctx, item); err != nil && !errors.Is(err, ErrAlreadyQueued) {
		d.logger.Error("Failed to enqueue subtitle", "subtitle_id", sub.ID, "error", err)
		cause := fmt.Errorf("enqueue: %w", err)
		if ferr := failSubtitle(ctx, d.store, sub, models.FailureEnqueue, cause); ferr != nil {
			d.logger.Error("Failed to record enqueue failure", "subtitle_id", sub.ID, "error", ferr)
		}
		emit(ctx, d.events, d.logger, subtitleEvent(sub))
		return sub, cause
	}
	return sub, nil
}
