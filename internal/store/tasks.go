package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// CreateTask inserts a pending task. A live task of the same kind for the
// same content, or a second non-failed download, yields ErrConflict.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	t.Status = models.TaskStatusPending
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return wrapCreate("task", err)
	}
	return nil
}

// GetTask loads a task by ID
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, wrapGet("task", err)
	}
	return &t, nil
}

// ListTasks returns a content's tasks in creation order
func (s *Store) ListTasks(ctx context.Context, contentID uuid.UUID) ([]models.Task, error) {
	var out []models.Task
	err := s.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return out, nil
}

// FindLiveTask returns the non-terminal task of kind for content, or nil
func (s *Store) FindLiveTask(ctx context.Context, contentID uuid.UUID, kind models.TaskKind) (*models.Task, error) {
	var out []models.Task
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND kind = ? AND status IN ?", contentID, kind, models.LiveTaskStatuses).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find live task: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// FindDownload returns the non-failed download task for content, or nil
func (s *Store) FindDownload(ctx context.Context, contentID uuid.UUID) (*models.Task, error) {
	var out []models.Task
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND kind = ? AND status <> ?", contentID, models.TaskKindDownload, models.TaskStatusFailed).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find download task: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// CountLiveRenders counts in-flight burn tasks referencing a subtitle
func (s *Store) CountLiveRenders(ctx context.Context, subtitleID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("subtitle_id = ? AND status IN ?", subtitleID, models.LiveTaskStatuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count renders: %w", err)
	}
	return n, nil
}

// TransitionTask moves t to status `to` and applies fields in one write.
// The write is conditional on the row still holding the status and attempt
// count t was loaded with; if another writer got there first ErrStale is
// returned and nothing changes. On success t is reloaded.
func (s *Store) TransitionTask(ctx context.Context, t *models.Task, to models.TaskStatus, fields map[string]interface{}) error {
	if err := models.TransitionTask(t.Status, to); err != nil {
		return err
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ? AND attempts = ?", t.ID, t.Status, t.Attempts).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrStale)
	}
	if err := s.db.WithContext(ctx).First(t, "id = ?", t.ID).Error; err != nil {
		return wrapGet("task", err)
	}
	return nil
}

// UpdateTaskProgress raises progress on a running task. The write only
// lands on the attempt that claimed the row, and lower values are ignored so
// progress never moves backwards. Every accepted write also refreshes
// updated_at, which the reconciler reads as a heartbeat.
func (s *Store) UpdateTaskProgress(ctx context.Context, id uuid.UUID, attempts, progress int) (bool, error) {
	if progress > 100 {
		progress = 100
	}
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status IN ? AND attempts = ? AND progress < ?", id, models.RunningTaskStatuses, attempts, progress).
		Update("progress", progress)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update progress: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchTask refreshes the heartbeat of a running attempt. It reports false
// once the row is terminal or has been handed to a newer attempt.
func (s *Store) TouchTask(ctx context.Context, id uuid.UUID, attempts int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status IN ? AND attempts = ?", id, models.RunningTaskStatuses, attempts).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return false, fmt.Errorf("failed to touch task %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListStaleTasks returns running tasks whose heartbeat is older than before
func (s *Store) ListStaleTasks(ctx context.Context, before time.Time, limit int) ([]models.Task, error) {
	return s.listTasksBefore(ctx, models.RunningTaskStatuses, before, limit)
}

// ListStalePendingTasks returns pending tasks untouched since before
func (s *Store) ListStalePendingTasks(ctx context.Context, before time.Time, limit int) ([]models.Task, error) {
	return s.listTasksBefore(ctx, []models.TaskStatus{models.TaskStatusPending}, before, limit)
}

func (s *Store) listTasksBefore(ctx context.Context, statuses []models.TaskStatus, before time.Time, limit int) ([]models.Task, error) {
	var out []models.Task
	q := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	return out, nil
}
