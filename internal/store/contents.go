package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// CreateContent inserts the content for a project. The unique index on
// project_id makes a second insert fail with ErrConflict.
func (s *Store) CreateContent(ctx context.Context, c *models.Content) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return wrapCreate("content", err)
	}
	return nil
}

// GetContent loads content by ID
func (s *Store) GetContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	var c models.Content
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, wrapGet("content", err)
	}
	return &c, nil
}

// LockContent loads content with a row lock, for use inside Transaction
func (s *Store) LockContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	var c models.Content
	if err := s.forUpdate(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, wrapGet("content", err)
	}
	return &c, nil
}

// GetContentByProject loads the content owned by a project
func (s *Store) GetContentByProject(ctx context.Context, projectID uuid.UUID) (*models.Content, error) {
	var c models.Content
	if err := s.db.WithContext(ctx).First(&c, "project_id = ?", projectID).Error; err != nil {
		return nil, wrapGet("content", err)
	}
	return &c, nil
}

// SetContentDownloadTask points the content at its current download task
func (s *Store) SetContentDownloadTask(ctx context.Context, contentID, taskID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.Content{}).
		Where("id = ?", contentID).
		Update("download_task_id", taskID).Error
	if err != nil {
		return fmt.Errorf("failed to set download task: %w", err)
	}
	return nil
}

// SetContentFilePath records the downloaded file. Callers must do this in
// the same transaction that completes the download task.
func (s *Store) SetContentFilePath(ctx context.Context, contentID uuid.UUID, path string) error {
	res := s.db.WithContext(ctx).Model(&models.Content{}).
		Where("id = ?", contentID).
		Update("file_path", path)
	if res.Error != nil {
		return fmt.Errorf("failed to set content file path: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("content %s: %w", contentID, ErrNotFound)
	}
	return nil
}
