package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// CreateSubtitle inserts a pending subtitle. A non-failed subtitle for the
// same (content, language) yields ErrConflict.
func (s *Store) CreateSubtitle(ctx context.Context, sub *models.Subtitle) error {
	sub.Status = models.SubtitleStatusPending
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return wrapCreate("subtitle", err)
	}
	return nil
}

// GetSubtitle loads a subtitle by ID
func (s *Store) GetSubtitle(ctx context.Context, id uuid.UUID) (*models.Subtitle, error) {
	var sub models.Subtitle
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, wrapGet("subtitle", err)
	}
	return &sub, nil
}

// ListSubtitles returns a content's subtitles in creation order
func (s *Store) ListSubtitles(ctx context.Context, contentID uuid.UUID) ([]models.Subtitle, error) {
	var out []models.Subtitle
	err := s.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subtitles: %w", err)
	}
	return out, nil
}

// FindLiveSubtitle returns the non-failed subtitle for (content, language), or nil
func (s *Store) FindLiveSubtitle(ctx context.Context, contentID uuid.UUID, language string) (*models.Subtitle, error) {
	var out []models.Subtitle
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND language = ? AND status <> ?", contentID, language, models.SubtitleStatusFailed).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find subtitle: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// TransitionSubtitle is the subtitle counterpart of TransitionTask
func (s *Store) TransitionSubtitle(ctx context.Context, sub *models.Subtitle, to models.SubtitleStatus, fields map[string]interface{}) error {
	if err := models.TransitionSubtitle(sub.Status, to); err != nil {
		return err
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.Subtitle{}).
		Where("id = ? AND status = ? AND attempts = ?", sub.ID, sub.Status, sub.Attempts).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update subtitle %s: %w", sub.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("subtitle %s: %w", sub.ID, ErrStale)
	}
	if err := s.db.WithContext(ctx).First(sub, "id = ?", sub.ID).Error; err != nil {
		return wrapGet("subtitle", err)
	}
	return nil
}

// TouchSubtitle is the subtitle counterpart of TouchTask
func (s *Store) TouchSubtitle(ctx context.Context, id uuid.UUID, attempts int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Subtitle{}).
		Where("id = ? AND status = ? AND attempts = ?", id, models.SubtitleStatusProcessing, attempts).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return false, fmt.Errorf("failed to touch subtitle %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteSubtitle removes a subtitle record
func (s *Store) DeleteSubtitle(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Subtitle{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete subtitle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("subtitle %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListStaleSubtitles returns subtitles in status whose heartbeat is older than before
func (s *Store) ListStaleSubtitles(ctx context.Context, status models.SubtitleStatus, before time.Time, limit int) ([]models.Subtitle, error) {
	var out []models.Subtitle
	q := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale subtitles: %w", err)
	}
	return out, nil
}
