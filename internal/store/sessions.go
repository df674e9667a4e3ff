package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// CreateSession inserts a copywriting session
func (s *Store) CreateSession(ctx context.Context, cs *models.CopywritingSession) error {
	if err := s.db.WithContext(ctx).Create(cs).Error; err != nil {
		return wrapCreate("copywriting session", err)
	}
	return nil
}

// GetSession loads a session by ID
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.CopywritingSession, error) {
	var cs models.CopywritingSession
	if err := s.db.WithContext(ctx).First(&cs, "id = ?", id).Error; err != nil {
		return nil, wrapGet("copywriting session", err)
	}
	return &cs, nil
}

// LockSession loads a session with a row lock, for use inside Transaction
func (s *Store) LockSession(ctx context.Context, id uuid.UUID) (*models.CopywritingSession, error) {
	var cs models.CopywritingSession
	if err := s.forUpdate(ctx).First(&cs, "id = ?", id).Error; err != nil {
		return nil, wrapGet("copywriting session", err)
	}
	return &cs, nil
}

// ListSessions returns a project's sessions newest first
func (s *Store) ListSessions(ctx context.Context, projectID uuid.UUID) ([]models.CopywritingSession, error) {
	var out []models.CopywritingSession
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// UpdateUnsavedSession writes fields only while the session is still pending
func (s *Store) UpdateUnsavedSession(ctx context.Context, cs *models.CopywritingSession, fields map[string]interface{}) error {
	if to, ok := fields["status"].(models.SessionStatus); ok {
		if err := models.TransitionSession(cs.Status, to); err != nil {
			return err
		}
	}
	res := s.db.WithContext(ctx).Model(&models.CopywritingSession{}).
		Where("id = ? AND status = ?", cs.ID, models.SessionStatusPending).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("copywriting session %s: %w", cs.ID, ErrStale)
	}
	if err := s.db.WithContext(ctx).First(cs, "id = ?", cs.ID).Error; err != nil {
		return wrapGet("copywriting session", err)
	}
	return nil
}
