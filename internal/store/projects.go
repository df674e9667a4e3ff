package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// CreateProject inserts a new draft project
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if p.Status == "" {
		p.Status = models.ProjectStatusDraft
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return wrapCreate("project", err)
	}
	return nil
}

// GetProject loads a project by ID
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, wrapGet("project", err)
	}
	return &p, nil
}

// LockProject loads a project with a row lock, for use inside Transaction
func (s *Store) LockProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := s.forUpdate(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, wrapGet("project", err)
	}
	return &p, nil
}

// ListProjects returns projects newest first
func (s *Store) ListProjects(ctx context.Context, limit int) ([]models.Project, error) {
	var out []models.Project
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

// SetProjectStatus applies a validated status change to p
func (s *Store) SetProjectStatus(ctx context.Context, p *models.Project, to models.ProjectStatus) error {
	if err := models.TransitionProject(p.Status, to); err != nil {
		return err
	}
	if p.Status == to {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ? AND status = ?", p.ID, p.Status).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("failed to update project status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("project %s: %w", p.ID, ErrStale)
	}
	p.Status = to
	return nil
}

// DeleteProject removes a project and everything it owns in one transaction
func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.LockProject(ctx, id); err != nil {
			return err
		}
		db := tx.db.WithContext(ctx)
		contentIDs := db.Model(&models.Content{}).Select("id").Where("project_id = ?", id)
		steps := []struct {
			model interface{}
			where string
			arg   interface{}
		}{
			{&models.Task{}, "content_id IN (?)", contentIDs},
			{&models.Subtitle{}, "content_id IN (?)", contentIDs},
			{&models.Content{}, "project_id = ?", id},
			{&models.SearchResult{}, "project_id = ?", id},
			{&models.SearchRequest{}, "project_id = ?", id},
			{&models.CopywritingSession{}, "project_id = ?", id},
			{&models.Project{}, "id = ?", id},
		}
		for _, step := range steps {
			if err := db.Where(step.where, step.arg).Delete(step.model).Error; err != nil {
				return fmt.Errorf("failed to delete project %s: %w", id, err)
			}
		}
		return nil
	})
}
