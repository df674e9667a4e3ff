package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// CreateSearchRequest inserts a search request
func (s *Store) CreateSearchRequest(ctx context.Context, r *models.SearchRequest) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return wrapCreate("search request", err)
	}
	return nil
}

// UpdateSearchRequest writes fields on a search request
func (s *Store) UpdateSearchRequest(ctx context.Context, r *models.SearchRequest, fields map[string]interface{}) error {
	if err := s.db.WithContext(ctx).Model(r).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update search request: %w", err)
	}
	if err := s.db.WithContext(ctx).First(r, "id = ?", r.ID).Error; err != nil {
		return wrapGet("search request", err)
	}
	return nil
}

// CreateSearchResults inserts the hits of one search
func (s *Store) CreateSearchResults(ctx context.Context, results []models.SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	// One timestamp per batch keeps rank order within a search.
	now := s.db.NowFunc()
	for i := range results {
		results[i].FetchedAt = now
	}
	if err := s.db.WithContext(ctx).Create(&results).Error; err != nil {
		return wrapCreate("search results", err)
	}
	return nil
}

// GetSearchResult loads a search result by ID
func (s *Store) GetSearchResult(ctx context.Context, id uuid.UUID) (*models.SearchResult, error) {
	var r models.SearchResult
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, wrapGet("search result", err)
	}
	return &r, nil
}

// ListSearchResults returns a project's results, best rank first
func (s *Store) ListSearchResults(ctx context.Context, projectID uuid.UUID, selectedOnly bool) ([]models.SearchResult, error) {
	var out []models.SearchResult
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if selectedOnly {
		q = q.Where("is_selected = ?", true)
	}
	if err := q.Order("fetched_at DESC, rank ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list search results: %w", err)
	}
	return out, nil
}

// SetResultSelected marks or unmarks a result as selected
func (s *Store) SetResultSelected(ctx context.Context, id uuid.UUID, selected bool) error {
	res := s.db.WithContext(ctx).Model(&models.SearchResult{}).
		Where("id = ?", id).
		Update("is_selected", selected)
	if res.Error != nil {
		return fmt.Errorf("failed to select search result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("search result %s: %w", id, ErrNotFound)
	}
	return nil
}
