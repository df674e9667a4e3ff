package database

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/reelpipe/internal/models"
	"gorm.io/gorm"
)

const seedProjectTitle = "Dev sample: street food tour"

// SeedDevData populates the database with a sample project in each
// interesting state. Idempotent: skips if the sample already exists.
func SeedDevData(db *gorm.DB, logger *slog.Logger) error {
	var existing models.Project
	err := db.Where("title = ?", seedProjectTitle).First(&existing).Error
	if err == nil {
		logger.Info("Seed data already exists, skipping")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check seed data: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		project := models.Project{Title: seedProjectTitle, Type: models.ProjectTypeVideo, Status: models.ProjectStatusSelecting}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		req := models.SearchRequest{
			ProjectID:       project.ID,
			Query:           "street food tour",
			Language:        "en",
			TopResultsCount: 2,
			Status:          models.SearchStatusCompleted,
			CompletedAt:     &now,
		}
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		results := []models.SearchResult{
			{SearchRequestID: req.ID, ProjectID: project.ID, Rank: 1, IsSelected: true,
				Title: "Street food tour in Bangkok", Link: "https://www.youtube.com/watch?v=dev-sample-1",
				Snippet: "Ten dishes in one night market."},
			{SearchRequestID: req.ID, ProjectID: project.ID, Rank: 2,
				Title: "Night market reel", Link: "https://www.instagram.com/reel/dev-sample-2/",
				Snippet: "Sixty seconds of sizzling woks."},
		}
		if err := tx.Create(&results).Error; err != nil {
			return err
		}

		draft := models.Project{Title: "Dev sample: empty draft", Type: models.ProjectTypeText, Status: models.ProjectStatusDraft}
		if err := tx.Create(&draft).Error; err != nil {
			return err
		}

		logger.Info("Seeded dev data", "projects", 2, "search_results", len(results))
		return nil
	})
}
