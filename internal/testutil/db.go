// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database with every model migrated.
// A single connection serializes transactions the way row locks do on Postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// SeedVideo creates a generating video project with its content
func SeedVideo(t testing.TB, db *gorm.DB, platform string) (*models.Project, *models.Content) {
	t.Helper()

	project := &models.Project{Title: "clip", Type: models.ProjectTypeVideo, Status: models.ProjectStatusGenerating}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	content := &models.Content{
		ProjectID:   project.ID,
		SourceURL:   "https://example.com/" + platform + "/clip",
		ContentType: models.ContentTypeVideo,
		Platform:    platform,
	}
	if err := db.Create(content).Error; err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return project, content
}
