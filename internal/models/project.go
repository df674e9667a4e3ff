package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProjectStatus tracks how far a project has advanced through the pipeline.
type ProjectStatus string

// Project status constants
const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusSearching  ProjectStatus = "searching"
	ProjectStatusSelecting  ProjectStatus = "selecting"
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusReady      ProjectStatus = "ready"
	ProjectStatusPublished  ProjectStatus = "published"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// Project type constants
const (
	ProjectTypeVideo = "video"
	ProjectTypeText  = "text"
)

// Project is a unit of work owning at most one Content
type Project struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string        `gorm:"not null" json:"title"`
	Type      string        `gorm:"not null;default:'text'" json:"type"`
	Status    ProjectStatus `gorm:"not null;default:'draft';index" json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// SearchRequest status constants
const (
	SearchStatusPending    = "pending"
	SearchStatusInProgress = "in_progress"
	SearchStatusCompleted  = "completed"
	SearchStatusFailed     = "failed"
)

// SearchRequest records one search run for a project
type SearchRequest struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"project_id"`
	Query           string     `gorm:"not null" json:"query"`
	Language        string     `gorm:"not null;default:'en'" json:"language"`
	TopResultsCount int        `gorm:"not null;default:10" json:"top_results_count"`
	Status          string     `gorm:"not null;default:'pending'" json:"status"`
	ErrorMessage    string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (s *SearchRequest) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SearchResult is a single hit returned for a SearchRequest
type SearchResult struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SearchRequestID uuid.UUID      `gorm:"type:uuid;not null;index" json:"search_request_id"`
	ProjectID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Title           string         `gorm:"not null" json:"title"`
	Link            string         `gorm:"not null" json:"link"`
	Snippet         string         `gorm:"type:text" json:"snippet"`
	Rank            int            `gorm:"not null;default:0" json:"rank"`
	IsSelected      bool           `gorm:"not null;default:false" json:"is_selected"`
	Metadata        datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	FetchedAt       time.Time      `gorm:"autoCreateTime" json:"fetched_at"`
}

func (s *SearchResult) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
