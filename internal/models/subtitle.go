package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OriginalLanguage is the language value of the untranslated transcript
const OriginalLanguage = "original"

// SubtitleStatus is the lifecycle state of a Subtitle
type SubtitleStatus string

// Subtitle status constants
const (
	SubtitleStatusPending    SubtitleStatus = "pending"
	SubtitleStatusProcessing SubtitleStatus = "processing"
	SubtitleStatusCompleted  SubtitleStatus = "completed"
	SubtitleStatusFailed     SubtitleStatus = "failed"
)

// Subtitle is a timed caption track for a Content, one per live language
type Subtitle struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ContentID        uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_subtitles_live_language,where:status <> 'failed'" json:"content_id"`
	Language         string         `gorm:"not null;uniqueIndex:idx_subtitles_live_language,where:status <> 'failed'" json:"language"`
	SourceSubtitleID *uuid.UUID     `gorm:"type:uuid" json:"source_subtitle_id,omitempty"`
	Status           SubtitleStatus `gorm:"not null;default:'pending';index" json:"status"`
	SubtitleText     string         `gorm:"column:subtitle_text;type:text" json:"subtitle_text,omitempty"`
	ErrorMessage     string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	FailureReason    FailureReason  `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	Attempts         int            `gorm:"not null;default:0" json:"attempts"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

func (s *Subtitle) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsOriginal reports whether this is the untranslated transcript
func (s *Subtitle) IsOriginal() bool {
	return s.Language == OriginalLanguage
}
