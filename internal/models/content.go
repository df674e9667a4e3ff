package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Content type constants
const (
	ContentTypeVideo = "video"
	ContentTypeText  = "text"
	ContentTypeImage = "image"
)

// Platform constants
const (
	PlatformYouTube   = "youtube"
	PlatformInstagram = "instagram"
	PlatformLinkedIn  = "linkedin"
	PlatformOther     = "other"
)

// Content is the media selected for a project (one-to-one with Project)
type Content struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"project_id"`
	SourceURL      string     `gorm:"not null" json:"source_url"`
	ContentType    string     `gorm:"not null;default:'text'" json:"content_type"`
	Platform       string     `gorm:"not null;default:'other'" json:"platform"`
	FilePath       string     `gorm:"column:file_path" json:"file_path,omitempty"`
	DownloadTaskID *uuid.UUID `gorm:"type:uuid" json:"download_task_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (c *Content) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsVideo reports whether the content is a video
func (c *Content) IsVideo() bool {
	return c.ContentType == ContentTypeVideo
}

// HasLocalFile reports whether the download has landed on disk
func (c *Content) HasLocalFile() bool {
	return c.FilePath != ""
}

// RequiresLocalFileForTranscription reports whether speech-to-text needs the
// downloaded file. YouTube supports remote transcription from the URL.
func (c *Content) RequiresLocalFileForTranscription() bool {
	return c.Platform != PlatformYouTube
}

// DetectContentInfo derives content type and platform from a source URL.
// Known video hosts are videos; everything else is treated as text.
func DetectContentInfo(rawURL string) (contentType, platform string) {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "instagram.com") || strings.Contains(u, "instagr.am"):
		return ContentTypeVideo, PlatformInstagram
	case strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be"):
		return ContentTypeVideo, PlatformYouTube
	case strings.Contains(u, "linkedin.com"):
		return ContentTypeVideo, PlatformLinkedIn
	default:
		return ContentTypeText, PlatformOther
	}
}
