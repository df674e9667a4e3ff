package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a CopywritingSession
type SessionStatus string

// Copywriting session status constants
const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusCompleted SessionStatus = "completed"
)

// Copy section names produced by generation
const (
	SectionTitle           = "title"
	SectionCaption         = "caption"
	SectionMicroCaption    = "micro_caption"
	SectionMetaDescription = "meta_description"
	SectionHashtags        = "hashtags"
	SectionCTA             = "cta"
	SectionAltText         = "alt_text"
)

// CopySections lists every known section in display order
var CopySections = []string{
	SectionTitle,
	SectionCaption,
	SectionMicroCaption,
	SectionMetaDescription,
	SectionHashtags,
	SectionCTA,
	SectionAltText,
}

// IsCopySection reports whether name is a known section
func IsCopySection(name string) bool {
	for _, s := range CopySections {
		if s == name {
			return true
		}
	}
	return false
}

// Sections maps section name to text
type Sections map[string]string

// Merge returns a copy of s with every entry of over applied on top
func (s Sections) Merge(over Sections) Sections {
	out := make(Sections, len(s)+len(over))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// CopyInputs is the snapshot of project state a session was generated from
type CopyInputs struct {
	Title            string          `json:"title"`
	Platform         string          `json:"platform"`
	ContentType      string          `json:"content_type,omitempty"`
	SourceURL        string          `json:"source_url,omitempty"`
	SubtitleText     string          `json:"subtitle_text,omitempty"`
	SubtitleLanguage string          `json:"subtitle_language,omitempty"`
	UserNote         string          `json:"user_note,omitempty"`
	SearchResults    []SearchSnippet `json:"search_results,omitempty"`
}

// SearchSnippet is a selected search result included in copy inputs
type SearchSnippet struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// CopywritingSession holds AI-generated copy and the user's edits
type CopywritingSession struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Inputs       datatypes.JSON `gorm:"type:jsonb" json:"inputs"`
	Outputs      datatypes.JSON `gorm:"type:jsonb" json:"outputs"`
	Edits        datatypes.JSON `gorm:"type:jsonb" json:"edits"`
	FinalOutputs datatypes.JSON `gorm:"column:final_outputs;type:jsonb" json:"final_outputs,omitempty"`
	Status       SessionStatus  `gorm:"not null;default:'pending';index" json:"status"`
	GeneratedAt  time.Time      `json:"generated_at"`
	SavedAt      *time.Time     `json:"saved_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (c *CopywritingSession) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsSaved reports whether the session has been frozen
func (c *CopywritingSession) IsSaved() bool {
	return c.Status == SessionStatusCompleted
}

// DecodeInputs unmarshals the inputs snapshot
func (c *CopywritingSession) DecodeInputs() (CopyInputs, error) {
	var in CopyInputs
	if len(c.Inputs) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(c.Inputs, &in); err != nil {
		return in, fmt.Errorf("failed to decode session inputs: %w", err)
	}
	return in, nil
}

// DecodeOutputs unmarshals the generated sections
func (c *CopywritingSession) DecodeOutputs() (Sections, error) {
	return decodeSections(c.Outputs)
}

// DecodeEdits unmarshals the user edits
func (c *CopywritingSession) DecodeEdits() (Sections, error) {
	return decodeSections(c.Edits)
}

// FinalSections returns the frozen outputs when saved, otherwise outputs with edits applied
func (c *CopywritingSession) FinalSections() (Sections, error) {
	if c.IsSaved() && len(c.FinalOutputs) > 0 {
		return decodeSections(c.FinalOutputs)
	}
	outputs, err := c.DecodeOutputs()
	if err != nil {
		return nil, err
	}
	edits, err := c.DecodeEdits()
	if err != nil {
		return nil, err
	}
	return outputs.Merge(edits), nil
}

func decodeSections(raw datatypes.JSON) (Sections, error) {
	s := Sections{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode sections: %w", err)
	}
	return s, nil
}
