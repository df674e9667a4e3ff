package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/store"
)

// GenerateCopyRequest carries the caller's input to a copy generation
type GenerateCopyRequest struct {
	UserNote string
	// SubtitleID picks the transcript to write from; when nil the
	// completed subtitle in Language is used, then the original.
	SubtitleID *uuid.UUID
	Language   string
}

// GenerateCopy snapshots the project's current state, asks the copywriter
// for every section and stores the result as a new editable session.
// Sessions are independent of each other; nothing is stored when the
// copywriter fails.
func (c *Coordinator) GenerateCopy(ctx context.Context, projectID uuid.UUID, req GenerateCopyRequest) (*models.CopywritingSession, error) {
	inputs, err := c.copyInputs(ctx, projectID, req)
	if err != nil {
		return nil, err
	}

	sections, err := c.adapters.Copywriter.GenerateCopy(ctx, inputs)
	if err != nil {
		return nil, &AdapterError{Stage: StageCopywriting, Err: err}
	}
	outputs := models.Sections{}
	for _, name := range models.CopySections {
		if v, ok := sections[name]; ok {
			outputs[name] = strings.TrimSpace(v)
		}
	}
	if len(outputs) == 0 {
		return nil, &AdapterError{Stage: StageCopywriting, Err: errors.New("copywriter returned no known sections")}
	}

	rawInputs, err := models.EncodeJSON(inputs)
	if err != nil {
		return nil, err
	}
	rawOutputs, err := models.EncodeJSON(outputs)
	if err != nil {
		return nil, err
	}
	session := &models.CopywritingSession{
		ProjectID:   projectID,
		Inputs:      rawInputs,
		Outputs:     rawOutputs,
		Edits:       []byte("{}"),
		Status:      models.SessionStatusPending,
		GeneratedAt: time.Now().UTC(),
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info("Copy generated", "project_id", projectID, "session_id", session.ID, "sections", len(outputs))
	return session, nil
}

func (c *Coordinator) copyInputs(ctx context.Context, projectID uuid.UUID, req GenerateCopyRequest) (models.CopyInputs, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return models.CopyInputs{}, notFound(err, "project", projectID)
	}
	inputs := models.CopyInputs{
		Title:    project.Title,
		Platform: models.PlatformOther,
		UserNote: strings.TrimSpace(req.UserNote),
	}

	content, err := c.store.GetContentByProject(ctx, projectID)
	switch {
	case err == nil:
		inputs.Platform = content.Platform
		inputs.ContentType = content.ContentType
		inputs.SourceURL = content.SourceURL
		sub, err := c.pickSubtitle(ctx, content, req)
		if err != nil {
			return inputs, err
		}
		if sub != nil {
			inputs.SubtitleText = sub.SubtitleText
			inputs.SubtitleLanguage = sub.Language
		}
	case !errors.Is(err, store.ErrNotFound):
		return inputs, err
	}

	selected, err := c.store.ListSearchResults(ctx, projectID, true)
	if err != nil {
		return inputs, err
	}
	for _, r := range selected {
		inputs.SearchResults = append(inputs.SearchResults, models.SearchSnippet{
			Title:   r.Title,
			Snippet: r.Snippet,
			Link:    r.Link,
		})
	}
	return inputs, nil
}

func (c *Coordinator) pickSubtitle(ctx context.Context, content *models.Content, req GenerateCopyRequest) (*models.Subtitle, error) {
	if req.SubtitleID != nil {
		sub, err := c.store.GetSubtitle(ctx, *req.SubtitleID)
		if err != nil {
			return nil, notFound(err, "subtitle", *req.SubtitleID)
		}
		if sub.ContentID != content.ID {
			return nil, precondition(StageCopywriting, RuleInvalid, "subtitle %s belongs to another content", sub.ID)
		}
		if sub.Status != models.SubtitleStatusCompleted {
			return nil, precondition(StageCopywriting, RuleNotReady, "subtitle %s is %s", sub.ID, sub.Status)
		}
		return sub, nil
	}
	for _, lang := range []string{strings.ToLower(req.Language), models.OriginalLanguage} {
		if lang == "" {
			continue
		}
		sub, err := c.store.FindLiveSubtitle(ctx, content.ID, lang)
		if err != nil {
			return nil, err
		}
		if sub != nil && sub.Status == models.SubtitleStatusCompleted {
			return sub, nil
		}
	}
	return nil, nil
}

// GetSession loads a copywriting session
func (c *Coordinator) GetSession(ctx context.Context, id uuid.UUID) (*models.CopywritingSession, error) {
	s, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, notFound(err, "copywriting session", id)
	}
	return s, nil
}

// ListSessions returns a project's sessions, newest first
func (c *Coordinator) ListSessions(ctx context.Context, projectID uuid.UUID) ([]models.CopywritingSession, error) {
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return c.store.ListSessions(ctx, projectID)
}

// EditSection overwrites one section with the user's text
func (c *Coordinator) EditSection(ctx context.Context, sessionID uuid.UUID, section, value string) (*models.CopywritingSession, error) {
	if !models.IsCopySection(section) {
		return nil, precondition(StageCopywriting, RuleInvalid, "unknown section %q", section)
	}
	var session *models.CopywritingSession
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		s, err := lockUnsaved(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		edits, err := s.DecodeEdits()
		if err != nil {
			return err
		}
		edits[section] = value
		raw, err := models.EncodeJSON(edits)
		if err != nil {
			return err
		}
		if err := tx.UpdateUnsavedSession(ctx, s, map[string]interface{}{"edits": raw}); err != nil {
			return immutableIfStale(err, s)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RegenerateSection asks the copywriter to rewrite one section following
// instruction. The new text replaces the generated output for that section
// and discards any edit of it; other sections and their edits are kept.
func (c *Coordinator) RegenerateSection(ctx context.Context, sessionID uuid.UUID, section, instruction string) (*models.CopywritingSession, error) {
	if !models.IsCopySection(section) {
		return nil, precondition(StageCopywriting, RuleInvalid, "unknown section %q", section)
	}
	current, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, "copywriting session", sessionID)
	}
	if current.IsSaved() {
		return nil, immutable(current)
	}
	inputs, err := current.DecodeInputs()
	if err != nil {
		return nil, err
	}
	final, err := current.FinalSections()
	if err != nil {
		return nil, err
	}

	text, err := c.adapters.Copywriter.RegenerateSection(ctx, inputs, section, final[section], strings.TrimSpace(instruction))
	if err != nil {
		return nil, &AdapterError{Stage: StageCopywriting, Err: err}
	}

	var session *models.CopywritingSession
	err = c.store.Transaction(ctx, func(tx *store.Store) error {
		s, err := lockUnsaved(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		outputs, err := s.DecodeOutputs()
		if err != nil {
			return err
		}
		edits, err := s.DecodeEdits()
		if err != nil {
			return err
		}
		outputs[section] = strings.TrimSpace(text)
		delete(edits, section)
		rawOutputs, err := models.EncodeJSON(outputs)
		if err != nil {
			return err
		}
		rawEdits, err := models.EncodeJSON(edits)
		if err != nil {
			return err
		}
		if err := tx.UpdateUnsavedSession(ctx, s, map[string]interface{}{
			"outputs": rawOutputs,
			"edits":   rawEdits,
		}); err != nil {
			return immutableIfStale(err, s)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SaveSession freezes final_outputs = outputs with edits applied. A saved
// session can no longer be edited, regenerated or saved again.
func (c *Coordinator) SaveSession(ctx context.Context, sessionID uuid.UUID) (*models.CopywritingSession, error) {
	var session *models.CopywritingSession
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		s, err := lockUnsaved(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		final, err := s.FinalSections()
		if err != nil {
			return err
		}
		raw, err := models.EncodeJSON(final)
		if err != nil {
			return err
		}
		if err := tx.UpdateUnsavedSession(ctx, s, map[string]interface{}{
			"status":        models.SessionStatusCompleted,
			"final_outputs": raw,
			"saved_at":      time.Now().UTC(),
		}); err != nil {
			return immutableIfStale(err, s)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Copy saved", "session_id", session.ID, "project_id", session.ProjectID)
	return session, nil
}

func lockUnsaved(ctx context.Context, tx *store.Store, id uuid.UUID) (*models.CopywritingSession, error) {
	s, err := tx.LockSession(ctx, id)
	if err != nil {
		return nil, notFound(err, "copywriting session", id)
	}
	if s.IsSaved() {
		return nil, immutable(s)
	}
	return s, nil
}

func immutable(s *models.CopywritingSession) error {
	e := precondition(StageCopywriting, RuleImmutable, "session %s has been saved", s.ID)
	e.ID = s.ID.String()
	return e
}

func immutableIfStale(err error, s *models.CopywritingSession) error {
	if errors.Is(err, store.ErrStale) {
		return immutable(s)
	}
	return err
}
