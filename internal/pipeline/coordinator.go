package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/store"
)

// Coordinator is the façade callers use to drive a project through its
// stages and poll their progress.
type Coordinator struct {
	store      *store.Store
	dispatcher *Dispatcher
	executor   *Executor
	adapters   Adapters
	events     EventSink
	logger     *slog.Logger
}

// NewCoordinator wires a Coordinator. events may be nil.
func NewCoordinator(s *store.Store, enqueuer Enqueuer, executor *Executor, adapters Adapters, events EventSink, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:      s,
		dispatcher: NewDispatcher(s, enqueuer, events, logger),
		executor:   executor,
		adapters:   adapters,
		events:     events,
		logger:     logger,
	}
}

// CreateProject creates a draft project
func (c *Coordinator) CreateProject(ctx context.Context, title, projectType string) (*models.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, precondition(StageProject, RuleInvalid, "title is required")
	}
	switch projectType {
	case "":
		projectType = models.ProjectTypeText
	case models.ProjectTypeVideo, models.ProjectTypeText:
	default:
		return nil, precondition(StageProject, RuleInvalid, "unknown project type %q", projectType)
	}
	p := &models.Project{Title: title, Type: projectType, Status: models.ProjectStatusDraft}
	if err := c.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	c.logger.Info("Project created", "project_id", p.ID)
	return p, nil
}

// GetProject loads a project
func (c *Coordinator) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return p, nil
}

// ListProjects returns recent projects
func (c *Coordinator) ListProjects(ctx context.Context, limit int) ([]models.Project, error) {
	return c.store.ListProjects(ctx, limit)
}

// DeleteProject removes a project and everything it owns. Work already in
// flight finds its rows gone and drops its result.
func (c *Coordinator) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if err := c.store.DeleteProject(ctx, id); err != nil {
		return notFound(err, "project", id)
	}
	c.logger.Info("Project deleted", "project_id", id)
	return nil
}

// PublishProject marks a ready project as published
func (c *Coordinator) PublishProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project *models.Project
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		p, err := tx.LockProject(ctx, id)
		if err != nil {
			return notFound(err, "project", id)
		}
		if p.Status != models.ProjectStatusReady {
			return precondition(StageProject, RuleNotReady, "project %s is %s", p.ID, p.Status)
		}
		project = p
		return tx.SetProjectStatus(ctx, p, models.ProjectStatusPublished)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Search runs a synchronous search for the project and stores the hits.
// The project moves searching -> selecting, or to failed if the search
// provider errors.
func (c *Coordinator) Search(ctx context.Context, projectID uuid.UUID, query, language string, count int) (*models.SearchRequest, []models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, precondition(StageSearch, RuleInvalid, "query is required")
	}
	if language == "" {
		language = "en"
	}
	if count <= 0 || count > 50 {
		count = 10
	}

	req := &models.SearchRequest{
		ProjectID:       projectID,
		Query:           query,
		Language:        language,
		TopResultsCount: count,
		Status:          models.SearchStatusInProgress,
	}
	var project *models.Project
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return notFound(err, "project", projectID)
		}
		if p.Status == models.ProjectStatusSearching {
			return precondition(StageSearch, RuleInProgress, "project %s is already searching", p.ID)
		}
		if err := tx.SetProjectStatus(ctx, p, models.ProjectStatusSearching); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) {
				return precondition(StageSearch, RuleInvalid, "project %s is %s and cannot search", p.ID, p.Status)
			}
			return err
		}
		project = p
		return tx.CreateSearchRequest(ctx, req)
	})
	if err != nil {
		return nil, nil, err
	}

	hits, searchErr := c.adapters.Searcher.Search(ctx, query, language, count)
	now := time.Now().UTC()
	if searchErr != nil {
		c.logger.Error("Search failed", "project_id", projectID, "error", searchErr)
		err := c.store.Transaction(ctx, func(tx *store.Store) error {
			if err := tx.UpdateSearchRequest(ctx, req, map[string]interface{}{
				"status":        models.SearchStatusFailed,
				"error_message": searchErr.Error(),
				"completed_at":  now,
			}); err != nil {
				return err
			}
			return tx.SetProjectStatus(ctx, project, models.ProjectStatusFailed)
		})
		if err != nil {
			return req, nil, fmt.Errorf("record search failure: %w", err)
		}
		return req, nil, &AdapterError{Stage: StageSearch, Err: searchErr}
	}

	results := make([]models.SearchResult, 0, len(hits))
	for i, h := range hits {
		r := models.SearchResult{
			SearchRequestID: req.ID,
			ProjectID:       projectID,
			Title:           h.Title,
			Link:            h.Link,
			Snippet:         h.Snippet,
			Rank:            i + 1,
		}
		if len(h.Extra) > 0 {
			if raw, err := models.EncodeJSON(h.Extra); err == nil {
				r.Metadata = raw
			}
		}
		results = append(results, r)
	}
	err = c.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateSearchResults(ctx, results); err != nil {
			return err
		}
		if err := tx.UpdateSearchRequest(ctx, req, map[string]interface{}{
			"status":       models.SearchStatusCompleted,
			"completed_at": now,
		}); err != nil {
			return err
		}
		return tx.SetProjectStatus(ctx, project, models.ProjectStatusSelecting)
	})
	if err != nil {
		return req, nil, err
	}
	c.logger.Info("Search completed", "project_id", projectID, "results", len(results))
	return req, results, nil
}

// SelectResult marks a search result as (un)selected for copywriting context
func (c *Coordinator) SelectResult(ctx context.Context, projectID, resultID uuid.UUID, selected bool) (*models.SearchResult, error) {
	r, err := c.store.GetSearchResult(ctx, resultID)
	if err != nil {
		return nil, notFound(err, "search result", resultID)
	}
	if r.ProjectID != projectID {
		return nil, &NotFoundError{Entity: "search result", ID: resultID.String()}
	}
	if err := c.store.SetResultSelected(ctx, resultID, selected); err != nil {
		return nil, err
	}
	r.IsSelected = selected
	return r, nil
}

// ListResults returns the project's search results
func (c *Coordinator) ListResults(ctx context.Context, projectID uuid.UUID, selectedOnly bool) ([]models.SearchResult, error) {
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return c.store.ListSearchResults(ctx, projectID, selectedOnly)
}

// CreateContentRequest identifies the media for a project, either by a
// stored search result or directly by URL.
type CreateContentRequest struct {
	SearchResultID *uuid.UUID
	SourceURL      string
}

// CreateContent attaches the project's one Content and moves the project to
// generating. Video content starts its download immediately; anything else
// needs no processing and the project becomes ready.
func (c *Coordinator) CreateContent(ctx context.Context, projectID uuid.UUID, req CreateContentRequest) (*models.Content, *models.Task, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if req.SearchResultID != nil {
		r, err := c.store.GetSearchResult(ctx, *req.SearchResultID)
		if err != nil {
			return nil, nil, notFound(err, "search result", *req.SearchResultID)
		}
		if r.ProjectID != projectID {
			return nil, nil, precondition(StageContent, RuleInvalid, "search result %s belongs to another project", r.ID)
		}
		sourceURL = r.Link
	}
	if sourceURL == "" {
		return nil, nil, precondition(StageContent, RuleInvalid, "a search result or source URL is required")
	}

	contentType, platform := models.DetectContentInfo(sourceURL)
	content := &models.Content{
		ProjectID:   projectID,
		SourceURL:   sourceURL,
		ContentType: contentType,
		Platform:    platform,
	}
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return notFound(err, "project", projectID)
		}
		if existing, err := tx.GetContentByProject(ctx, projectID); err == nil {
			e := precondition(StageContent, RuleAlreadyExists, "project %s already has content %s", projectID, existing.ID)
			e.ID = existing.ID.String()
			return e
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.SetProjectStatus(ctx, p, models.ProjectStatusGenerating); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) {
				return precondition(StageContent, RuleNotReady, "project %s is %s", p.ID, p.Status)
			}
			return err
		}
		if err := tx.CreateContent(ctx, content); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return precondition(StageContent, RuleAlreadyExists, "project %s already has content", projectID)
			}
			return err
		}
		if !content.IsVideo() {
			return tx.SetProjectStatus(ctx, p, models.ProjectStatusReady)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.logger.Info("Content created", "project_id", projectID, "content_id", content.ID,
		"content_type", content.ContentType, "platform", content.Platform)

	if !content.IsVideo() {
		return content, nil, nil
	}
	task, err := c.dispatcher.Start(ctx, content.ID, models.TaskKindDownload, StageParams{})
	if err != nil && task == nil {
		return content, nil, err
	}
	if err != nil {
		// The failure is recorded on the task; the caller sees it by polling.
		c.logger.Warn("Download could not be queued", "content_id", content.ID, "error", err)
	}
	content.DownloadTaskID = &task.ID
	return content, task, nil
}

// GetContent loads content
func (c *Coordinator) GetContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	content, err := c.store.GetContent(ctx, id)
	if err != nil {
		return nil, notFound(err, "content", id)
	}
	return content, nil
}

// GetProjectContent loads the content of a project
func (c *Coordinator) GetProjectContent(ctx context.Context, projectID uuid.UUID) (*models.Content, error) {
	content, err := c.store.GetContentByProject(ctx, projectID)
	if err != nil {
		return nil, notFound(err, "content for project", projectID)
	}
	return content, nil
}

// StartStage starts an async download, burn or watermark task
func (c *Coordinator) StartStage(ctx context.Context, contentID uuid.UUID, kind models.TaskKind, params StageParams) (*models.Task, error) {
	return c.dispatcher.Start(ctx, contentID, kind, params)
}

// RetryTask starts a fresh task with the parameters of a failed one. The
// failed task is kept for audit. Retrying a download moves a failed project
// back to generating in the same transaction that creates the new task.
func (c *Coordinator) RetryTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	old, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, notFound(err, "task", taskID)
	}
	stage := string(old.Kind)
	if old.Status != models.TaskStatusFailed {
		rule := RuleInProgress
		if old.Status.IsTerminal() {
			rule = RuleAlreadyExists
		}
		e := precondition(stage, rule, "task %s is %s, only failed tasks can be retried", old.ID, old.Status)
		e.ID = old.ID.String()
		return nil, e
	}

	prev, err := old.DecodeParams()
	if err != nil {
		return nil, err
	}
	params := StageParams{
		OverlayPath: prev.OverlayPath,
		Position:    prev.Position,
		FontSize:    prev.FontSize,
		retryOf:     &old.ID,
	}
	if prev.SubtitleID != "" {
		id, err := uuid.Parse(prev.SubtitleID)
		if err != nil {
			return nil, fmt.Errorf("invalid subtitle_id on task %s: %w", old.ID, err)
		}
		params.SubtitleID = &id
	}

	var onCreate func(tx *store.Store, content *models.Content) error
	if old.Kind == models.TaskKindDownload {
		onCreate = func(tx *store.Store, content *models.Content) error {
			return advanceProject(ctx, tx, content.ProjectID, models.ProjectStatusFailed, models.ProjectStatusGenerating)
		}
	}
	task, err := c.dispatcher.start(ctx, old.ContentID, old.Kind, params, onCreate)
	if err != nil {
		return task, err
	}
	c.logger.Info("Task retried", "task_id", task.ID, "retry_of", old.ID, "kind", task.Kind)
	return task, nil
}

// GetTask returns the polling view of a task
func (c *Coordinator) GetTask(ctx context.Context, id uuid.UUID) (TaskView, error) {
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return TaskView{}, notFound(err, "task", id)
	}
	return NewTaskView(t), nil
}

// ListTasks returns every task of a content, oldest first
func (c *Coordinator) ListTasks(ctx context.Context, contentID uuid.UUID) ([]TaskView, error) {
	if _, err := c.GetContent(ctx, contentID); err != nil {
		return nil, err
	}
	tasks, err := c.store.ListTasks(ctx, contentID)
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, len(tasks))
	for i := range tasks {
		views[i] = NewTaskView(&tasks[i])
	}
	return views, nil
}

// StartSubtitle starts async generation of the original-language subtitle
func (c *Coordinator) StartSubtitle(ctx context.Context, contentID uuid.UUID) (*models.Subtitle, error) {
	return c.dispatcher.StartSubtitle(ctx, contentID)
}

// Translate creates a subtitle in targetLanguage from a completed source
// subtitle (the original when sourceID is nil). It blocks until the new
// subtitle is terminal and returns it whether it completed or failed.
func (c *Coordinator) Translate(ctx context.Context, contentID uuid.UUID, sourceID *uuid.UUID, targetLanguage string) (*models.Subtitle, error) {
	targetLanguage = strings.ToLower(strings.TrimSpace(targetLanguage))

	var sub, source *models.Subtitle
	err := c.store.Transaction(ctx, func(tx *store.Store) error {
		content, err := tx.LockContent(ctx, contentID)
		if err != nil {
			return notFound(err, "content", contentID)
		}
		source, err = checkTranslate(ctx, tx, content, sourceID, targetLanguage)
		if err != nil {
			return err
		}
		sub = &models.Subtitle{
			ContentID:        content.ID,
			Language:         targetLanguage,
			SourceSubtitleID: &source.ID,
		}
		if err := tx.CreateSubtitle(ctx, sub); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return precondition(StageTranslate, RuleInProgress, "%s subtitle for content %s was started concurrently", targetLanguage, content.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	emit(ctx, c.events, c.logger, subtitleEvent(sub))

	if err := c.executor.translate(ctx, sub, source); err != nil && !errors.Is(err, ErrTaskFailed) {
		return sub, err
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	// The attempt lost its claim, so the in-memory copy is out of date.
	latest, err := c.store.GetSubtitle(ctx, sub.ID)
	if err != nil {
		return nil, notFound(err, "subtitle", sub.ID)
	}
	if !latest.Status.IsTerminal() {
		pe := precondition(StageTranslate, RuleInProgress, "%s subtitle %s is still %s; poll it for the result", latest.Language, latest.ID, latest.Status)
		pe.ID = latest.ID.String()
		return nil, pe
	}
	return latest, nil
}

// GetSubtitle returns the polling view of a subtitle
func (c *Coordinator) GetSubtitle(ctx context.Context, id uuid.UUID) (SubtitleView, error) {
	s, err := c.store.GetSubtitle(ctx, id)
	if err != nil {
		return SubtitleView{}, notFound(err, "subtitle", id)
	}
	return NewSubtitleView(s), nil
}

// ListSubtitles returns a content's subtitles in creation order
func (c *Coordinator) ListSubtitles(ctx context.Context, contentID uuid.UUID) ([]SubtitleView, error) {
	if _, err := c.GetContent(ctx, contentID); err != nil {
		return nil, err
	}
	subs, err := c.store.ListSubtitles(ctx, contentID)
	if err != nil {
		return nil, err
	}
	views := make([]SubtitleView, len(subs))
	for i := range subs {
		views[i] = NewSubtitleView(&subs[i])
	}
	return views, nil
}

// DeleteSubtitle discards a terminal subtitle so its language can be
// produced again. Subtitles still being produced, or referenced by a burn
// that has not finished, cannot be deleted.
func (c *Coordinator) DeleteSubtitle(ctx context.Context, id uuid.UUID) error {
	return c.store.Transaction(ctx, func(tx *store.Store) error {
		sub, err := tx.GetSubtitle(ctx, id)
		if err != nil {
			return notFound(err, "subtitle", id)
		}
		if !sub.Status.IsTerminal() {
			e := precondition(StageSubtitle, RuleInProgress, "subtitle %s is %s", sub.ID, sub.Status)
			e.ID = sub.ID.String()
			return e
		}
		n, err := tx.CountLiveRenders(ctx, sub.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			e := precondition(StageSubtitle, RuleInProgress, "subtitle %s is used by %d unfinished burn task(s)", sub.ID, n)
			e.ID = sub.ID.String()
			return e
		}
		return tx.DeleteSubtitle(ctx, sub.ID)
	})
}
