package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/srt"
	"github.com/jimdaga/reelpipe/internal/store"
)

// ErrTaskFailed marks an execution whose failure has already been recorded
// on the task or subtitle. Queue handlers must not retry it.
var ErrTaskFailed = errors.New("execution recorded as failed")

// progressStep is the minimum progress delta worth a database write
const progressStep = 5

// DefaultHeartbeat is how often a running record's updated_at is refreshed
// while its adapter call is in flight
const DefaultHeartbeat = time.Minute

// Executor runs one claimed unit of work through its capability adapter and
// records the outcome.
type Executor struct {
	store     *store.Store
	adapters  Adapters
	artifacts ArtifactStore
	events    EventSink
	logger    *slog.Logger
	metrics   *stageMetrics
	heartbeat time.Duration
}

// NewExecutor creates an Executor. events may be nil.
func NewExecutor(s *store.Store, adapters Adapters, artifacts ArtifactStore, events EventSink, logger *slog.Logger) *Executor {
	return &Executor{
		store:     s,
		adapters:  adapters,
		artifacts: artifacts,
		events:    events,
		logger:    logger,
		metrics:   newStageMetrics(),
		heartbeat: DefaultHeartbeat,
	}
}

// SetHeartbeat changes the heartbeat interval. It must stay well below the
// reconciler's StaleAfter; zero disables the heartbeat.
func (e *Executor) SetHeartbeat(interval time.Duration) {
	e.heartbeat = interval
}

// RunTask executes a pending download, burn or watermark task.
//
// Returns nil when the task completed or was already claimed elsewhere. A
// returned error wrapping ErrTaskFailed means the failure is recorded on the
// row; any other error happened before the claim and may be retried.
func (e *Executor) RunTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return notFound(err, "task", taskID)
	}
	logger := e.logger.With("task_id", task.ID, "content_id", task.ContentID, "kind", task.Kind)

	if task.Status != models.TaskStatusPending {
		logger.Info("Skipping task that is not pending", "status", task.Status)
		return nil
	}
	content, err := e.store.GetContent(ctx, task.ContentID)
	if err != nil {
		return notFound(err, "content", task.ContentID)
	}

	running := models.TaskStatusProcessing
	if task.Kind == models.TaskKindDownload {
		running = models.TaskStatusDownloading
	}
	err = e.store.TransitionTask(ctx, task, running, map[string]interface{}{
		"attempts":      task.Attempts + 1,
		"started_at":    time.Now().UTC(),
		"progress":      0,
		"error_message": "",
	})
	if errors.Is(err, store.ErrStale) {
		logger.Info("Task claimed by another worker")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	logger.Info("Processing task", "attempt", task.Attempts)
	emit(ctx, e.events, logger, taskEvent(task))

	id, attempt := task.ID, task.Attempts
	stop := e.keepAlive(ctx, logger, func(ctx context.Context) (bool, error) {
		return e.store.TouchTask(ctx, id, attempt)
	})
	var result models.TaskResult
	switch task.Kind {
	case models.TaskKindDownload:
		result, err = e.download(ctx, task, content)
	case models.TaskKindBurn:
		result, err = e.burn(ctx, task, content)
	case models.TaskKindWatermark:
		result, err = e.watermark(ctx, task, content)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}
	stop()
	if err == nil {
		err = e.completeTask(ctx, task, content, result)
		if err != nil && !errors.Is(err, store.ErrStale) {
			err = fmt.Errorf("finalize: %w", err)
		}
	}

	switch {
	case err == nil:
		e.metrics.success(ctx, string(task.Kind))
		logger.Info("Task completed", "file_path", result.FilePath, "file_size", result.FileSize)
		emit(ctx, e.events, logger, taskEvent(task))
		return nil
	case errors.Is(err, store.ErrStale):
		// The reconciler requeued this attempt while it was running.
		logger.Warn("Task superseded by a newer attempt", "error", err)
		return nil
	}

	e.metrics.failure(ctx, string(task.Kind))
	reason := models.FailureInternal
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		reason = models.FailureAdapter
	}
	logger.Error("Task failed", "failure_reason", reason, "error", err)
	if ferr := failTask(ctx, e.store, task, reason, err); ferr != nil {
		if errors.Is(ferr, store.ErrStale) {
			logger.Warn("Task superseded before its failure was recorded")
			return nil
		}
		logger.Error("Failed to record task failure", "error", ferr)
		return fmt.Errorf("record failure: %w", ferr)
	}
	emit(ctx, e.events, logger, taskEvent(task))
	return fmt.Errorf("%w: %w", ErrTaskFailed, err)
}

func (e *Executor) download(ctx context.Context, task *models.Task, content *models.Content) (models.TaskResult, error) {
	key := path.Join("videos", content.ID.String()+".mp4")
	req := DownloadRequest{
		SourceURL: content.SourceURL,
		Platform:  content.Platform,
		DestPath:  e.artifacts.LocalPath(key),
	}
	res, err := e.adapters.Downloader.Download(ctx, req, e.progress(ctx, task))
	if err != nil {
		return models.TaskResult{}, &AdapterError{Stage: StageDownload, Err: err}
	}

	if err := e.store.TransitionTask(ctx, task, models.TaskStatusProcessing, nil); err != nil {
		return models.TaskResult{}, err
	}
	emit(ctx, e.events, e.logger, taskEvent(task))

	if err := checkVideoFile(res.LocalPath); err != nil {
		return models.TaskResult{}, &AdapterError{Stage: StageDownload, Err: err}
	}
	publicURL, err := e.artifacts.Publish(ctx, key)
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return models.TaskResult{
		FilePath:    res.LocalPath,
		FileSize:    res.SizeBytes,
		PublicURL:   publicURL,
		DownloadURL: res.DownloadURL,
	}, nil
}

func (e *Executor) burn(ctx context.Context, task *models.Task, content *models.Content) (models.TaskResult, error) {
	params, err := task.DecodeParams()
	if err != nil {
		return models.TaskResult{}, err
	}
	subID, err := uuid.Parse(params.SubtitleID)
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("invalid subtitle_id param: %w", err)
	}
	sub, err := e.store.GetSubtitle(ctx, subID)
	if err != nil {
		return models.TaskResult{}, err
	}

	key := path.Join("renders", task.ID.String()+"_subtitled.mp4")
	res, err := e.adapters.Renderer.BurnSubtitles(ctx, RenderRequest{
		InputPath:    content.FilePath,
		OutputPath:   e.artifacts.LocalPath(key),
		SubtitleText: sub.SubtitleText,
		FontSize:     params.FontSize,
	}, e.progress(ctx, task))
	if err != nil {
		return models.TaskResult{}, &AdapterError{Stage: StageBurn, Err: err}
	}
	return e.publishRender(ctx, key, res)
}

func (e *Executor) watermark(ctx context.Context, task *models.Task, content *models.Content) (models.TaskResult, error) {
	params, err := task.DecodeParams()
	if err != nil {
		return models.TaskResult{}, err
	}

	key := path.Join("renders", task.ID.String()+"_watermarked.mp4")
	res, err := e.adapters.Renderer.Watermark(ctx, RenderRequest{
		InputPath:   content.FilePath,
		OutputPath:  e.artifacts.LocalPath(key),
		OverlayPath: params.OverlayPath,
		Position:    params.Position,
	}, e.progress(ctx, task))
	if err != nil {
		return models.TaskResult{}, &AdapterError{Stage: StageWatermark, Err: err}
	}
	return e.publishRender(ctx, key, res)
}

func (e *Executor) publishRender(ctx context.Context, key string, res RenderResult) (models.TaskResult, error) {
	publicURL, err := e.artifacts.Publish(ctx, key)
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return models.TaskResult{FilePath: res.OutputPath, FileSize: res.SizeBytes, PublicURL: publicURL}, nil
}

// completeTask writes the terminal task state and the domain changes it
// implies in one transaction.
func (e *Executor) completeTask(ctx context.Context, task *models.Task, content *models.Content, result models.TaskResult) error {
	raw, err := models.EncodeJSON(result)
	if err != nil {
		return err
	}
	done := *task
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		err := tx.TransitionTask(ctx, &done, models.TaskStatusCompleted, map[string]interface{}{
			"progress":       100,
			"result":         raw,
			"completed_at":   time.Now().UTC(),
			"error_message":  "",
			"failure_reason": "",
		})
		if err != nil {
			return err
		}
		if task.Kind != models.TaskKindDownload {
			return nil
		}
		if err := tx.SetContentFilePath(ctx, content.ID, result.FilePath); err != nil {
			return err
		}
		return advanceProject(ctx, tx, content.ProjectID, models.ProjectStatusGenerating, models.ProjectStatusReady)
	})
	if err != nil {
		return err
	}
	*task = done
	return nil
}

// failTask records a terminal failure. A failed download also fails the
// project, since nothing else can complete without the file.
func failTask(ctx context.Context, s *store.Store, task *models.Task, reason models.FailureReason, cause error) error {
	failed := *task
	err := s.Transaction(ctx, func(tx *store.Store) error {
		err := tx.TransitionTask(ctx, &failed, models.TaskStatusFailed, map[string]interface{}{
			"failure_reason": reason,
			"error_message":  cause.Error(),
			"completed_at":   time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if task.Kind != models.TaskKindDownload {
			return nil
		}
		content, err := tx.GetContent(ctx, task.ContentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return advanceProject(ctx, tx, content.ProjectID, models.ProjectStatusGenerating, models.ProjectStatusFailed)
	})
	if err != nil {
		return err
	}
	*task = failed
	return nil
}

// advanceProject moves the project to `to` only if it is currently `from`
func advanceProject(ctx context.Context, tx *store.Store, projectID uuid.UUID, from, to models.ProjectStatus) error {
	project, err := tx.LockProject(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Status != from {
		return nil
	}
	return tx.SetProjectStatus(ctx, project, to)
}

// RunSubtitle executes a pending subtitle. The "original" language is
// transcribed from the content; any other language is translated from its
// source subtitle, which is how a requeued translation is recovered.
func (e *Executor) RunSubtitle(ctx context.Context, subtitleID uuid.UUID) error {
	sub, err := e.store.GetSubtitle(ctx, subtitleID)
	if err != nil {
		return notFound(err, "subtitle", subtitleID)
	}
	logger := e.logger.With("subtitle_id", sub.ID, "content_id", sub.ContentID, "language", sub.Language)

	if sub.Status != models.SubtitleStatusPending {
		logger.Info("Skipping subtitle that is not pending", "status", sub.Status)
		return nil
	}
	content, err := e.store.GetContent(ctx, sub.ContentID)
	if err != nil {
		return notFound(err, "content", sub.ContentID)
	}
	if !sub.IsOriginal() {
		if sub.SourceSubtitleID == nil {
			return e.finishSubtitle(ctx, logger, sub, "", errors.New("translation has no source subtitle"))
		}
		source, err := e.store.GetSubtitle(ctx, *sub.SourceSubtitleID)
		if errors.Is(err, store.ErrNotFound) {
			return e.finishSubtitle(ctx, logger, sub, "", fmt.Errorf("source subtitle %s: %w", *sub.SourceSubtitleID, err))
		}
		if err != nil {
			return err
		}
		return e.translate(ctx, sub, source)
	}

	if err := e.claimSubtitle(ctx, sub); err != nil {
		if errors.Is(err, store.ErrStale) {
			logger.Info("Subtitle claimed by another worker")
			return nil
		}
		return fmt.Errorf("failed to claim subtitle: %w", err)
	}
	logger.Info("Transcribing", "attempt", sub.Attempts, "platform", content.Platform)
	emit(ctx, e.events, logger, subtitleEvent(sub))

	stop := e.keepAliveSubtitle(ctx, logger, sub)
	text, err := e.adapters.Transcriber.Transcribe(ctx, MediaRef{
		LocalPath: content.FilePath,
		URL:       content.SourceURL,
		Platform:  content.Platform,
	})
	stop()
	if err == nil {
		text, err = srt.Normalize(text)
	}
	if err != nil {
		err = &AdapterError{Stage: StageSubtitle, Err: err}
	}
	return e.finishSubtitle(ctx, logger, sub, text, err)
}

// translate runs a translation of source into sub's language on the
// calling goroutine. Afterwards sub is terminal unless the claim lost a race
// or the store is unreachable.
func (e *Executor) translate(ctx context.Context, sub, source *models.Subtitle) error {
	logger := e.logger.With("subtitle_id", sub.ID, "content_id", sub.ContentID, "language", sub.Language)
	if err := e.claimSubtitle(ctx, sub); err != nil {
		if errors.Is(err, store.ErrStale) {
			logger.Info("Subtitle claimed by another worker")
			return nil
		}
		return fmt.Errorf("failed to claim subtitle: %w", err)
	}

	stop := e.keepAliveSubtitle(ctx, logger, sub)
	text, err := e.adapters.Translator.Translate(ctx, source.SubtitleText, sub.Language)
	stop()
	if err == nil {
		text, err = checkTranslation(source.SubtitleText, text)
	}
	if err != nil {
		err = &AdapterError{Stage: StageTranslate, Err: err}
	}
	return e.finishSubtitle(ctx, logger, sub, text, err)
}

func (e *Executor) keepAliveSubtitle(ctx context.Context, logger *slog.Logger, sub *models.Subtitle) (stop func()) {
	id, attempt := sub.ID, sub.Attempts
	return e.keepAlive(ctx, logger, func(ctx context.Context) (bool, error) {
		return e.store.TouchSubtitle(ctx, id, attempt)
	})
}

// keepAlive calls touch every heartbeat interval until stop is called or
// touch reports that the attempt no longer owns the record. stop waits for
// the ticker goroutine to exit.
func (e *Executor) keepAlive(ctx context.Context, logger *slog.Logger, touch func(context.Context) (bool, error)) (stop func()) {
	if e.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				owned, err := touch(ctx)
				if err != nil {
					logger.Warn("Failed to refresh heartbeat", "error", err)
					continue
				}
				if !owned {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (e *Executor) claimSubtitle(ctx context.Context, sub *models.Subtitle) error {
	return e.store.TransitionSubtitle(ctx, sub, models.SubtitleStatusProcessing, map[string]interface{}{
		"attempts":   sub.Attempts + 1,
		"started_at": time.Now().UTC(),
	})
}

func (e *Executor) finishSubtitle(ctx context.Context, logger *slog.Logger, sub *models.Subtitle, text string, runErr error) error {
	stage := StageSubtitle
	if !sub.IsOriginal() {
		stage = StageTranslate
	}
	if runErr == nil {
		runErr = e.store.TransitionSubtitle(ctx, sub, models.SubtitleStatusCompleted, map[string]interface{}{
			"subtitle_text": text,
			"completed_at":  time.Now().UTC(),
			"error_message": "",
		})
		if runErr == nil {
			e.metrics.success(ctx, stage)
			logger.Info("Subtitle completed")
			emit(ctx, e.events, logger, subtitleEvent(sub))
			return nil
		}
		if errors.Is(runErr, store.ErrStale) {
			logger.Warn("Subtitle superseded by a newer attempt")
			return nil
		}
		runErr = fmt.Errorf("finalize: %w", runErr)
	}

	e.metrics.failure(ctx, stage)
	reason := models.FailureInternal
	var adapterErr *AdapterError
	if errors.As(runErr, &adapterErr) {
		reason = models.FailureAdapter
	}
	logger.Error("Subtitle failed", "failure_reason", reason, "error", runErr)
	if ferr := failSubtitle(ctx, e.store, sub, reason, runErr); ferr != nil {
		if errors.Is(ferr, store.ErrStale) {
			logger.Warn("Subtitle superseded before its failure was recorded")
			return nil
		}
		logger.Error("Failed to record subtitle failure", "error", ferr)
		return fmt.Errorf("record failure: %w", ferr)
	}
	emit(ctx, e.events, logger, subtitleEvent(sub))
	return fmt.Errorf("%w: %w", ErrTaskFailed, runErr)
}

func failSubtitle(ctx context.Context, s *store.Store, sub *models.Subtitle, reason models.FailureReason, cause error) error {
	return s.TransitionSubtitle(ctx, sub, models.SubtitleStatusFailed, map[string]interface{}{
		"failure_reason": reason,
		"error_message":  cause.Error(),
		"completed_at":   time.Now().UTC(),
	})
}

// checkTranslation normalizes a translated document and makes sure it still
// lines up cue for cue with its source.
func checkTranslation(sourceText, translated string) (string, error) {
	src, err := srt.Parse(sourceText)
	if err != nil {
		return "", fmt.Errorf("source subtitle: %w", err)
	}
	out, err := srt.Parse(translated)
	if err != nil {
		return "", fmt.Errorf("translated subtitle: %w", err)
	}
	if len(out) != len(src) {
		return "", fmt.Errorf("translation has %d cues, source has %d", len(out), len(src))
	}
	return srt.Format(out), nil
}

// progress returns a callback that persists progress in steps of at least
// progressStep. Every accepted write also refreshes the heartbeat.
func (e *Executor) progress(ctx context.Context, task *models.Task) ProgressFunc {
	var mu sync.Mutex
	last := 0
	id, attempt := task.ID, task.Attempts
	return func(percent int) {
		mu.Lock()
		defer mu.Unlock()
		if percent > 100 {
			percent = 100
		}
		if percent < last+progressStep && !(percent == 100 && last < 100) {
			return
		}
		ok, err := e.store.UpdateTaskProgress(ctx, id, attempt, percent)
		if err != nil {
			e.logger.Warn("Failed to record progress", "task_id", id, "error", err)
			return
		}
		last = percent
		if ok {
			ev := taskEvent(task)
			ev.Progress = percent
			emit(ctx, e.events, e.logger, ev)
		}
	}
}

// checkVideoFile rejects empty downloads and files that sniff as something
// other than audio or video, such as an HTML error page saved as .mp4.
func checkVideoFile(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("downloaded file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("downloaded file %s is empty", p)
	}
	kind, err := filetype.MatchFile(p)
	if err != nil {
		return fmt.Errorf("sniff downloaded file: %w", err)
	}
	if kind != filetype.Unknown && kind.MIME.Type != "video" && kind.MIME.Type != "audio" {
		return fmt.Errorf("downloaded file is %s, not a video", kind.MIME.Value)
	}
	return nil
}

func taskEvent(t *models.Task) Event {
	return Event{
		Entity:    "task",
		ID:        t.ID,
		ContentID: t.ContentID,
		Kind:      string(t.Kind),
		Status:    string(t.Status),
		Progress:  t.Progress,
		Error:     t.ErrorMessage,
	}
}

func subtitleEvent(s *models.Subtitle) Event {
	return Event{
		Entity:    "subtitle",
		ID:        s.ID,
		ContentID: s.ContentID,
		Kind:      s.Language,
		Status:    string(s.Status),
		Error:     s.ErrorMessage,
	}
}

func emit(ctx context.Context, sink EventSink, logger *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, ev); err != nil {
		logger.Warn("Failed to publish status event", "entity", ev.Entity, "id", ev.ID, "error", err)
	}
}
