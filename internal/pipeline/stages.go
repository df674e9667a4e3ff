package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/store"
)

// Overlay positions accepted by the watermark stage
const (
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"
	PositionCenter      = "center"
)

// StageParams are the caller-supplied parameters of an async stage
type StageParams struct {
	SubtitleID  *uuid.UUID `json:"subtitle_id,omitempty"`
	OverlayPath string     `json:"overlay_path,omitempty"`
	Position    string     `json:"position,omitempty"`
	FontSize    int        `json:"font_size,omitempty"`

	retryOf *uuid.UUID
}

// The check functions below evaluate a stage's preconditions against
// records read through tx. They never write.

func checkDownload(ctx context.Context, tx *store.Store, content *models.Content) error {
	if !content.IsVideo() {
		return precondition(StageDownload, RuleInvalid, "content %s is %s, not video", content.ID, content.ContentType)
	}
	existing, err := tx.FindDownload(ctx, content.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return taskExists(StageDownload, existing)
	}
	return nil
}

func checkSubtitle(ctx context.Context, tx *store.Store, content *models.Content) error {
	if !content.IsVideo() {
		return precondition(StageSubtitle, RuleInvalid, "content %s is %s, not video", content.ID, content.ContentType)
	}
	if content.RequiresLocalFileForTranscription() && !content.HasLocalFile() {
		return precondition(StageSubtitle, RuleNotReady, "%s content must be downloaded before transcription", content.Platform)
	}
	existing, err := tx.FindLiveSubtitle(ctx, content.ID, models.OriginalLanguage)
	if err != nil {
		return err
	}
	if existing != nil {
		return subtitleExists(StageSubtitle, existing)
	}
	return nil
}

func checkBurn(ctx context.Context, tx *store.Store, content *models.Content, params StageParams) (*models.Subtitle, error) {
	if params.SubtitleID == nil {
		return nil, precondition(StageBurn, RuleInvalid, "subtitle_id is required")
	}
	sub, err := tx.GetSubtitle(ctx, *params.SubtitleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, precondition(StageBurn, RuleNotFound, "subtitle %s does not exist", params.SubtitleID)
	}
	if err != nil {
		return nil, err
	}
	if sub.ContentID != content.ID {
		return nil, precondition(StageBurn, RuleInvalid, "subtitle %s belongs to another content", sub.ID)
	}
	if sub.Status != models.SubtitleStatusCompleted {
		return nil, precondition(StageBurn, RuleNotReady, "subtitle %s is %s", sub.ID, sub.Status)
	}
	if !content.HasLocalFile() {
		return nil, precondition(StageBurn, RuleNotReady, "content %s has not been downloaded", content.ID)
	}
	if err := checkNoLiveTask(ctx, tx, StageBurn, content.ID, models.TaskKindBurn); err != nil {
		return nil, err
	}
	return sub, nil
}

func checkWatermark(ctx context.Context, tx *store.Store, content *models.Content, params *StageParams) error {
	if !content.HasLocalFile() {
		return precondition(StageWatermark, RuleNotReady, "content %s has not been downloaded", content.ID)
	}
	if params.OverlayPath == "" {
		return precondition(StageWatermark, RuleInvalid, "an overlay image is required")
	}
	kind, err := filetype.MatchFile(params.OverlayPath)
	if err != nil {
		return precondition(StageWatermark, RuleInvalid, "overlay image is unreadable: %v", err)
	}
	if kind.MIME.Type != "image" {
		return precondition(StageWatermark, RuleInvalid, "overlay must be an image")
	}
	switch params.Position {
	case "":
		params.Position = PositionBottomRight
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter:
	default:
		return precondition(StageWatermark, RuleInvalid, "unknown position %q", params.Position)
	}
	return checkNoLiveTask(ctx, tx, StageWatermark, content.ID, models.TaskKindWatermark)
}

func checkTranslate(ctx context.Context, tx *store.Store, content *models.Content, sourceID *uuid.UUID, target string) (*models.Subtitle, error) {
	if target == "" || target == models.OriginalLanguage {
		return nil, precondition(StageTranslate, RuleInvalid, "target language %q is not allowed", target)
	}

	var source *models.Subtitle
	var err error
	if sourceID != nil {
		source, err = tx.GetSubtitle(ctx, *sourceID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, precondition(StageTranslate, RuleNotFound, "subtitle %s does not exist", sourceID)
		}
		if err == nil && source.ContentID != content.ID {
			return nil, precondition(StageTranslate, RuleInvalid, "subtitle %s belongs to another content", source.ID)
		}
	} else {
		source, err = tx.FindLiveSubtitle(ctx, content.ID, models.OriginalLanguage)
		if err == nil && source == nil {
			return nil, precondition(StageTranslate, RuleNotReady, "content %s has no original subtitle", content.ID)
		}
	}
	if err != nil {
		return nil, err
	}
	if source.Status != models.SubtitleStatusCompleted {
		return nil, precondition(StageTranslate, RuleNotReady, "source subtitle %s is %s", source.ID, source.Status)
	}

	existing, err := tx.FindLiveSubtitle(ctx, content.ID, target)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, subtitleExists(StageTranslate, existing)
	}
	return source, nil
}

func checkNoLiveTask(ctx context.Context, tx *store.Store, stage string, contentID uuid.UUID, kind models.TaskKind) error {
	live, err := tx.FindLiveTask(ctx, contentID, kind)
	if err != nil {
		return err
	}
	if live != nil {
		return taskExists(stage, live)
	}
	return nil
}

func taskExists(stage string, t *models.Task) error {
	if t.Status.IsTerminal() {
		e := precondition(stage, RuleAlreadyExists, "%s task %s already completed", t.Kind, t.ID)
		e.ID = t.ID.String()
		return e
	}
	e := precondition(stage, RuleInProgress, "%s task %s is %s", t.Kind, t.ID, t.Status)
	e.ID = t.ID.String()
	return e
}

func subtitleExists(stage string, s *models.Subtitle) error {
	if s.Status.IsTerminal() {
		e := precondition(stage, RuleAlreadyExists, "%s subtitle %s already exists", s.Language, s.ID)
		e.ID = s.ID.String()
		return e
	}
	e := precondition(stage, RuleInProgress, "%s subtitle %s is %s", s.Language, s.ID, s.Status)
	e.ID = s.ID.String()
	return e
}
