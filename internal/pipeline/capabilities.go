package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// ProgressFunc receives percent complete (0-100) from long-running adapters
type ProgressFunc func(percent int)

// DownloadRequest describes a source video to fetch
type DownloadRequest struct {
	SourceURL string
	Platform  string
	DestPath  string
}

// DownloadResult is where the fetched file ended up
type DownloadResult struct {
	LocalPath   string
	SizeBytes   int64
	DownloadURL string
}

// Downloader fetches a source video to local disk
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest, progress ProgressFunc) (DownloadResult, error)
}

// MediaRef points at a video either on disk or by URL
type MediaRef struct {
	LocalPath string
	URL       string
	Platform  string
}

// Transcriber turns speech into SRT text
type Transcriber interface {
	Transcribe(ctx context.Context, media MediaRef) (string, error)
}

// Translator translates SRT text, keeping timings
type Translator interface {
	Translate(ctx context.Context, srtText, targetLanguage string) (string, error)
}

// RenderRequest describes one encoder run
type RenderRequest struct {
	InputPath    string
	OutputPath   string
	SubtitleText string
	OverlayPath  string
	Position     string
	FontSize     int
}

// RenderResult is the file an encoder run produced
type RenderResult struct {
	OutputPath string
	SizeBytes  int64
}

// Renderer burns subtitles into, or overlays an image onto, a video
type Renderer interface {
	BurnSubtitles(ctx context.Context, req RenderRequest, progress ProgressFunc) (RenderResult, error)
	Watermark(ctx context.Context, req RenderRequest, progress ProgressFunc) (RenderResult, error)
}

// Copywriter generates marketing copy sections
type Copywriter interface {
	GenerateCopy(ctx context.Context, inputs models.CopyInputs) (models.Sections, error)
	RegenerateSection(ctx context.Context, inputs models.CopyInputs, section, currentValue, instruction string) (string, error)
}

// SearchHit is one result from a Searcher
type SearchHit struct {
	Title   string
	Link    string
	Snippet string
	Extra   map[string]interface{}
}

// Searcher finds candidate source media
type Searcher interface {
	Search(ctx context.Context, query, language string, count int) ([]SearchHit, error)
}

// Adapters bundles every capability the pipeline drives
type Adapters struct {
	Downloader  Downloader
	Transcriber Transcriber
	Translator  Translator
	Renderer    Renderer
	Copywriter  Copywriter
	Searcher    Searcher
}

// ArtifactStore maps artifact keys to local paths workers write to, and
// publishes finished files.
type ArtifactStore interface {
	LocalPath(key string) string
	Publish(ctx context.Context, key string) (publicURL string, err error)
}

// WorkKind names a queued unit of work
type WorkKind string

// Work kinds
const (
	WorkDownload  WorkKind = "download"
	WorkBurn      WorkKind = "burn"
	WorkWatermark WorkKind = "watermark"
	WorkSubtitle  WorkKind = "subtitle"
)

// WorkKindFor maps a task kind onto its work kind
func WorkKindFor(kind models.TaskKind) WorkKind {
	return WorkKind(kind)
}

// WorkItem is the payload handed to the queue: the record identity plus the
// attempt it belongs to. Key deduplicates enqueues of the same attempt.
type WorkItem struct {
	Kind    WorkKind  `json:"kind"`
	ID      uuid.UUID `json:"id"`
	Attempt int       `json:"attempt"`
}

// Key identifies one enqueue of the item
func (w WorkItem) Key() string {
	return fmt.Sprintf("%s:%s:%d", w.Kind, w.ID, w.Attempt)
}

// Enqueuer hands work items to the worker pool
type Enqueuer interface {
	Enqueue(ctx context.Context, item WorkItem) error
}

// Event is a status change broadcast to followers
type Event struct {
	Entity    string    `json:"entity"`
	ID        uuid.UUID `json:"id"`
	ContentID uuid.UUID `json:"content_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
}

// EventSink receives status events. Delivery is best effort.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
