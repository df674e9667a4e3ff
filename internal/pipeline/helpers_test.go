package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/store"
	"github.com/jimdaga/reelpipe/internal/testutil"
	"github.com/stretchr/testify/require"
)

const originalSRT = "1\n00:00:00,000 --> 00:00:02,000\nHello world\n\n2\n00:00:02,500 --> 00:00:04,000\nSecond caption\n"

type fakeEnqueuer struct {
	mu    sync.Mutex
	items []WorkItem
	keys  map[string]bool
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, item WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[item.Key()] {
		return ErrAlreadyQueued
	}
	f.keys[item.Key()] = true
	f.items = append(f.items, item)
	return nil
}

func (f *fakeEnqueuer) Items() []WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WorkItem(nil), f.items...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) For(id uuid.UUID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

type fakeArtifacts struct {
	root string
}

func (f *fakeArtifacts) LocalPath(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *fakeArtifacts) Publish(ctx context.Context, key string) (string, error) {
	return "http://media.test/" + key, nil
}

type fakeDownloader struct {
	progress []int
	err      error
	body     []byte
	during   func()
}

func (f *fakeDownloader) Download(ctx context.Context, req DownloadRequest, progress ProgressFunc) (DownloadResult, error) {
	for _, p := range f.progress {
		progress(p)
	}
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return DownloadResult{}, f.err
	}
	body := f.body
	if body == nil {
		body = []byte("not really a video but not anything else either")
	}
	if err := os.MkdirAll(filepath.Dir(req.DestPath), 0o755); err != nil {
		return DownloadResult{}, err
	}
	if err := os.WriteFile(req.DestPath, body, 0o644); err != nil {
		return DownloadResult{}, err
	}
	return DownloadResult{LocalPath: req.DestPath, SizeBytes: int64(len(body)), DownloadURL: "https://cdn.test/" + filepath.Base(req.DestPath)}, nil
}

type fakeTranscriber struct {
	text   string
	err    error
	seen   []MediaRef
	during func()
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, media MediaRef) (string, error) {
	f.seen = append(f.seen, media)
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeTranslator struct {
	out    string
	err    error
	during func()
}

func (f *fakeTranslator) Translate(ctx context.Context, srtText, target string) (string, error) {
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return "", f.err
	}
	if f.out != "" {
		return f.out, nil
	}
	return "1\n00:00:00,000 --> 00:00:02,000\n[" + target + "] Hello world\n\n2\n00:00:02,500 --> 00:00:04,000\n[" + target + "] Second caption\n", nil
}

type fakeRenderer struct {
	err  error
	last RenderRequest
}

func (f *fakeRenderer) render(req RenderRequest, progress ProgressFunc) (RenderResult, error) {
	f.last = req
	progress(50)
	if f.err != nil {
		return RenderResult{}, f.err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return RenderResult{}, err
	}
	if err := os.WriteFile(req.OutputPath, []byte("rendered"), 0o644); err != nil {
		return RenderResult{}, err
	}
	return RenderResult{OutputPath: req.OutputPath, SizeBytes: 8}, nil
}

func (f *fakeRenderer) BurnSubtitles(ctx context.Context, req RenderRequest, progress ProgressFunc) (RenderResult, error) {
	return f.render(req, progress)
}

func (f *fakeRenderer) Watermark(ctx context.Context, req RenderRequest, progress ProgressFunc) (RenderResult, error) {
	return f.render(req, progress)
}

type fakeCopywriter struct {
	sections   models.Sections
	err        error
	regen      string
	lastInputs models.CopyInputs
	lastRegen  []string
}

func (f *fakeCopywriter) GenerateCopy(ctx context.Context, inputs models.CopyInputs) (models.Sections, error) {
	f.lastInputs = inputs
	if f.err != nil {
		return nil, f.err
	}
	return f.sections, nil
}

func (f *fakeCopywriter) RegenerateSection(ctx context.Context, inputs models.CopyInputs, section, current, instruction string) (string, error) {
	f.lastRegen = []string{section, current, instruction}
	if f.err != nil {
		return "", f.err
	}
	return f.regen, nil
}

type fakeSearcher struct {
	hits []SearchHit
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, query, language string, count int) ([]SearchHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > count {
		return f.hits[:count], nil
	}
	return f.hits, nil
}

type testEnv struct {
	store       *store.Store
	queue       *fakeEnqueuer
	events      *recordingSink
	downloader  *fakeDownloader
	transcriber *fakeTranscriber
	translator  *fakeTranslator
	renderer    *fakeRenderer
	copywriter  *fakeCopywriter
	searcher    *fakeSearcher
	exec        *Executor
	coord       *Coordinator
	dir         string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:       store.New(testutil.NewDB(t)),
		queue:       &fakeEnqueuer{},
		events:      &recordingSink{},
		downloader:  &fakeDownloader{progress: []int{10, 30, 50, 100}},
		transcriber: &fakeTranscriber{text: originalSRT},
		translator:  &fakeTranslator{},
		renderer:    &fakeRenderer{},
		copywriter: &fakeCopywriter{
			sections: models.Sections{
				models.SectionTitle:    "A title",
				models.SectionCaption:  "A caption",
				models.SectionHashtags: "#go #video",
				"unknown":              "dropped",
			},
			regen: "A better caption",
		},
		searcher: &fakeSearcher{hits: []SearchHit{
			{Title: "Reel", Link: "https://www.instagram.com/reel/abc", Snippet: "a reel"},
			{Title: "Clip", Link: "https://youtu.be/xyz", Snippet: "a clip"},
			{Title: "Post", Link: "https://blog.example.com/post", Snippet: "a post"},
		}},
		dir: t.TempDir(),
	}
	adapters := Adapters{
		Downloader:  env.downloader,
		Transcriber: env.transcriber,
		Translator:  env.translator,
		Renderer:    env.renderer,
		Copywriter:  env.copywriter,
		Searcher:    env.searcher,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.exec = NewExecutor(env.store, adapters, &fakeArtifacts{root: env.dir}, env.events, logger)
	env.coord = NewCoordinator(env.store, env.queue, env.exec, adapters, env.events, logger)
	return env
}

// seedContent creates a generating project with video content for platform
func (env *testEnv) seedContent(t *testing.T, platform string) (*models.Project, *models.Content) {
	t.Helper()
	return testutil.SeedVideo(t, env.store.DB(), platform)
}

// downloaded runs a download for content to completion
func (env *testEnv) downloaded(t *testing.T, content *models.Content) *models.Content {
	t.Helper()
	ctx := context.Background()
	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, task.ID))
	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	require.True(t, got.HasLocalFile())
	return got
}

// originalSubtitle produces a completed original subtitle for content
func (env *testEnv) originalSubtitle(t *testing.T, content *models.Content) *models.Subtitle {
	t.Helper()
	ctx := context.Background()
	sub, err := env.coord.StartSubtitle(ctx, content.ID)
	require.NoError(t, err)
	require.NoError(t, env.exec.RunSubtitle(ctx, sub.ID))
	got, err := env.store.GetSubtitle(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubtitleStatusCompleted, got.Status)
	return got
}

func requireRule(t *testing.T, err error, rule Rule) {
	t.Helper()
	var pe *PreconditionError
	require.True(t, errors.As(err, &pe), "want PreconditionError, got %v", err)
	require.Equal(t, rule, pe.Rule, pe.Error())
	require.ErrorIs(t, err, ErrPrecondition)
}

func countTasks(t *testing.T, env *testEnv, contentID uuid.UUID) int {
	t.Helper()
	tasks, err := env.store.ListTasks(context.Background(), contentID)
	require.NoError(t, err)
	return len(tasks)
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644))
}
