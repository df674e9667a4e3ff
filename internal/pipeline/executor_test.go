package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDownloadCompletesTaskContentAndProjectTogether(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, task.ID))

	view, err := env.coord.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, 1, view.Attempts)
	assert.True(t, view.Terminal)
	require.NotNil(t, view.Result)
	want := filepath.Join(env.dir, "videos", content.ID.String()+".mp4")
	assert.Equal(t, want, view.Result.FilePath)
	assert.Equal(t, "http://media.test/videos/"+content.ID.String()+".mp4", view.Result.PublicURL)
	assert.NotNil(t, view.StartedAt)
	assert.NotNil(t, view.CompletedAt)

	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got.FilePath)

	p, err := env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusReady, p.Status)
}

func TestRunDownloadReportsMonotonicProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)
	env.downloader.progress = []int{2, 10, 12, 8, 30, 31, 50, 100}

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, task.ID))

	var seen []int
	var statuses []string
	for _, ev := range env.events.For(task.ID) {
		statuses = append(statuses, ev.Status)
		if ev.Status == string(models.TaskStatusDownloading) && ev.Progress > 0 {
			seen = append(seen, ev.Progress)
		}
	}
	assert.Equal(t, []int{10, 30, 50, 100}, seen)
	assert.Equal(t, string(models.TaskStatusPending), statuses[0])
	assert.Contains(t, statuses, string(models.TaskStatusProcessing))
	assert.Equal(t, string(models.TaskStatusCompleted), statuses[len(statuses)-1])
}

func TestRunDownloadAdapterFailureFailsTaskAndProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, content := env.seedContent(t, models.PlatformInstagram)
	env.downloader.err = errors.New("resolver returned 404")

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)

	err = env.exec.RunTask(ctx, task.ID)
	require.ErrorIs(t, err, ErrTaskFailed)
	var adapterErr *AdapterError
	require.True(t, errors.As(err, &adapterErr))
	assert.Equal(t, StageDownload, adapterErr.Stage)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.FailureAdapter, got.FailureReason)
	assert.Contains(t, got.ErrorMessage, "resolver returned 404")

	p, err := env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusFailed, p.Status)

	c, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.False(t, c.HasLocalFile())

	// Retry creates a fresh task and keeps the failed one.
	env.downloader.err = nil
	retry, err := env.coord.RetryTask(ctx, task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, retry.ID)
	params, err := retry.DecodeParams()
	require.NoError(t, err)
	assert.Equal(t, task.ID.String(), params.RetryOfTaskID)

	p, err = env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusGenerating, p.Status)

	require.NoError(t, env.exec.RunTask(ctx, retry.ID))
	p, err = env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusReady, p.Status)
	assert.Equal(t, 2, countTasks(t, env, content.ID))

	old, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, old.Status)
}

func TestRetryRejectsNonFailedTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	_, err = env.coord.RetryTask(ctx, task.ID)
	requireRule(t, err, RuleInProgress)

	require.NoError(t, env.exec.RunTask(ctx, task.ID))
	_, err = env.coord.RetryTask(ctx, task.ID)
	requireRule(t, err, RuleAlreadyExists)
}

func TestRunTaskIgnoresDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, task.ID))
	require.NoError(t, env.exec.RunTask(ctx, task.ID))

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestCompletedTaskNeverReentersRunningStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, task.ID))

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	for _, to := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing, models.TaskStatusDownloading} {
		assert.ErrorIs(t, env.store.TransitionTask(ctx, got, to, nil), models.ErrIllegalTransition)
	}
}

func TestFinalizeFailureIsRecordedAsInternalError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)

	// The content row disappears while the adapter is running, so the
	// completion transaction cannot set its file path.
	env.downloader.during = func() {
		require.NoError(t, env.store.DB().Delete(&models.Content{}, "id = ?", content.ID).Error)
	}

	err = env.exec.RunTask(ctx, task.ID)
	require.ErrorIs(t, err, ErrTaskFailed)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.FailureInternal, got.FailureReason)
	assert.Empty(t, got.Result)

	p, err := env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusGenerating, p.Status)
}

func TestBurnAndWatermarkProduceSeparateOutputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)
	content = env.downloaded(t, content)
	sub := env.originalSubtitle(t, content)

	burn, err := env.coord.StartStage(ctx, content.ID, models.TaskKindBurn, StageParams{SubtitleID: &sub.ID, FontSize: 18})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, burn.ID))
	assert.Equal(t, sub.SubtitleText, env.renderer.last.SubtitleText)
	assert.Equal(t, 18, env.renderer.last.FontSize)
	assert.Equal(t, content.FilePath, env.renderer.last.InputPath)

	png := filepath.Join(env.dir, "logo.png")
	writePNG(t, png)
	wm, err := env.coord.StartStage(ctx, content.ID, models.TaskKindWatermark, StageParams{OverlayPath: png, Position: PositionTopLeft})
	require.NoError(t, err)
	require.NoError(t, env.exec.RunTask(ctx, wm.ID))
	assert.Equal(t, PositionTopLeft, env.renderer.last.Position)

	burnView, err := env.coord.GetTask(ctx, burn.ID)
	require.NoError(t, err)
	wmView, err := env.coord.GetTask(ctx, wm.ID)
	require.NoError(t, err)
	require.NotNil(t, burnView.Result)
	require.NotNil(t, wmView.Result)
	assert.NotEqual(t, burnView.Result.FilePath, wmView.Result.FilePath)
	assert.Equal(t, sub.ID, *burnView.SubtitleID)

	// The rendered files never replace the downloaded original.
	got, err := env.store.GetContent(ctx, content.ID)
	require.NoError(t, err)
	assert.Equal(t, content.FilePath, got.FilePath)
}

func TestRenderAdapterFailureDoesNotTouchProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, content := env.seedContent(t, models.PlatformInstagram)
	content = env.downloaded(t, content)
	sub := env.originalSubtitle(t, content)
	env.renderer.err = errors.New("ffmpeg exited 1")

	burn, err := env.coord.StartStage(ctx, content.ID, models.TaskKindBurn, StageParams{SubtitleID: &sub.ID})
	require.NoError(t, err)
	require.ErrorIs(t, env.exec.RunTask(ctx, burn.ID), ErrTaskFailed)

	view, err := env.coord.GetTask(ctx, burn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, view.Status)
	assert.Equal(t, string(models.FailureAdapter), view.FailureReason)
	assert.Nil(t, view.Result)

	p, err := env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusReady, p.Status)
}
