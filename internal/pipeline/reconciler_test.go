package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newReconciler returns a reconciler whose clock runs an hour ahead, so
// every record is past StaleAfter.
func newReconciler(env *testEnv, maxAttempts int) *Reconciler {
	r := NewReconciler(env.store, env.queue, env.events, slog.New(slog.NewTextHandler(io.Discard, nil)), ReconcilerConfig{
		StaleAfter:  10 * time.Minute,
		MaxAttempts: maxAttempts,
	})
	r.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	return r
}

// claimTask simulates a worker that claimed the task and then died
func claimTask(t *testing.T, env *testEnv, task *models.Task, attempts int) {
	t.Helper()
	require.NoError(t, env.store.TransitionTask(context.Background(), task, models.TaskStatusDownloading, map[string]interface{}{
		"attempts": attempts,
	}))
}

func TestReconcilerRequeuesStaleRunningTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	claimTask(t, env, task, 1)

	report, err := newReconciler(env, 3).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 0, report.Exhausted)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	items := env.queue.Items()
	require.Len(t, items, 2)
	assert.Equal(t, WorkItem{Kind: WorkDownload, ID: task.ID, Attempt: 1}, items[1])

	// The requeued task runs normally afterwards.
	require.NoError(t, env.exec.RunTask(ctx, task.ID))
	got, err = env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestReconcilerFailsTaskAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	claimTask(t, env, task, 3)

	report, err := newReconciler(env, 3).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Exhausted)
	assert.Equal(t, 0, report.Requeued)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.FailureRetriesExhausted, got.FailureReason)
	assert.NotNil(t, got.CompletedAt)

	p, err := env.store.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusFailed, p.Status)
	assert.Len(t, env.queue.Items(), 1)
}

func TestReconcilerReenqueuesLostPendingTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	r := newReconciler(env, 3)

	// Still queued: nothing to do.
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)

	// The queue lost the item.
	env.queue.mu.Lock()
	env.queue.keys = nil
	env.queue.mu.Unlock()

	report, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reenqueued)
	items := env.queue.Items()
	assert.Equal(t, WorkItem{Kind: WorkDownload, ID: task.ID, Attempt: 0}, items[len(items)-1])
}

func TestReconcilerLeavesFreshWorkAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, content := env.seedContent(t, models.PlatformInstagram)

	task, err := env.coord.StartStage(ctx, content.ID, models.TaskKindDownload, StageParams{})
	require.NoError(t, err)
	claimTask(t, env, task, 1)

	r := newReconciler(env, 3)
	r.now = func() time.Time { return time.Now().UTC() }
	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDownloading, got.Status)
}

func TestReconcilerRecoversStaleSubtitles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, first := env.seedContent(t, models.PlatformYouTube)
	_, second := env.seedContent(t, models.PlatformYouTube)

	requeue, err := env.coord.StartSubtitle(ctx, first.ID)
	require.NoError(t, err)
	require.NoError(t, env.store.TransitionSubtitle(ctx, requeue, models.SubtitleStatusProcessing, map[string]interface{}{"attempts": 1}))

	exhaust, err := env.coord.StartSubtitle(ctx, second.ID)
	require.NoError(t, err)
	require.NoError(t, env.store.TransitionSubtitle(ctx, exhaust, models.SubtitleStatusProcessing, map[string]interface{}{"attempts": 2}))

	report, err := newReconciler(env, 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 1, report.Exhausted)

	got, err := env.store.GetSubtitle(ctx, requeue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubtitleStatusPending, got.Status)
	assert.Contains(t, env.queue.Items(), WorkItem{Kind: WorkSubtitle, ID: requeue.ID, Attempt: 1})

	got, err = env.store.GetSubtitle(ctx, exhaust.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubtitleStatusFailed, got.Status)
	assert.Equal(t, models.FailureRetriesExhausted, got.FailureReason)

	// The recovered subtitle completes on its next delivery.
	require.NoError(t, env.exec.RunSubtitle(ctx, requeue.ID))
	got, err = env.store.GetSubtitle(ctx, requeue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubtitleStatusCompleted, got.Status)
}
