package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewTaskRoutesEveryWorkKind(t *testing.T) {
	opts := TaskOptions{DownloadTimeout: time.Minute, RenderTimeout: time.Hour, MaxRetry: 3}
	cases := map[pipeline.WorkKind]string{
		pipeline.WorkDownload:  TaskDownload,
		pipeline.WorkSubtitle:  TaskGenerateSubtitle,
		pipeline.WorkBurn:      TaskBurn,
		pipeline.WorkWatermark: TaskWatermark,
	}
	for kind, want := range cases {
		item := pipeline.WorkItem{Kind: kind, ID: uuid.New(), Attempt: 2}
		task, err := newTask(item, opts)
		require.NoError(t, err, kind)
		assert.Equal(t, want, task.Type())

		var decoded pipeline.WorkItem
		require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
		assert.Equal(t, item, decoded)
	}

	_, err := newTask(pipeline.WorkItem{Kind: "transcode", ID: uuid.New()}, opts)
	assert.Error(t, err)
}

func TestRoutePutsRendersOnTheirOwnQueue(t *testing.T) {
	_, q, _, err := route(pipeline.WorkBurn, TaskOptions{})
	require.NoError(t, err)
	assert.Equal(t, QueueRenders, q)
	_, q, _, err = route(pipeline.WorkDownload, TaskOptions{})
	require.NoError(t, err)
	assert.Equal(t, QueueDownloads, q)
	for _, name := range []string{QueueDownloads, QueueSubtitles, QueueRenders, QueueMaintenance} {
		assert.Contains(t, Queues, name)
	}
}

func workTask(t *testing.T, item pipeline.WorkItem) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(item)
	require.NoError(t, err)
	return asynq.NewTask(TaskDownload, payload)
}

func TestHandleWorkMapsOutcomes(t *testing.T) {
	id := uuid.New()
	item := pipeline.WorkItem{Kind: pipeline.WorkDownload, ID: id, Attempt: 1}

	cases := []struct {
		name      string
		runErr    error
		wantErr   bool
		skipRetry bool
	}{
		{"success", nil, false, false},
		{"recorded failure", fmt.Errorf("%w: adapter", pipeline.ErrTaskFailed), true, true},
		{"deleted record", &pipeline.NotFoundError{Entity: "task", ID: id.String()}, true, true},
		{"infrastructure", errors.New("connection refused"), true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got uuid.UUID
			h := handleWork(discard, func(ctx context.Context, runID uuid.UUID) error {
				got = runID
				return tc.runErr
			})
			err := h(context.Background(), workTask(t, item))
			assert.Equal(t, id, got)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleWorkRejectsBadPayload(t *testing.T) {
	called := false
	h := handleWork(discard, func(ctx context.Context, id uuid.UUID) error {
		called = true
		return nil
	})

	err := h(context.Background(), asynq.NewTask(TaskDownload, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = h(context.Background(), asynq.NewTask(TaskDownload, []byte(`{"kind":"download"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.False(t, called)
}

func TestLoggerHelpers(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, gormlogger.Info, GormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, GormLogLevel("info"))

	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("hello", "task_id", "t1")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "t1", line["task_id"])

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("quiet")
	assert.Empty(t, buf.String())

	assert.Equal(t, "redis://:xxxxx@cache:6379/0", redactURL("redis://:hunter2@cache:6379/0"))
}

func TestErrorHandlerLogsArchive(t *testing.T) {
	var buf bytes.Buffer
	handler := makeErrorHandler(newLogger(&buf, "info", "text"))
	handler(context.Background(), asynq.NewTask(TaskBurn, []byte(`{}`)), fmt.Errorf("boom: %w", asynq.SkipRetry))
	assert.Contains(t, buf.String(), "Task archived")
	assert.Contains(t, buf.String(), TaskBurn)
}

func TestReconcileTaskIsMaintenanceWork(t *testing.T) {
	task := reconcileTask()
	assert.Equal(t, TaskReconcile, task.Type())
	assert.Empty(t, task.Payload())
}
