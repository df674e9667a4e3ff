package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Task type constants
const (
	TaskDownload         = "content:download"
	TaskGenerateSubtitle = "subtitle:generate"
	TaskBurn             = "render:burn"
	TaskWatermark        = "render:watermark"
	TaskReconcile        = "tasks:reconcile"
)

// Queue names. Renders are CPU bound and kept apart from network bound
// downloads so one cannot starve the other.
const (
	QueueDownloads   = "downloads"
	QueueSubtitles   = "subtitles"
	QueueRenders     = "renders"
	QueueMaintenance = "maintenance"
)

// Queues is the priority table handed to the asynq server
var Queues = map[string]int{
	QueueDownloads:   3,
	QueueSubtitles:   3,
	QueueRenders:     2,
	QueueMaintenance: 1,
}

// TaskOptions carries per-stage limits applied to every enqueue
type TaskOptions struct {
	DownloadTimeout   time.Duration
	RenderTimeout     time.Duration
	TranscribeTimeout time.Duration
	MaxRetry          int
	Retention         time.Duration
}

// Queue enqueues pipeline work items onto asynq. It implements
// pipeline.Enqueuer.
type Queue struct {
	client *asynq.Client
	opts   TaskOptions
}

// NewQueue connects an asynq client to redisURL
func NewQueue(redisURL string, opts TaskOptions) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), opts: opts}, nil
}

// Enqueue hands item to the worker pool. The asynq task ID is the item key,
// so a second enqueue of the same attempt is reported as
// pipeline.ErrAlreadyQueued instead of running the work twice.
func (q *Queue) Enqueue(ctx context.Context, item pipeline.WorkItem) error {
	task, err := newTask(item, q.opts)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("%s: %w", item.Key(), pipeline.ErrAlreadyQueued)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", item.Key(), err)
	}
	return nil
}

// Close closes the asynq client connection gracefully.
func (q *Queue) Close() error {
	return q.client.Close()
}

// route returns the task type, queue and timeout for a work kind
func route(kind pipeline.WorkKind, opts TaskOptions) (taskType, queue string, timeout time.Duration, err error) {
	switch kind {
	case pipeline.WorkDownload:
		return TaskDownload, QueueDownloads, opts.DownloadTimeout, nil
	case pipeline.WorkSubtitle:
		return TaskGenerateSubtitle, QueueSubtitles, opts.TranscribeTimeout, nil
	case pipeline.WorkBurn:
		return TaskBurn, QueueRenders, opts.RenderTimeout, nil
	case pipeline.WorkWatermark:
		return TaskWatermark, QueueRenders, opts.RenderTimeout, nil
	}
	return "", "", 0, fmt.Errorf("unknown work kind %q", kind)
}

func newTask(item pipeline.WorkItem, opts TaskOptions) (*asynq.Task, error) {
	taskType, queue, timeout, err := route(item.Kind, opts)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	taskOpts := []asynq.Option{
		asynq.Queue(queue),
		asynq.TaskID(item.Key()),
		asynq.MaxRetry(opts.MaxRetry),
	}
	if timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(timeout))
	}
	if opts.Retention > 0 {
		taskOpts = append(taskOpts, asynq.Retention(opts.Retention))
	}
	return asynq.NewTask(taskType, payload, taskOpts...), nil
}
