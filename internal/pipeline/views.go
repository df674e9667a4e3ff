package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/models"
)

// ErrAwaitTimeout is returned by Await when MaxWait elapses first
var ErrAwaitTimeout = errors.New("gave up waiting for terminal status")

// TaskView is the polling contract for an async task
type TaskView struct {
	ID             uuid.UUID          `json:"id"`
	ContentID      uuid.UUID          `json:"content_id"`
	Kind           models.TaskKind    `json:"kind"`
	Status         models.TaskStatus  `json:"status"`
	Progress       int                `json:"progress"`
	Attempts       int                `json:"attempts"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	FailureReason  string             `json:"failure_reason,omitempty"`
	SubtitleID     *uuid.UUID         `json:"subtitle_id,omitempty"`
	Result         *models.TaskResult `json:"result,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Terminal       bool               `json:"terminal"`
	PollIntervalMS int64              `json:"poll_interval_ms"`
	MaxWaitMS      int64              `json:"max_wait_ms"`
}

// NewTaskView builds the polling view of t
func NewTaskView(t *models.Task) TaskView {
	policy := models.PollPolicyFor(t.Kind)
	v := TaskView{
		ID:             t.ID,
		ContentID:      t.ContentID,
		Kind:           t.Kind,
		Status:         t.Status,
		Progress:       t.Progress,
		Attempts:       t.Attempts,
		ErrorMessage:   t.ErrorMessage,
		FailureReason:  string(t.FailureReason),
		SubtitleID:     t.SubtitleID,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		Terminal:       t.Status.IsTerminal(),
		PollIntervalMS: policy.Interval.Milliseconds(),
		MaxWaitMS:      policy.MaxWait.Milliseconds(),
	}
	if t.Status == models.TaskStatusCompleted {
		if res, err := t.DecodeResult(); err == nil {
			v.Result = &res
		}
	}
	return v
}

// SubtitleView is the polling contract for a subtitle
type SubtitleView struct {
	ID               uuid.UUID             `json:"id"`
	ContentID        uuid.UUID             `json:"content_id"`
	Language         string                `json:"language"`
	SourceSubtitleID *uuid.UUID            `json:"source_subtitle_id,omitempty"`
	Status           models.SubtitleStatus `json:"status"`
	SubtitleText     string                `json:"subtitle_text,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	Terminal         bool                  `json:"terminal"`
	PollIntervalMS   int64                 `json:"poll_interval_ms"`
	MaxWaitMS        int64                 `json:"max_wait_ms"`
}

// NewSubtitleView builds the polling view of s
func NewSubtitleView(s *models.Subtitle) SubtitleView {
	return SubtitleView{
		ID:               s.ID,
		ContentID:        s.ContentID,
		Language:         s.Language,
		SourceSubtitleID: s.SourceSubtitleID,
		Status:           s.Status,
		SubtitleText:     s.SubtitleText,
		ErrorMessage:     s.ErrorMessage,
		FailureReason:    string(s.FailureReason),
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
		Terminal:         s.Status.IsTerminal(),
		PollIntervalMS:   models.PollSubtitle.Interval.Milliseconds(),
		MaxWaitMS:        models.PollSubtitle.MaxWait.Milliseconds(),
	}
}

// Await polls fetch at policy.Interval until the returned status is terminal,
// ctx ends or policy.MaxWait elapses. The last fetched value is always
// returned.
func Await[T any](ctx context.Context, policy models.PollPolicy, fetch func(context.Context) (T, string, error)) (T, error) {
	deadline := time.NewTimer(policy.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	for {
		v, status, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if models.IsTerminal(status) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-deadline.C:
			return v, fmt.Errorf("%w after %s (last status %s)", ErrAwaitTimeout, policy.MaxWait, status)
		case <-ticker.C:
		}
	}
}
