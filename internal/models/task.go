package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskKind identifies which asynchronous stage a Task executes
type TaskKind string

// Task kind constants
const (
	TaskKindDownload  TaskKind = "download"
	TaskKindBurn      TaskKind = "burn"
	TaskKindWatermark TaskKind = "watermark"
)

// Valid reports whether k is a known task kind
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindDownload, TaskKindBurn, TaskKindWatermark:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a Task
type TaskStatus string

// Task status constants
const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusDownloading TaskStatus = "downloading"
	TaskStatusProcessing  TaskStatus = "processing"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
)

// LiveTaskStatuses are the non-terminal task states
var LiveTaskStatuses = []TaskStatus{TaskStatusPending, TaskStatusDownloading, TaskStatusProcessing}

// RunningTaskStatuses are the states a worker holds a task in
var RunningTaskStatuses = []TaskStatus{TaskStatusDownloading, TaskStatusProcessing}

// FailureReason classifies why a Task or Subtitle failed
type FailureReason string

// Failure reason constants
const (
	FailureAdapter          FailureReason = "adapter_error"
	FailureInternal         FailureReason = "internal_error"
	FailureRetriesExhausted FailureReason = "retries_exhausted"
	FailureEnqueue          FailureReason = "enqueue_failed"
)

// Task is the durable record of one asynchronous stage execution
type Task struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ContentID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_tasks_download_once,where:kind = 'download' AND status <> 'failed';uniqueIndex:idx_tasks_active_kind,where:status = 'pending' OR status = 'downloading' OR status = 'processing'" json:"content_id"`
	Kind          TaskKind       `gorm:"not null;uniqueIndex:idx_tasks_active_kind,where:status = 'pending' OR status = 'downloading' OR status = 'processing'" json:"kind"`
	Status        TaskStatus     `gorm:"not null;default:'pending';index" json:"status"`
	Progress      int            `gorm:"not null;default:0" json:"progress"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage  string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	FailureReason FailureReason  `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	SubtitleID    *uuid.UUID     `gorm:"type:uuid;index" json:"subtitle_id,omitempty"`
	Params        datatypes.JSON `gorm:"type:jsonb" json:"params,omitempty"`
	Result        datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TaskParams are the resolved stage parameters carried by a Task
type TaskParams struct {
	SubtitleID    string `json:"subtitle_id,omitempty"`
	OverlayPath   string `json:"overlay_path,omitempty"`
	Position      string `json:"position,omitempty"`
	FontSize      int    `json:"font_size,omitempty"`
	RetryOfTaskID string `json:"retry_of_task_id,omitempty"`
}

// TaskResult is the payload written when a Task completes
type TaskResult struct {
	FilePath    string `json:"file_path,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	PublicURL   string `json:"public_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// DecodeParams unmarshals the stored params
func (t *Task) DecodeParams() (TaskParams, error) {
	var p TaskParams
	if len(t.Params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(t.Params, &p); err != nil {
		return p, fmt.Errorf("failed to decode task params: %w", err)
	}
	return p, nil
}

// DecodeResult unmarshals the stored result payload
func (t *Task) DecodeResult() (TaskResult, error) {
	var r TaskResult
	if len(t.Result) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(t.Result, &r); err != nil {
		return r, fmt.Errorf("failed to decode task result: %w", err)
	}
	return r, nil
}

// EncodeJSON marshals v into a datatypes.JSON column value
func EncodeJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
