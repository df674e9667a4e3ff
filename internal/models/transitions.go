package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when a status edge is not allowed
var ErrIllegalTransition = errors.New("illegal status transition")

func illegal(entity string, from, to interface{}) error {
	return fmt.Errorf("%s %v -> %v: %w", entity, from, to, ErrIllegalTransition)
}

// IsTerminal is the shared completion predicate used by every stage and by pollers
func IsTerminal(status string) bool {
	return status == string(TaskStatusCompleted) || status == string(TaskStatusFailed)
}

// IsTerminal reports whether the task can no longer change
func (s TaskStatus) IsTerminal() bool { return IsTerminal(string(s)) }

// IsTerminal reports whether the subtitle can no longer change
func (s SubtitleStatus) IsTerminal() bool { return IsTerminal(string(s)) }

// TransitionTask validates a task status edge.
// Edges back to pending are reserved for the reconciler's requeue.
func TransitionTask(from, to TaskStatus) error {
	if from == to && !from.IsTerminal() {
		return nil
	}
	switch from {
	case TaskStatusPending:
		switch to {
		case TaskStatusDownloading, TaskStatusProcessing, TaskStatusFailed:
			return nil
		}
	case TaskStatusDownloading:
		switch to {
		case TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusPending:
			return nil
		}
	case TaskStatusProcessing:
		switch to {
		case TaskStatusCompleted, TaskStatusFailed, TaskStatusPending:
			return nil
		}
	}
	return illegal("task", from, to)
}

// TransitionSubtitle validates a subtitle status edge
func TransitionSubtitle(from, to SubtitleStatus) error {
	if from == to && !from.IsTerminal() {
		return nil
	}
	switch from {
	case SubtitleStatusPending:
		switch to {
		case SubtitleStatusProcessing, SubtitleStatusFailed:
			return nil
		}
	case SubtitleStatusProcessing:
		switch to {
		case SubtitleStatusCompleted, SubtitleStatusFailed, SubtitleStatusPending:
			return nil
		}
	}
	return illegal("subtitle", from, to)
}

// TransitionProject validates a project status edge
func TransitionProject(from, to ProjectStatus) error {
	if from == to && from != ProjectStatusPublished {
		return nil
	}
	switch from {
	case ProjectStatusDraft:
		if to == ProjectStatusSearching {
			return nil
		}
	case ProjectStatusSearching:
		switch to {
		case ProjectStatusSelecting, ProjectStatusFailed:
			return nil
		}
	case ProjectStatusSelecting:
		switch to {
		case ProjectStatusSearching, ProjectStatusGenerating, ProjectStatusFailed:
			return nil
		}
	case ProjectStatusGenerating:
		switch to {
		case ProjectStatusReady, ProjectStatusFailed:
			return nil
		}
	case ProjectStatusReady:
		if to == ProjectStatusPublished {
			return nil
		}
	case ProjectStatusFailed:
		switch to {
		case ProjectStatusGenerating, ProjectStatusSearching:
			return nil
		}
	}
	return illegal("project", from, to)
}

// TransitionSession validates a copywriting session status edge
func TransitionSession(from, to SessionStatus) error {
	if from == SessionStatusPending && (to == SessionStatusPending || to == SessionStatusCompleted) {
		return nil
	}
	return illegal("session", from, to)
}

// PollPolicy is the client-side polling cadence for one stage
type PollPolicy struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Poll policies per stage
var (
	PollDownload = PollPolicy{Interval: 2 * time.Second, MaxWait: 10 * time.Minute}
	PollRender   = PollPolicy{Interval: 5 * time.Second, MaxWait: 30 * time.Minute}
	PollSubtitle = PollPolicy{Interval: 3 * time.Second, MaxWait: 20 * time.Minute}
)

// PollPolicyFor returns the polling cadence for a task kind
func PollPolicyFor(kind TaskKind) PollPolicy {
	if kind == TaskKindDownload {
		return PollDownload
	}
	return PollRender
}
