package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTask(t *testing.T) {
	allowed := map[TaskStatus][]TaskStatus{
		TaskStatusPending:     {TaskStatusDownloading, TaskStatusProcessing, TaskStatusFailed},
		TaskStatusDownloading: {TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
		TaskStatusProcessing:  {TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	}
	all := []TaskStatus{TaskStatusPending, TaskStatusDownloading, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed}

	for _, from := range all {
		for _, to := range all {
			err := TransitionTask(from, to)
			want := from == to && !from.IsTerminal()
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if want {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed} {
		for _, to := range []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusDownloading, from} {
			assert.Error(t, TransitionTask(from, to))
		}
	}
	for _, from := range []SubtitleStatus{SubtitleStatusCompleted, SubtitleStatusFailed} {
		assert.Error(t, TransitionSubtitle(from, SubtitleStatusPending))
		assert.Error(t, TransitionSubtitle(from, SubtitleStatusProcessing))
	}
}

func TestTransitionProject(t *testing.T) {
	tests := []struct {
		from, to ProjectStatus
		ok       bool
	}{
		{ProjectStatusDraft, ProjectStatusSearching, true},
		{ProjectStatusDraft, ProjectStatusGenerating, false},
		{ProjectStatusSearching, ProjectStatusSelecting, true},
		{ProjectStatusSelecting, ProjectStatusGenerating, true},
		{ProjectStatusGenerating, ProjectStatusReady, true},
		{ProjectStatusGenerating, ProjectStatusFailed, true},
		{ProjectStatusFailed, ProjectStatusGenerating, true},
		{ProjectStatusReady, ProjectStatusGenerating, false},
		{ProjectStatusReady, ProjectStatusPublished, true},
		{ProjectStatusPublished, ProjectStatusPublished, false},
		{ProjectStatusPublished, ProjectStatusReady, false},
	}
	for _, tt := range tests {
		err := TransitionProject(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", tt.from, tt.to)
		}
	}
}

func TestTransitionSession(t *testing.T) {
	assert.NoError(t, TransitionSession(SessionStatusPending, SessionStatusCompleted))
	assert.ErrorIs(t, TransitionSession(SessionStatusCompleted, SessionStatusCompleted), ErrIllegalTransition)
	assert.ErrorIs(t, TransitionSession(SessionStatusCompleted, SessionStatusPending), ErrIllegalTransition)
}

func TestDetectContentInfo(t *testing.T) {
	tests := []struct {
		url, contentType, platform string
	}{
		{"https://www.instagram.com/reel/abc", ContentTypeVideo, PlatformInstagram},
		{"https://instagr.am/p/abc", ContentTypeVideo, PlatformInstagram},
		{"https://youtu.be/xyz", ContentTypeVideo, PlatformYouTube},
		{"https://www.YouTube.com/watch?v=1", ContentTypeVideo, PlatformYouTube},
		{"https://www.linkedin.com/posts/x", ContentTypeVideo, PlatformLinkedIn},
		{"https://blog.example.com/post", ContentTypeText, PlatformOther},
	}
	for _, tt := range tests {
		ct, p := DetectContentInfo(tt.url)
		assert.Equal(t, tt.contentType, ct, tt.url)
		assert.Equal(t, tt.platform, p, tt.url)
	}
}

func TestFinalSectionsAppliesEdits(t *testing.T) {
	s := &CopywritingSession{
		Outputs: []byte(`{"title":"AI title","caption":"AI caption"}`),
		Edits:   []byte(`{"caption":"Mine"}`),
		Status:  SessionStatusPending,
	}
	got, err := s.FinalSections()
	assert.NoError(t, err)
	assert.Equal(t, Sections{"title": "AI title", "caption": "Mine"}, got)
}
