package main

import (
	"errors"
	"testing"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailedErr(t *testing.T) {
	assert.NoError(t, failedErr(string(models.TaskStatusCompleted), ""))

	err := failedErr(string(models.TaskStatusFailed), "ffmpeg exited 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exited 1")
}

func TestReportWaitReturnsWaitErrorFirst(t *testing.T) {
	waitErr := errors.New("deadline exceeded")
	assert.Equal(t, waitErr, reportWait(nil, string(models.TaskStatusFailed), "boom", waitErr))
}
