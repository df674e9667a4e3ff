package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecStreamsLines(t *testing.T) {
	var lines []string
	res, err := Exec{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo one; echo two"},
		OnLine: func(line string) { lines = append(lines, line) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, "one\ntwo\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecFailure(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)

	var cmdErr *Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "boom", cmdErr.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "sh failed (exit=3): boom")
}

func TestExecMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	var cmdErr *Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ffmpeg -i in.mp4", Command{Name: "ffmpeg", Args: []string{"-i", "in.mp4"}}.String())
}
