// Package command runs the external media tools (ffmpeg, ffprobe, yt-dlp,
// whisper.cpp) behind a small interface so providers can be tested with a
// fake runner.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// stderrTail bounds how much stderr ends up in an error message
const stderrTail = 2048

// Command is one process invocation. OnLine, when set, receives each stdout
// line as it is written.
type Command struct {
	Name   string
	Args   []string
	OnLine func(line string)
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the captured output of a finished process
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Error reports a failed process with the tail of its stderr
type Error struct {
	Name     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed (exit=%d)", e.Name, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Exec runs commands with os/exec
type Exec struct{}

// Run starts cmd and waits for it. Stdout is streamed line by line to
// cmd.OnLine and also captured.
func (Exec) Run(ctx context.Context, c Command) (Result, error) {
	proc := exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	proc.Stderr = &stderr

	pipe, err := proc.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := proc.Start(); err != nil {
		return Result{ExitCode: -1}, &Error{Name: c.Name, ExitCode: -1, Err: err}
	}

	scanner := bufio.NewScanner(io.TeeReader(pipe, &stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if c.OnLine != nil {
			c.OnLine(scanner.Text())
		}
	}
	// drain whatever the scanner gave up on so Wait does not block
	_, _ = io.Copy(io.Discard, pipe)

	err = proc.Wait()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return res, &Error{Name: c.Name, ExitCode: res.ExitCode, Stderr: tail(res.Stderr), Err: err}
	}
	return res, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
