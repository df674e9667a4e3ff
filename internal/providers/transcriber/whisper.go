// Package transcriber turns speech into SRT subtitles, either locally with
// whisper.cpp or through a remote transcription service.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/providers/command"
	"github.com/jimdaga/reelpipe/internal/srt"
)

// ErrNoMedia is returned when neither a local file nor a usable URL is given
var ErrNoMedia = errors.New("no local media to transcribe")

// Whisper runs ffmpeg to extract 16 kHz mono audio, then whisper.cpp to
// produce an SRT file
type Whisper struct {
	ffmpegPath  string
	whisperPath string
	modelPath   string
	runner      command.Runner
	logger      *slog.Logger
}

// NewWhisper builds a local transcriber. modelPath may be a model file or a
// directory holding .bin/.gguf models; the first one by name is used.
func NewWhisper(ffmpegPath, whisperPath, modelPath string, runner command.Runner, logger *slog.Logger) *Whisper {
	return &Whisper{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelPath:   modelPath,
		runner:      runner,
		logger:      logger,
	}
}

// Transcribe implements pipeline.Transcriber for files on disk
func (w *Whisper) Transcribe(ctx context.Context, media pipeline.MediaRef) (string, error) {
	if strings.TrimSpace(media.LocalPath) == "" {
		return "", ErrNoMedia
	}
	if _, err := os.Stat(media.LocalPath); err != nil {
		return "", fmt.Errorf("cannot access input media: %w", err)
	}
	model, err := resolveModelPath(w.modelPath)
	if err != nil {
		return "", err
	}

	tempDir, err := os.MkdirTemp("", "reelpipe-transcribe-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary workspace: %w", err)
	}
	defer os.RemoveAll(tempDir)

	audio := filepath.Join(tempDir, "audio-16k-mono.wav")
	if _, err := w.runner.Run(ctx, command.Command{Name: w.ffmpegPath, Args: ffmpegArgs(media.LocalPath, audio)}); err != nil {
		return "", fmt.Errorf("audio extraction: %w", err)
	}

	base := filepath.Join(tempDir, "transcript")
	if _, err := w.runner.Run(ctx, command.Command{Name: w.whisperPath, Args: whisperArgs(model, audio, base)}); err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}

	raw, err := os.ReadFile(base + ".srt")
	if err != nil {
		return "", fmt.Errorf("whisper.cpp completed but produced no subtitle file: %w", err)
	}
	text, err := srt.Normalize(string(raw))
	if err != nil {
		return "", fmt.Errorf("whisper.cpp output: %w", err)
	}

	w.logger.Info("Transcribed media", "path", media.LocalPath, "model", filepath.Base(model))
	return text, nil
}

func ffmpegArgs(input, output string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		output,
	}
}

// whisperArgs asks for SRT output with spoken language detection
func whisperArgs(model, audio, outBase string) []string {
	return []string{
		"-m", model,
		"-f", audio,
		"-of", outBase,
		"-osrt",
		"-l", "auto",
	}
}

func resolveModelPath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", errors.New("WHISPER_MODEL_PATH is not configured")
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", p)
	}
	if !info.IsDir() {
		return p, nil
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", p)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".bin", ".gguf":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", p)
	}
	sort.Strings(names)
	return filepath.Join(p, names[0]), nil
}
