// Package ffmpeg renders subtitle burn-in and logo watermarks with the
// ffmpeg command line tool.
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/providers/command"
)

// DefaultFontSize is used when a burn request leaves FontSize at zero
const DefaultFontSize = 24

// overlay positions, as ffmpeg overlay expressions
var positions = map[string]string{
	pipeline.PositionTopLeft:     "10:10",
	pipeline.PositionTopRight:    "W-w-10:10",
	pipeline.PositionBottomLeft:  "10:H-h-10",
	pipeline.PositionBottomRight: "W-w-10:H-h-10",
	pipeline.PositionCenter:      "(W-w)/2:(H-h)/2",
}

// Renderer implements pipeline.Renderer
type Renderer struct {
	ffmpegPath  string
	ffprobePath string
	runner      command.Runner
	logger      *slog.Logger
}

var _ pipeline.Renderer = (*Renderer)(nil)

// NewRenderer builds a renderer around the given binaries
func NewRenderer(ffmpegPath, ffprobePath string, runner command.Runner, logger *slog.Logger) *Renderer {
	return &Renderer{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
		logger:      logger,
	}
}

// BurnSubtitles hard-codes req.SubtitleText into the video
func (r *Renderer) BurnSubtitles(ctx context.Context, req pipeline.RenderRequest, progress pipeline.ProgressFunc) (pipeline.RenderResult, error) {
	if strings.TrimSpace(req.SubtitleText) == "" {
		return pipeline.RenderResult{}, fmt.Errorf("no subtitle text to burn")
	}

	tmp, err := os.CreateTemp("", "reelpipe-burn-*.srt")
	if err != nil {
		return pipeline.RenderResult{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(req.SubtitleText); err != nil {
		tmp.Close()
		return pipeline.RenderResult{}, err
	}
	if err := tmp.Close(); err != nil {
		return pipeline.RenderResult{}, err
	}

	fontSize := req.FontSize
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}
	filter := fmt.Sprintf("subtitles=%s:force_style='FontSize=%d'", escapeFilterPath(tmp.Name()), fontSize)
	args := []string{"-i", req.InputPath, "-vf", filter, "-c:a", "copy"}
	return r.render(ctx, req, args, progress)
}

// Watermark overlays req.OverlayPath at req.Position, scaled to 15% of the
// video width
func (r *Renderer) Watermark(ctx context.Context, req pipeline.RenderRequest, progress pipeline.ProgressFunc) (pipeline.RenderResult, error) {
	if req.OverlayPath == "" {
		return pipeline.RenderResult{}, fmt.Errorf("no overlay image")
	}
	pos, ok := positions[req.Position]
	if req.Position == "" {
		pos, ok = positions[pipeline.PositionBottomRight], true
	}
	if !ok {
		return pipeline.RenderResult{}, fmt.Errorf("unknown watermark position %q", req.Position)
	}

	filter := fmt.Sprintf("[1:v][0:v]scale2ref=w=iw*0.15:h=ow/mdar[wm][base];[base][wm]overlay=%s", pos)
	args := []string{"-i", req.InputPath, "-i", req.OverlayPath, "-filter_complex", filter, "-c:a", "copy"}
	return r.render(ctx, req, args, progress)
}

// render runs ffmpeg with -progress on stdout and maps out_time onto 0..99
func (r *Renderer) render(ctx context.Context, req pipeline.RenderRequest, inputArgs []string, progress pipeline.ProgressFunc) (pipeline.RenderResult, error) {
	if _, err := os.Stat(req.InputPath); err != nil {
		return pipeline.RenderResult{}, fmt.Errorf("input video: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return pipeline.RenderResult{}, err
	}

	duration, err := r.probeDuration(ctx, req.InputPath)
	if err != nil {
		// Render without progress; the executor heartbeat keeps the task alive.
		r.logger.Warn("Could not probe duration", "path", req.InputPath, "error", err)
	}

	args := append([]string{"-hide_banner", "-nostdin", "-y"}, inputArgs...)
	args = append(args, "-progress", "pipe:1", "-nostats", req.OutputPath)

	tracker := &progressTracker{duration: duration, report: progress}
	if _, err := r.runner.Run(ctx, command.Command{Name: r.ffmpegPath, Args: args, OnLine: tracker.line}); err != nil {
		_ = os.Remove(req.OutputPath)
		return pipeline.RenderResult{}, err
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return pipeline.RenderResult{}, fmt.Errorf("ffmpeg completed but output is missing: %w", err)
	}
	if progress != nil {
		progress(100)
	}
	r.logger.Info("Rendered video", "output", req.OutputPath, "bytes", info.Size())
	return pipeline.RenderResult{OutputPath: req.OutputPath, SizeBytes: info.Size()}, nil
}

func (r *Renderer) probeDuration(ctx context.Context, input string) (time.Duration, error) {
	res, err := r.runner.Run(ctx, command.Command{
		Name: r.ffprobePath,
		Args: []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", input},
	})
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q", strings.TrimSpace(res.Stdout))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

type progressTracker struct {
	duration time.Duration
	report   pipeline.ProgressFunc
	last     int
}

// line handles one key=value line of ffmpeg -progress output
func (p *progressTracker) line(s string) {
	if p.report == nil || p.duration <= 0 {
		return
	}
	key, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return
	}
	// out_time_ms is in microseconds despite the name
	if key != "out_time_us" && key != "out_time_ms" {
		return
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return
	}
	pct := int(time.Duration(us) * time.Microsecond * 100 / p.duration)
	if pct > 99 {
		pct = 99
	}
	if pct > p.last {
		p.last = pct
		p.report(pct)
	}
}

// escapeFilterPath escapes a path for use inside an ffmpeg filter argument
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\\\`, `:`, `\\:`, `'`, `\\\'`)
	return r.Replace(p)
}
